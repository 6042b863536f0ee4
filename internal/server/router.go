// Package server assembles the relay's HTTP surface.
package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"ride-messaging/internal/auth"
	"ride-messaging/internal/handlers"
	"ride-messaging/internal/middleware"
	"ride-messaging/internal/observability"
	"ride-messaging/internal/telemetry"
	"ride-messaging/internal/ws"
)

// Deps are the collaborators the router wires together.
type Deps struct {
	ServiceName string
	Hub         *ws.Hub
	Auth        *auth.JWTService
	Audit       *telemetry.AuditEmitter
	Debug       bool
	Logger      *zap.Logger
}

// NewRouter builds the relay router:
//
//	GET  /healthz
//	GET  /metrics
//	GET  /ws                     websocket endpoint
//	GET  /presence               online users (auth)
//	GET  /presence/:user_id      one user's status (auth)
//	POST /debug/token            development only
func NewRouter(d Deps) *gin.Engine {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(d.ServiceName))
	router.Use(middleware.RequestID())
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "online": len(d.Hub.OnlineUsers())})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.GET("/ws", ws.NewRelayWebSocketHandler(d.Hub, d.Auth, d.Audit, d.Logger).Handle)

	presence := handlers.NewPresenceHandler(d.Hub)
	authMiddleware := middleware.AuthMiddleware(d.Auth)
	router.GET("/presence", authMiddleware, presence.ListOnline)
	router.GET("/presence/:user_id", authMiddleware, presence.GetPresence)

	handlers.RegisterDebugRoutes(router, d.Auth, d.Audit, d.Debug)
	return router
}
