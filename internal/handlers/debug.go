package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"ride-messaging/internal/telemetry"
)

// TokenIssuer signs relay tokens.
type TokenIssuer interface {
	Generate(userID string) (string, error)
}

type tokenRequest struct {
	UserID string `json:"user_id"`
}

// RegisterDebugRoutes wires development-only endpoints.
func RegisterDebugRoutes(router gin.IRouter, issuer TokenIssuer, emitter *telemetry.AuditEmitter, enabled bool) {
	if !enabled {
		return
	}

	router.POST("/debug/token", func(c *gin.Context) {
		var req tokenRequest
		if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.UserID) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "user_id required"})
			return
		}
		token, err := issuer.Generate(req.UserID)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "token issuing unavailable"})
			return
		}
		emitter.Emit(c.Request.Context(), telemetry.AuditRecord{
			Action:    telemetry.ActionTokenIssued,
			Text:      "debug token issued",
			RequestID: requestIDFromContext(c),
			UserID:    req.UserID,
		})
		c.JSON(http.StatusOK, gin.H{"token": token})
	})

	router.GET("/debug/audit-test", func(c *gin.Context) {
		if emitter == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit emitter not configured"})
			return
		}
		emitter.Emit(c.Request.Context(), telemetry.AuditRecord{
			Action:    telemetry.ActionAuditTest,
			Text:      "audit test",
			RequestID: requestIDFromContext(c),
			UserID:    userIDFromContext(c),
		})
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}
