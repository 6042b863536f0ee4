package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_http_requests_total",
			Help: "Total number of HTTP requests processed by the relay.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	wsActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_ws_active_connections",
			Help: "Number of active websocket connections.",
		},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_ws_events_total",
			Help: "Total number of websocket events.",
		},
		[]string{"event"},
	)
	relayRoutedEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_routed_events_total",
			Help: "Client events handed to the relay hub, by event type.",
		},
		[]string{"type"},
	)
	relayRouteRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_route_rejections_total",
			Help: "Client events answered with an error event, by reason.",
		},
		[]string{"reason"},
	)
	relayHandshakeRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_handshake_rejections_total",
			Help: "Websocket handshakes refused before upgrade, by reason.",
		},
		[]string{"reason"},
	)
	relaySlowClientKicksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_slow_client_kicks_total",
			Help: "Connections closed because their send buffer was full.",
		},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "messaging_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)

	connectionState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "messaging_connection_state",
			Help: "1 for the connection state the session is currently in.",
		},
		[]string{"state"},
	)
	reconnectAttemptsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "messaging_reconnect_attempts_total",
			Help: "Total number of scheduled reconnect attempts.",
		},
	)
	transportErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messaging_transport_errors_total",
			Help: "Transport failures by operation.",
		},
		[]string{"op"},
	)
	messageStatusTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messaging_message_status_total",
			Help: "Message status transitions by resulting status.",
		},
		[]string{"status"},
	)
	offlineQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "messaging_offline_queue_depth",
			Help: "Messages waiting in the offline queue.",
		},
	)
	persistenceErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "messaging_persistence_errors_total",
			Help: "Failed offline queue reads or writes.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		wsActiveConnections,
		wsEventsTotal,
		relayRoutedEventsTotal,
		relayRouteRejectionsTotal,
		relayHandshakeRejectionsTotal,
		relaySlowClientKicksTotal,
		amqpPublishErrorsTotal,
		connectionState,
		reconnectAttemptsTotal,
		transportErrorsTotal,
		messageStatusTotal,
		offlineQueueDepth,
		persistenceErrorsTotal,
	)
}

func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func IncWSActive() {
	wsActiveConnections.Inc()
}

func DecWSActive() {
	wsActiveConnections.Dec()
}

func IncWSEvent(event string) {
	wsEventsTotal.WithLabelValues(event).Inc()
}

func IncRoutedEvent(eventType string) {
	relayRoutedEventsTotal.WithLabelValues(eventType).Inc()
}

func IncRouteRejection(reason string) {
	relayRouteRejectionsTotal.WithLabelValues(reason).Inc()
}

func IncHandshakeRejection(reason string) {
	relayHandshakeRejectionsTotal.WithLabelValues(reason).Inc()
}

func IncSlowClientKick() {
	relaySlowClientKicksTotal.Inc()
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}

// SetConnectionState marks state as the current one.
func SetConnectionState(state string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		connectionState.WithLabelValues(s).Set(v)
	}
}

func IncReconnectAttempt() {
	reconnectAttemptsTotal.Inc()
}

func IncTransportError(op string) {
	transportErrorsTotal.WithLabelValues(op).Inc()
}

func IncMessageStatus(status string) {
	messageStatusTotal.WithLabelValues(status).Inc()
}

func SetOfflineQueueDepth(n int) {
	offlineQueueDepth.Set(float64(n))
}

func IncPersistenceError() {
	persistenceErrorsTotal.Inc()
}
