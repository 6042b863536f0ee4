package ws

import (
	"time"

	"github.com/google/uuid"

	"ride-messaging/internal/observability"
)

func newConnID() string {
	return uuid.NewString()
}

// wsEnvelope builds the ws_events payload published for a connection event.
func wsEnvelope(info ConnInfo, event, reason string) observability.EventEnvelope {
	duration := int64(0)
	if event != "ws_connect" {
		duration = time.Since(info.ConnectedAt).Milliseconds()
	}
	return observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload: map[string]interface{}{
			"ws": map[string]interface{}{
				"kind":        "relay",
				"event":       event,
				"conn_id":     info.ConnID,
				"duration_ms": duration,
				"reason":      reason,
			},
			"identity": map[string]interface{}{
				"user_id":   info.UserID,
				"device_id": info.DeviceID,
				"ip":        info.IP,
			},
		},
	}
}
