package observability

// Routing keys for published events.
const (
	RoutingKeyWSEvents      = "ws_events.relay"
	RoutingKeyMessageEvents = "message_events.status"
	RoutingKeyConnEvents    = "connection_events.state"
)

type EventEnvelope struct {
	EventType string      `json:"event_type"`
	EventName string      `json:"event_name"`
	Payload   interface{} `json:"payload"`
}

// MessageStatusEnvelope describes a delivery status transition.
func MessageStatusEnvelope(userID, threadID, messageID, from, to string) EventEnvelope {
	return EventEnvelope{
		EventType: "message_events",
		EventName: "status_changed",
		Payload: map[string]interface{}{
			"message": map[string]interface{}{
				"id":        messageID,
				"thread_id": threadID,
				"from":      from,
				"to":        to,
			},
			"identity": map[string]interface{}{
				"user_id": userID,
			},
		},
	}
}

// ConnectionStateEnvelope describes a connection state transition.
func ConnectionStateEnvelope(userID, from, to string) EventEnvelope {
	return EventEnvelope{
		EventType: "connection_events",
		EventName: "state_changed",
		Payload: map[string]interface{}{
			"connection": map[string]interface{}{
				"from": from,
				"to":   to,
			},
			"identity": map[string]interface{}{
				"user_id": userID,
			},
		},
	}
}

func BuildHeaders(requestID, traceID string) map[string]string {
	headers := map[string]string{}
	if requestID != "" {
		headers["x-request-id"] = requestID
	}
	if traceID != "" {
		headers["trace_id"] = traceID
	}
	return headers
}
