// Package telemetry emits audit records for security relevant relay actions.
package telemetry

import (
	"context"
	"time"

	"go.uber.org/zap"

	"ride-messaging/internal/observability"
)

// RoutingKeyAudit is the routing key audit records are published under.
const RoutingKeyAudit = "audit_events.relay"

// Audited relay actions.
const (
	ActionTokenIssued       = "token_issued"
	ActionHandshakeRejected = "ws_handshake_rejected"
	ActionAuditTest         = "audit_test"
)

// Audit levels.
const (
	LevelInfo = "INFO"
	LevelWarn = "WARN"
)

// AuditRecord is one audited action as seen by the relay.
type AuditRecord struct {
	Action     string
	Level      string
	Text       string
	RequestID  string
	UserID     string
	Attributes map[string]string
}

type AuditEnvelope struct {
	SchemaVersion int          `json:"schema_version"`
	EventType     string       `json:"event_type"`
	OccurredAt    string       `json:"occurred_at"`
	Service       string       `json:"service"`
	Environment   string       `json:"environment"`
	RequestID     string       `json:"request_id"`
	UserID        string       `json:"user_id,omitempty"`
	Payload       AuditPayload `json:"payload"`
}

type AuditPayload struct {
	Action     string            `json:"action"`
	Level      string            `json:"level"`
	Text       string            `json:"text"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// AuditEmitter publishes audit records. A nil emitter drops records.
type AuditEmitter struct {
	publisher   observability.Publisher
	service     string
	environment string
	logger      *zap.Logger
	now         func() time.Time
}

func NewAuditEmitter(publisher observability.Publisher, service, environment string, logger *zap.Logger) *AuditEmitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditEmitter{
		publisher:   publisher,
		service:     service,
		environment: environment,
		logger:      logger,
		now:         time.Now,
	}
}

// Emit publishes rec. Publish failures are logged and counted, never returned.
func (e *AuditEmitter) Emit(ctx context.Context, rec AuditRecord) {
	if e == nil || e.publisher == nil {
		return
	}
	if rec.Level == "" {
		rec.Level = LevelInfo
	}

	e.logger.Info("audit",
		zap.String("action", rec.Action),
		zap.String("level", rec.Level),
		zap.String("request_id", rec.RequestID),
		zap.String("user_id", rec.UserID),
	)
	envelope := AuditEnvelope{
		SchemaVersion: 2,
		EventType:     "audit_log",
		OccurredAt:    e.now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		RequestID:     rec.RequestID,
		UserID:        rec.UserID,
		Payload: AuditPayload{
			Action:     rec.Action,
			Level:      rec.Level,
			Text:       rec.Text,
			Attributes: rec.Attributes,
		},
	}

	if err := e.publisher.PublishJSON(ctx, RoutingKeyAudit, envelope, observability.BuildHeaders(rec.RequestID, "")); err != nil {
		observability.IncAMQPPublishError()
		e.logger.Warn("audit publish failed", zap.String("action", rec.Action), zap.Error(err))
	}
}
