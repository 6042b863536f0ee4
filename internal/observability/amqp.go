package observability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// ErrPublisherClosed is returned by PublishJSON after Close.
var ErrPublisherClosed = errors.New("publisher closed")

// Publisher emits JSON events to the ride messaging exchange.
type Publisher interface {
	PublishJSON(ctx context.Context, routingKey string, message interface{}, headers map[string]string) error
	Close() error
}

// AMQPPublisher publishes to a durable topic exchange over one channel.
// Publishes are serialized; relay connections and sessions share it.
type AMQPPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	closed   bool
}

func NewAMQPPublisher(url, exchange string) (*AMQPPublisher, error) {
	if url == "" {
		return nil, errors.New("amqp url is empty")
	}
	if exchange == "" {
		return nil, errors.New("amqp exchange is empty")
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange %q: %w", exchange, err)
	}
	return &AMQPPublisher{conn: conn, channel: ch, exchange: exchange}, nil
}

// PublishJSON marshals message and publishes it persistently. Envelopes set
// the AMQP type to their event type so consumers can filter without decoding.
func (p *AMQPPublisher) PublishJSON(ctx context.Context, routingKey string, message interface{}, headers map[string]string) error {
	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	table := make(amqp.Table, len(headers))
	for key, value := range headers {
		table[key] = value
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		MessageId:    uuid.NewString(),
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Headers:      table,
	}
	if envelope, ok := message.(EventEnvelope); ok {
		msg.Type = envelope.EventType
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPublisherClosed
	}
	return p.channel.PublishWithContext(ctx, p.exchange, routingKey, false, false, msg)
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// NewPublisher builds an AMQP publisher, or a noop publisher when AMQP is
// disabled or unreachable.
func NewPublisher(url, exchange string, logger *zap.Logger) Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if url == "" {
		logger.Info("amqp disabled, using noop publisher")
		return noopPublisher{logger: logger}
	}
	p, err := NewAMQPPublisher(url, exchange)
	if err != nil {
		logger.Warn("amqp unavailable, using noop publisher", zap.Error(err))
		return noopPublisher{logger: logger}
	}
	logger.Info("amqp connected", zap.String("exchange", exchange))
	return p
}

type noopPublisher struct {
	logger *zap.Logger
}

func (p noopPublisher) PublishJSON(_ context.Context, routingKey string, message interface{}, _ map[string]string) error {
	fields := []zap.Field{zap.String("routing_key", routingKey)}
	if envelope, ok := message.(EventEnvelope); ok {
		fields = append(fields, zap.String("event_name", envelope.EventName))
	}
	p.logger.Debug("event dropped", fields...)
	return nil
}

func (noopPublisher) Close() error { return nil }

var (
	defaultMu        sync.RWMutex
	defaultPublisher Publisher
)

// SetPublisher installs the publisher used by PublishEvent.
func SetPublisher(publisher Publisher) {
	defaultMu.Lock()
	defaultPublisher = publisher
	defaultMu.Unlock()
}

// PublishEvent publishes through the installed publisher; it is a no-op
// until SetPublisher is called.
func PublishEvent(ctx context.Context, routingKey string, message interface{}, headers map[string]string) error {
	defaultMu.RLock()
	p := defaultPublisher
	defaultMu.RUnlock()
	if p == nil {
		return nil
	}
	if err := p.PublishJSON(ctx, routingKey, message, headers); err != nil {
		IncAMQPPublishError()
		return err
	}
	return nil
}
