// Package session is the messaging facade: one Session per authenticated
// user composes the connection manager, delivery tracker, thread store,
// presence tracker and offline queue behind a single API.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ride-messaging/internal/connection"
	"ride-messaging/internal/delivery"
	"ride-messaging/internal/loop"
	"ride-messaging/internal/models"
	"ride-messaging/internal/observability"
	"ride-messaging/internal/presence"
	"ride-messaging/internal/store"
	"ride-messaging/internal/threads"
	"ride-messaging/internal/transport"
)

var (
	// ErrSessionClosed is returned by every operation after Close or Logout.
	ErrSessionClosed = errors.New("session closed")
	// ErrInvalidDraft is returned when a draft cannot be sent.
	ErrInvalidDraft = errors.New("invalid message draft")
)

// Config tunes a session.
type Config struct {
	TransportURL         string        `mapstructure:"transport_url"`
	ReconnectDelay       time.Duration `mapstructure:"reconnect_delay"`
	TypingTimeout        time.Duration `mapstructure:"typing_timeout"`
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts"`
	OfflinePolicy        string        `mapstructure:"offline_policy"`
	ThreadNamespace      string        `mapstructure:"thread_namespace"`
	IOTimeout            time.Duration `mapstructure:"io_timeout"`
}

// Option customizes a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Session) { s.logger = logger }
}

// WithExecutor runs the session on exec instead of a private loop.
func WithExecutor(exec loop.Executor) Option {
	return func(s *Session) { s.exec = exec }
}

// WithPublisher publishes lifecycle events on p.
func WithPublisher(p observability.Publisher) Option {
	return func(s *Session) { s.publisher = p }
}

// WithClock overrides time.Now for message timestamps and presence.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// WithIDGenerator overrides message id generation.
func WithIDGenerator(newID func() string) Option {
	return func(s *Session) { s.newID = newID }
}

// Session is the single entry point of the messaging core. All state lives
// on one execution context; public methods are safe for concurrent use.
type Session struct {
	cfg    Config
	policy delivery.OfflinePolicy
	user   models.CurrentUser

	exec      loop.Executor
	owned     *loop.Loop
	transport transport.Transport
	logger    *zap.Logger
	publisher observability.Publisher
	now       func() time.Time
	newID     func() string

	conn     *connection.Manager
	threads  *threads.Store
	tracker  *delivery.Tracker
	presence *presence.Tracker
	queue    *store.OfflineQueue

	joined map[string]struct{}
	closed bool
	subs   subscribers
}

// New creates a session for user over t, persisting offline messages in kv.
func New(cfg Config, user models.CurrentUser, t transport.Transport, kv store.KV, opts ...Option) (*Session, error) {
	policy, err := parsePolicy(cfg.OfflinePolicy)
	if err != nil {
		return nil, err
	}
	namespace := threads.DefaultNamespace
	if cfg.ThreadNamespace != "" {
		if namespace, err = uuid.Parse(cfg.ThreadNamespace); err != nil {
			return nil, fmt.Errorf("invalid thread namespace %q: %w", cfg.ThreadNamespace, err)
		}
	}
	if cfg.IOTimeout <= 0 {
		cfg.IOTimeout = 5 * time.Second
	}

	s := &Session{
		cfg:       cfg,
		policy:    policy,
		user:      user,
		transport: t,
		logger:    zap.NewNop(),
		now:       time.Now,
		newID:     uuid.NewString,
		queue:     store.NewOfflineQueue(kv),
		joined:    make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("user_id", user.UserID))
	if s.publisher == nil {
		s.publisher = observability.NewPublisher("", "", s.logger)
	}
	if s.exec == nil {
		s.owned = loop.New(s.logger)
		s.exec = s.owned
	}

	s.threads = threads.New(user.UserID, namespace, s.now)
	s.tracker = delivery.NewTracker(s.threads, user.UserID,
		delivery.WithClock(s.now),
		delivery.WithIDGenerator(s.newID),
		delivery.WithLogger(s.logger),
	)
	s.presence = presence.NewTracker(s.exec, cfg.TypingTimeout, s.now, s.logger)
	s.conn = connection.NewManager(connection.Config{
		URL:                  cfg.TransportURL,
		ReconnectDelay:       cfg.ReconnectDelay,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
	}, t, s.exec, s.logger)

	s.conn.OnStateChange(s.handleStateChange)
	s.tracker.OnTransition(s.handleTransition)
	s.presence.OnLocalTyping(s.handleLocalTyping)
	s.presence.OnStatus(func(info models.UserStatusInfo) {
		s.subs.publish(Update{Kind: UpdatePresence, UserID: info.UserID, Presence: &info})
	})
	t.OnMessage(func(ev models.Event) {
		s.exec.Post(func() { s.handleEvent(ev) })
	})
	return s, nil
}

func parsePolicy(raw string) (delivery.OfflinePolicy, error) {
	switch delivery.OfflinePolicy(raw) {
	case "", delivery.OfflineFail:
		return delivery.OfflineFail, nil
	case delivery.OfflineQueue:
		return delivery.OfflineQueue, nil
	}
	return "", fmt.Errorf("unknown offline policy %q", raw)
}

// UserID returns the id of the session's user.
func (s *Session) UserID() string {
	return s.user.UserID
}

// Connect starts connecting. It returns before the connection is established;
// observe ConnectionState or Subscribe for progress.
func (s *Session) Connect(ctx context.Context) error {
	return s.run(ctx, func() error {
		if s.user.AuthToken == "" {
			return connection.ErrMissingToken
		}
		s.conn.Connect(s.user)
		return nil
	})
}

// Disconnect closes the connection and cancels the reconnect timer and every
// typing-expiry timer. In-flight sends resolve on their own.
func (s *Session) Disconnect(ctx context.Context) error {
	return s.run(ctx, func() error {
		s.disconnect()
		return nil
	})
}

func (s *Session) disconnect() {
	s.presence.Reset()
	s.conn.Disconnect()
}

// Logout disconnects, forgets presence and thread subscriptions and closes
// the session.
func (s *Session) Logout(ctx context.Context) error {
	err := s.run(ctx, func() error {
		s.presence.Clear()
		s.conn.Logout()
		s.joined = make(map[string]struct{})
		s.shutdown()
		return nil
	})
	if err != nil {
		return err
	}
	s.stopLoop()
	return nil
}

// Close disconnects and releases the session's execution context. Further
// calls return ErrSessionClosed.
func (s *Session) Close() error {
	err := s.run(context.Background(), func() error {
		s.disconnect()
		s.shutdown()
		return nil
	})
	if errors.Is(err, ErrSessionClosed) {
		return nil
	}
	s.stopLoop()
	return err
}

func (s *Session) shutdown() {
	s.closed = true
	s.subs.close()
}

func (s *Session) stopLoop() {
	if s.owned != nil {
		s.owned.Close()
	}
}

// run executes fn on the session's execution context.
func (s *Session) run(ctx context.Context, fn func() error) error {
	var err error
	doErr := s.exec.Do(ctx, func() {
		if s.closed {
			err = ErrSessionClosed
			return
		}
		err = fn()
	})
	if doErr != nil {
		if errors.Is(doErr, loop.ErrClosed) {
			return ErrSessionClosed
		}
		return doErr
	}
	return err
}

// view runs a read-only fn; a closed session leaves the zero value.
func (s *Session) view(fn func()) {
	_ = s.exec.Do(context.Background(), fn)
}

func (s *Session) ioContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.cfg.IOTimeout)
}

// send writes ev to the transport. Errors are logged and counted; the
// connection manager reacts to broken connections on its own.
func (s *Session) send(ctx context.Context, ev models.Event) error {
	err := s.transport.Send(ctx, ev)
	if err != nil {
		observability.IncTransportError("send")
		s.logger.Warn("transport send failed", zap.String("event", ev.Type), zap.Error(err))
	}
	return err
}

func (s *Session) publish(routingKey string, envelope observability.EventEnvelope) {
	ctx, cancel := s.ioContext()
	defer cancel()
	if err := s.publisher.PublishJSON(ctx, routingKey, envelope, nil); err != nil {
		observability.IncAMQPPublishError()
		s.logger.Debug("event publish failed", zap.String("routing_key", routingKey), zap.Error(err))
	}
}

func (s *Session) handleStateChange(from, to models.ConnectionState) {
	s.publish(observability.RoutingKeyConnEvents,
		observability.ConnectionStateEnvelope(s.user.UserID, string(from), string(to)))
	s.subs.publish(Update{Kind: UpdateConnection, State: to})

	if to != models.ConnectionConnected {
		return
	}
	s.rejoinThreads()
	s.flushOfflineQueue()
}

func (s *Session) handleTransition(tr delivery.Transition) {
	s.publish(observability.RoutingKeyMessageEvents, observability.MessageStatusEnvelope(
		s.user.UserID, tr.Message.ThreadID, tr.Message.ID, string(tr.From), string(tr.To)))
	msg := tr.Message
	s.subs.publish(Update{Kind: UpdateMessage, ThreadID: msg.ThreadID, Message: &msg})
}
