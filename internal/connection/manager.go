// Package connection owns the single realtime connection of a messaging
// session and recovers it after failures.
//
//	DISCONNECTED --Connect--> CONNECTING --ok--> CONNECTED
//	CONNECTING --fail--> DISCONNECTED --delay--> RECONNECTING --> CONNECTING
//	CONNECTED --close/error--> RECONNECTING --delay--> CONNECTING
//	CONNECTING --close/error before ok--> DISCONNECTED (failed open)
//	any --Disconnect--> DISCONNECTED
//
// All methods must be called on the scheduler's execution context.
package connection

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"ride-messaging/internal/loop"
	"ride-messaging/internal/models"
	"ride-messaging/internal/observability"
	"ride-messaging/internal/transport"
)

// DefaultReconnectDelay is the fixed wait between reconnect attempts.
const DefaultReconnectDelay = 5 * time.Second

// ErrMissingToken is logged when Connect is called without credentials.
var ErrMissingToken = errors.New("auth token is empty")

// ErrDroppedWhileConnecting fails an open whose connection closed before the
// open result was applied.
var ErrDroppedWhileConnecting = errors.New("connection dropped while connecting")

var allStates = []string{
	string(models.ConnectionDisconnected),
	string(models.ConnectionConnecting),
	string(models.ConnectionConnected),
	string(models.ConnectionReconnecting),
}

// Config tunes the manager.
type Config struct {
	URL            string
	ReconnectDelay time.Duration
	// MaxReconnectAttempts stops retrying after this many consecutive failed
	// attempts. Zero retries forever.
	MaxReconnectAttempts int
	OpenTimeout          time.Duration
}

// StateListener observes state transitions.
type StateListener func(from, to models.ConnectionState)

// Manager runs the reconnect state machine.
type Manager struct {
	cfg       Config
	transport transport.Transport
	sched     loop.Scheduler
	logger    *zap.Logger

	state    models.ConnectionState
	user     *models.CurrentUser
	retry    loop.Timer
	epoch    uint64
	attempts int
	// set by a close or error seen while CONNECTING, consumed by handleOpenResult
	dropEpoch uint64
	dropErr   error
	listeners []StateListener
}

// NewManager builds a manager and registers its transport callbacks.
func NewManager(cfg Config, t transport.Transport, sched loop.Scheduler, logger *zap.Logger) *Manager {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		cfg:       cfg,
		transport: t,
		sched:     sched,
		logger:    logger,
		state:     models.ConnectionDisconnected,
	}
	t.OnClose(func(err error) {
		sched.Post(func() { m.handleDrop("close", err) })
	})
	t.OnError(func(err error) {
		sched.Post(func() { m.handleDrop("error", err) })
	})
	return m
}

// OnStateChange registers l. Listeners run synchronously after each transition.
func (m *Manager) OnStateChange(l StateListener) {
	m.listeners = append(m.listeners, l)
}

// State returns the current connection state.
func (m *Manager) State() models.ConnectionState {
	return m.state
}

// Connected reports whether the state is CONNECTED.
func (m *Manager) Connected() bool {
	return m.state == models.ConnectionConnected
}

// RetryPending reports whether a reconnect timer is armed.
func (m *Manager) RetryPending() bool {
	return m.retry != nil
}

// Connect starts connecting as user. It is a no-op while CONNECTING or
// CONNECTED and requires a non-empty auth token.
func (m *Manager) Connect(user models.CurrentUser) {
	if m.state == models.ConnectionConnecting || m.state == models.ConnectionConnected {
		return
	}
	if user.AuthToken == "" {
		m.logger.Warn("connect skipped", zap.String("user_id", user.UserID), zap.Error(ErrMissingToken))
		return
	}
	m.cancelRetry()
	u := user
	m.user = &u
	m.attempts = 0
	m.open()
}

// Disconnect forces DISCONNECTED from any state, cancelling a pending retry
// and abandoning any in-flight open.
func (m *Manager) Disconnect() {
	m.cancelRetry()
	m.epoch++
	if err := m.transport.Close(); err != nil {
		m.logger.Debug("transport close failed", zap.Error(err))
	}
	m.setState(models.ConnectionDisconnected)
}

// Logout disconnects and forgets the user; no retry happens until the next Connect.
func (m *Manager) Logout() {
	m.Disconnect()
	m.user = nil
}

func (m *Manager) open() {
	m.epoch++
	epoch := m.epoch
	user := *m.user
	m.setState(models.ConnectionConnecting)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.OpenTimeout)
		defer cancel()
		err := m.transport.Open(ctx, m.cfg.URL, user.AuthToken)
		m.sched.Post(func() { m.handleOpenResult(epoch, err) })
	}()
}

func (m *Manager) handleOpenResult(epoch uint64, err error) {
	if epoch != m.epoch || m.state != models.ConnectionConnecting {
		if err == nil && m.state == models.ConnectionDisconnected {
			// opened after Disconnect
			_ = m.transport.Close()
		}
		m.logger.Debug("discarding stale open result", zap.Error(err))
		return
	}
	if err == nil && m.dropEpoch == epoch {
		err = m.dropErr
		_ = m.transport.Close()
	}
	m.dropEpoch, m.dropErr = 0, nil
	if err != nil {
		observability.IncTransportError("open")
		m.logger.Warn("connect failed", zap.Error(err), zap.Int("attempt", m.attempts+1))
		m.setState(models.ConnectionDisconnected)
		m.scheduleRetry()
		return
	}
	m.attempts = 0
	m.setState(models.ConnectionConnected)
}

func (m *Manager) handleDrop(kind string, err error) {
	if m.state == models.ConnectionConnecting {
		m.logger.Debug("connection dropped before open completed", zap.String("kind", kind), zap.Error(err))
		m.dropEpoch = m.epoch
		m.dropErr = errors.Join(ErrDroppedWhileConnecting, err)
		return
	}
	if m.state != models.ConnectionConnected {
		return
	}
	observability.IncTransportError(kind)
	m.logger.Warn("connection lost", zap.String("kind", kind), zap.Error(err))
	m.epoch++
	_ = m.transport.Close()
	m.setState(models.ConnectionReconnecting)
	m.scheduleRetry()
}

func (m *Manager) scheduleRetry() {
	m.cancelRetry()
	if m.user == nil {
		return
	}
	m.attempts++
	if m.cfg.MaxReconnectAttempts > 0 && m.attempts > m.cfg.MaxReconnectAttempts {
		m.logger.Error("giving up reconnecting", zap.Int("attempts", m.attempts-1))
		m.setState(models.ConnectionDisconnected)
		return
	}
	observability.IncReconnectAttempt()
	m.retry = m.sched.AfterFunc(m.cfg.ReconnectDelay, func() {
		m.retry = nil
		if m.user == nil {
			return
		}
		m.setState(models.ConnectionReconnecting)
		m.open()
	})
}

func (m *Manager) cancelRetry() {
	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
	}
}

func (m *Manager) setState(next models.ConnectionState) {
	prev := m.state
	if prev == next {
		return
	}
	m.state = next
	observability.SetConnectionState(string(next), allStates)
	m.logger.Info("connection state changed", zap.String("from", string(prev)), zap.String("to", string(next)))
	for _, l := range m.listeners {
		l(prev, next)
	}
}
