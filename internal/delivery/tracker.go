// Package delivery owns the status lifecycle of every message the local user
// has sent or received.
package delivery

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ride-messaging/internal/models"
	"ride-messaging/internal/observability"
	"ride-messaging/internal/threads"
)

// ErrNotRetryable is returned when retrying a message that has not failed.
var ErrNotRetryable = errors.New("message is not in FAILED state")

// ErrMessageNotFound is returned for unknown message ids.
var ErrMessageNotFound = errors.New("message not found")

// OfflinePolicy decides what happens to a message composed while disconnected.
type OfflinePolicy string

const (
	// OfflineFail marks the message FAILED; replay sends a copy with a new id.
	OfflineFail OfflinePolicy = "fail"
	// OfflineQueue marks the message QUEUED; replay sends the same message.
	OfflineQueue OfflinePolicy = "queue"
)

// Transition is a single applied status change.
type Transition struct {
	Message models.Message
	From    models.MessageStatus
	To      models.MessageStatus
}

// Dispatcher hands a message to the transport.
type Dispatcher func(models.Message) error

// Tracker applies status transitions to messages held in a thread store.
type Tracker struct {
	threads     *threads.Store
	localUserID string
	now         func() time.Time
	newID       func() string
	logger      *zap.Logger

	history   map[string][]models.MessageStatus
	listeners []func(Transition)
}

// Option customizes a Tracker.
type Option func(*Tracker)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithIDGenerator overrides uuid generation.
func WithIDGenerator(newID func() string) Option {
	return func(t *Tracker) { t.newID = newID }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(t *Tracker) { t.logger = logger }
}

// NewTracker builds a tracker over store for localUserID.
func NewTracker(store *threads.Store, localUserID string, opts ...Option) *Tracker {
	t := &Tracker{
		threads:     store,
		localUserID: localUserID,
		now:         time.Now,
		newID:       uuid.NewString,
		logger:      zap.NewNop(),
		history:     make(map[string][]models.MessageStatus),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// OnTransition registers l for every applied status change.
func (t *Tracker) OnTransition(l func(Transition)) {
	t.listeners = append(t.listeners, l)
}

// Send creates a message from draft and appends it to its thread in SENDING.
// When connected it dispatches the message and resolves it to SENT, or FAILED
// if dispatch errors. When disconnected it resolves to FAILED or QUEUED
// according to policy. draft.ThreadID must name an existing thread.
func (t *Tracker) Send(draft models.Draft, connected bool, policy OfflinePolicy, dispatch Dispatcher) (models.Message, error) {
	msg := t.newMessage(draft)
	if _, err := t.threads.Append(msg); err != nil {
		return models.Message{}, err
	}
	t.record(msg.ID, models.StatusSending)

	if !connected {
		if policy == OfflineQueue {
			return t.mustAdvance(msg.ID, models.StatusQueued), nil
		}
		return t.mustAdvance(msg.ID, models.StatusFailed), nil
	}
	return t.Dispatch(msg.ID, dispatch)
}

// Dispatch sends a SENDING or QUEUED message and resolves it to SENT or FAILED.
func (t *Tracker) Dispatch(id string, dispatch Dispatcher) (models.Message, error) {
	msg, ok := t.threads.Message(id)
	if !ok {
		return models.Message{}, ErrMessageNotFound
	}
	if msg.Status != models.StatusSending && msg.Status != models.StatusQueued {
		return msg, nil
	}
	if err := dispatch(msg); err != nil {
		t.logger.Warn("dispatch failed", zap.String("message_id", id), zap.Error(err))
		return t.mustAdvance(id, models.StatusFailed), nil
	}
	return t.mustAdvance(id, models.StatusSent), nil
}

func (t *Tracker) newMessage(draft models.Draft) models.Message {
	d := draft
	msgType := d.Type
	if msgType == "" {
		msgType = models.MessageTypeText
	}
	return models.Message{
		ID:         t.newID(),
		ThreadID:   d.ThreadID,
		SenderID:   t.localUserID,
		ReceiverID: d.ReceiverID,
		Content:    d.Content,
		Type:       msgType,
		Status:     models.StatusSending,
		Timestamp:  t.now(),
		RideID:     d.RideID,
		BookingID:  d.BookingID,
		Metadata:   models.CloneMetadata(d.Metadata),
		RetryOf:    d.RetryOf,
	}
}

// Receive records an inbound message, already appended by the caller, as DELIVERED.
func (t *Tracker) Receive(msg models.Message) models.Message {
	t.record(msg.ID, msg.Status)
	if msg.Status.CanTransition(models.StatusDelivered) {
		return t.mustAdvance(msg.ID, models.StatusDelivered)
	}
	current, _ := t.threads.Message(msg.ID)
	return current
}

// Advance moves message id to status if the transition is allowed. Invalid or
// backward transitions are ignored and reported as false.
func (t *Tracker) Advance(id string, status models.MessageStatus) (models.Message, bool) {
	current, ok := t.threads.Message(id)
	if !ok {
		return models.Message{}, false
	}
	if !current.Status.CanTransition(status) {
		return current, false
	}
	updated, _ := t.threads.SetStatus(id, status)
	t.record(id, status)
	observability.IncMessageStatus(string(status))
	for _, l := range t.listeners {
		l(Transition{Message: updated, From: current.Status, To: status})
	}
	return updated, true
}

func (t *Tracker) mustAdvance(id string, status models.MessageStatus) models.Message {
	msg, _ := t.Advance(id, status)
	return msg
}

// Ack applies a counterparty acknowledgement to a message the local user sent.
func (t *Tracker) Ack(id string, status models.MessageStatus) bool {
	if status != models.StatusDelivered && status != models.StatusRead {
		return false
	}
	msg, ok := t.threads.Message(id)
	if !ok || msg.SenderID != t.localUserID {
		return false
	}
	_, applied := t.Advance(id, status)
	return applied
}

// MarkRead moves the given received messages of threadID from SENT or
// DELIVERED to READ. With no ids every unread received message is marked.
// Unknown ids and messages already READ are skipped. It returns the messages
// that changed.
func (t *Tracker) MarkRead(threadID string, ids []string) []models.Message {
	if _, ok := t.threads.Thread(threadID); !ok {
		return nil
	}
	if len(ids) == 0 {
		for _, m := range t.threads.Messages(threadID) {
			ids = append(ids, m.ID)
		}
	}

	var changed []models.Message
	for _, id := range ids {
		msg, ok := t.threads.Message(id)
		if !ok || msg.ThreadID != threadID || msg.ReceiverID != t.localUserID {
			continue
		}
		if msg.Status != models.StatusSent && msg.Status != models.StatusDelivered {
			continue
		}
		if updated, ok := t.Advance(id, models.StatusRead); ok {
			changed = append(changed, updated)
		}
	}
	t.threads.Touch(threadID)
	return changed
}

// Retry returns a draft copying a FAILED message's thread and content. The
// failed message itself is left untouched.
func (t *Tracker) Retry(id string) (models.Draft, error) {
	msg, ok := t.threads.Message(id)
	if !ok {
		return models.Draft{}, ErrMessageNotFound
	}
	if msg.Status != models.StatusFailed || msg.SenderID != t.localUserID {
		return models.Draft{}, ErrNotRetryable
	}
	return models.DraftFrom(msg), nil
}

// History returns the ordered statuses a message has been observed in.
func (t *Tracker) History(id string) []models.MessageStatus {
	return append([]models.MessageStatus(nil), t.history[id]...)
}

func (t *Tracker) record(id string, status models.MessageStatus) {
	h := t.history[id]
	if len(h) > 0 && h[len(h)-1] == status {
		return
	}
	t.history[id] = append(h, status)
}
