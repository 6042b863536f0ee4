package store

import (
	"context"
	"encoding/json"
	"time"

	"ride-messaging/internal/models"
)

// OfflineQueueKey is the fixed namespace of the pending-message blob.
const OfflineQueueKey = "offline_messages"

// PendingMessage is a message composed while disconnected, waiting for replay.
type PendingMessage struct {
	MessageID string       `json:"message_id"`
	Draft     models.Draft `json:"draft"`
	QueuedAt  time.Time    `json:"queued_at"`
}

// OfflineQueue stores pending messages as one JSON blob in a KV.
type OfflineQueue struct {
	kv KV
}

// NewOfflineQueue wraps kv.
func NewOfflineQueue(kv KV) *OfflineQueue {
	return &OfflineQueue{kv: kv}
}

// Load returns every pending message in insertion order.
func (q *OfflineQueue) Load(ctx context.Context) ([]PendingMessage, error) {
	raw, ok, err := q.kv.Get(ctx, OfflineQueueKey)
	if err != nil {
		return nil, err
	}
	if !ok || len(raw) == 0 {
		return nil, nil
	}
	var pending []PendingMessage
	if err := json.Unmarshal(raw, &pending); err != nil {
		return nil, wrap("decode", OfflineQueueKey, err)
	}
	return pending, nil
}

// Append adds p to the end of the queue. An entry with the same message id is
// not added twice.
func (q *OfflineQueue) Append(ctx context.Context, p PendingMessage) error {
	pending, err := q.Load(ctx)
	if err != nil {
		return err
	}
	for _, existing := range pending {
		if existing.MessageID == p.MessageID {
			return nil
		}
	}
	return q.Replace(ctx, append(pending, p))
}

// Replace overwrites the queue with pending.
func (q *OfflineQueue) Replace(ctx context.Context, pending []PendingMessage) error {
	if pending == nil {
		pending = []PendingMessage{}
	}
	raw, err := json.Marshal(pending)
	if err != nil {
		return wrap("encode", OfflineQueueKey, err)
	}
	return q.kv.Set(ctx, OfflineQueueKey, raw)
}

// Len returns the number of pending messages.
func (q *OfflineQueue) Len(ctx context.Context) (int, error) {
	pending, err := q.Load(ctx)
	return len(pending), err
}
