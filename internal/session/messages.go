package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"ride-messaging/internal/delivery"
	"ride-messaging/internal/models"
	"ride-messaging/internal/observability"
	"ride-messaging/internal/store"
	"ride-messaging/internal/threads"
)

// SendMessage creates a message from draft and hands it to the transport.
// Without ThreadID the thread shared with ReceiverID for RideID is used,
// creating it if needed. While disconnected the message resolves to FAILED,
// or QUEUED under the queue policy, and the draft is persisted for replay on
// reconnect. Transport and persistence failures surface only through the
// returned message's status.
func (s *Session) SendMessage(ctx context.Context, draft models.Draft) (models.Message, error) {
	if err := validateDraft(draft); err != nil {
		return models.Message{}, err
	}
	var msg models.Message
	err := s.run(ctx, func() error {
		d, err := s.resolveDraft(draft)
		if err != nil {
			return err
		}
		msg, err = s.sendDraft(ctx, d)
		return err
	})
	return msg, err
}

// RetryMessage resends the content of a FAILED message as a new message. The
// failed message stays in the log unchanged.
func (s *Session) RetryMessage(ctx context.Context, messageID string) (models.Message, error) {
	var msg models.Message
	err := s.run(ctx, func() error {
		draft, err := s.tracker.Retry(messageID)
		if err != nil {
			return err
		}
		msg, err = s.sendDraft(ctx, draft)
		return err
	})
	return msg, err
}

func validateDraft(d models.Draft) error {
	if strings.TrimSpace(d.Content) == "" {
		return fmt.Errorf("%w: content is empty", ErrInvalidDraft)
	}
	if d.ThreadID == "" && d.ReceiverID == "" {
		return fmt.Errorf("%w: thread or receiver is required", ErrInvalidDraft)
	}
	if d.Type != "" && !d.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidDraft, d.Type)
	}
	return nil
}

func (s *Session) resolveDraft(d models.Draft) (models.Draft, error) {
	if d.ThreadID == "" {
		if d.ReceiverID == s.user.UserID {
			return d, fmt.Errorf("%w: cannot message yourself", ErrInvalidDraft)
		}
		th := s.threads.CreateThread(d.ReceiverID, d.RideID, d.BookingID)
		d.ThreadID = th.ID
		return d, nil
	}
	th, ok := s.threads.Thread(d.ThreadID)
	if !ok {
		return d, threads.ErrThreadNotFound
	}
	if d.ReceiverID == "" {
		d.ReceiverID = th.Peer(s.user.UserID)
	}
	if d.RideID == "" {
		d.RideID = th.RideID
	}
	if d.BookingID == "" {
		d.BookingID = th.BookingID
	}
	return d, nil
}

func (s *Session) sendDraft(ctx context.Context, d models.Draft) (models.Message, error) {
	connected := s.conn.Connected()
	msg, err := s.tracker.Send(d, connected, s.policy, s.dispatcher(ctx))
	if err != nil {
		return models.Message{}, err
	}
	if connected {
		return msg, nil
	}
	if !s.persist(ctx, store.PendingMessage{MessageID: msg.ID, Draft: d, QueuedAt: msg.Timestamp}) && msg.Status == models.StatusQueued {
		// nothing will replay it; surface it for an explicit retry
		if failed, ok := s.tracker.Advance(msg.ID, models.StatusFailed); ok {
			msg = failed
		}
	}
	return msg, nil
}

func (s *Session) dispatcher(ctx context.Context) delivery.Dispatcher {
	return func(m models.Message) error {
		return s.send(ctx, models.Event{
			Type:     models.EventMessage,
			Message:  &m,
			ThreadID: m.ThreadID,
			To:       m.ReceiverID,
		})
	}
}

// persist appends p to the offline queue and reports whether it was stored.
// Failures are logged and counted.
func (s *Session) persist(ctx context.Context, p store.PendingMessage) bool {
	if err := s.queue.Append(ctx, p); err != nil {
		observability.IncPersistenceError()
		s.logger.Error("offline queue write failed", zap.String("message_id", p.MessageID), zap.Error(err))
		return false
	}
	if n, err := s.queue.Len(ctx); err == nil {
		observability.SetOfflineQueueDepth(n)
	}
	return true
}

// flushOfflineQueue issues exactly one resend per persisted entry and then
// clears the queue. Under the fail policy each resend is a new message that
// references the failed one; under the queue policy the queued message itself
// is dispatched.
func (s *Session) flushOfflineQueue() {
	ctx, cancel := s.ioContext()
	defer cancel()

	pending, err := s.queue.Load(ctx)
	if err != nil {
		observability.IncPersistenceError()
		s.logger.Error("offline queue read failed", zap.Error(err))
		return
	}
	if len(pending) == 0 {
		return
	}
	s.logger.Info("flushing offline queue", zap.Int("pending", len(pending)))

	for _, p := range pending {
		s.replay(ctx, p)
	}
	if err := s.queue.Replace(ctx, nil); err != nil {
		observability.IncPersistenceError()
		s.logger.Error("offline queue clear failed", zap.Error(err))
		return
	}
	observability.SetOfflineQueueDepth(0)
}

func (s *Session) replay(ctx context.Context, p store.PendingMessage) {
	d := p.Draft
	if d.ThreadID != "" {
		s.threads.EnsureThread(d.ThreadID, []string{s.user.UserID, d.ReceiverID}, d.RideID, d.BookingID)
	}

	if s.policy == delivery.OfflineQueue {
		_, err := s.tracker.Dispatch(p.MessageID, s.dispatcher(ctx))
		if err == nil {
			return
		}
		if !errors.Is(err, delivery.ErrMessageNotFound) {
			s.logger.Warn("queued message replay failed", zap.String("message_id", p.MessageID), zap.Error(err))
			return
		}
		// persisted by an earlier session; recreate it
	} else {
		d.RetryOf = p.MessageID
	}

	msg, err := s.tracker.Send(d, true, s.policy, s.dispatcher(ctx))
	if err != nil {
		s.logger.Warn("offline message replay failed", zap.String("message_id", p.MessageID), zap.Error(err))
		return
	}
	s.logger.Debug("offline message replayed",
		zap.String("message_id", msg.ID),
		zap.String("retry_of", p.MessageID),
		zap.String("status", string(msg.Status)),
	)
}

// PendingCount returns the number of persisted offline messages.
func (s *Session) PendingCount(ctx context.Context) (int, error) {
	var n int
	err := s.run(ctx, func() error {
		var err error
		n, err = s.queue.Len(ctx)
		return err
	})
	return n, err
}

// MarkAsRead marks received messages of threadID as READ and, when
// connected, sends read receipts to their senders. With no ids every unread
// message of the thread is marked. Unknown ids are ignored.
func (s *Session) MarkAsRead(ctx context.Context, threadID string, messageIDs []string) error {
	return s.run(ctx, func() error {
		changed := s.tracker.MarkRead(threadID, messageIDs)
		if len(changed) == 0 || !s.conn.Connected() {
			return nil
		}
		bySender := make(map[string][]string)
		for _, m := range changed {
			bySender[m.SenderID] = append(bySender[m.SenderID], m.ID)
		}
		senders := make([]string, 0, len(bySender))
		for sender := range bySender {
			senders = append(senders, sender)
		}
		sort.Strings(senders)
		for _, sender := range senders {
			_ = s.send(ctx, models.Event{
				Type:       models.EventRead,
				ThreadID:   threadID,
				MessageIDs: bySender[sender],
				To:         sender,
				Status:     string(models.StatusRead),
			})
		}
		return nil
	})
}

// CreateThread returns the thread shared with participantID for rideID,
// creating it if needed.
func (s *Session) CreateThread(ctx context.Context, participantID, rideID, bookingID string) (models.Thread, error) {
	if participantID == "" || participantID == s.user.UserID {
		return models.Thread{}, fmt.Errorf("%w: invalid participant %q", ErrInvalidDraft, participantID)
	}
	var th models.Thread
	err := s.run(ctx, func() error {
		th = s.threads.CreateThread(participantID, rideID, bookingID)
		return nil
	})
	return th, err
}

// JoinThread subscribes to thread-scoped events. Joined threads are joined
// again after every reconnect. Joining twice is a no-op.
func (s *Session) JoinThread(ctx context.Context, threadID string) error {
	return s.run(ctx, func() error {
		if _, ok := s.joined[threadID]; ok {
			return nil
		}
		s.joined[threadID] = struct{}{}
		if s.conn.Connected() {
			_ = s.send(ctx, models.Event{Type: models.EventJoin, ThreadID: threadID})
		}
		return nil
	})
}

// LeaveThread unsubscribes from thread-scoped events and stops the local
// typing indicator for the thread. Leaving a thread not joined is a no-op.
func (s *Session) LeaveThread(ctx context.Context, threadID string) error {
	return s.run(ctx, func() error {
		if _, ok := s.joined[threadID]; !ok {
			return nil
		}
		delete(s.joined, threadID)
		s.presence.SetTyping(threadID, false)
		if s.conn.Connected() {
			_ = s.send(ctx, models.Event{Type: models.EventLeave, ThreadID: threadID})
		}
		return nil
	})
}

func (s *Session) rejoinThreads() {
	ids := make([]string, 0, len(s.joined))
	for id := range s.joined {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	ctx, cancel := s.ioContext()
	defer cancel()
	for _, id := range ids {
		_ = s.send(ctx, models.Event{Type: models.EventJoin, ThreadID: id})
	}
}

// SetTyping sets the local typing indicator for threadID. A true indicator
// clears itself after the typing timeout unless renewed.
func (s *Session) SetTyping(ctx context.Context, threadID string, typing bool) error {
	return s.run(ctx, func() error {
		s.presence.SetTyping(threadID, typing)
		return nil
	})
}

func (s *Session) handleLocalTyping(threadID string, typing bool) {
	s.subs.publish(Update{Kind: UpdateTyping, ThreadID: threadID, UserID: s.user.UserID, Typing: typing})
	if !s.conn.Connected() {
		return
	}
	ctx, cancel := s.ioContext()
	defer cancel()
	_ = s.send(ctx, models.Event{
		Type:     models.EventTyping,
		ThreadID: threadID,
		UserID:   s.user.UserID,
		IsTyping: typing,
	})
}
