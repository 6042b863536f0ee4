package session

import (
	"go.uber.org/zap"

	"ride-messaging/internal/models"
	"ride-messaging/internal/observability"
)

// handleEvent applies one inbound transport event. Malformed or stale events
// are ignored.
func (s *Session) handleEvent(ev models.Event) {
	if s.closed {
		return
	}
	sender := ev.From
	if sender == "" {
		sender = ev.UserID
	}

	switch ev.Type {
	case models.EventMessage:
		s.receiveMessage(ev)
	case models.EventAck:
		s.tracker.Ack(ev.MessageID, models.MessageStatus(ev.Status))
	case models.EventRead:
		ids := ev.MessageIDs
		if len(ids) == 0 && ev.MessageID != "" {
			ids = []string{ev.MessageID}
		}
		for _, id := range ids {
			s.tracker.Ack(id, models.StatusRead)
		}
	case models.EventTyping:
		if sender == "" || sender == s.user.UserID {
			return
		}
		s.presence.RemoteTyping(sender, ev.ThreadID, ev.IsTyping)
	case models.EventPresence:
		if ev.UserID == "" || ev.UserID == s.user.UserID {
			return
		}
		info := models.UserStatusInfo{
			UserID: ev.UserID,
			Status: models.PresenceStatus(ev.Status),
			Seq:    ev.Seq,
		}
		if ev.LastSeen != nil {
			info.LastSeen = *ev.LastSeen
		}
		s.presence.UpdateRemoteStatus(info)
	case models.EventError:
		observability.IncTransportError("remote")
		s.logger.Warn("relay reported error", zap.String("error", ev.Error), zap.String("message_id", ev.MessageID))
	default:
		s.logger.Debug("ignoring event", zap.String("type", ev.Type))
	}
}

func (s *Session) receiveMessage(ev models.Event) {
	if ev.Message == nil || ev.Message.ID == "" || ev.Message.ThreadID == "" {
		s.logger.Warn("dropping malformed message event")
		return
	}
	m := ev.Message.Clone()
	if ev.From != "" {
		m.SenderID = ev.From
	}
	if m.SenderID == "" || m.SenderID == s.user.UserID {
		return
	}
	if m.ReceiverID == "" {
		m.ReceiverID = s.user.UserID
	}
	if m.Type == "" {
		m.Type = models.MessageTypeText
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = s.now()
	}
	if m.Status.Rank() < models.StatusSent.Rank() {
		m.Status = models.StatusSent
	}

	s.threads.EnsureThread(m.ThreadID, []string{s.user.UserID, m.SenderID}, m.RideID, m.BookingID)
	added, err := s.threads.Append(m)
	if err != nil || !added {
		return
	}
	s.subs.publish(Update{Kind: UpdateMessage, ThreadID: m.ThreadID, Message: &m})
	// a message arriving while typing means the peer stopped
	s.presence.RemoteTyping(m.SenderID, m.ThreadID, false)

	received := s.tracker.Receive(m)
	if received.Status != models.StatusDelivered {
		return
	}
	ctx, cancel := s.ioContext()
	defer cancel()
	_ = s.send(ctx, models.Event{
		Type:      models.EventAck,
		MessageID: m.ID,
		ThreadID:  m.ThreadID,
		To:        m.SenderID,
		Status:    string(models.StatusDelivered),
	})
}
