package session

import "ride-messaging/internal/models"

// ConnectionState returns the current connection state.
func (s *Session) ConnectionState() models.ConnectionState {
	state := models.ConnectionDisconnected
	s.view(func() { state = s.conn.State() })
	return state
}

// Messages returns a copy of threadID's ordered log.
func (s *Session) Messages(threadID string) []models.Message {
	var out []models.Message
	s.view(func() { out = s.threads.Messages(threadID) })
	return out
}

// Message returns a copy of message id.
func (s *Session) Message(id string) (models.Message, bool) {
	var (
		msg models.Message
		ok  bool
	)
	s.view(func() { msg, ok = s.threads.Message(id) })
	return msg, ok
}

// Thread returns a copy of thread id.
func (s *Session) Thread(id string) (models.Thread, bool) {
	var (
		th models.Thread
		ok bool
	)
	s.view(func() { th, ok = s.threads.Thread(id) })
	return th, ok
}

// Threads returns every thread, most recently active first.
func (s *Session) Threads() []models.Thread {
	var out []models.Thread
	s.view(func() { out = s.threads.SortedByActivity() })
	return out
}

// UnreadCount sums unread messages across threads.
func (s *Session) UnreadCount() int {
	var n int
	s.view(func() { n = s.threads.UnreadTotal() })
	return n
}

// UserStatuses returns every known peer status sorted by user id.
func (s *Session) UserStatuses() []models.UserStatusInfo {
	var out []models.UserStatusInfo
	s.view(func() { out = s.presence.Statuses() })
	return out
}

// UserStatus returns the last known status of userID.
func (s *Session) UserStatus(userID string) (models.UserStatusInfo, bool) {
	var (
		info models.UserStatusInfo
		ok   bool
	)
	s.view(func() { info, ok = s.presence.Status(userID) })
	return info, ok
}

// IsTyping reports whether the local user's typing indicator is on for threadID.
func (s *Session) IsTyping(threadID string) bool {
	var typing bool
	s.view(func() { typing = s.presence.LocalTyping(threadID) })
	return typing
}

// TypingUsers returns the peers currently typing in threadID.
func (s *Session) TypingUsers(threadID string) []string {
	var out []string
	s.view(func() { out = s.presence.TypingIn(threadID) })
	return out
}

// StatusHistory returns the statuses message id has moved through.
func (s *Session) StatusHistory(id string) []models.MessageStatus {
	var out []models.MessageStatus
	s.view(func() { out = s.tracker.History(id) })
	return out
}
