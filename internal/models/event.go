package models

import "time"

// Event types exchanged with the transport.
const (
	EventMessage  = "message"
	EventAck      = "ack"
	EventRead     = "read"
	EventTyping   = "typing"
	EventPresence = "presence"
	EventJoin     = "join"
	EventLeave    = "leave"
	EventError    = "error"
)

// Event is the JSON envelope sent over the realtime connection.
// From is stamped by the relay with the authenticated sender; To addresses
// acknowledgements and read receipts to a single user.
type Event struct {
	Type       string     `json:"type"`
	Message    *Message   `json:"message,omitempty"`
	MessageID  string     `json:"message_id,omitempty"`
	MessageIDs []string   `json:"message_ids,omitempty"`
	ThreadID   string     `json:"thread_id,omitempty"`
	UserID     string     `json:"user_id,omitempty"`
	From       string     `json:"from,omitempty"`
	To         string     `json:"to,omitempty"`
	Status     string     `json:"status,omitempty"`
	IsTyping   bool       `json:"is_typing,omitempty"`
	LastSeen   *time.Time `json:"last_seen,omitempty"`
	Seq        uint64     `json:"seq,omitempty"`
	Error      string     `json:"error,omitempty"`
}
