package models

import "time"

// MessageType classifies message content.
type MessageType string

const (
	MessageTypeText       MessageType = "TEXT"
	MessageTypeLocation   MessageType = "LOCATION"
	MessageTypeSystem     MessageType = "SYSTEM"
	MessageTypeRideUpdate MessageType = "RIDE_UPDATE"
)

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeLocation, MessageTypeSystem, MessageTypeRideUpdate:
		return true
	}
	return false
}

// MessageStatus is the delivery lifecycle stage of a message.
type MessageStatus string

const (
	StatusSending   MessageStatus = "SENDING"
	StatusQueued    MessageStatus = "QUEUED"
	StatusSent      MessageStatus = "SENT"
	StatusDelivered MessageStatus = "DELIVERED"
	StatusRead      MessageStatus = "READ"
	StatusFailed    MessageStatus = "FAILED"
)

// Rank orders the non-failed statuses along the delivery path. FAILED has no rank.
func (s MessageStatus) Rank() int {
	switch s {
	case StatusSending:
		return 1
	case StatusQueued:
		return 2
	case StatusSent:
		return 3
	case StatusDelivered:
		return 4
	case StatusRead:
		return 5
	}
	return 0
}

// CanTransition reports whether a message may move from s to next.
// Statuses only move forward; FAILED is terminal and reachable from SENDING or QUEUED.
func (s MessageStatus) CanTransition(next MessageStatus) bool {
	if s == StatusFailed {
		return false
	}
	if next == StatusFailed {
		return s == StatusSending || s == StatusQueued
	}
	return next.Rank() > s.Rank()
}

// Message represents a chat message between two participants of a thread.
type Message struct {
	ID         string            `json:"id"`
	ThreadID   string            `json:"thread_id"`
	SenderID   string            `json:"sender_id"`
	ReceiverID string            `json:"receiver_id"`
	Content    string            `json:"content"`
	Type       MessageType       `json:"type"`
	Status     MessageStatus     `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	RideID     string            `json:"ride_id,omitempty"`
	BookingID  string            `json:"booking_id,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	RetryOf    string            `json:"retry_of,omitempty"`
}

// Clone returns a copy that shares no mutable state with m.
func (m Message) Clone() Message {
	m.Metadata = CloneMetadata(m.Metadata)
	return m
}

// CloneMetadata copies a metadata map; nil stays nil.
func CloneMetadata(meta map[string]string) map[string]string {
	if meta == nil {
		return nil
	}
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}

// Before orders messages by timestamp, ties broken by id.
func (m Message) Before(other Message) bool {
	if m.Timestamp.Equal(other.Timestamp) {
		return m.ID < other.ID
	}
	return m.Timestamp.Before(other.Timestamp)
}

// Draft is a message as composed by the local user, before an id is assigned.
type Draft struct {
	ThreadID   string            `json:"thread_id,omitempty"`
	ReceiverID string            `json:"receiver_id"`
	Content    string            `json:"content"`
	Type       MessageType       `json:"type"`
	RideID     string            `json:"ride_id,omitempty"`
	BookingID  string            `json:"booking_id,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	RetryOf    string            `json:"retry_of,omitempty"`
}

// DraftFrom rebuilds the draft a message was created from, pointing back at
// the original through RetryOf.
func DraftFrom(m Message) Draft {
	m = m.Clone()
	return Draft{
		RetryOf:    m.ID,
		ThreadID:   m.ThreadID,
		ReceiverID: m.ReceiverID,
		Content:    m.Content,
		Type:       m.Type,
		RideID:     m.RideID,
		BookingID:  m.BookingID,
		Metadata:   m.Metadata,
	}
}
