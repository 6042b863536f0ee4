package models

import "time"

// ThreadType scopes what a conversation is about.
type ThreadType string

const (
	ThreadTypeRide    ThreadType = "RIDE"
	ThreadTypeBooking ThreadType = "BOOKING"
	ThreadTypeDirect  ThreadType = "DIRECT"
)

// Thread represents a conversation between exactly two users.
type Thread struct {
	ID           string     `json:"id"`
	Participants []string   `json:"participants"`
	RideID       string     `json:"ride_id,omitempty"`
	BookingID    string     `json:"booking_id,omitempty"`
	Type         ThreadType `json:"type"`
	LastMessage  *Message   `json:"last_message,omitempty"`
	UnreadCount  int        `json:"unread_count"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Clone returns a deep copy of t.
func (t Thread) Clone() Thread {
	t.Participants = append([]string(nil), t.Participants...)
	if t.LastMessage != nil {
		last := t.LastMessage.Clone()
		t.LastMessage = &last
	}
	return t
}

// Peer returns the participant that is not userID.
func (t Thread) Peer(userID string) string {
	for _, p := range t.Participants {
		if p != userID {
			return p
		}
	}
	return ""
}
