package models

import "time"

// PresenceStatus is a user's online state as seen by others.
type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "ONLINE"
	PresenceOffline PresenceStatus = "OFFLINE"
	PresenceTyping  PresenceStatus = "TYPING"
)

// UserStatusInfo describes a user's presence.
type UserStatusInfo struct {
	UserID   string         `json:"user_id"`
	Status   PresenceStatus `json:"status"`
	LastSeen time.Time      `json:"last_seen"`
	IsTyping bool           `json:"is_typing"`
	ThreadID string         `json:"thread_id,omitempty"`
	Seq      uint64         `json:"seq,omitempty"`
}

// ConnectionState is the state of the single logical transport connection.
type ConnectionState string

const (
	ConnectionDisconnected ConnectionState = "DISCONNECTED"
	ConnectionConnecting   ConnectionState = "CONNECTING"
	ConnectionConnected    ConnectionState = "CONNECTED"
	ConnectionReconnecting ConnectionState = "RECONNECTING"
)

// CurrentUser is the authenticated user as supplied by the auth collaborator.
type CurrentUser struct {
	UserID    string `json:"user_id"`
	AuthToken string `json:"auth_token"`
}
