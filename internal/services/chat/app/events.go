package server

import (
	"encoding/json"
	"time"
)

// Outbound event types. Clients switch on the type field.
const (
	eventTypeMessage     = "message"
	eventTypeUserJoined  = "user_joined"
	eventTypeUserLeft    = "user_left"
	eventTypeOnlineUsers = "online_users"
	eventTypeError       = "error"
)

// payloadTimeFormat keeps sub-second precision so history pagination cutoffs
// round-trip exactly.
const payloadTimeFormat = time.RFC3339Nano

// Event is the outbound websocket envelope.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// UserInfo is the roster entry embedded in presence events.
type UserInfo struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// MessagePayload is the body of a message event.
type MessagePayload struct {
	ID        int64  `json:"id"`
	UserID    int64  `json:"user_id"`
	Username  string `json:"username"`
	Avatar    string `json:"avatar"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
}

// UserEventPayload is the body of user_joined and user_left events. Users
// carries the roster after the transition.
type UserEventPayload struct {
	UserID   int64      `json:"user_id"`
	Username string     `json:"username"`
	Users    []UserInfo `json:"users"`
}

// ErrorPayload is the body of an error event.
type ErrorPayload struct {
	Message string `json:"message"`
}

type inboundFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type messageSubmission struct {
	Content string `json:"content"`
}
