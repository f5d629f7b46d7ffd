// Package storage defines the durable message history contract for the chat
// service.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Message is a persisted chat message. Username and avatar are denormalized
// snapshots of the sender at send time; later profile changes do not rewrite
// history.
type Message struct {
	ID        int64
	UserID    int64
	Username  string
	Avatar    string
	Content   string
	CreatedAt time.Time
}

// MessageStore persists and pages chat history.
type MessageStore interface {
	// InsertMessage stores a message and returns it with its assigned ID.
	InsertMessage(ctx context.Context, msg Message) (Message, error)
	// ListMessagesBefore returns up to limit messages created strictly
	// before the cutoff, newest first. A nil cutoff means no cutoff.
	ListMessagesBefore(ctx context.Context, before *time.Time, limit int) ([]Message, error)
	// CountMessages returns the total number of persisted messages.
	CountMessages(ctx context.Context) (int64, error)
}
