package server

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/studyhall/studyhall/internal/services/chat/identity"
	"github.com/studyhall/studyhall/internal/services/chat/presence"
	"github.com/studyhall/studyhall/internal/services/chat/storage"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// coordinator owns the chat domain flow: presence transitions, message
// persistence, and event fan-out. The transport layer feeds it decoded
// frames and connection lifecycle signals.
type coordinator struct {
	resolver   identity.Resolver
	store      storage.MessageStore
	presence   *presence.Registry
	dispatcher *dispatcher
}

func newCoordinator(resolver identity.Resolver, store storage.MessageStore) *coordinator {
	return &coordinator{
		resolver:   resolver,
		store:      store,
		presence:   presence.NewRegistry(),
		dispatcher: newDispatcher(),
	}
}

// handleSubscribed registers a new connection for the identity. The first
// connection of an identity announces user_joined; every subscription
// refreshes the shared online_users roster.
func (c *coordinator) handleSubscribed(ctx context.Context, ident identity.Identity) {
	if refreshed, err := c.lookup(ctx, ident.ID); err == nil {
		ident = refreshed
	}

	newlyOnline := c.presence.Register(presence.Record{UserID: ident.ID, Name: ident.Name})
	if newlyOnline {
		c.dispatcher.broadcast(Event{
			Type: eventTypeUserJoined,
			Payload: UserEventPayload{
				UserID:   ident.ID,
				Username: ident.Name,
				Users:    c.onlineRoster(),
			},
		})
	}
	c.dispatcher.broadcast(Event{
		Type:    eventTypeOnlineUsers,
		Payload: c.onlineRoster(),
	})
}

// handleDisconnected drops one connection for the identity and announces
// user_left when the last one closes.
func (c *coordinator) handleDisconnected(userID int64) {
	record, wentOffline := c.presence.Unregister(userID)
	if !wentOffline {
		return
	}
	c.dispatcher.broadcast(Event{
		Type: eventTypeUserLeft,
		Payload: UserEventPayload{
			UserID:   record.UserID,
			Username: record.Name,
			Users:    c.onlineRoster(),
		},
	})
}

// submitMessage validates, persists, and broadcasts a chat message. The
// sender identity is re-resolved so the broadcast carries current profile
// data. Persistence failure is logged but does not block the broadcast.
func (c *coordinator) submitMessage(ctx context.Context, userID int64, content string) {
	content = strings.TrimSpace(content)
	if content == "" {
		return
	}
	if userID <= 0 {
		log.Printf("chat: dropping message without sender identity")
		return
	}

	ident, err := c.lookup(ctx, userID)
	if err != nil {
		log.Printf("chat: resolve sender %d failed: %v", userID, err)
		c.dispatcher.sendToUser(userID, Event{
			Type:    eventTypeError,
			Payload: ErrorPayload{Message: "could not resolve your identity"},
		})
		return
	}

	msg := storage.Message{
		UserID:    ident.ID,
		Username:  ident.Name,
		Avatar:    ident.Avatar,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	stored, err := c.store.InsertMessage(ctx, msg)
	if err != nil {
		log.Printf("chat: persist message from user %d failed: %v", userID, err)
		stored = msg
	}

	c.dispatcher.broadcast(Event{
		Type:    eventTypeMessage,
		Payload: messagePayload(stored),
	})
}

// history returns up to limit messages created before the cutoff, oldest
// first. Limits outside (0, maxHistoryLimit] are clamped.
func (c *coordinator) history(ctx context.Context, before *time.Time, limit int) ([]MessagePayload, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	messages, err := c.store.ListMessagesBefore(ctx, before, limit)
	if err != nil {
		return nil, err
	}

	payloads := make([]MessagePayload, len(messages))
	for i, msg := range messages {
		payloads[len(messages)-1-i] = messagePayload(msg)
	}
	return payloads, nil
}

// totalMessageCount returns the persisted message total, or zero when the
// store is unavailable.
func (c *coordinator) totalMessageCount(ctx context.Context) int64 {
	total, err := c.store.CountMessages(ctx)
	if err != nil {
		log.Printf("chat: count messages failed: %v", err)
		return 0
	}
	return total
}

func (c *coordinator) onlineRoster() []UserInfo {
	records := c.presence.Snapshot()
	users := make([]UserInfo, len(records))
	for i, record := range records {
		users[i] = UserInfo{ID: record.UserID, Username: record.Name}
	}
	return users
}

func (c *coordinator) isUserOnline(userID int64) bool {
	return c.presence.Contains(userID)
}

// sendRosterTo delivers the current roster to a single peer, used right
// after subscribe so late joiners see who is already online.
func (c *coordinator) sendRosterTo(peer *wsPeer) {
	if err := peer.send(Event{Type: eventTypeOnlineUsers, Payload: c.onlineRoster()}); err != nil {
		log.Printf("chat: send roster failed: %v", err)
	}
}

func (c *coordinator) lookup(ctx context.Context, userID int64) (identity.Identity, error) {
	if c.resolver == nil {
		return identity.Identity{}, errors.New("identity resolver is not configured")
	}
	return c.resolver.Lookup(ctx, userID)
}

func messagePayload(msg storage.Message) MessagePayload {
	return MessagePayload{
		ID:        msg.ID,
		UserID:    msg.UserID,
		Username:  msg.Username,
		Avatar:    msg.Avatar,
		Content:   msg.Content,
		CreatedAt: msg.CreatedAt.UTC().Format(payloadTimeFormat),
	}
}
