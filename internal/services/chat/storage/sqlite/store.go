// Package sqlite implements the chat message store on SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/studyhall/studyhall/internal/platform/storage/sqlitemigrate"
	"github.com/studyhall/studyhall/internal/services/chat/storage"
	"github.com/studyhall/studyhall/internal/services/chat/storage/sqlite/migrations"
)

// Timestamps are stored as Unix milliseconds so ordering and cutoff
// comparisons stay integer-exact.
func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// Store is a SQLite-backed message store.
type Store struct {
	sqlDB *sql.DB
}

// Open opens (creating if needed) the chat database at path and applies
// pending migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("database path is required")
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL", path)
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS, ""); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.sqlDB.Close()
}

// InsertMessage persists a message and returns it with its assigned ID. The
// stored CreatedAt is normalized to millisecond precision.
func (s *Store) InsertMessage(ctx context.Context, msg storage.Message) (storage.Message, error) {
	if msg.UserID <= 0 {
		return storage.Message{}, fmt.Errorf("message requires a user id")
	}
	if strings.TrimSpace(msg.Username) == "" {
		return storage.Message{}, fmt.Errorf("message requires a username")
	}
	if strings.TrimSpace(msg.Content) == "" {
		return storage.Message{}, fmt.Errorf("message requires content")
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	createdMillis := toMillis(msg.CreatedAt)
	result, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO chat_messages (user_id, username, avatar, content, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		msg.UserID, msg.Username, msg.Avatar, msg.Content, createdMillis,
	)
	if err != nil {
		return storage.Message{}, fmt.Errorf("insert message: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return storage.Message{}, fmt.Errorf("read inserted message id: %w", err)
	}

	msg.ID = id
	msg.CreatedAt = fromMillis(createdMillis)
	return msg, nil
}

// ListMessagesBefore returns up to limit messages created strictly before
// the cutoff, newest first.
func (s *Store) ListMessagesBefore(ctx context.Context, before *time.Time, limit int) ([]storage.Message, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive")
	}

	var beforeMillis any
	if before != nil {
		beforeMillis = toMillis(*before)
	}

	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT id, user_id, username, avatar, content, created_at
		 FROM chat_messages
		 WHERE (?1 IS NULL OR created_at < ?1)
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?2`,
		beforeMillis, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var messages []storage.Message
	for rows.Next() {
		var msg storage.Message
		var createdMillis int64
		if err := rows.Scan(&msg.ID, &msg.UserID, &msg.Username, &msg.Avatar, &msg.Content, &createdMillis); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.CreatedAt = fromMillis(createdMillis)
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}

// CountMessages returns the total number of persisted messages.
func (s *Store) CountMessages(ctx context.Context) (int64, error) {
	var total int64
	if err := s.sqlDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM chat_messages`).Scan(&total); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return total, nil
}
