// Package sqlite implements store.ConversationStore on a local SQLite file
// for standalone deployments without Postgres.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/relaymesh/callbridge/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id               TEXT PRIMARY KEY,
	phone            TEXT NOT NULL,
	display_name     TEXT NOT NULL DEFAULT '',
	conversation_ref TEXT NOT NULL DEFAULT '',
	agent_id         TEXT NOT NULL DEFAULT '',
	batch_id         TEXT NOT NULL DEFAULT '',
	status           TEXT NOT NULL DEFAULT 'active',
	started_at       TIMESTAMP NOT NULL,
	last_message_at  TIMESTAMP NOT NULL,
	message_count    INTEGER NOT NULL DEFAULT 0
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_conversations_active_phone
	ON conversations (phone) WHERE status = 'active';

CREATE TABLE IF NOT EXISTS messages (
	id              TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL REFERENCES conversations(id),
	direction       TEXT NOT NULL,
	content         TEXT NOT NULL,
	external_id     TEXT NOT NULL DEFAULT '',
	sent_at         TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation
	ON messages (conversation_id, sent_at);
`

// Store implements store.ConversationStore on SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (and initializes) the SQLite database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("sqlite: create dir: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// modernc sqlite is safest with one writer connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: init schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) UpsertConversation(ctx context.Context, c store.Conversation) (store.Conversation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return store.Conversation{}, fmt.Errorf("sqlite: begin: %w", err)
	}
	defer tx.Rollback()

	existing, err := findActiveTx(ctx, tx, c.Phone)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return store.Conversation{}, err
	}

	now := time.Now()
	if existing != nil {
		if c.DisplayName != "" {
			existing.DisplayName = c.DisplayName
		}
		if c.ConversationRef != "" {
			existing.ConversationRef = c.ConversationRef
		}
		if c.AgentID != "" {
			existing.AgentID = c.AgentID
		}
		if c.BatchID != "" {
			existing.BatchID = c.BatchID
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE conversations
			SET display_name = ?, conversation_ref = ?, agent_id = ?, batch_id = ?
			WHERE id = ?`,
			existing.DisplayName, existing.ConversationRef, existing.AgentID, existing.BatchID, existing.ID,
		)
		if err != nil {
			return store.Conversation{}, fmt.Errorf("sqlite: update conversation: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return store.Conversation{}, fmt.Errorf("sqlite: commit: %w", err)
		}
		return *existing, nil
	}

	c.ID = uuid.Must(uuid.NewV7()).String()
	c.Status = store.StatusActive
	if c.StartedAt.IsZero() {
		c.StartedAt = now
	}
	if c.LastMessageAt.IsZero() {
		c.LastMessageAt = now
	}
	c.MessageCount = 0

	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversations
			(id, phone, display_name, conversation_ref, agent_id, batch_id,
			 status, started_at, last_message_at, message_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		c.ID, c.Phone, c.DisplayName, c.ConversationRef, c.AgentID, c.BatchID,
		c.Status, c.StartedAt, c.LastMessageAt,
	)
	if err != nil {
		return store.Conversation{}, fmt.Errorf("sqlite: insert conversation: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return store.Conversation{}, fmt.Errorf("sqlite: commit: %w", err)
	}
	return c, nil
}

func (s *Store) FindActiveByPhone(ctx context.Context, phone string) (*store.Conversation, error) {
	return findActiveTx(ctx, s.db, phone)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func findActiveTx(ctx context.Context, q querier, phone string) (*store.Conversation, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, phone, display_name, conversation_ref, agent_id, batch_id,
			status, started_at, last_message_at, message_count
		FROM conversations
		WHERE phone = ? AND status = 'active'`,
		phone,
	)
	var c store.Conversation
	err := row.Scan(&c.ID, &c.Phone, &c.DisplayName, &c.ConversationRef, &c.AgentID,
		&c.BatchID, &c.Status, &c.StartedAt, &c.LastMessageAt, &c.MessageCount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("sqlite: find active conversation: %w", err)
	}
	return &c, nil
}

func (s *Store) AppendMessage(ctx context.Context, m store.Message) error {
	if m.ID == "" {
		m.ID = uuid.Must(uuid.NewV7()).String()
	}
	if m.SentAt.IsZero() {
		m.SentAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, direction, content, external_id, sent_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, m.Direction, m.Content, m.ExternalID, m.SentAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: append message: %w", err)
	}
	return nil
}

func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]store.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, direction, content, external_id, sent_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY sent_at, id`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list messages: %w", err)
	}
	defer rows.Close()

	var msgs []store.Message
	for rows.Next() {
		var m store.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Direction, &m.Content, &m.ExternalID, &m.SentAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (s *Store) TouchConversation(ctx context.Context, conversationID string, at time.Time, deltaCount int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE conversations
		SET last_message_at = MAX(last_message_at, ?),
			message_count = message_count + ?
		WHERE id = ?`,
		at, deltaCount, conversationID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: touch conversation: %w", err)
	}
	return nil
}

func (s *Store) CloseConversation(ctx context.Context, conversationID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET status = 'closed' WHERE id = ?`,
		conversationID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: close conversation: %w", err)
	}
	return nil
}
