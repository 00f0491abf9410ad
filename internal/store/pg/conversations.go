// Package pg implements store.ConversationStore on Postgres.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/relaymesh/callbridge/internal/store"
)

// uniqueViolation is the Postgres error code raised when two writers race the
// active-phone constraint.
const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// OpenDB opens a Postgres pool.
func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("pg: open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pg: ping: %w", err)
	}
	return db, nil
}

// Store implements store.ConversationStore on *sql.DB.
type Store struct {
	db *sql.DB
}

// New creates a Postgres-backed conversation store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) UpsertConversation(ctx context.Context, c store.Conversation) (store.Conversation, error) {
	now := time.Now()
	if c.StartedAt.IsZero() {
		c.StartedAt = now
	}
	if c.LastMessageAt.IsZero() {
		c.LastMessageAt = now
	}
	c.Status = store.StatusActive
	if c.ID == "" {
		c.ID = uuid.Must(uuid.NewV7()).String()
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO conversations
			(id, phone, display_name, conversation_ref, agent_id, batch_id,
			 status, started_at, last_message_at, message_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 0)
		ON CONFLICT (phone) WHERE status = 'active' DO UPDATE SET
			display_name     = COALESCE(NULLIF(EXCLUDED.display_name, ''), conversations.display_name),
			conversation_ref = COALESCE(NULLIF(EXCLUDED.conversation_ref, ''), conversations.conversation_ref),
			agent_id         = COALESCE(NULLIF(EXCLUDED.agent_id, ''), conversations.agent_id),
			batch_id         = COALESCE(NULLIF(EXCLUDED.batch_id, ''), conversations.batch_id)
		RETURNING id, phone, display_name, conversation_ref, agent_id, batch_id,
			status, started_at, last_message_at, message_count`,
		c.ID, c.Phone, c.DisplayName, c.ConversationRef, c.AgentID, c.BatchID,
		c.Status, c.StartedAt, c.LastMessageAt,
	)

	stored, err := scanConversation(row)
	if err != nil {
		if isUniqueViolation(err) {
			// Lost a race with a concurrent upsert; the winner's row is ours.
			existing, findErr := s.FindActiveByPhone(ctx, c.Phone)
			if findErr != nil {
				return store.Conversation{}, findErr
			}
			return *existing, nil
		}
		return store.Conversation{}, fmt.Errorf("pg: upsert conversation: %w", err)
	}
	return stored, nil
}

func (s *Store) FindActiveByPhone(ctx context.Context, phone string) (*store.Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, phone, display_name, conversation_ref, agent_id, batch_id,
			status, started_at, last_message_at, message_count
		FROM conversations
		WHERE phone = $1 AND status = 'active'`,
		phone,
	)
	c, err := scanConversation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("pg: find active conversation: %w", err)
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
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6)`,
		m.ID, m.ConversationID, m.Direction, m.Content, m.ExternalID, m.SentAt,
	)
	if err != nil {
		return fmt.Errorf("pg: append message: %w", err)
	}
	return nil
}

func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]store.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, direction, content, COALESCE(external_id, ''), sent_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY sent_at, id`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("pg: list messages: %w", err)
	}
	defer rows.Close()

	var msgs []store.Message
	for rows.Next() {
		var m store.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Direction, &m.Content, &m.ExternalID, &m.SentAt); err != nil {
			return nil, fmt.Errorf("pg: scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (s *Store) TouchConversation(ctx context.Context, conversationID string, at time.Time, deltaCount int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE conversations
		SET last_message_at = GREATEST(last_message_at, $2),
			message_count = message_count + $3
		WHERE id = $1`,
		conversationID, at, deltaCount,
	)
	if err != nil {
		return fmt.Errorf("pg: touch conversation: %w", err)
	}
	return nil
}

func (s *Store) CloseConversation(ctx context.Context, conversationID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET status = 'closed' WHERE id = $1`,
		conversationID,
	)
	if err != nil {
		return fmt.Errorf("pg: close conversation: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (store.Conversation, error) {
	var c store.Conversation
	var ref, batch sql.NullString
	err := row.Scan(&c.ID, &c.Phone, &c.DisplayName, &ref, &c.AgentID, &batch,
		&c.Status, &c.StartedAt, &c.LastMessageAt, &c.MessageCount)
	if err != nil {
		return store.Conversation{}, err
	}
	c.ConversationRef = ref.String
	c.BatchID = batch.String
	return c, nil
}
