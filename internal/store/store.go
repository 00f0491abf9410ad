// Package store persists conversation records and the message transcript.
// Interface here, backends in subpackages: pg for Postgres, sqlite for
// standalone deployments, memory for tests.
package store

import (
	"context"
	"errors"
	"time"
)

// Conversation statuses.
const (
	StatusActive = "active"
	StatusClosed = "closed"
)

// Message directions.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// ErrNotFound is returned when a lookup matches nothing.
var ErrNotFound = errors.New("store: not found")

// Conversation is the durable record of one counterpart's text thread.
// At most one active conversation exists per phone.
type Conversation struct {
	ID              string    `json:"id"`
	Phone           string    `json:"phone"`
	DisplayName     string    `json:"display_name"`
	ConversationRef string    `json:"conversation_ref,omitempty"` // agent platform conversation identity
	AgentID         string    `json:"agent_id"`
	BatchID         string    `json:"batch_id,omitempty"` // originating call batch, if bridged from a call
	Status          string    `json:"status"`
	StartedAt       time.Time `json:"started_at"`
	LastMessageAt   time.Time `json:"last_message_at"`
	MessageCount    int       `json:"message_count"`
}

// Message is one transcript row. Append-only; never mutated after creation.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Direction      string    `json:"direction"`
	Content        string    `json:"content"`
	ExternalID     string    `json:"external_id,omitempty"` // gateway message identity
	SentAt         time.Time `json:"sent_at"`
}

// ConversationStore is the persistence collaborator shared by the bridge
// initiator and the inbound orchestrator.
type ConversationStore interface {
	// UpsertConversation creates or refreshes the active conversation for
	// c.Phone and returns the stored record. The phone's active uniqueness is
	// enforced by the backend so concurrent writers never create duplicates.
	UpsertConversation(ctx context.Context, c Conversation) (Conversation, error)

	// FindActiveByPhone returns the active conversation for phone, or
	// ErrNotFound.
	FindActiveByPhone(ctx context.Context, phone string) (*Conversation, error)

	// AppendMessage appends one transcript row.
	AppendMessage(ctx context.Context, m Message) error

	// ListMessages returns a conversation's transcript ordered by SentAt.
	ListMessages(ctx context.Context, conversationID string) ([]Message, error)

	// TouchConversation bumps LastMessageAt and MessageCount after an exchange.
	TouchConversation(ctx context.Context, conversationID string, at time.Time, deltaCount int) error

	// CloseConversation marks a conversation closed.
	CloseConversation(ctx context.Context, conversationID string) error
}
