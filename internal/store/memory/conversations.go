// Package memory implements store.ConversationStore in process memory.
// Used by tests; not suitable for production.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relaymesh/callbridge/internal/store"
)

// Store is an in-memory store.ConversationStore.
type Store struct {
	mu            sync.Mutex
	conversations map[string]store.Conversation // by ID
	messages      map[string][]store.Message    // by conversation ID
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		conversations: make(map[string]store.Conversation),
		messages:      make(map[string][]store.Message),
	}
}

func (s *Store) UpsertConversation(_ context.Context, c store.Conversation) (store.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, existing := range s.conversations {
		if existing.Phone == c.Phone && existing.Status == store.StatusActive {
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
			s.conversations[id] = existing
			return existing, nil
		}
	}

	now := time.Now()
	c.ID = uuid.NewString()
	c.Status = store.StatusActive
	if c.StartedAt.IsZero() {
		c.StartedAt = now
	}
	if c.LastMessageAt.IsZero() {
		c.LastMessageAt = now
	}
	c.MessageCount = 0
	s.conversations[c.ID] = c
	return c, nil
}

func (s *Store) FindActiveByPhone(_ context.Context, phone string) (*store.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.conversations {
		if c.Phone == phone && c.Status == store.StatusActive {
			found := c
			return &found, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) AppendMessage(_ context.Context, m store.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.SentAt.IsZero() {
		m.SentAt = time.Now()
	}
	s.messages[m.ConversationID] = append(s.messages[m.ConversationID], m)
	return nil
}

func (s *Store) ListMessages(_ context.Context, conversationID string) ([]store.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := make([]store.Message, len(s.messages[conversationID]))
	copy(msgs, s.messages[conversationID])
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].SentAt.Before(msgs[j].SentAt)
	})
	return msgs, nil
}

func (s *Store) TouchConversation(_ context.Context, conversationID string, at time.Time, deltaCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[conversationID]
	if !ok {
		return store.ErrNotFound
	}
	if at.After(c.LastMessageAt) {
		c.LastMessageAt = at
	}
	c.MessageCount += deltaCount
	s.conversations[conversationID] = c
	return nil
}

func (s *Store) CloseConversation(_ context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[conversationID]
	if !ok {
		return store.ErrNotFound
	}
	c.Status = store.StatusClosed
	s.conversations[conversationID] = c
	return nil
}
