package agentlink

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Options configures the session manager.
type Options struct {
	WSBaseURL string
	APIKey    string

	OpenTimeout  time.Duration // connect + handshake bound
	ReplyTimeout time.Duration // default SendAndAwaitReply bound
	IdleTTL      time.Duration // sessions idle longer than this are reaped
	IdleSweep    time.Duration // how often the reaper runs
}

func (o *Options) defaults() {
	if o.OpenTimeout <= 0 {
		o.OpenTimeout = 10 * time.Second
	}
	if o.ReplyTimeout <= 0 {
		o.ReplyTimeout = 30 * time.Second
	}
	if o.IdleTTL <= 0 {
		o.IdleTTL = 30 * time.Minute
	}
	if o.IdleSweep <= 0 {
		o.IdleSweep = 5 * time.Minute
	}
}

// Manager owns at most one live session per counterpart phone. Open and Close
// for the same phone are serialized by a per-key mutex so concurrent callers
// can never leak a dangling connection.
type Manager struct {
	opts Options

	mu       sync.Mutex
	sessions map[string]*session
	keyLocks map[string]*sync.Mutex
}

// NewManager creates a session manager.
func NewManager(opts Options) *Manager {
	opts.defaults()
	return &Manager{
		opts:     opts,
		sessions: make(map[string]*session),
		keyLocks: make(map[string]*sync.Mutex),
	}
}

// keyLock returns the mutex serializing open/close for one phone.
func (m *Manager) keyLock(phone string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lk, ok := m.keyLocks[phone]
	if !ok {
		lk = &sync.Mutex{}
		m.keyLocks[phone] = lk
	}
	return lk
}

// Open closes any prior session for phone, dials a new duplex connection,
// sends the initiation frame, and blocks until the platform acknowledges
// readiness or the open timeout elapses. Returns the platform conversation
// identity on success.
func (m *Manager) Open(ctx context.Context, agentID, phone, displayName string) (string, error) {
	lk := m.keyLock(phone)
	lk.Lock()
	defer lk.Unlock()

	m.removeAndClose(phone)

	openCtx, cancelOpen := context.WithTimeout(ctx, m.opts.OpenTimeout)
	defer cancelOpen()

	wsURL, err := m.sessionURL(agentID)
	if err != nil {
		return "", err
	}
	headers := http.Header{}
	if m.opts.APIKey != "" {
		headers.Set("Authorization", "Bearer "+m.opts.APIKey)
	}

	conn, err := DialWS(openCtx, wsURL, headers)
	if err != nil {
		return "", fmt.Errorf("agentlink: open session for %s: %w", phone, err)
	}

	// Session lifetime context outlives the open call.
	sessCtx, cancelSess := context.WithCancel(context.Background())
	sess := newSession(phone, agentID, displayName, conn, cancelSess)
	go sess.readLoop(sessCtx)

	init, err := encodeFrame(frame{
		Type:        frameSessionInit,
		AgentID:     agentID,
		CallerID:    phone,
		DisplayName: displayName,
	})
	if err != nil {
		sess.close()
		return "", fmt.Errorf("agentlink: encode init: %w", err)
	}
	if err := conn.WriteMessage(openCtx, init); err != nil {
		sess.close()
		return "", fmt.Errorf("agentlink: send init for %s: %w", phone, err)
	}

	if err := sess.awaitReady(openCtx); err != nil {
		sess.close()
		return "", fmt.Errorf("agentlink: handshake for %s: %w", phone, err)
	}

	m.mu.Lock()
	m.sessions[phone] = sess
	m.mu.Unlock()

	slog.Debug("agent session opened",
		"phone", phone, "agent", agentID, "conversation", sess.conversationID)
	return sess.conversationID, nil
}

// SendAndAwaitReply sends one user message into the ready session for phone
// and blocks until a non-empty, non-placeholder reply is coalesced, the
// timeout elapses, or the session is closed. Stale output buffered before the
// send is never returned.
func (m *Manager) SendAndAwaitReply(ctx context.Context, phone, text string, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = m.opts.ReplyTimeout
	}

	sess := m.lookup(phone)
	if sess == nil {
		return "", ErrNoSession
	}

	ch, err := sess.installWaiter()
	if err != nil {
		return "", err
	}

	payload, err := encodeFrame(frame{Type: frameUserText, Text: text})
	if err != nil {
		sess.dropWaiter()
		return "", fmt.Errorf("agentlink: encode user text: %w", err)
	}
	if err := sess.conn.WriteMessage(ctx, payload); err != nil {
		sess.dropWaiter()
		return "", fmt.Errorf("agentlink: send user text for %s: %w", phone, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case res := <-ch:
			if res.err != nil {
				return "", res.err
			}
			if isPlaceholder(res.text) {
				next, cached, err := sess.rearmWaiter(isPlaceholder)
				if err != nil {
					return "", err
				}
				if cached != "" {
					return cached, nil
				}
				ch = next
				continue
			}
			return res.text, nil

		case <-timer.C:
			sess.dropWaiter()
			return "", fmt.Errorf("agentlink: no reply from %s within %s: %w", phone, timeout, ErrReplyTimeout)

		case <-ctx.Done():
			sess.dropWaiter()
			return "", ctx.Err()
		}
	}
}

// rearmWaiter re-registers a waiter after a placeholder reply. Replies that
// already completed and pass the filter are returned directly.
func (s *session) rearmWaiter(placeholder func(string) bool) (chan replyResult, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return nil, "", ErrClosed
	}
	for len(s.pending) > 0 {
		next := s.pending[0]
		s.pending = s.pending[1:]
		if !placeholder(next) {
			if s.state == StateInFlight {
				s.state = StateReady
			}
			s.waiter = nil
			return nil, next, nil
		}
	}
	ch := make(chan replyResult, 1)
	s.waiter = ch
	return ch, "", nil
}

// Close tears down the session for phone, if any. Idempotent; any pending
// await resolves promptly with ErrClosed.
func (m *Manager) Close(phone string) {
	lk := m.keyLock(phone)
	lk.Lock()
	defer lk.Unlock()
	m.removeAndClose(phone)
}

// DiscardPending drops buffered output for phone's session. Used to swallow
// the platform's unsolicited welcome message before the real user turn.
func (m *Manager) DiscardPending(phone string) {
	if sess := m.lookup(phone); sess != nil {
		sess.discardPending()
	}
}

// ConversationID returns the platform conversation identity for phone's
// session, or "" when none is open.
func (m *Manager) ConversationID(phone string) string {
	if sess := m.lookup(phone); sess != nil {
		return sess.conversationID
	}
	return ""
}

// Ready reports whether a ready (or in-flight) session exists for phone.
func (m *Manager) Ready(phone string) bool {
	sess := m.lookup(phone)
	if sess == nil {
		return false
	}
	st := sess.currentState()
	return st == StateReady || st == StateInFlight
}

// Run sweeps idle sessions until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.opts.IdleSweep)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.closeAll()
			return
		case <-ticker.C:
			m.sweepIdle()
		}
	}
}

func (m *Manager) sweepIdle() {
	cutoff := time.Now().Add(-m.opts.IdleTTL)

	m.mu.Lock()
	var stale []string
	for phone, sess := range m.sessions {
		if sess.idleSince().Before(cutoff) {
			stale = append(stale, phone)
		}
	}
	m.mu.Unlock()

	for _, phone := range stale {
		slog.Info("closing idle agent session", "phone", phone)
		m.Close(phone)
	}
}

func (m *Manager) closeAll() {
	m.mu.Lock()
	phones := make([]string, 0, len(m.sessions))
	for phone := range m.sessions {
		phones = append(phones, phone)
	}
	m.mu.Unlock()

	for _, phone := range phones {
		m.Close(phone)
	}
}

func (m *Manager) lookup(phone string) *session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[phone]
}

// removeAndClose must run under the phone's key lock.
func (m *Manager) removeAndClose(phone string) {
	m.mu.Lock()
	sess := m.sessions[phone]
	delete(m.sessions, phone)
	m.mu.Unlock()

	if sess != nil {
		sess.close()
	}
}

func (m *Manager) sessionURL(agentID string) (string, error) {
	base, err := url.Parse(m.opts.WSBaseURL)
	if err != nil {
		return "", fmt.Errorf("agentlink: parse ws base url: %w", err)
	}
	base.Path = strings.TrimSuffix(base.Path, "/") + "/v1/agents/" + url.PathEscape(agentID) + "/session"
	return base.String(), nil
}

// placeholders the platform emits while it has nothing to say yet.
var placeholders = map[string]bool{
	"":          true,
	"...":       true,
	"…":         true,
	"[silence]": true,
	"[empty]":   true,
}

func isPlaceholder(reply string) bool {
	return placeholders[strings.TrimSpace(reply)]
}
