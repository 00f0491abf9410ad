package agentlink

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// State is the lifecycle position of a session.
type State int

const (
	StateOpening State = iota
	StateReady
	StateInFlight
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpening:
		return "opening"
	case StateReady:
		return "ready"
	case StateInFlight:
		return "in_flight"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

var (
	// ErrNoSession means no ready session exists for the counterpart.
	ErrNoSession = errors.New("agentlink: no ready session")
	// ErrReplyTimeout means no usable reply arrived within the bound.
	ErrReplyTimeout = errors.New("agentlink: reply timeout")
	// ErrClosed means the session was closed while an operation was pending.
	ErrClosed = errors.New("agentlink: session closed")
)

// replyResult is what the reader delivers to an awaiting caller.
type replyResult struct {
	text string
	err  error
}

// session is one duplex connection to the agent platform for one counterpart.
// All fields behind mu; the reader goroutine is the only writer of fragments
// and pending.
type session struct {
	phone          string
	agentID        string
	displayName    string
	conversationID string
	conn           *WSConn
	cancel         context.CancelFunc

	mu           sync.Mutex
	state        State
	lastActivity time.Time
	fragments    []string      // partial output of the reply being streamed
	pending      []string      // completed replies not yet claimed
	waiter       chan replyResult // single-slot; non-nil while a caller awaits

	readyOnce sync.Once
	readyCh   chan struct{}
	readyErr  error
}

func newSession(phone, agentID, displayName string, conn *WSConn, cancel context.CancelFunc) *session {
	return &session{
		phone:        phone,
		agentID:      agentID,
		displayName:  displayName,
		conn:         conn,
		cancel:       cancel,
		state:        StateOpening,
		lastActivity: time.Now(),
		readyCh:      make(chan struct{}),
	}
}

// readLoop consumes platform frames until the connection drops or ctx ends.
// Partial output frames are coalesced into one logical reply per final frame.
func (s *session) readLoop(ctx context.Context) {
	for {
		data, err := s.conn.ReadMessage(ctx)
		if err != nil {
			s.fail(err)
			return
		}

		f, err := decodeFrame(data)
		if err != nil {
			slog.Debug("agentlink: dropping malformed frame", "phone", s.phone, "error", err)
			continue
		}

		switch f.Type {
		case frameSessionReady:
			s.mu.Lock()
			s.conversationID = f.ConversationID
			if s.state == StateOpening {
				s.state = StateReady
			}
			s.lastActivity = time.Now()
			s.mu.Unlock()
			s.readyOnce.Do(func() { close(s.readyCh) })

		case frameAgentOutput:
			s.onOutput(f)

		case framePing:
			s.touch()

		case frameError:
			s.fail(&PlatformError{Code: f.Code, Message: f.Message})
			return

		default:
			slog.Debug("agentlink: ignoring unknown frame", "type", f.Type)
		}
	}
}

// onOutput buffers a partial fragment and, on the final frame, promotes the
// coalesced text to a completed reply.
func (s *session) onOutput(f frame) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastActivity = time.Now()
	if text := strings.TrimSpace(f.Text); text != "" {
		s.fragments = append(s.fragments, text)
	}
	if !f.Final {
		return
	}

	reply := strings.TrimSpace(strings.Join(s.fragments, " "))
	s.fragments = nil

	if s.waiter != nil {
		s.waiter <- replyResult{text: reply}
		s.waiter = nil
		if s.state == StateInFlight {
			s.state = StateReady
		}
		return
	}
	s.pending = append(s.pending, reply)
}

// fail closes the session and resolves any pending await promptly.
func (s *session) fail(err error) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	if s.waiter != nil {
		s.waiter <- replyResult{err: errors.Join(ErrClosed, err)}
		s.waiter = nil
	}
	s.mu.Unlock()

	s.readyOnce.Do(func() {
		s.readyErr = err
		close(s.readyCh)
	})
	s.cancel()
	s.conn.Close("session failed")
}

// close tears the session down. Idempotent; a mid-await caller is resolved
// with ErrClosed rather than left to hit its timeout.
func (s *session) close() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	if s.waiter != nil {
		s.waiter <- replyResult{err: ErrClosed}
		s.waiter = nil
	}
	s.mu.Unlock()

	s.readyOnce.Do(func() {
		s.readyErr = ErrClosed
		close(s.readyCh)
	})
	s.cancel()
	s.conn.Close("session closed")
}

// awaitReady blocks until the platform acknowledges the session or ctx ends.
func (s *session) awaitReady(ctx context.Context) error {
	select {
	case <-s.readyCh:
		return s.readyErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// installWaiter registers a single-slot reply channel. Stale buffered output
// is discarded so the caller can never receive a reply produced before its
// own send.
func (s *session) installWaiter() (chan replyResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateReady {
		return nil, ErrNoSession
	}
	s.pending = nil
	s.fragments = nil
	ch := make(chan replyResult, 1)
	s.waiter = ch
	s.state = StateInFlight
	s.lastActivity = time.Now()
	return ch, nil
}

// dropWaiter removes the waiter after a timeout so a late reply lands in
// pending instead of a dead channel.
func (s *session) dropWaiter() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waiter = nil
	if s.state == StateInFlight {
		s.state = StateReady
	}
}

// discardPending drops any buffered output, used to swallow the platform's
// unsolicited welcome message after session open.
func (s *session) discardPending() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = nil
	s.fragments = nil
}

func (s *session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

func (s *session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

func (s *session) currentState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// PlatformError is a typed error emitted by the agent platform.
type PlatformError struct {
	Code    string
	Message string
}

func (e *PlatformError) Error() string {
	return "agentlink: platform error " + e.Code + ": " + e.Message
}
