package bridge

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/relaymesh/callbridge/internal/config"
	"github.com/relaymesh/callbridge/internal/dialer"
)

// fakeDialer serves canned batch listings and details.
type fakeDialer struct {
	mu        sync.Mutex
	batches   []dialer.Batch
	details   map[string]*dialer.BatchDetail
	summaries map[string]string

	listErr   error
	detailErr map[string]error
	listCalls int
}

func (f *fakeDialer) ListBatches(context.Context) ([]dialer.Batch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.batches, nil
}

func (f *fakeDialer) GetBatchDetail(_ context.Context, batchID string) (*dialer.BatchDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.detailErr[batchID]; err != nil {
		return nil, err
	}
	d, ok := f.details[batchID]
	if !ok {
		return nil, errors.New("no such batch")
	}
	return d, nil
}

func (f *fakeDialer) GetCallSummary(_ context.Context, conversationID string) (*dialer.CallSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.summaries[conversationID]
	if !ok {
		return nil, errors.New("no summary")
	}
	return &dialer.CallSummary{SummaryText: s}, nil
}

// fakeSessions records session-manager calls and serves canned replies.
type fakeSessions struct {
	mu       sync.Mutex
	calls    []string // "open:<phone>", "close:<phone>", "discard:<phone>", "send:<phone>"
	openErr  error
	reply    string
	replyErr error
	convRef  string
}

func (f *fakeSessions) Open(_ context.Context, _, phone, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "open:"+phone)
	if f.openErr != nil {
		return "", f.openErr
	}
	ref := f.convRef
	if ref == "" {
		ref = "ref-" + phone
	}
	return ref, nil
}

func (f *fakeSessions) SendAndAwaitReply(_ context.Context, phone, _ string, _ time.Duration) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "send:"+phone)
	if f.replyErr != nil {
		return "", f.replyErr
	}
	return f.reply, nil
}

func (f *fakeSessions) Close(phone string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "close:"+phone)
}

func (f *fakeSessions) DiscardPending(phone string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "discard:"+phone)
}

func (f *fakeSessions) calledSeq() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

// fakeGateway records outbound sends and can fail the first n of them.
type fakeGateway struct {
	mu       sync.Mutex
	sent     []sentMsg
	failNext int
	nextID   int
}

type sentMsg struct {
	to   string
	text string
}

func (f *fakeGateway) Send(_ context.Context, address, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext > 0 {
		f.failNext--
		return "", errors.New("gateway unavailable")
	}
	f.nextID++
	f.sent = append(f.sent, sentMsg{to: address, text: text})
	return "msg-" + strconv.Itoa(f.nextID), nil
}

func (f *fakeGateway) sentTo(address string) []sentMsg {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentMsg
	for _, m := range f.sent {
		if m.to == address {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeGateway) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// fakeHandler counts per-recipient bridge invocations for poller tests.
type fakeHandler struct {
	mu   sync.Mutex
	seen map[string]int
	err  error
}

func newFakeHandler() *fakeHandler {
	return &fakeHandler{seen: make(map[string]int)}
}

func (f *fakeHandler) OnCallFinished(_ context.Context, r dialer.Recipient, batch dialer.Batch) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen[batch.ID+"/"+r.Phone]++
	if f.err != nil {
		return "", f.err
	}
	return "conv-" + r.Phone, nil
}

func (f *fakeHandler) count(batchID, phone string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seen[batchID+"/"+phone]
}

func (f *fakeHandler) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.seen {
		n += c
	}
	return n
}

func testTunables() func() config.BridgeConfig {
	cfg := config.BridgeConfig{
		Template: "Hi {name}, thanks for taking our call! {summary}Reply here anytime.",
		Apology:  "Sorry, we could not process your message right now.",
		// Keep the relay loop fast under test.
		ReopenDelay:    config.Duration(time.Millisecond),
		WelcomeDiscard: config.Duration(time.Millisecond),
	}
	return func() config.BridgeConfig { return cfg }
}
