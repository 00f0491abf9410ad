package bridge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/relaymesh/callbridge/internal/dedup"
	"github.com/relaymesh/callbridge/internal/dialer"
)

func newTestPoller(d *fakeDialer, h CallHandler) (*Poller, *dedup.Memory) {
	reg := dedup.NewMemory()
	return NewPoller(d, reg, h, time.Second, 24*time.Hour), reg
}

func TestPollerBridgesFinishedCallOnce(t *testing.T) {
	d := &fakeDialer{
		batches: []dialer.Batch{{ID: "b1", Status: dialer.BatchInProgress, AgentID: "agent-1"}},
		details: map[string]*dialer.BatchDetail{
			"b1": {ID: "b1", AgentID: "agent-1", Recipients: []dialer.Recipient{
				{Phone: "+15550001", Name: "An", Status: dialer.CallFinished, ConversationID: "c1"},
				{Phone: "+15550002", Name: "Binh", Status: dialer.CallInProgress},
			}},
		},
	}
	h := newFakeHandler()
	p, reg := newTestPoller(d, h)

	for i := 0; i < 5; i++ {
		p.checkCycle(context.Background())
	}

	if got := h.count("b1", "+15550001"); got != 1 {
		t.Errorf("finished recipient bridged %d times across 5 cycles, want 1", got)
	}
	if got := h.count("b1", "+15550002"); got != 0 {
		t.Errorf("in-progress recipient bridged %d times, want 0", got)
	}
	if reg.Len() != 1 {
		t.Errorf("registry holds %d claims, want 1", reg.Len())
	}
}

func TestPollerLaterTransitionStillBridges(t *testing.T) {
	d := &fakeDialer{
		batches: []dialer.Batch{{ID: "b1", Status: dialer.BatchInProgress}},
		details: map[string]*dialer.BatchDetail{
			"b1": {ID: "b1", Recipients: []dialer.Recipient{
				{Phone: "+15550002", Status: dialer.CallInProgress, ConversationID: "c2"},
			}},
		},
	}
	h := newFakeHandler()
	p, _ := newTestPoller(d, h)

	p.checkCycle(context.Background())
	if h.total() != 0 {
		t.Fatal("nothing should bridge while the call is in progress")
	}

	d.mu.Lock()
	d.details["b1"].Recipients[0].Status = dialer.CallEnded
	d.mu.Unlock()

	p.checkCycle(context.Background())
	p.checkCycle(context.Background())
	if got := h.count("b1", "+15550002"); got != 1 {
		t.Errorf("bridged %d times after transition, want 1", got)
	}
}

func TestPollerFailedCallClaimedNotBridged(t *testing.T) {
	d := &fakeDialer{
		batches: []dialer.Batch{{ID: "b1", Status: dialer.BatchInProgress}},
		details: map[string]*dialer.BatchDetail{
			"b1": {ID: "b1", Recipients: []dialer.Recipient{
				{Phone: "+15550003", Status: dialer.CallFailed, ConversationID: "c3"},
			}},
		},
	}
	h := newFakeHandler()
	p, reg := newTestPoller(d, h)

	p.checkCycle(context.Background())
	p.checkCycle(context.Background())

	if h.total() != 0 {
		t.Error("failed call must never be bridged")
	}
	if reg.Len() != 1 {
		t.Error("failed call should still be claimed so later cycles skip it")
	}
}

func TestPollerBatchFailureIsolation(t *testing.T) {
	d := &fakeDialer{
		batches: []dialer.Batch{
			{ID: "b-bad", Status: dialer.BatchInProgress},
			{ID: "b-good", Status: dialer.BatchInProgress},
		},
		details: map[string]*dialer.BatchDetail{
			"b-good": {ID: "b-good", Recipients: []dialer.Recipient{
				{Phone: "+15550004", Status: dialer.CallCompleted, ConversationID: "c4"},
			}},
		},
		detailErr: map[string]error{"b-bad": errors.New("platform 500")},
	}
	h := newFakeHandler()
	p, _ := newTestPoller(d, h)

	p.checkCycle(context.Background())

	if got := h.count("b-good", "+15550004"); got != 1 {
		t.Errorf("healthy batch bridged %d times, want 1; a bad batch must not abort the cycle", got)
	}
}

func TestPollerRetriesAfterHandlerFailure(t *testing.T) {
	d := &fakeDialer{
		batches: []dialer.Batch{{ID: "b1", Status: dialer.BatchInProgress}},
		details: map[string]*dialer.BatchDetail{
			"b1": {ID: "b1", Recipients: []dialer.Recipient{
				{Phone: "+15550005", Status: dialer.CallFinished, ConversationID: "c5"},
			}},
		},
	}
	h := newFakeHandler()
	p, reg := newTestPoller(d, h)

	// The handler fails and, like the real initiator on delivery failure,
	// rolls back the claim; the next cycle must retry.
	h.err = errors.New("send failed")
	p.checkCycle(context.Background())
	reg.Remove("c5")

	h.err = nil
	p.checkCycle(context.Background())

	if got := h.count("b1", "+15550005"); got != 2 {
		t.Errorf("handler invoked %d times, want 2 (failure then retry)", got)
	}
}

func TestFilterBatches(t *testing.T) {
	p, _ := newTestPoller(&fakeDialer{}, newFakeHandler())

	now := time.Now()
	batches := []dialer.Batch{
		{ID: "pending", Status: dialer.BatchPending},
		{ID: "running", Status: dialer.BatchInProgress},
		{ID: "fresh-done", Status: dialer.BatchCompleted, LastUpdated: now.Add(-time.Hour)},
		{ID: "stale-done", Status: dialer.BatchCompleted, LastUpdated: now.Add(-48 * time.Hour)},
		{ID: "unknown", Status: "archived"},
	}

	keep := p.filterBatches(batches)
	want := map[string]bool{"pending": true, "running": true, "fresh-done": true}
	if len(keep) != len(want) {
		t.Fatalf("kept %d batches, want %d", len(keep), len(want))
	}
	for _, b := range keep {
		if !want[b.ID] {
			t.Errorf("batch %q should have been filtered out", b.ID)
		}
	}
}
