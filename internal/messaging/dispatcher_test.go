package messaging

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/relaymesh/callbridge/internal/bus"
)

type recordingGateway struct {
	mu     sync.Mutex
	sent   []bus.OutboundMessage
	failTo string
}

func (g *recordingGateway) Send(_ context.Context, address, text string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if address == g.failTo {
		return "", errors.New("provider down")
	}
	g.sent = append(g.sent, bus.OutboundMessage{To: address, Content: text})
	return "msg-1", nil
}

func (g *recordingGateway) snapshot() []bus.OutboundMessage {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]bus.OutboundMessage, len(g.sent))
	copy(out, g.sent)
	return out
}

func TestDispatcherDeliversQueuedMessages(t *testing.T) {
	router := bus.New()
	gw := &recordingGateway{}
	d := NewDispatcher(router, gw)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	router.PublishOutbound(bus.OutboundMessage{To: "+15550001", Content: "Sorry, something went wrong."})
	router.PublishOutbound(bus.OutboundMessage{To: "+15550002", Content: "We will follow up shortly."})

	deadline := time.After(2 * time.Second)
	for len(gw.snapshot()) < 2 {
		select {
		case <-deadline:
			t.Fatalf("delivered %d messages, want 2", len(gw.snapshot()))
		case <-time.After(10 * time.Millisecond):
		}
	}

	sent := gw.snapshot()
	if sent[0].To != "+15550001" || sent[1].To != "+15550002" {
		t.Errorf("delivery order = %+v, want queue order preserved", sent)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on context cancellation")
	}
}

func TestDispatcherSurvivesSendFailure(t *testing.T) {
	router := bus.New()
	gw := &recordingGateway{failTo: "+15550003"}
	d := NewDispatcher(router, gw)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	router.PublishOutbound(bus.OutboundMessage{To: "+15550003", Content: "first"})
	router.PublishOutbound(bus.OutboundMessage{To: "+15550004", Content: "second"})

	deadline := time.After(2 * time.Second)
	for len(gw.snapshot()) == 0 {
		select {
		case <-deadline:
			t.Fatal("dispatcher stopped consuming after a failed send")
		case <-time.After(10 * time.Millisecond):
		}
	}
	if sent := gw.snapshot(); sent[0].To != "+15550004" {
		t.Errorf("delivered %+v, want the message after the failure", sent)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on context cancellation")
	}
}
