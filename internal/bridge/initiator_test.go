package bridge

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/relaymesh/callbridge/internal/dedup"
	"github.com/relaymesh/callbridge/internal/dialer"
	"github.com/relaymesh/callbridge/internal/store"
	"github.com/relaymesh/callbridge/internal/store/memory"
)

func newTestInitiator(d *fakeDialer, sessions *fakeSessions, gw *fakeGateway) (*Initiator, *memory.Store, *dedup.Memory) {
	st := memory.New()
	reg := dedup.NewMemory()
	return NewInitiator(d, sessions, gw, st, reg, testTunables()), st, reg
}

func TestInitiatorBridgesFinishedCall(t *testing.T) {
	d := &fakeDialer{summaries: map[string]string{"c1": "We discussed your renewal"}}
	sessions := &fakeSessions{convRef: "agent-conv-1"}
	gw := &fakeGateway{}
	ini, st, reg := newTestInitiator(d, sessions, gw)

	r := dialer.Recipient{Phone: "+15550001", Name: "An", Status: dialer.CallFinished, ConversationID: "c1"}
	batch := dialer.Batch{ID: "b1", AgentID: "agent-1"}
	reg.MarkIfAbsent(dialer.DedupKey(batch.ID, r), dedup.Info{Phone: r.Phone})

	convID, err := ini.OnCallFinished(context.Background(), r, batch)
	if err != nil {
		t.Fatalf("OnCallFinished: %v", err)
	}
	if convID == "" {
		t.Fatal("expected a conversation ID")
	}

	sent := gw.sentTo("+15550001")
	if len(sent) != 1 {
		t.Fatalf("gateway sends = %d, want 1", len(sent))
	}
	if !strings.Contains(sent[0].text, "An") || !strings.Contains(sent[0].text, "We discussed your renewal.") {
		t.Errorf("bridge message missing name or summary: %q", sent[0].text)
	}

	conv, err := st.FindActiveByPhone(context.Background(), "+15550001")
	if err != nil {
		t.Fatalf("FindActiveByPhone: %v", err)
	}
	if conv.ConversationRef != "agent-conv-1" || conv.AgentID != "agent-1" || conv.BatchID != "b1" {
		t.Errorf("conversation record not populated: %+v", conv)
	}
	if conv.MessageCount != 1 {
		t.Errorf("MessageCount = %d, want 1", conv.MessageCount)
	}

	msgs, _ := st.ListMessages(context.Background(), convID)
	if len(msgs) != 1 || msgs[0].Direction != store.DirectionOutbound {
		t.Errorf("transcript = %+v, want one outbound message", msgs)
	}

	if reg.MarkIfAbsent("c1", dedup.Info{}) {
		t.Error("claim should still be held after a successful bridge")
	}
}

func TestInitiatorGatewayFailureRollsBackClaim(t *testing.T) {
	d := &fakeDialer{}
	sessions := &fakeSessions{}
	gw := &fakeGateway{failNext: 1}
	ini, _, reg := newTestInitiator(d, sessions, gw)

	r := dialer.Recipient{Phone: "+15550002", Status: dialer.CallEnded, ConversationID: "c2"}
	batch := dialer.Batch{ID: "b1"}
	reg.MarkIfAbsent("c2", dedup.Info{Phone: r.Phone})

	_, err := ini.OnCallFinished(context.Background(), r, batch)
	if err == nil {
		t.Fatal("expected error on gateway failure")
	}
	if !errors.Is(err, ErrGatewaySend) {
		t.Errorf("err = %v, want ErrGatewaySend", err)
	}
	if !Retryable(err) {
		t.Error("delivery failure should be retryable")
	}
	if !reg.MarkIfAbsent("c2", dedup.Info{Phone: r.Phone}) {
		t.Error("claim should have been released so a later cycle retries")
	}
}

func TestInitiatorDegradesWithoutSession(t *testing.T) {
	d := &fakeDialer{}
	sessions := &fakeSessions{openErr: errors.New("platform down")}
	gw := &fakeGateway{}
	ini, st, _ := newTestInitiator(d, sessions, gw)

	r := dialer.Recipient{Phone: "+15550003", Name: "Chi", Status: dialer.CallFinished, ConversationID: "c3"}
	_, err := ini.OnCallFinished(context.Background(), r, dialer.Batch{ID: "b1", AgentID: "agent-1"})
	if err != nil {
		t.Fatalf("session open failure must not abort the bridge: %v", err)
	}
	if gw.sentCount() != 1 {
		t.Fatalf("gateway sends = %d, want 1", gw.sentCount())
	}

	// Falls back to the platform's call-conversation identity.
	conv, err := st.FindActiveByPhone(context.Background(), "+15550003")
	if err != nil {
		t.Fatalf("FindActiveByPhone: %v", err)
	}
	if conv.ConversationRef != "c3" {
		t.Errorf("ConversationRef = %q, want fallback %q", conv.ConversationRef, "c3")
	}
}

func TestInitiatorMissingSummaryDegrades(t *testing.T) {
	d := &fakeDialer{} // no summaries at all
	sessions := &fakeSessions{}
	gw := &fakeGateway{}
	ini, _, _ := newTestInitiator(d, sessions, gw)

	r := dialer.Recipient{Phone: "+15550004", Name: "Duc", Status: dialer.CallCompleted, ConversationID: "c4"}
	if _, err := ini.OnCallFinished(context.Background(), r, dialer.Batch{ID: "b1"}); err != nil {
		t.Fatalf("OnCallFinished: %v", err)
	}

	sent := gw.sentTo("+15550004")
	if len(sent) != 1 {
		t.Fatalf("gateway sends = %d, want 1", len(sent))
	}
	if strings.Contains(sent[0].text, "{summary}") || strings.Contains(sent[0].text, "  ") {
		t.Errorf("summary placeholder did not collapse cleanly: %q", sent[0].text)
	}
}

func TestInitiatorNormalizesPhone(t *testing.T) {
	d := &fakeDialer{}
	sessions := &fakeSessions{}
	gw := &fakeGateway{}
	ini, st, _ := newTestInitiator(d, sessions, gw)

	r := dialer.Recipient{Phone: "1 (555) 000-5678", Status: dialer.CallFinished}
	if _, err := ini.OnCallFinished(context.Background(), r, dialer.Batch{ID: "b1"}); err != nil {
		t.Fatalf("OnCallFinished: %v", err)
	}
	if len(gw.sentTo("+15550005678")) != 1 {
		t.Error("gateway should receive the normalized address")
	}
	if _, err := st.FindActiveByPhone(context.Background(), "+15550005678"); err != nil {
		t.Error("store should key on the normalized address")
	}
}
