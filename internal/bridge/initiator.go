package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/relaymesh/callbridge/internal/config"
	"github.com/relaymesh/callbridge/internal/dedup"
	"github.com/relaymesh/callbridge/internal/dialer"
	"github.com/relaymesh/callbridge/internal/messaging"
	"github.com/relaymesh/callbridge/internal/store"
)

// Initiator sends the first text message to a counterpart after their call
// ends and records the new conversation.
type Initiator struct {
	dialer   DialerAPI
	sessions SessionManager
	gateway  messaging.Gateway
	store    store.ConversationStore
	registry dedup.Registry
	tunables func() config.BridgeConfig
	tracer   trace.Tracer
}

// NewInitiator creates an initiator. tunables returns the current bridge
// tunables so template changes apply without restart.
func NewInitiator(d DialerAPI, sessions SessionManager, gateway messaging.Gateway,
	st store.ConversationStore, registry dedup.Registry, tunables func() config.BridgeConfig) *Initiator {
	return &Initiator{
		dialer:   d,
		sessions: sessions,
		gateway:  gateway,
		store:    st,
		registry: registry,
		tunables: tunables,
		tracer:   otel.Tracer("callbridge/bridge/initiator"),
	}
}

// OnCallFinished bridges one finished call: opens an agent session
// (best-effort), upserts the conversation record, composes the bridging
// message, and delivers it. A gateway delivery failure rolls back the dedup
// claim so the next poll cycle retries; anything short of delivery failure
// degrades rather than aborts. Returns the conversation record identity.
func (i *Initiator) OnCallFinished(ctx context.Context, r dialer.Recipient, batch dialer.Batch) (string, error) {
	ctx, span := i.tracer.Start(ctx, "initiator.call_finished",
		trace.WithAttributes(attribute.String("batch.id", batch.ID)))
	defer span.End()

	phone := NormalizePhone(r.Phone)

	// A live session enriches the bridge but is not a precondition: the
	// bridging message goes out either way.
	convRef, err := i.sessions.Open(ctx, batch.AgentID, phone, r.Name)
	if err != nil {
		slog.Warn("bridge without live session", "phone", phone, "error", err)
		convRef = r.ConversationID
	}

	conv, err := i.store.UpsertConversation(ctx, store.Conversation{
		Phone:           phone,
		DisplayName:     r.Name,
		ConversationRef: convRef,
		AgentID:         batch.AgentID,
		BatchID:         batch.ID,
	})
	if err != nil {
		i.registry.Remove(dialer.DedupKey(batch.ID, r))
		return "", fmt.Errorf("bridge: upsert conversation for %s: %w", phone, err)
	}

	summary := i.fetchSummary(ctx, r)
	cfg := i.tunables()
	text := RenderTemplate(cfg.Template, r.Name, summary)

	msgID, err := i.gateway.Send(ctx, phone, text)
	if err != nil {
		// Roll back the claim: a future poll cycle re-observes the recipient
		// and retries the bridge.
		i.registry.Remove(dialer.DedupKey(batch.ID, r))
		return "", fmt.Errorf("%w: %s: %v", ErrGatewaySend, phone, err)
	}

	now := time.Now()
	if err := i.store.AppendMessage(ctx, store.Message{
		ConversationID: conv.ID,
		Direction:      store.DirectionOutbound,
		Content:        text,
		ExternalID:     msgID,
		SentAt:         now,
	}); err != nil {
		// The counterpart already has the message; losing the transcript row
		// is not worth a duplicate send.
		slog.Error("bridge message sent but not persisted", "phone", phone, "error", err)
	} else if err := i.store.TouchConversation(ctx, conv.ID, now, 1); err != nil {
		slog.Error("touch conversation failed", "conversation", conv.ID, "error", err)
	}

	slog.Info("bridge message sent",
		"phone", phone, "conversation", conv.ID, "batch", batch.ID, "gateway_msg", msgID)
	return conv.ID, nil
}

// fetchSummary asks the platform for a post-call synopsis. Best-effort: the
// bridge message works without one.
func (i *Initiator) fetchSummary(ctx context.Context, r dialer.Recipient) string {
	if r.ConversationID == "" {
		return ""
	}
	sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	summary, err := i.dialer.GetCallSummary(sctx, r.ConversationID)
	if err != nil {
		slog.Debug("call summary unavailable", "conversation", r.ConversationID, "error", err)
		return ""
	}
	return summary.SummaryText
}
