package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/relaymesh/callbridge/internal/bus"
	"github.com/relaymesh/callbridge/internal/config"
	"github.com/relaymesh/callbridge/internal/messaging"
	"github.com/relaymesh/callbridge/internal/store"
)

// Orchestrator relays inbound counterpart messages through a fresh agent
// session and the agent's reply back out. The platform only answers the
// first user message of a session, so every turn is close → reopen → send.
type Orchestrator struct {
	sessions SessionManager
	gateway  messaging.Gateway
	store    store.ConversationStore
	router   bus.MessageRouter

	defaultAgentID string
	replyTimeout   time.Duration
	tunables       func() config.BridgeConfig
	tracer         trace.Tracer
}

// NewOrchestrator creates an orchestrator. defaultAgentID handles counterparts
// with no prior conversation record.
func NewOrchestrator(sessions SessionManager, gateway messaging.Gateway, st store.ConversationStore,
	router bus.MessageRouter, defaultAgentID string, replyTimeout time.Duration,
	tunables func() config.BridgeConfig) *Orchestrator {
	if replyTimeout <= 0 {
		replyTimeout = 30 * time.Second
	}
	return &Orchestrator{
		sessions:       sessions,
		gateway:        gateway,
		store:          st,
		router:         router,
		defaultAgentID: defaultAgentID,
		replyTimeout:   replyTimeout,
		tunables:       tunables,
		tracer:         otel.Tracer("callbridge/bridge/orchestrator"),
	}
}

// Run consumes inbound messages from the bus until ctx is cancelled. Each
// message is handled on its own goroutine; per-counterpart ordering is
// enforced by the session manager's per-key serialization.
func (o *Orchestrator) Run(ctx context.Context) {
	slog.Info("inbound orchestrator started")
	for {
		msg, ok := o.router.ConsumeInbound(ctx)
		if !ok {
			slog.Info("inbound orchestrator stopped")
			return
		}
		go func() {
			if err := o.OnInboundMessage(ctx, msg.From, msg.Content, msg.ExternalID); err != nil {
				slog.Error("inbound message failed",
					"from", msg.From, "apologized", userFacing(err), "error", err)
			}
		}()
	}
}

// OnInboundMessage relays one counterpart message. The counterpart always
// receives either the agent's reply or a generic apology, never silence.
func (o *Orchestrator) OnInboundMessage(ctx context.Context, from, text, externalID string) error {
	ctx, span := o.tracer.Start(ctx, "orchestrator.inbound")
	defer span.End()

	phone := NormalizePhone(from)
	receivedAt := time.Now()
	cfg := o.tunables()
	span.SetAttributes(attribute.String("phone", phone))

	conv, findErr := o.store.FindActiveByPhone(ctx, phone)
	if findErr != nil && !errors.Is(findErr, store.ErrNotFound) {
		return fmt.Errorf("bridge: find conversation for %s: %w", phone, findErr)
	}

	agentID := o.defaultAgentID
	displayName := ""
	if conv != nil {
		if conv.AgentID != "" {
			agentID = conv.AgentID
		}
		displayName = conv.DisplayName
	}

	// The platform answers only the first message of a session, so the old
	// session is useless. Closing and immediately redialing races with
	// platform-side teardown; the delay lets it settle.
	o.sessions.Close(phone)
	if err := sleep(ctx, cfg.ReopenDelay.Or(500*time.Millisecond)); err != nil {
		return err
	}

	convRef, err := o.sessions.Open(ctx, agentID, phone, displayName)
	if err != nil {
		o.apologize(phone, cfg.Apology)
		return fmt.Errorf("%w: %s: %v", ErrConnect, phone, err)
	}

	stored, err := o.store.UpsertConversation(ctx, store.Conversation{
		Phone:           phone,
		DisplayName:     displayName,
		ConversationRef: convRef,
		AgentID:         agentID,
	})
	if err != nil {
		o.sessions.Close(phone)
		return fmt.Errorf("bridge: upsert conversation for %s: %w", phone, err)
	}

	// Fresh sessions greet unsolicited; drain that output so it is not
	// mistaken for the reply to the real message. The delay is a heuristic
	// tunable, not a guarantee.
	if err := sleep(ctx, cfg.WelcomeDiscard.Or(2*time.Second)); err != nil {
		o.sessions.Close(phone)
		return err
	}
	o.sessions.DiscardPending(phone)

	reply, err := o.sessions.SendAndAwaitReply(ctx, phone, text, o.replyTimeout)
	if err != nil {
		o.apologize(phone, cfg.Apology)
		o.sessions.Close(phone)
		return fmt.Errorf("bridge: agent reply for %s: %w", phone, err)
	}
	if reply == "" {
		o.apologize(phone, cfg.Apology)
		o.sessions.Close(phone)
		return fmt.Errorf("%w: %s", ErrEmptyReply, phone)
	}

	// Inbound is persisted before the outbound send so a delivery failure
	// never loses the counterpart's side of the transcript.
	if err := o.store.AppendMessage(ctx, store.Message{
		ConversationID: stored.ID,
		Direction:      store.DirectionInbound,
		Content:        text,
		ExternalID:     externalID,
		SentAt:         receivedAt,
	}); err != nil {
		slog.Error("persist inbound message failed", "phone", phone, "error", err)
	}

	msgID, sendErr := o.gateway.Send(ctx, phone, reply)
	if sendErr != nil {
		if touchErr := o.store.TouchConversation(ctx, stored.ID, receivedAt, 1); touchErr != nil {
			slog.Error("touch conversation failed", "conversation", stored.ID, "error", touchErr)
		}
		o.sessions.Close(phone)
		return fmt.Errorf("%w: %s: %v", ErrGatewaySend, phone, sendErr)
	}

	sentAt := time.Now()
	if err := o.store.AppendMessage(ctx, store.Message{
		ConversationID: stored.ID,
		Direction:      store.DirectionOutbound,
		Content:        reply,
		ExternalID:     msgID,
		SentAt:         sentAt,
	}); err != nil {
		slog.Error("persist outbound message failed", "phone", phone, "error", err)
	}
	if err := o.store.TouchConversation(ctx, stored.ID, sentAt, 2); err != nil {
		slog.Error("touch conversation failed", "conversation", stored.ID, "error", err)
	}

	// Next inbound message opens a fresh session anyway.
	o.sessions.Close(phone)

	slog.Info("inbound message relayed",
		"phone", phone, "conversation", stored.ID, "gateway_msg", msgID)
	return nil
}

// apologize queues the fallback message for the gateway dispatcher.
// Best-effort: the caller is already on an error path, and the dispatcher
// logs delivery failures.
func (o *Orchestrator) apologize(phone, apology string) {
	if apology == "" {
		return
	}
	o.router.PublishOutbound(bus.OutboundMessage{To: phone, Content: apology})
}
