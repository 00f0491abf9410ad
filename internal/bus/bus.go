// Package bus decouples message producers from consumers. The webhook handler
// publishes inbound messages here; the orchestrator consumes them. Bridge
// failure paths publish fire-and-forget outbound messages; the gateway
// dispatcher consumes those. Sends that need the gateway message identity
// (transcript rows) go through the gateway directly instead.
package bus

import "context"

// InboundMessage is a text message received from the messaging gateway.
type InboundMessage struct {
	From       string `json:"from"`        // counterpart address as delivered
	Content    string `json:"content"`     // message text
	ExternalID string `json:"external_id"` // gateway message identity
}

// OutboundMessage is a text message to deliver via the messaging gateway.
type OutboundMessage struct {
	To      string `json:"to"`
	Content string `json:"content"`
}

// MessageRouter abstracts inbound/outbound routing between the webhook edge,
// the bridge core, and the gateway sender.
type MessageRouter interface {
	PublishInbound(msg InboundMessage)
	ConsumeInbound(ctx context.Context) (InboundMessage, bool)
	PublishOutbound(msg OutboundMessage)
	ConsumeOutbound(ctx context.Context) (OutboundMessage, bool)
}

const queueSize = 256

// MessageBus is a channel-backed MessageRouter.
type MessageBus struct {
	inbound  chan InboundMessage
	outbound chan OutboundMessage
}

// New creates a MessageBus with bounded queues.
func New() *MessageBus {
	return &MessageBus{
		inbound:  make(chan InboundMessage, queueSize),
		outbound: make(chan OutboundMessage, queueSize),
	}
}

// PublishInbound enqueues an inbound message. Drops when the queue is full so
// a stalled consumer cannot wedge the webhook handler.
func (b *MessageBus) PublishInbound(msg InboundMessage) {
	select {
	case b.inbound <- msg:
	default:
	}
}

// ConsumeInbound blocks for the next inbound message or context cancellation.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	select {
	case msg := <-b.inbound:
		return msg, true
	case <-ctx.Done():
		return InboundMessage{}, false
	}
}

// PublishOutbound enqueues an outbound message.
func (b *MessageBus) PublishOutbound(msg OutboundMessage) {
	select {
	case b.outbound <- msg:
	default:
	}
}

// ConsumeOutbound blocks for the next outbound message or context cancellation.
func (b *MessageBus) ConsumeOutbound(ctx context.Context) (OutboundMessage, bool) {
	select {
	case msg := <-b.outbound:
		return msg, true
	case <-ctx.Done():
		return OutboundMessage{}, false
	}
}
