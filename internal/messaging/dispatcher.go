package messaging

import (
	"context"
	"log/slog"

	"github.com/relaymesh/callbridge/internal/bus"
)

// Dispatcher delivers queued outbound messages through the gateway. It serves
// the fire-and-forget sends (fallback notices) that bridge flows publish on
// the bus; sends that need the returned message identity call the gateway
// directly.
type Dispatcher struct {
	router  bus.MessageRouter
	gateway Gateway
}

// NewDispatcher creates a dispatcher draining router into gateway.
func NewDispatcher(router bus.MessageRouter, gateway Gateway) *Dispatcher {
	return &Dispatcher{router: router, gateway: gateway}
}

// Run consumes outbound messages until ctx is cancelled. Delivery failures
// are logged; there is no retry, the publisher has already given up on the
// happy path.
func (d *Dispatcher) Run(ctx context.Context) {
	slog.Info("outbound dispatcher started")
	for {
		msg, ok := d.router.ConsumeOutbound(ctx)
		if !ok {
			slog.Info("outbound dispatcher stopped")
			return
		}
		if _, err := d.gateway.Send(ctx, msg.To, msg.Content); err != nil {
			slog.Error("outbound dispatch failed", "to", msg.To, "error", err)
		}
	}
}
