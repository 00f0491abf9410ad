// Package bridge implements the call-completion → text-session core: the
// campaign poller, the bridge initiator, and the inbound-message
// orchestrator.
package bridge

import (
	"context"
	"time"

	"github.com/relaymesh/callbridge/internal/dialer"
)

// DialerAPI is what the bridge needs from the campaign platform.
type DialerAPI interface {
	ListBatches(ctx context.Context) ([]dialer.Batch, error)
	GetBatchDetail(ctx context.Context, batchID string) (*dialer.BatchDetail, error)
	GetCallSummary(ctx context.Context, conversationID string) (*dialer.CallSummary, error)
}

// SessionManager is what the bridge needs from the agent session layer.
type SessionManager interface {
	Open(ctx context.Context, agentID, phone, displayName string) (string, error)
	SendAndAwaitReply(ctx context.Context, phone, text string, timeout time.Duration) (string, error)
	Close(phone string)
	DiscardPending(phone string)
}

// CallHandler receives recipients whose calls just reached a finished state.
type CallHandler interface {
	OnCallFinished(ctx context.Context, r dialer.Recipient, batch dialer.Batch) (string, error)
}

// sleep waits for d or until ctx is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
