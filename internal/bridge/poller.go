package bridge

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/relaymesh/callbridge/internal/dedup"
	"github.com/relaymesh/callbridge/internal/dialer"
)

// batchFetchConcurrency bounds parallel detail fetches per cycle.
const batchFetchConcurrency = 4

// Poller watches the campaign platform for recipients whose calls just
// finished and hands each one to the bridge initiator exactly once.
type Poller struct {
	dialer   DialerAPI
	registry dedup.Registry
	handler  CallHandler

	interval        time.Duration
	completedWindow time.Duration
	tracer          trace.Tracer
}

// NewPoller creates a poller. interval is the fixed check period;
// completedWindow keeps recently completed batches in the poll set.
func NewPoller(d DialerAPI, registry dedup.Registry, handler CallHandler, interval, completedWindow time.Duration) *Poller {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if completedWindow <= 0 {
		completedWindow = 24 * time.Hour
	}
	return &Poller{
		dialer:          d,
		registry:        registry,
		handler:         handler,
		interval:        interval,
		completedWindow: completedWindow,
		tracer:          otel.Tracer("callbridge/bridge/poller"),
	}
}

// Run polls until ctx is cancelled. The first cycle runs immediately so
// calls that finished before startup are bridged without waiting a full
// interval.
func (p *Poller) Run(ctx context.Context) {
	slog.Info("campaign poller started", "interval", p.interval)
	p.checkCycle(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("campaign poller stopped")
			return
		case <-ticker.C:
			p.checkCycle(ctx)
		}
	}
}

// checkCycle runs one poll pass. A failure in one batch never aborts the
// others or the timer loop.
func (p *Poller) checkCycle(ctx context.Context) {
	ctx, span := p.tracer.Start(ctx, "poller.cycle")
	defer span.End()

	batches, err := p.dialer.ListBatches(ctx)
	if err != nil {
		slog.Error("poll cycle: list batches failed", "error", err)
		return
	}

	active := p.filterBatches(batches)
	span.SetAttributes(
		attribute.Int("batches.total", len(batches)),
		attribute.Int("batches.active", len(active)),
	)
	if len(active) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(batchFetchConcurrency)
	for _, batch := range active {
		g.Go(func() error {
			p.checkBatch(gctx, batch)
			return nil // batch failures are isolated, never group-fatal
		})
	}
	g.Wait()
}

// filterBatches keeps batches that can still produce newly finished calls:
// pending or running ones, plus those completed within the window.
func (p *Poller) filterBatches(batches []dialer.Batch) []dialer.Batch {
	cutoff := time.Now().Add(-p.completedWindow)
	var keep []dialer.Batch
	for _, b := range batches {
		switch b.Status {
		case dialer.BatchPending, dialer.BatchInProgress:
			keep = append(keep, b)
		case dialer.BatchCompleted:
			if b.LastUpdated.After(cutoff) {
				keep = append(keep, b)
			}
		}
	}
	return keep
}

func (p *Poller) checkBatch(ctx context.Context, batch dialer.Batch) {
	detail, err := p.dialer.GetBatchDetail(ctx, batch.ID)
	if err != nil {
		slog.Error("poll cycle: batch detail failed", "batch", batch.ID, "error", err)
		return
	}

	for _, r := range detail.Recipients {
		if !dialer.IsTerminal(r.Status) {
			continue
		}

		key := dialer.DedupKey(batch.ID, r)
		first := p.registry.MarkIfAbsent(key, dedup.Info{
			Phone:  r.Phone,
			Status: r.Status,
		})
		if !first {
			continue
		}
		// Failed calls are terminal and claimed (so they are not re-examined
		// every cycle) but never bridged.
		if !dialer.IsFinished(r.Status) {
			continue
		}

		slog.Info("call finished, bridging",
			"batch", batch.ID, "phone", r.Phone, "status", r.Status, "key", key)

		if _, err := p.handler.OnCallFinished(ctx, r, batch); err != nil {
			slog.Error("bridging failed",
				"batch", batch.ID, "phone", r.Phone, "retryable", Retryable(err), "error", err)
		}
	}
}
