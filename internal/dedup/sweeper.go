package dedup

import (
	"context"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"
)

// Sweeper evicts aged registry entries on a cron schedule.
type Sweeper struct {
	registry Registry
	maxAge   time.Duration
	expr     string
	gron     *gronx.Gronx
}

// NewSweeper creates a sweeper. expr is a standard five-field cron expression;
// maxAge is how long entries are retained.
func NewSweeper(registry Registry, expr string, maxAge time.Duration) *Sweeper {
	return &Sweeper{
		registry: registry,
		maxAge:   maxAge,
		expr:     expr,
		gron:     gronx.New(),
	}
}

// Run blocks until ctx is cancelled, checking the schedule once a minute.
func (s *Sweeper) Run(ctx context.Context) {
	if !s.gron.IsValid(s.expr) {
		slog.Error("invalid dedup sweep schedule, sweeper disabled", "expr", s.expr)
		return
	}

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			due, err := s.gron.IsDue(s.expr, now)
			if err != nil || !due {
				continue
			}
			removed := s.registry.Sweep(s.maxAge)
			if removed > 0 {
				slog.Info("dedup registry swept", "removed", removed, "remaining", s.registry.Len())
			}
		}
	}
}
