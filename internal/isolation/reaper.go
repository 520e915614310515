package isolation

import (
	"context"
	"log/slog"
	"time"
)

// Reaper periodically invokes Engine.ExpirePass on a fixed interval,
// adapted from the worker-pool polling loop this codebase uses elsewhere
// for background job processing.
type Reaper struct {
	engine   *Engine
	interval time.Duration
	log      *slog.Logger
}

// NewReaper creates a Reaper that calls engine.ExpirePass every interval.
func NewReaper(engine *Engine, interval time.Duration, log *slog.Logger) *Reaper {
	if log == nil {
		log = slog.Default()
	}
	return &Reaper{engine: engine, interval: interval, log: log}
}

// Run blocks, polling on Reaper's interval until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	if r.interval <= 0 {
		r.log.Info("environment reaper disabled (non-positive interval)")
		return
	}

	r.log.Info("environment reaper starting", "interval", r.interval.String())
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("environment reaper stopping")
			return
		case <-ticker.C:
			reaped, err := r.engine.ExpirePass(ctx)
			if err != nil {
				r.log.Error("expire pass failed", "error", err)
				continue
			}
			if len(reaped) > 0 {
				r.log.Info("expire pass reaped environments", "count", len(reaped))
			}
		}
	}
}
