// Package reaper runs the periodic sweep: stop idle-expired sandboxes,
// delete TTL-expired ones, drop stale idempotency records.
package reaper

import (
	"context"
	"log/slog"
	"time"

	"github.com/baylabs/bay/internal/config"
	"github.com/baylabs/bay/internal/idempotency"
	"github.com/baylabs/bay/internal/sandbox"
)

type Reaper struct {
	sandboxes   *sandbox.Manager
	idempotency *idempotency.Manager
	interval    time.Duration
	logger      *slog.Logger
}

func New(sandboxes *sandbox.Manager, idem *idempotency.Manager, cfg config.ReaperConfig, logger *slog.Logger) *Reaper {
	interval := time.Duration(cfg.IntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Reaper{
		sandboxes:   sandboxes,
		idempotency: idem,
		interval:    interval,
		logger:      logger,
	}
}

// Run sweeps on the configured interval until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	r.logger.Info("reaper started", "interval", r.interval)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reaper stopped")
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep performs one pass. Exposed so tests drive it directly.
func (r *Reaper) Sweep(ctx context.Context) {
	now := time.Now().UTC()
	r.sandboxes.ReapExpired(ctx, now)
	r.idempotency.CleanupExpired(now)
}
