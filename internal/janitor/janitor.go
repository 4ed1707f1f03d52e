// Package janitor runs periodic retention sweeps over the database.
package janitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/zapito/internal/shared"
)

// Store is the subset of the repository the janitor cleans.
type Store interface {
	CleanupOutbound(ctx context.Context, retention time.Duration) (int64, error)
	DeleteIdleSessions(ctx context.Context, idle time.Duration) (int64, error)
}

// Config controls the sweep. A zero retention disables that sweep.
type Config struct {
	Interval          time.Duration
	OutboundRetention time.Duration
	SessionIdleTTL    time.Duration
}

// Run sweeps every cfg.Interval until ctx is cancelled. It returns nil on
// cancellation so it can run under an errgroup.
func Run(ctx context.Context, store Store, cfg Config, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "janitor")

	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Info("janitor started",
		"interval", interval,
		"outbound_retention", cfg.OutboundRetention,
		"session_idle_ttl", cfg.SessionIdleTTL)

	for {
		select {
		case <-ticker.C:
			Sweep(ctx, store, cfg, logger)
		case <-ctx.Done():
			logger.Info("janitor shutting down", "reason", ctx.Err())
			return nil
		}
	}
}

// Sweep runs one cleanup pass. Failures are logged; the next tick retries.
func Sweep(ctx context.Context, store Store, cfg Config, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.OutboundRetention > 0 {
		var deleted int64
		err := shared.RetryOnConflict(ctx, shared.DefaultRetryPolicy, "cleanup outbound", func() error {
			n, err := store.CleanupOutbound(ctx, cfg.OutboundRetention)
			deleted = n
			return err
		})
		if err != nil {
			logger.Error("outbound cleanup failed", "error", err)
		} else if deleted > 0 {
			logger.Info("outbound log cleaned", "count", deleted)
		}
	}

	if cfg.SessionIdleTTL > 0 {
		var deleted int64
		err := shared.RetryOnConflict(ctx, shared.DefaultRetryPolicy, "delete idle sessions", func() error {
			n, err := store.DeleteIdleSessions(ctx, cfg.SessionIdleTTL)
			deleted = n
			return err
		})
		if err != nil {
			logger.Error("idle session cleanup failed", "error", err)
		} else if deleted > 0 {
			logger.Info("idle sessions removed", "count", deleted)
		}
	}
}
