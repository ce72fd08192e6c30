package main

import (
	"context"
	"log/slog"
	"time"
)

const pruneInterval = time.Hour

type sessionPruner interface {
	PruneSessions(ctx context.Context, cutoff time.Time) (int, error)
}

// pruneSessions deletes the sessions idle for longer than retention, once at start and then every interval,
// until ctx is done.
func pruneSessions(ctx context.Context, db sessionPruner, retention, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		n, err := db.PruneSessions(ctx, time.Now().Add(-retention))
		switch {
		case err != nil:
			logger.Error("Failed to prune sessions", slog.String(errLoggerKey, err.Error()))
		case n > 0:
			logger.Info("Pruned idle sessions", slog.Int("count", n), slog.Duration("retention", retention))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
