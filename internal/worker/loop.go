// Package worker runs the periodic background jobs of the server.
package worker

import (
	"context"
	"log/slog"
	"time"
)

// runLoop calls fn once at startup and then on every tick until ctx is
// cancelled. Failures are logged and the loop goes on.
func runLoop(ctx context.Context, name string, interval time.Duration, fn func(ctx context.Context) error) {
	slog.Info(name + ": starting")

	if err := fn(ctx); err != nil {
		slog.Error(name+": initial run failed", "error", err)
	} else {
		slog.Info(name + ": initial run completed")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info(name + ": shutting down")
			return
		case <-ticker.C:
			if err := fn(ctx); err != nil {
				slog.Error(name+": run failed", "error", err)
			} else {
				slog.Info(name + ": run completed")
			}
		}
	}
}
