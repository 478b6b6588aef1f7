package workers

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper drops expired entries and reports how many went.
type Sweeper interface {
	Sweep() int
}

// IdleCleaner forgets entries idle for longer than the given duration.
type IdleCleaner interface {
	Cleanup(idle time.Duration) int
}

// RunHousekeeping periodically evicts expired staged attachments and idle
// submission limiters until ctx is cancelled.
func RunHousekeeping(ctx context.Context, interval time.Duration, stage Sweeper, limiter IdleCleaner, idle time.Duration) {
	slog.Info("housekeeping started", "interval", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("housekeeping stopped")
			return
		case <-ticker.C:
			housekeep(stage, limiter, idle)
		}
	}
}

func housekeep(stage Sweeper, limiter IdleCleaner, idle time.Duration) (staged, limiters int) {
	if stage != nil {
		staged = stage.Sweep()
	}
	if limiter != nil {
		limiters = limiter.Cleanup(idle)
	}
	if staged > 0 || limiters > 0 {
		slog.Debug("housekeeping sweep", "staged_evicted", staged, "limiters_evicted", limiters)
	}
	return staged, limiters
}
