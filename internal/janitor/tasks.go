package janitor

import (
	"context"
	"log/slog"
	"time"
)

// StaleJobFailer fails RUNNING jobs without a recent heartbeat and COMPLETED
// jobs whose result never arrived. *storage.Storage satisfies it.
type StaleJobFailer interface {
	FailStaleJobs(ctx context.Context, staleAfter time.Duration) (int64, error)
}

// FileSweeper removes old staging files. *artifact.Store satisfies it.
type FileSweeper interface {
	Sweep(olderThan time.Duration) (int, error)
}

// SessionSweeper evicts idle sessions. *orchestrator.Registry satisfies it.
type SessionSweeper interface {
	Sweep(ctx context.Context, maxIdle time.Duration) int
}

// StaleJobs returns a task failing jobs that made no progress for
// staleAfter.
func StaleJobs(failer StaleJobFailer, staleAfter time.Duration, logger *slog.Logger) func(context.Context) error {
	return func(ctx context.Context) error {
		n, err := failer.FailStaleJobs(ctx, staleAfter)
		if err != nil {
			return err
		}
		if n > 0 {
			logger.Info("Failed stale jobs", slog.Int64("count", n))
		}
		return nil
	}
}

// StagingFiles returns a task removing artifacts older than retention.
func StagingFiles(sweeper FileSweeper, retention time.Duration, logger *slog.Logger) func(context.Context) error {
	return func(ctx context.Context) error {
		n, err := sweeper.Sweep(retention)
		if n > 0 {
			logger.Info("Purged staging files", slog.Int("count", n))
		}
		return err
	}
}

// IdleSessions returns a task evicting sessions idle for longer than maxIdle.
func IdleSessions(sweeper SessionSweeper, maxIdle time.Duration) func(context.Context) error {
	return func(ctx context.Context) error {
		sweeper.Sweep(ctx, maxIdle)
		return nil
	}
}
