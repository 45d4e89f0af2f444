// Package janitor runs periodic maintenance: failing jobs whose worker went
// silent, purging old staging files and evicting idle sessions.
package janitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Task is one maintenance job. Run receives a context bounded by the task
// timeout and canceled when the janitor stops.
type Task struct {
	Name     string
	Schedule string
	Timeout  time.Duration
	Run      func(ctx context.Context) error
}

// Janitor schedules tasks with cron. A run is skipped while the previous run
// of the same task is still going.
type Janitor struct {
	cron   *cron.Cron
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a stopped Janitor.
func New(logger *slog.Logger) *Janitor {
	cl := cronLogger{logger: logger}
	ctx, cancel := context.WithCancel(context.Background())
	return &Janitor{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add registers a task. Schedules use the standard five-field syntax or
// descriptors such as "@every 5m".
func (j *Janitor) Add(t Task) error {
	if t.Run == nil {
		return fmt.Errorf("janitor task %q has no run function", t.Name)
	}

	_, err := j.cron.AddFunc(t.Schedule, func() { j.run(t) })
	if err != nil {
		return fmt.Errorf("failed to schedule %q: %w", t.Name, err)
	}

	j.logger.Info("Maintenance task scheduled",
		slog.String("task", t.Name),
		slog.String("schedule", t.Schedule),
	)
	return nil
}

// Start begins running scheduled tasks.
func (j *Janitor) Start() {
	j.cron.Start()
	j.logger.Info("Janitor started", slog.Int("tasks", len(j.cron.Entries())))
}

// Run blocks until ctx is canceled, then stops the scheduler and waits for
// running tasks.
func (j *Janitor) Run(ctx context.Context) error {
	j.Start()
	<-ctx.Done()
	j.Stop()
	return nil
}

// Stop cancels running tasks and waits for them to return.
func (j *Janitor) Stop() {
	j.cancel()
	<-j.cron.Stop().Done()
	j.logger.Info("Janitor stopped")
}

func (j *Janitor) run(t Task) {
	ctx := j.ctx
	if t.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.Timeout)
		defer cancel()
	}

	started := time.Now()
	if err := t.Run(ctx); err != nil {
		j.logger.Error("Maintenance task failed",
			slog.String("task", t.Name),
			slog.Any("error", err),
		)
		return
	}

	j.logger.Debug("Maintenance task finished",
		slog.String("task", t.Name),
		slog.Duration("elapsed", time.Since(started)),
	)
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
