package orchestrator

import (
	"context"
	"log/slog"
	"time"
)

// Poller drives one session's ticks. It honors the session's recommended
// interval and restarts its timer when the session signals a change.
type Poller struct {
	session       *Session
	logger        *slog.Logger
	statusTimeout time.Duration
}

// NewPoller creates a poller. statusTimeout bounds each status call; zero
// means no extra deadline.
func NewPoller(session *Session, logger *slog.Logger, statusTimeout time.Duration) *Poller {
	return &Poller{
		session:       session,
		logger:        logger.With(slog.String("session_id", session.ID())),
		statusTimeout: statusTimeout,
	}
}

// Run blocks until ctx is canceled. Ticks never overlap: the timer is only
// re-armed after the previous tick has fully applied.
func (p *Poller) Run(ctx context.Context) {
	timer := time.NewTimer(p.session.PollInterval())
	defer timer.Stop()

	p.logger.Debug("Poller started")

	for {
		select {
		case <-ctx.Done():
			p.logger.Debug("Poller stopped")
			return

		case <-p.session.Wake():
			resetTimer(timer, p.session.PollInterval())

		case <-timer.C:
			p.tick(ctx)
			timer.Reset(p.session.PollInterval())
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	tickCtx := ctx
	if p.statusTimeout > 0 {
		var cancel context.CancelFunc
		tickCtx, cancel = context.WithTimeout(ctx, p.statusTimeout)
		defer cancel()
	}

	res := p.session.Tick(tickCtx)
	if res.Outcome != nil {
		p.logger.Info("Job finished",
			slog.String("job_id", res.Outcome.Handle.String()),
			slog.String("state", res.Outcome.State.String()),
		)
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
