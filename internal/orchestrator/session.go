package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Tim-0lu/env-can-wx-app/internal/descriptor"
	"github.com/Tim-0lu/env-can-wx-app/internal/jobqueue"
)

// ErrJobActive is returned by Submit while the session already has a job.
var ErrJobActive = errors.New("a download is already in progress")

// SessionConfig holds the dependencies of a Session.
type SessionConfig struct {
	ID      string
	Client  jobqueue.Client
	Logger  *slog.Logger
	Cadence Cadence
	// OnHandoff, if set, is called once per job when it completes or fails.
	OnHandoff func(Outcome)
}

// Snapshot is a read-only copy of a session's state.
type Snapshot struct {
	SessionID    string
	State        State
	Handle       jobqueue.Handle
	PollInterval time.Duration
	Message      string
	ArtifactName string
	LastError    string
	LastOutcome  *Outcome
}

// TickResult describes what one tick did.
type TickResult struct {
	From    State
	To      State
	Outcome *Outcome
}

// Session owns the job memory of one user session. Submit, Tick and Reset
// are serialized; Snapshot never waits on a remote call.
type Session struct {
	id        string
	client    jobqueue.Client
	logger    *slog.Logger
	cadence   Cadence
	onHandoff func(Outcome)
	now       func() time.Time

	opMu sync.Mutex

	mu          sync.RWMutex
	mem         Memory
	lastOutcome *Outcome
	lastError   string
	lastSeen    time.Time

	wake chan struct{}
}

// NewSession creates an idle session.
func NewSession(cfg SessionConfig) *Session {
	cadence := cfg.Cadence.withDefaults()

	s := &Session{
		id:        cfg.ID,
		client:    cfg.Client,
		logger:    cfg.Logger.With(slog.String("session_id", cfg.ID)),
		cadence:   cadence,
		onHandoff: cfg.OnHandoff,
		now:       time.Now,
		mem:       idleMemory(cadence),
		wake:      make(chan struct{}, 1),
	}
	s.lastSeen = s.now()
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Submit builds a descriptor from sel and starts a job. It is rejected with
// ErrJobActive, without contacting the queue, unless the session is idle.
func (s *Session) Submit(ctx context.Context, sel descriptor.Selection) (descriptor.Descriptor, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.touch()

	if state := s.currentState(); state != StateIdle {
		s.logger.Warn("Submit rejected, job already active", slog.String("state", state.String()))
		return descriptor.Descriptor{}, ErrJobActive
	}

	d, err := descriptor.Build(sel)
	if err != nil {
		return descriptor.Descriptor{}, err
	}

	h, err := s.client.Submit(ctx, d)
	if err != nil {
		s.mu.Lock()
		s.mem = idleMemory(s.cadence)
		s.mem.Message = MessageQueueDown
		s.lastError = err.Error()
		s.mu.Unlock()

		s.logger.Error("Failed to submit job",
			slog.String("artifact_name", d.ArtifactName()),
			slog.Any("error", err),
		)
		if !errors.Is(err, jobqueue.ErrQueueUnavailable) {
			err = fmt.Errorf("%w: %v", jobqueue.ErrQueueUnavailable, err)
		}
		return descriptor.Descriptor{}, err
	}

	s.mu.Lock()
	s.mem = activeMemory(s.cadence, h, d)
	s.lastOutcome = nil
	s.lastError = ""
	s.mu.Unlock()

	s.logger.Info("Job started",
		slog.String("job_id", h.String()),
		slog.String("artifact_name", d.ArtifactName()),
	)

	s.nudge()
	return d, nil
}

// Tick polls the job once and applies at most one transition. Polling an
// idle session is a no-op.
func (s *Session) Tick(ctx context.Context) TickResult {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.RLock()
	mem := s.mem
	s.mu.RUnlock()

	if !mem.State.Active() {
		return TickResult{From: mem.State, To: mem.State}
	}

	status, err := s.client.Status(ctx, mem.Handle)
	step := Advance(mem.State, Observation{Status: status, Err: err})
	result := TickResult{From: mem.State, To: step.Next}

	if step.Transient {
		s.mu.Lock()
		s.mem.Message = step.Message
		s.lastError = err.Error()
		s.mu.Unlock()

		s.logger.Warn("Job status unavailable, will retry on next poll",
			slog.String("job_id", mem.Handle.String()),
			slog.Any("error", err),
		)
		return result
	}

	if step.Next != mem.State {
		s.logger.Info("Job state changed",
			slog.String("job_id", mem.Handle.String()),
			slog.String("from", mem.State.String()),
			slog.String("to", step.Next.String()),
		)
	}

	if !step.Next.Terminal() {
		s.mu.Lock()
		s.mem.State = step.Next
		s.mem.Message = step.Message
		s.lastError = ""
		s.mu.Unlock()
		return result
	}

	var outcome Outcome
	if step.Next == StateComplete {
		outcome = completeOutcome(mem.Handle, mem.Descriptor, status.Payload, s.now())
	} else {
		if err != nil {
			s.logger.Warn("Job handle lost, treating as failure",
				slog.String("job_id", mem.Handle.String()),
				slog.Any("error", err),
			)
		}
		outcome = failureOutcome(mem.Handle, s.now())
	}

	s.release(ctx, mem.Handle)

	s.mu.Lock()
	s.mem = idleMemory(s.cadence)
	s.mem.Message = outcome.Message
	s.lastOutcome = &outcome
	s.lastError = ""
	s.mu.Unlock()

	if s.onHandoff != nil {
		s.onHandoff(outcome)
	}

	result.Outcome = &outcome
	return result
}

// Reset abandons any active job, discarding it best-effort, and returns the
// session to idle.
func (s *Session) Reset(ctx context.Context) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.touch()

	s.mu.RLock()
	mem := s.mem
	s.mu.RUnlock()

	if mem.State.Active() {
		s.release(ctx, mem.Handle)
		s.logger.Info("Job abandoned by reset", slog.String("job_id", mem.Handle.String()))
	}

	s.mu.Lock()
	s.mem = idleMemory(s.cadence)
	s.lastOutcome = nil
	s.lastError = ""
	s.mu.Unlock()

	s.nudge()
}

// release discards the handle. The outcome does not depend on it succeeding.
func (s *Session) release(ctx context.Context, h jobqueue.Handle) {
	if err := s.client.Discard(context.WithoutCancel(ctx), h); err != nil {
		s.logger.Warn("Failed to discard job",
			slog.String("job_id", h.String()),
			slog.Any("error", err),
		)
	}
}

// PollInterval is the cadence the driving timer should honor right now.
func (s *Session) PollInterval() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mem.PollInterval
}

// Snapshot returns the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSeen = s.now()

	snap := Snapshot{
		SessionID:    s.id,
		State:        s.mem.State,
		Handle:       s.mem.Handle,
		PollInterval: s.mem.PollInterval,
		Message:      s.mem.Message,
		LastError:    s.lastError,
	}
	if !s.mem.Descriptor.IsZero() {
		snap.ArtifactName = s.mem.Descriptor.ArtifactName()
	}
	if s.lastOutcome != nil {
		o := *s.lastOutcome
		snap.LastOutcome = &o
		if o.Artifact != nil {
			snap.ArtifactName = o.Artifact.Name
		}
	}
	return snap
}

// Wake fires after Submit or Reset changed the poll interval.
func (s *Session) Wake() <-chan struct{} { return s.wake }

// idleSince returns the last activity time, or false while a job is active.
func (s *Session) idleSince() (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.mem.State != StateIdle {
		return time.Time{}, false
	}
	return s.lastSeen, true
}

func (s *Session) currentState() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mem.State
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastSeen = s.now()
	s.mu.Unlock()
}

func (s *Session) nudge() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
