package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Tim-0lu/env-can-wx-app/internal/jobqueue"
)

// RegistryConfig holds what every session created by a Registry shares.
type RegistryConfig struct {
	Client        jobqueue.Client
	Logger        *slog.Logger
	Cadence       Cadence
	StatusTimeout time.Duration
	OnHandoff     func(sessionID string, o Outcome)
}

type entry struct {
	session *Session
	cancel  context.CancelFunc
}

// Registry owns the sessions of a process and runs one poller per session.
// Sessions share only the job queue client.
type Registry struct {
	cfg    RegistryConfig
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	sessions map[string]*entry
	closed   bool
}

// NewRegistry creates a Registry whose pollers stop when ctx is canceled or
// Close is called.
func NewRegistry(ctx context.Context, cfg RegistryConfig) *Registry {
	ctx, cancel := context.WithCancel(ctx)
	cfg.Cadence = cfg.Cadence.withDefaults()
	return &Registry{
		cfg:      cfg,
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*entry),
	}
}

// Get returns the session for id, creating it and starting its poller on
// first use. It returns nil after Close.
func (r *Registry) Get(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.sessions[id]; ok {
		return e.session
	}
	if r.closed {
		return nil
	}

	var onHandoff func(Outcome)
	if r.cfg.OnHandoff != nil {
		onHandoff = func(o Outcome) { r.cfg.OnHandoff(id, o) }
	}

	s := NewSession(SessionConfig{
		ID:        id,
		Client:    r.cfg.Client,
		Logger:    r.cfg.Logger,
		Cadence:   r.cfg.Cadence,
		OnHandoff: onHandoff,
	})

	ctx, cancel := context.WithCancel(r.ctx)
	r.sessions[id] = &entry{session: s, cancel: cancel}

	poller := NewPoller(s, r.cfg.Logger, r.cfg.StatusTimeout)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		poller.Run(ctx)
	}()

	r.cfg.Logger.Debug("Session created", slog.String("session_id", id))
	return s
}

// Lookup returns an existing session without creating one.
func (r *Registry) Lookup(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	return e.session, true
}

// Remove resets the session, discarding any active job, and stops its poller.
func (r *Registry) Remove(ctx context.Context, id string) bool {
	r.mu.Lock()
	e, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}

	e.cancel()
	e.session.Reset(ctx)
	return true
}

// Sweep evicts idle sessions not used for maxIdle and returns how many were
// removed. Sessions with an active job are kept.
func (r *Registry) Sweep(ctx context.Context, maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)

	r.mu.Lock()
	var stale []string
	for id, e := range r.sessions {
		if since, idle := e.session.idleSince(); idle && since.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	r.mu.Unlock()

	removed := 0
	for _, id := range stale {
		if r.Remove(ctx, id) {
			removed++
		}
	}

	if removed > 0 {
		r.cfg.Logger.Info("Idle sessions evicted", slog.Int("count", removed))
	}
	return removed
}

// Cadence returns the poll intervals every session uses.
func (r *Registry) Cadence() Cadence { return r.cfg.Cadence }

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Close resets every session (discarding active jobs), stops all pollers and
// waits for them to exit.
func (r *Registry) Close(ctx context.Context) {
	r.mu.Lock()
	r.closed = true
	entries := make([]*entry, 0, len(r.sessions))
	for id, e := range r.sessions {
		entries = append(entries, e)
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	r.cancel()
	for _, e := range entries {
		e.session.Reset(ctx)
	}
	r.wg.Wait()
}
