package orchestrator

import (
	"time"

	"github.com/Tim-0lu/env-can-wx-app/internal/descriptor"
	"github.com/Tim-0lu/env-can-wx-app/internal/jobqueue"
)

// Cadence holds the two poll intervals. There is no backoff between them.
type Cadence struct {
	Active time.Duration
	Idle   time.Duration
}

// DefaultCadence polls twice a second while a job runs and once a day
// otherwise.
var DefaultCadence = Cadence{
	Active: 500 * time.Millisecond,
	Idle:   24 * time.Hour,
}

// withDefaults fills unset intervals from DefaultCadence.
func (c Cadence) withDefaults() Cadence {
	if c.Active <= 0 {
		c.Active = DefaultCadence.Active
	}
	if c.Idle <= 0 {
		c.Idle = DefaultCadence.Idle
	}
	return c
}

// Memory is the per-session job record. State is StateIdle exactly when
// Handle is empty.
type Memory struct {
	Handle       jobqueue.Handle
	State        State
	PollInterval time.Duration
	Descriptor   descriptor.Descriptor
	Message      string
}

func idleMemory(c Cadence) Memory {
	return Memory{State: StateIdle, PollInterval: c.Idle}
}

func activeMemory(c Cadence, h jobqueue.Handle, d descriptor.Descriptor) Memory {
	return Memory{
		Handle:       h,
		State:        StatePending,
		PollInterval: c.Active,
		Descriptor:   d,
		Message:      MessageStarting,
	}
}
