// Package orchestrator tracks one download job per session from submission
// to handoff, polling the job queue on a cadence it chooses.
package orchestrator

import (
	"errors"
	"fmt"

	"github.com/Tim-0lu/env-can-wx-app/internal/jobqueue"
)

// State is the local view of a session's job.
type State int

const (
	StateIdle State = iota
	StatePending
	StateProgress
	StateSuccessPendingResult
	StateComplete
	StateFailure
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StatePending:
		return "PENDING"
	case StateProgress:
		return "PROGRESS"
	case StateSuccessPendingResult:
		return "SUCCESS_PENDING_RESULT"
	case StateComplete:
		return "COMPLETE"
	case StateFailure:
		return "FAILURE"
	default:
		return "UNKNOWN"
	}
}

// MarshalText lets State render by name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses the names produced by MarshalText.
func (s *State) UnmarshalText(text []byte) error {
	for st := StateIdle; st <= StateFailure; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", text)
}

// Active reports whether a job handle is held in this state.
func (s State) Active() bool {
	return s == StatePending || s == StateProgress || s == StateSuccessPendingResult
}

// Terminal reports whether the state fires the one-shot handoff.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateFailure
}

// User-facing progress messages.
const (
	MessageStarting       = "Download Starting..."
	MessagePending        = "Download Pending..."
	MessageProgress       = "Downloading...May Take A Few Minutes"
	MessageFinalizing     = "Download Finished, Preparing File..."
	MessageComplete       = "Download Complete!"
	MessageFailed         = "Download Failed. Please refresh page and try again."
	MessageQueueDown      = "Download could not be started. Please try again."
	MessageStatusDegraded = "Checking download status..."
)

// Observation is the outcome of one status call.
type Observation struct {
	Status jobqueue.RemoteStatus
	Err    error
}

// Step is the decision for one tick.
type Step struct {
	Next    State
	Message string
	// Transient is set when the status call failed in a way that says
	// nothing about the job; the state is kept and polling continues.
	Transient bool
}

// Advance computes the next state from the current one and the latest
// observation. It never moves backwards and never jumps from Pending or
// Progress straight to Complete: a finished job always passes through
// SuccessPendingResult, so its result is read on a later poll.
func Advance(current State, obs Observation) Step {
	if !current.Active() {
		// Nothing to query. Terminal states are cleared by the session in
		// the tick that reached them.
		return Step{Next: StateIdle}
	}

	if obs.Err != nil {
		if errors.Is(obs.Err, jobqueue.ErrUnknownHandle) {
			return Step{Next: StateFailure, Message: MessageFailed}
		}
		return Step{Next: current, Message: MessageStatusDegraded, Transient: true}
	}

	switch obs.Status.State {
	case jobqueue.RemoteFailure:
		return Step{Next: StateFailure, Message: MessageFailed}

	case jobqueue.RemoteSuccess:
		if current == StateSuccessPendingResult && obs.Status.HasResult() {
			return Step{Next: StateComplete, Message: MessageComplete}
		}
		return Step{Next: StateSuccessPendingResult, Message: MessageFinalizing}

	case jobqueue.RemoteProgress:
		if current == StatePending {
			return Step{Next: StateProgress, Message: MessageProgress}
		}
		return Step{Next: current, Message: messageFor(current)}

	default:
		// Pending, or a state we do not recognize: hold position.
		return Step{Next: current, Message: messageFor(current)}
	}
}

func messageFor(s State) string {
	switch s {
	case StatePending:
		return MessagePending
	case StateProgress:
		return MessageProgress
	case StateSuccessPendingResult:
		return MessageFinalizing
	case StateComplete:
		return MessageComplete
	case StateFailure:
		return MessageFailed
	default:
		return ""
	}
}
