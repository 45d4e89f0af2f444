// Package jobqueue is the boundary between the orchestration core and the
// remote worker pool. Submissions go out over RabbitMQ; status is read back
// from the jobs table the workers update.
package jobqueue

import (
	"context"
	"errors"

	"github.com/Tim-0lu/env-can-wx-app/internal/descriptor"
)

var (
	// ErrQueueUnavailable means the worker pool could not accept the job.
	// The caller may resubmit.
	ErrQueueUnavailable = errors.New("job queue unavailable")

	// ErrUnknownHandle means the handle was discarded or never existed.
	ErrUnknownHandle = errors.New("unknown job handle")
)

// ResultKey is the payload key a worker sets once its output is materialized.
const ResultKey = "result"

// Handle identifies a submitted job.
type Handle string

func (h Handle) String() string { return string(h) }

// RemoteState is the worker pool's view of a job.
type RemoteState string

const (
	RemotePending  RemoteState = "PENDING"
	RemoteProgress RemoteState = "PROGRESS"
	RemoteSuccess  RemoteState = "SUCCESS"
	RemoteFailure  RemoteState = "FAILURE"
)

// RemoteStatus is one status snapshot. Payload is non-nil only for
// RemoteSuccess and may still lack ResultKey.
type RemoteStatus struct {
	State   RemoteState
	Payload map[string]any
}

// HasResult reports whether the worker's result has reached the status store.
func (s RemoteStatus) HasResult() bool {
	if s.State != RemoteSuccess || s.Payload == nil {
		return false
	}
	_, ok := s.Payload[ResultKey]
	return ok
}

// Client submits jobs and reads their status. Implementations must be safe
// for concurrent use by many sessions.
type Client interface {
	Submit(ctx context.Context, d descriptor.Descriptor) (Handle, error)
	Status(ctx context.Context, h Handle) (RemoteStatus, error)
	// Discard releases remote bookkeeping. Unknown or already discarded
	// handles are not an error.
	Discard(ctx context.Context, h Handle) error
}
