package orchestrator

import (
	"time"

	"github.com/Tim-0lu/env-can-wx-app/internal/descriptor"
	"github.com/Tim-0lu/env-can-wx-app/internal/jobqueue"
)

// StationMetadata identifies the station an artifact was built for.
type StationMetadata struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Artifact is handed to the caller when a job completes. A download link for
// Name is requested from the artifact store afterwards.
type Artifact struct {
	Name     string          `json:"name"`
	Station  StationMetadata `json:"station"`
	Metadata map[string]any  `json:"metadata,omitempty"`
}

// Outcome records how a job ended. It is produced exactly once per handle.
type Outcome struct {
	Handle     jobqueue.Handle `json:"handle"`
	State      State           `json:"state"`
	Message    string          `json:"message"`
	Artifact   *Artifact       `json:"artifact,omitempty"`
	FinishedAt time.Time       `json:"finished_at"`
}

func completeOutcome(h jobqueue.Handle, d descriptor.Descriptor, payload map[string]any, now time.Time) Outcome {
	return Outcome{
		Handle:  h,
		State:   StateComplete,
		Message: MessageComplete,
		Artifact: &Artifact{
			Name: d.ArtifactName(),
			Station: StationMetadata{
				ID:        d.StationID(),
				Name:      d.StationName(),
				Latitude:  d.Latitude(),
				Longitude: d.Longitude(),
			},
			Metadata: withoutResult(payload),
		},
		FinishedAt: now,
	}
}

func failureOutcome(h jobqueue.Handle, now time.Time) Outcome {
	return Outcome{
		Handle:     h,
		State:      StateFailure,
		Message:    MessageFailed,
		FinishedAt: now,
	}
}

// withoutResult copies payload minus the materialization marker.
func withoutResult(payload map[string]any) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		if k == jobqueue.ResultKey {
			continue
		}
		out[k] = v
	}
	return out
}
