package jobqueue

import (
	"database/sql"
	"time"
)

// Job status values stored in the jobs table.
const (
	JobStatusPending   = "PENDING"
	JobStatusRunning   = "RUNNING"
	JobStatusCompleted = "COMPLETED"
	JobStatusFailed    = "FAILED"
)

// JobTypeStationDownload is the only job type this service submits.
const JobTypeStationDownload = "station_download"

// Job is a row of the jobs table.
type Job struct {
	JobID          string         `db:"job_id"`
	IdempotencyKey string         `db:"idempotency_key"`
	JobType        string         `db:"job_type"`
	StationID      string         `db:"station_id"`
	ArtifactName   string         `db:"artifact_name"`
	Payload        string         `db:"payload"`
	Status         string         `db:"status"`
	ErrorMessage   sql.NullString `db:"error_message"`
	RetryCount     int            `db:"retry_count"`
	MaxRetries     int            `db:"max_retries"`
	TimeoutSeconds int            `db:"timeout_seconds"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
}

// Message is the body published to the worker queue.
type Message struct {
	JobID string `json:"job_id"`
}

// remoteState maps a stored status onto the remote job lifecycle.
func remoteState(status string) (RemoteState, bool) {
	switch status {
	case JobStatusPending:
		return RemotePending, true
	case JobStatusRunning:
		return RemoteProgress, true
	case JobStatusCompleted:
		return RemoteSuccess, true
	case JobStatusFailed:
		return RemoteFailure, true
	default:
		return "", false
	}
}
