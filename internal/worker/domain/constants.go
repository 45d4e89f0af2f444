package domain

import "time"

// Job status constants
const (
	JobStatusPending   = "PENDING"
	JobStatusRunning   = "RUNNING"
	JobStatusCompleted = "COMPLETED"
	JobStatusFailed    = "FAILED"
)

// JobTypeStationDownload is the only job type the worker executes.
const JobTypeStationDownload = "station_download"

// Defaults applied when the worker config leaves a value unset.
const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultJobTimeout        = 10 * time.Minute
)

// Failure reasons recorded by the stale job sweep.
const (
	// ErrMsgHeartbeatLost is recorded on RUNNING jobs whose worker went silent.
	ErrMsgHeartbeatLost = "worker heartbeat lost"

	// ErrMsgResultLost is recorded on COMPLETED jobs whose result never
	// arrived.
	ErrMsgResultLost = "job result was never stored"
)
