package dto

import "github.com/Tim-0lu/env-can-wx-app/internal/orchestrator"

// PreviewResponse confirms what a selection would download.
type PreviewResponse struct {
	ArtifactName string `json:"artifact_name"`
	Summary      string `json:"summary"`
	Frequency    string `json:"frequency"`
	StartDate    string `json:"start_date"`
	EndDate      string `json:"end_date"`
}

// SessionResponse is the state of a session's download as seen by the page.
type SessionResponse struct {
	SessionID      string                `json:"session_id"`
	State          orchestrator.State    `json:"state"`
	Handle         string                `json:"handle,omitempty"`
	Message        string                `json:"message"`
	ArtifactName   string                `json:"artifact_name,omitempty"`
	PollIntervalMS int64                 `json:"poll_interval_ms"`
	LastError      string                `json:"last_error,omitempty"`
	Outcome        *orchestrator.Outcome `json:"outcome,omitempty"`
	DownloadPath   string                `json:"download_path,omitempty"`
}
