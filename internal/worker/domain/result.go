package domain

import "github.com/Tim-0lu/env-can-wx-app/internal/jobqueue"

// ResultKey marks a stored result as materialized. Pollers treat a completed
// job without it as still being written.
const ResultKey = jobqueue.ResultKey

// DownloadResult is what a finished download job stores as its result.
type DownloadResult struct {
	ArtifactName string
	StationID    string
	StationName  string
	Latitude     float64
	Longitude    float64
	Frequency    string
	Rows         int
	Bytes        int64
}

// Map renders the result for the jobs.result column.
func (r DownloadResult) Map() map[string]any {
	return map[string]any{
		ResultKey:       true,
		"artifact_name": r.ArtifactName,
		"station": map[string]any{
			"id":        r.StationID,
			"name":      r.StationName,
			"latitude":  r.Latitude,
			"longitude": r.Longitude,
		},
		"frequency": r.Frequency,
		"rows":      r.Rows,
		"bytes":     r.Bytes,
	}
}
