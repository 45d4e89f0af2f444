package jobqueue

import (
	"context"
	"fmt"
	"time"
)

// JobFilter narrows List.
type JobFilter struct {
	StationID string
	Status    string
	PageSize  int
	Cursor    *JobCursor
}

// JobCursor is the keyset position of the last row of a page.
type JobCursor struct {
	CreatedAt time.Time
	JobID     string
}

// List returns jobs newest first. It fetches one row past PageSize so the
// caller can tell whether another page exists.
func (q *Queue) List(ctx context.Context, filter JobFilter) ([]Job, error) {
	query := `
		SELECT
			job_id, idempotency_key, job_type, station_id, artifact_name,
			payload, status, error_message, retry_count, max_retries,
			timeout_seconds, created_at, updated_at
		FROM jobs
		WHERE 1=1
	`
	args := []interface{}{}
	argIdx := 1

	if filter.StationID != "" {
		query += fmt.Sprintf(" AND station_id = $%d", argIdx)
		args = append(args, filter.StationID)
		argIdx++
	}

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, job_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.JobID)
		argIdx += 2
	}

	query += " ORDER BY created_at DESC, job_id DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var jobs []Job
	if err := q.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	return jobs, nil
}
