package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/Tim-0lu/env-can-wx-app/internal/worker/domain"
)

// Storage handles all database operations for the worker
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		logger: logger,
	}
}

// ClaimJob attempts to claim a job using optimistic locking
// Returns full job details on success, error if job is already claimed or doesn't exist
func (s *Storage) ClaimJob(ctx context.Context, jobID, workerID string) (*domain.Job, error) {
	query := `
		UPDATE jobs
		SET status = $1,
		    worker_id = $2,
		    started_at = NOW(),
		    last_heartbeat_at = NOW(),
		    updated_at = NOW()
		WHERE job_id = $3
		  AND status = $4
		RETURNING job_id, job_type, station_id, artifact_name, payload, retry_count, max_retries, timeout_seconds
	`

	var job domain.Job
	err := s.db.QueryRowContext(ctx, query, domain.JobStatusRunning, workerID, jobID, domain.JobStatusPending).Scan(
		&job.JobID,
		&job.JobType,
		&job.StationID,
		&job.ArtifactName,
		&job.Payload,
		&job.RetryCount,
		&job.MaxRetries,
		&job.TimeoutSeconds,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("Failed to claim job - already claimed or not found",
				slog.String("job_id", jobID),
				slog.String("worker_id", workerID),
			)
			return nil, domain.ErrJobAlreadyClaimed
		}
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	job.Status = domain.JobStatusRunning
	job.WorkerID = workerID

	s.logger.Info("Job claimed successfully",
		slog.String("job_id", jobID),
		slog.String("worker_id", workerID),
		slog.String("job_type", job.JobType),
	)

	return &job, nil
}

// MarkCompleted records that the job finished. The result column is left
// NULL until StoreResult runs, so status readers see the job as successful
// before its result is available.
func (s *Storage) MarkCompleted(ctx context.Context, jobID string) error {
	query := `
		UPDATE jobs
		SET status = $1,
		    result = NULL,
		    error_message = NULL,
		    completed_at = NOW(),
		    updated_at = NOW()
		WHERE job_id = $2 AND status = $3
	`

	res, err := s.db.ExecContext(ctx, query, domain.JobStatusCompleted, jobID, domain.JobStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to mark job completed: %w", err)
	}
	if err := requireRow(res); err != nil {
		return err
	}

	s.logger.Info("Job status updated",
		slog.String("job_id", jobID),
		slog.String("status", domain.JobStatusCompleted),
	)
	return nil
}

// StoreResult writes the result of a completed job.
func (s *Storage) StoreResult(ctx context.Context, jobID string, result map[string]any) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	query := `
		UPDATE jobs
		SET result = $1,
		    updated_at = NOW()
		WHERE job_id = $2 AND status = $3
	`

	res, err := s.db.ExecContext(ctx, query, resultJSON, jobID, domain.JobStatusCompleted)
	if err != nil {
		return fmt.Errorf("failed to store job result: %w", err)
	}
	if err := requireRow(res); err != nil {
		return err
	}

	s.logger.Debug("Job result stored", slog.String("job_id", jobID))
	return nil
}

// ReleaseJob returns a RUNNING job to PENDING for another attempt and bumps
// its retry count.
func (s *Storage) ReleaseJob(ctx context.Context, jobID, errorMsg string) error {
	query := `
		UPDATE jobs
		SET status = $1,
		    worker_id = NULL,
		    retry_count = retry_count + 1,
		    error_message = $2,
		    started_at = NULL,
		    last_heartbeat_at = NULL,
		    updated_at = NOW()
		WHERE job_id = $3 AND status = $4
	`

	res, err := s.db.ExecContext(ctx, query, domain.JobStatusPending, errorMsg, jobID, domain.JobStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to release job: %w", err)
	}
	if err := requireRow(res); err != nil {
		return err
	}

	s.logger.Info("Job released for retry", slog.String("job_id", jobID))
	return nil
}

// FailJob marks the job FAILED with errorMsg. A COMPLETED job can still be
// failed while its result is missing.
func (s *Storage) FailJob(ctx context.Context, jobID, errorMsg string) error {
	query := `
		UPDATE jobs
		SET status = $1,
		    error_message = $2,
		    completed_at = NOW(),
		    updated_at = NOW()
		WHERE job_id = $3
		  AND (status IN ($4, $5) OR (status = $6 AND result IS NULL))
	`

	res, err := s.db.ExecContext(ctx, query,
		domain.JobStatusFailed, errorMsg, jobID,
		domain.JobStatusPending, domain.JobStatusRunning, domain.JobStatusCompleted)
	if err != nil {
		return fmt.Errorf("failed to mark job failed: %w", err)
	}
	if err := requireRow(res); err != nil {
		return err
	}

	s.logger.Info("Job status updated",
		slog.String("job_id", jobID),
		slog.String("status", domain.JobStatusFailed),
	)
	return nil
}

// UpdateJobHeartbeat updates the last_heartbeat_at timestamp for a running job
func (s *Storage) UpdateJobHeartbeat(ctx context.Context, jobID string) error {
	query := `
		UPDATE jobs
		SET last_heartbeat_at = NOW(),
		    updated_at = NOW()
		WHERE job_id = $1 AND status = $2
	`

	result, err := s.db.ExecContext(ctx, query, jobID, domain.JobStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to update job heartbeat: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		s.logger.Warn("Job heartbeat update - no rows affected (job may not be running)",
			slog.String("job_id", jobID),
		)
	}

	return nil
}

// FailStaleJobs fails jobs that stopped making progress: RUNNING jobs whose
// last heartbeat is older than staleAfter, and COMPLETED jobs whose result
// was still missing staleAfter after completion. It returns how many were
// failed.
func (s *Storage) FailStaleJobs(ctx context.Context, staleAfter time.Duration) (int64, error) {
	query := `
		UPDATE jobs
		SET status = $1,
		    error_message = CASE WHEN status = $2 THEN $3::text ELSE $4::text END,
		    completed_at = NOW(),
		    updated_at = NOW()
		WHERE (status = $5
		       AND COALESCE(last_heartbeat_at, started_at, updated_at) < NOW() - make_interval(secs => $6))
		   OR (status = $2
		       AND result IS NULL
		       AND completed_at < NOW() - make_interval(secs => $6))
	`

	res, err := s.db.ExecContext(ctx, query,
		domain.JobStatusFailed,
		domain.JobStatusCompleted, domain.ErrMsgResultLost, domain.ErrMsgHeartbeatLost,
		domain.JobStatusRunning, staleAfter.Seconds())
	if err != nil {
		return 0, fmt.Errorf("failed to fail stale jobs: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if n > 0 {
		s.logger.Warn("Stale jobs failed",
			slog.Int64("count", n),
			slog.Duration("stale_after", staleAfter),
		)
	}
	return n, nil
}

// requireRow maps an update that touched nothing to ErrJobNotFound. The row
// is gone when the submitting session discarded the job.
func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}
