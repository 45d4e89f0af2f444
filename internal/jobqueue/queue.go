package jobqueue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/Tim-0lu/env-can-wx-app/internal/descriptor"
)

// Publisher delivers a message to the worker pool. *rabbitmq.Client
// satisfies it.
type Publisher interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
}

// Options tune the rows Queue writes.
type Options struct {
	MaxRetries     int
	TimeoutSeconds int
}

// Queue is the PostgreSQL + RabbitMQ implementation of Client.
type Queue struct {
	db        *sqlx.DB
	publisher Publisher
	logger    *slog.Logger
	opts      Options
	now       func() time.Time
}

var _ Client = (*Queue)(nil)

// New creates a Queue.
func New(db *sqlx.DB, publisher Publisher, logger *slog.Logger, opts Options) *Queue {
	return &Queue{
		db:        db,
		publisher: publisher,
		logger:    logger,
		opts:      opts,
		now:       time.Now,
	}
}

// Submit records the job as PENDING and publishes it to the worker queue.
func (q *Queue) Submit(ctx context.Context, d descriptor.Descriptor) (Handle, error) {
	payload, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("failed to marshal descriptor: %w", err)
	}

	now := q.now().UTC()
	job := Job{
		JobID:          uuid.New().String(),
		IdempotencyKey: d.ArtifactName(),
		JobType:        JobTypeStationDownload,
		StationID:      d.StationID(),
		ArtifactName:   d.ArtifactName(),
		Payload:        string(payload),
		Status:         JobStatusPending,
		MaxRetries:     q.opts.MaxRetries,
		TimeoutSeconds: q.opts.TimeoutSeconds,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	query := `
		INSERT INTO jobs (
			job_id, idempotency_key, job_type, station_id, artifact_name,
			payload, status, max_retries, timeout_seconds, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10, $11
		)
	`

	_, err = q.db.ExecContext(ctx, query,
		job.JobID,
		job.IdempotencyKey,
		job.JobType,
		job.StationID,
		job.ArtifactName,
		job.Payload,
		job.Status,
		job.MaxRetries,
		job.TimeoutSeconds,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		q.logger.Error("Failed to record job",
			slog.String("artifact_name", job.ArtifactName),
			slog.Any("error", err),
		)
		return "", fmt.Errorf("%w: failed to record job: %v", ErrQueueUnavailable, err)
	}

	body, err := json.Marshal(Message{JobID: job.JobID})
	if err != nil {
		return "", fmt.Errorf("failed to marshal message: %w", err)
	}

	if err := q.publisher.PublishWithRetry(ctx, body, "application/json"); err != nil {
		q.logger.Error("Failed to publish job",
			slog.String("job_id", job.JobID),
			slog.Any("error", err),
		)
		// No worker will ever pick this row up.
		if delErr := q.delete(context.WithoutCancel(ctx), job.JobID); delErr != nil {
			q.logger.Warn("Failed to remove unpublished job",
				slog.String("job_id", job.JobID),
				slog.Any("error", delErr),
			)
		}
		return "", fmt.Errorf("%w: failed to publish job: %v", ErrQueueUnavailable, err)
	}

	q.logger.Info("Job submitted",
		slog.String("job_id", job.JobID),
		slog.String("artifact_name", job.ArtifactName),
		slog.String("frequency", string(d.Frequency())),
	)

	return Handle(job.JobID), nil
}

// Status reads the current status of a job.
func (q *Queue) Status(ctx context.Context, h Handle) (RemoteStatus, error) {
	if _, err := uuid.Parse(string(h)); err != nil {
		return RemoteStatus{}, ErrUnknownHandle
	}

	var row struct {
		Status string `db:"status"`
		Result []byte `db:"result"`
	}

	err := q.db.GetContext(ctx, &row, `SELECT status, result FROM jobs WHERE job_id = $1`, string(h))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return RemoteStatus{}, ErrUnknownHandle
		}
		return RemoteStatus{}, fmt.Errorf("failed to get job status: %w", err)
	}

	state, ok := remoteState(row.Status)
	if !ok {
		return RemoteStatus{}, fmt.Errorf("unexpected job status %q", row.Status)
	}

	status := RemoteStatus{State: state}
	if state == RemoteSuccess {
		status.Payload = map[string]any{}
		if len(row.Result) > 0 {
			if err := json.Unmarshal(row.Result, &status.Payload); err != nil {
				return RemoteStatus{}, fmt.Errorf("failed to decode job result: %w", err)
			}
		}
	}

	return status, nil
}

// Discard deletes the job row. It is idempotent.
func (q *Queue) Discard(ctx context.Context, h Handle) error {
	if _, err := uuid.Parse(string(h)); err != nil {
		return nil
	}

	if err := q.delete(ctx, string(h)); err != nil {
		return fmt.Errorf("failed to discard job: %w", err)
	}

	q.logger.Debug("Job discarded", slog.String("job_id", string(h)))
	return nil
}

func (q *Queue) delete(ctx context.Context, jobID string) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM jobs WHERE job_id = $1`, jobID)
	return err
}
