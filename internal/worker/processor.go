package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Tim-0lu/env-can-wx-app/internal/descriptor"
	"github.com/Tim-0lu/env-can-wx-app/internal/worker/domain"
	"github.com/Tim-0lu/env-can-wx-app/internal/worker/fetch"
)

// processJob processes a single job with timeout, heartbeat, and status updates
func (w *Worker) processJob(ctx context.Context, msg *domain.JobMessage) error {
	log := w.logger.With(slog.String("job_id", msg.JobID))
	log.Info("Processing job")

	// Claim job from database (PENDING → RUNNING)
	job, err := w.storage.ClaimJob(ctx, msg.JobID, w.workerID)
	if err != nil {
		if errors.Is(err, domain.ErrJobAlreadyClaimed) {
			log.Warn("Job already claimed, skipping")
			return fmt.Errorf("job already claimed: %w", err)
		}
		log.Error("Failed to claim job", slog.String("error", err.Error()))
		return domain.NewRetryableError(fmt.Errorf("failed to claim job: %w", err))
	}

	// Status writes outlive a canceled job context so the row is settled.
	dbCtx := context.WithoutCancel(ctx)

	if job.JobType != domain.JobTypeStationDownload {
		w.failJob(dbCtx, log, job, fmt.Sprintf("%s: %s", domain.ErrUnsupportedJobType, job.JobType))
		return fmt.Errorf("%w: %s", domain.ErrUnsupportedJobType, job.JobType)
	}

	var d descriptor.Descriptor
	if err := json.Unmarshal([]byte(job.Payload), &d); err != nil {
		log.Error("Failed to parse job payload", slog.String("error", err.Error()))
		w.failJob(dbCtx, log, job, fmt.Sprintf("Invalid payload JSON: %s", err.Error()))
		return fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}

	dst, err := w.artifacts.Path(d.ArtifactName())
	if err != nil {
		w.failJob(dbCtx, log, job, fmt.Sprintf("Invalid artifact name: %s", err.Error()))
		return fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}

	jobTimeout := w.jobTimeout
	if job.TimeoutSeconds > 0 {
		jobTimeout = time.Duration(job.TimeoutSeconds) * time.Second
	}

	jobCtx, cancel := context.WithTimeout(ctx, jobTimeout)
	defer cancel()

	heartbeatDone := make(chan struct{})
	go w.sendJobHeartbeat(jobCtx, job.JobID, heartbeatDone)
	defer close(heartbeatDone)

	res, err := w.executeJob(jobCtx, job, d, dst)
	if err != nil {
		return w.handleFailure(dbCtx, log, job, err)
	}

	return w.recordSuccess(dbCtx, log, job, d, res)
}

// executeJob runs the download for a claimed job.
func (w *Worker) executeJob(ctx context.Context, job *domain.Job, d descriptor.Descriptor, dst string) (fetch.Result, error) {
	w.logger.Info("Executing job",
		slog.String("job_id", job.JobID),
		slog.String("station_id", d.StationID()),
		slog.String("frequency", string(d.Frequency())),
		slog.String("artifact_name", d.ArtifactName()),
	)

	started := time.Now()
	res, err := w.fetcher.Fetch(ctx, d, dst)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fetch.Result{}, fmt.Errorf("job execution canceled: %w", errors.Join(ctxErr, err))
		}
		return fetch.Result{}, err
	}

	w.logger.Info("Artifact written",
		slog.String("job_id", job.JobID),
		slog.Int("pages", res.Pages),
		slog.Int("rows", res.Rows),
		slog.Int64("bytes", res.Bytes),
		slog.Duration("elapsed", time.Since(started)),
	)
	return res, nil
}

// handleFailure releases the job for another attempt while retries remain,
// otherwise marks it FAILED.
func (w *Worker) handleFailure(ctx context.Context, log *slog.Logger, job *domain.Job, err error) error {
	log.Error("Job execution failed",
		slog.String("job_type", job.JobType),
		slog.String("error", err.Error()),
	)

	if job.CanRetry() {
		if relErr := w.storage.ReleaseJob(ctx, job.JobID, err.Error()); relErr != nil {
			if errors.Is(relErr, domain.ErrJobNotFound) {
				log.Info("Job discarded while running, dropping")
				return nil
			}
			log.Error("Failed to release job for retry", slog.String("error", relErr.Error()))
			return fmt.Errorf("failed to release job: %w", relErr)
		}

		log.Info("Job will be retried",
			slog.Int("retry_count", job.RetryCount),
			slog.Int("max_retries", job.MaxRetries),
		)
		return domain.NewRetryableError(fmt.Errorf("job execution failed: %w", err))
	}

	log.Warn("Job exceeded max retries",
		slog.Int("retry_count", job.RetryCount),
		slog.Int("max_retries", job.MaxRetries),
	)
	w.failJob(ctx, log, job, err.Error())
	return fmt.Errorf("%w: %v", domain.ErrMaxRetriesExceeded, err)
}

// recordSuccess writes completion in two steps: the status first, then the
// result. Readers in between see a successful job whose result is not yet
// available. A result that cannot be written fails the job.
func (w *Worker) recordSuccess(ctx context.Context, log *slog.Logger, job *domain.Job, d descriptor.Descriptor, res fetch.Result) error {
	if err := w.storage.MarkCompleted(ctx, job.JobID); err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			// Nobody is waiting for this artifact anymore; the staging sweep
			// removes the file.
			log.Info("Job discarded before completion was recorded")
			return nil
		}
		log.Error("Failed to update job status to COMPLETED", slog.String("error", err.Error()))
		return fmt.Errorf("failed to mark job completed: %w", err)
	}

	result := domain.DownloadResult{
		ArtifactName: d.ArtifactName(),
		StationID:    d.StationID(),
		StationName:  d.StationName(),
		Latitude:     d.Latitude(),
		Longitude:    d.Longitude(),
		Frequency:    string(d.Frequency()),
		Rows:         res.Rows,
		Bytes:        res.Bytes,
	}

	if err := w.storage.StoreResult(ctx, job.JobID, result.Map()); err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			log.Info("Job discarded before its result was stored")
			return nil
		}
		// A COMPLETED row without a result is never picked up again, so the
		// job is failed here. The stale job sweep catches it if this write
		// fails too.
		log.Error("Failed to store job result", slog.String("error", err.Error()))
		w.failJob(ctx, log, job, fmt.Sprintf("failed to store job result: %s", err.Error()))
		return fmt.Errorf("failed to store job result: %w", err)
	}

	log.Info("Job completed successfully",
		slog.String("artifact_name", d.ArtifactName()),
		slog.Int("rows", res.Rows),
	)
	return nil
}

func (w *Worker) failJob(ctx context.Context, log *slog.Logger, job *domain.Job, reason string) {
	if err := w.storage.FailJob(ctx, job.JobID, reason); err != nil && !errors.Is(err, domain.ErrJobNotFound) {
		log.Error("Failed to update job status to FAILED", slog.String("error", err.Error()))
	}
}

// sendJobHeartbeat periodically updates the job's heartbeat timestamp
func (w *Worker) sendJobHeartbeat(ctx context.Context, jobID string, done <-chan struct{}) {
	ticker := time.NewTicker(w.heartbeatInterval)
	defer ticker.Stop()

	w.logger.Debug("Job heartbeat started", slog.String("job_id", jobID))

	for {
		select {
		case <-done:
			w.logger.Debug("Job heartbeat stopped", slog.String("job_id", jobID))
			return

		case <-ctx.Done():
			w.logger.Debug("Job heartbeat stopped - context canceled", slog.String("job_id", jobID))
			return

		case <-ticker.C:
			if err := w.storage.UpdateJobHeartbeat(ctx, jobID); err != nil {
				w.logger.Warn("Failed to update job heartbeat",
					slog.String("job_id", jobID),
					slog.String("error", err.Error()),
				)
			} else {
				w.logger.Debug("Job heartbeat updated", slog.String("job_id", jobID))
			}
		}
	}
}
