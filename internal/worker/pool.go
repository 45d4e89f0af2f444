package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Tim-0lu/env-can-wx-app/internal/worker/domain"
)

// spawnWorkerPool spawns N worker goroutines based on concurrency configuration
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	w.logger.Info("Spawning worker pool",
		slog.Int("concurrency", w.concurrency),
	)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}

	w.logger.Info("Worker pool spawned successfully",
		slog.Int("worker_count", w.concurrency),
	)
}

// workerLoop is the main processing loop for each worker goroutine
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	workerName := fmt.Sprintf("%s-%d", w.workerID, workerNum)
	log := w.logger.With(slog.String("worker_name", workerName))
	log.Debug("Worker goroutine started", slog.Int("worker_num", workerNum))

	for {
		select {
		case <-w.stopChan:
			log.Info("Worker goroutine stopping - stopChan closed")
			return

		case <-ctx.Done():
			log.Info("Worker goroutine stopping - context canceled")
			return

		case t, ok := <-w.jobsChan:
			if !ok {
				log.Info("Worker goroutine stopping - jobsChan closed")
				return
			}

			log.Info("Worker received job",
				slog.String("job_id", t.msg.JobID),
				slog.Uint64("delivery_tag", t.msg.DeliveryTag),
			)

			err := w.processJob(ctx, &t.msg)
			w.settle(log, t, err)
		}
	}
}

// settle ACKs a processed message or NACKs it, requeueing only retryable
// failures.
func (w *Worker) settle(log *slog.Logger, t *task, err error) {
	if t.acker == nil {
		log.Error("Message has no acknowledger", slog.String("job_id", t.msg.JobID))
		return
	}

	if err == nil {
		if ackErr := t.acker.Ack(t.msg.DeliveryTag, false); ackErr != nil {
			log.Error("Failed to ACK message",
				slog.String("job_id", t.msg.JobID),
				slog.String("error", ackErr.Error()),
			)
			return
		}
		log.Info("Job message acknowledged", slog.String("job_id", t.msg.JobID))
		return
	}

	log.Error("Job processing failed",
		slog.String("job_id", t.msg.JobID),
		slog.String("error", err.Error()),
	)

	// Smart requeue decision based on error type
	requeue := w.shouldRequeueJob(err)

	if nackErr := t.acker.Nack(t.msg.DeliveryTag, false, requeue); nackErr != nil {
		log.Error("Failed to NACK message",
			slog.String("job_id", t.msg.JobID),
			slog.String("error", nackErr.Error()),
		)
		return
	}
	log.Info("Message NACKed",
		slog.String("job_id", t.msg.JobID),
		slog.Bool("requeue", requeue),
	)
}

// shouldRequeueJob reports whether a failed delivery goes back on the queue.
// Permanent failures win over a retryable wrapper; unknown errors are dropped.
func (w *Worker) shouldRequeueJob(err error) bool {
	if domain.Permanent(err) {
		return false
	}
	return domain.IsRetryable(err)
}
