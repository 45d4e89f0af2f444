package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Tim-0lu/env-can-wx-app/internal/descriptor"
	"github.com/Tim-0lu/env-can-wx-app/internal/worker/domain"
	"github.com/Tim-0lu/env-can-wx-app/internal/worker/fetch"
)

// ErrDeliveriesClosed is returned by Start when the broker stops delivering
// or closes the channel before the worker was asked to stop.
var ErrDeliveriesClosed = errors.New("rabbitmq delivery channel closed")

// JobStore is the slice of *storage.Storage the worker uses.
type JobStore interface {
	ClaimJob(ctx context.Context, jobID, workerID string) (*domain.Job, error)
	MarkCompleted(ctx context.Context, jobID string) error
	StoreResult(ctx context.Context, jobID string, result map[string]any) error
	ReleaseJob(ctx context.Context, jobID, errorMsg string) error
	FailJob(ctx context.Context, jobID, errorMsg string) error
	UpdateJobHeartbeat(ctx context.Context, jobID string) error
}

// Consumer starts a delivery stream and reports channel closure.
// *rabbitmq.Client satisfies it.
type Consumer interface {
	Consume(consumerTag string, prefetchCount int) (<-chan amqp.Delivery, error)
	NotifyClose() <-chan *amqp.Error
}

// Fetcher writes the data for a descriptor to dst. *fetch.Fetcher satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, d descriptor.Descriptor, dst string) (fetch.Result, error)
}

// ArtifactPaths resolves artifact names in the staging directory.
// *artifact.Store satisfies it.
type ArtifactPaths interface {
	Path(name string) (string, error)
}

// Config holds worker configuration
type Config struct {
	Logger            *slog.Logger
	Storage           JobStore
	Consumer          Consumer
	Fetcher           Fetcher
	Artifacts         ArtifactPaths
	WorkerID          string
	QueueName         string
	Concurrency       int
	PrefetchCount     int
	JobTimeout        time.Duration
	HeartbeatInterval time.Duration
}

// Worker represents the background job worker
type Worker struct {
	logger            *slog.Logger
	storage           JobStore
	consumer          Consumer
	fetcher           Fetcher
	artifacts         ArtifactPaths
	workerID          string
	queueName         string
	concurrency       int
	prefetchCount     int
	jobTimeout        time.Duration
	heartbeatInterval time.Duration

	jobsChan chan *task
	wg       sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
}

// task is a dispatched message plus the handle used to settle it.
type task struct {
	msg   domain.JobMessage
	acker amqp.Acknowledger
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	prefetch := cfg.PrefetchCount
	if prefetch <= 0 {
		prefetch = concurrency
	}
	jobTimeout := cfg.JobTimeout
	if jobTimeout <= 0 {
		jobTimeout = domain.DefaultJobTimeout
	}
	heartbeat := cfg.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = domain.DefaultHeartbeatInterval
	}

	return &Worker{
		logger:            cfg.Logger.With(slog.String("worker_id", cfg.WorkerID)),
		storage:           cfg.Storage,
		consumer:          cfg.Consumer,
		fetcher:           cfg.Fetcher,
		artifacts:         cfg.Artifacts,
		workerID:          cfg.WorkerID,
		queueName:         cfg.QueueName,
		concurrency:       concurrency,
		prefetchCount:     prefetch,
		jobTimeout:        jobTimeout,
		heartbeatInterval: heartbeat,
		jobsChan:          make(chan *task),
		stopChan:          make(chan struct{}),
	}
}

// Start consumes and processes jobs until ctx is canceled or Stop is called.
// Every dispatched message is settled before it returns.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.Int("concurrency", w.concurrency),
		slog.Duration("job_timeout", w.jobTimeout),
	)

	deliveries, err := w.setupConsumer()
	if err != nil {
		return err
	}

	w.spawnWorkerPool(ctx)
	closed := w.startMessageDispatcher(ctx, deliveries, w.consumer.NotifyClose())

	close(w.jobsChan)
	w.wg.Wait()

	if closed && ctx.Err() == nil {
		return ErrDeliveriesClosed
	}

	w.logger.Info("Worker context canceled, stopped")
	return nil
}

// Stop asks the worker to exit. It does not wait; Start returns once every
// in-flight job is settled.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		w.logger.Info("Stopping worker...")
		close(w.stopChan)
	})
}

// ID returns the worker identifier used as consumer tag and claim owner.
func (w *Worker) ID() string { return w.workerID }
