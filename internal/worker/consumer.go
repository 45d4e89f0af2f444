package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Tim-0lu/env-can-wx-app/internal/worker/domain"
)

// setupConsumer starts consuming with the configured prefetch window and
// manual acknowledgment.
func (w *Worker) setupConsumer() (<-chan amqp.Delivery, error) {
	// The worker ID doubles as the consumer tag.
	deliveries, err := w.consumer.Consume(w.workerID, w.prefetchCount)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	w.logger.Info("RabbitMQ consumer started",
		slog.String("consumer_tag", w.workerID),
		slog.String("queue", w.queueName),
		slog.Int("prefetch_count", w.prefetchCount),
	)

	return deliveries, nil
}

// startMessageDispatcher listens to RabbitMQ deliveries and dispatches jobs to
// the worker pool. It reports whether it stopped because the broker closed
// the delivery or notification channel.
func (w *Worker) startMessageDispatcher(ctx context.Context, deliveries <-chan amqp.Delivery, closeNotify <-chan *amqp.Error) bool {
	w.logger.Info("Message dispatcher started")

	for {
		select {
		case amqpErr, ok := <-closeNotify:
			if ok && amqpErr != nil {
				w.logger.Warn("RabbitMQ channel closed",
					slog.Int("code", amqpErr.Code),
					slog.String("reason", amqpErr.Reason),
				)
			} else {
				w.logger.Warn("RabbitMQ channel closed")
			}
			return true

		case <-ctx.Done():
			w.logger.Info("Message dispatcher stopped - context canceled")
			return false

		case <-w.stopChan:
			w.logger.Info("Message dispatcher stopped - stopChan closed")
			return false

		case delivery, ok := <-deliveries:
			if !ok {
				w.logger.Warn("RabbitMQ delivery channel closed")
				return true
			}

			msg, ok := w.parseDelivery(delivery)
			if !ok {
				continue
			}

			select {
			case w.jobsChan <- &task{msg: msg, acker: delivery.Acknowledger}:
				w.logger.Debug("Job dispatched to worker pool",
					slog.String("job_id", msg.JobID),
					slog.Uint64("delivery_tag", delivery.DeliveryTag),
				)
			case <-ctx.Done():
				w.logger.Info("Message dispatcher stopped while dispatching job")
				// NACK the message so it can be reprocessed
				if nackErr := delivery.Nack(false, true); nackErr != nil {
					w.logger.Error("Failed to NACK message on shutdown",
						slog.String("error", nackErr.Error()),
					)
				}
				return false
			}
		}
	}
}

// parseDelivery extracts the job message. Malformed bodies and non-UUID job
// ids are rejected without requeue so they land in the dead letter queue.
func (w *Worker) parseDelivery(delivery amqp.Delivery) (domain.JobMessage, bool) {
	var msg domain.JobMessage
	if err := json.Unmarshal(delivery.Body, &msg); err != nil {
		w.logger.Error("Failed to parse message JSON",
			slog.String("error", err.Error()),
			slog.String("body", string(delivery.Body)),
		)
		w.reject(delivery)
		return domain.JobMessage{}, false
	}

	if _, err := uuid.Parse(msg.JobID); err != nil {
		w.logger.Error("Invalid job_id format - not a UUID",
			slog.String("job_id", msg.JobID),
			slog.String("error", err.Error()),
		)
		w.reject(delivery)
		return domain.JobMessage{}, false
	}

	msg.DeliveryTag = delivery.DeliveryTag
	return msg, true
}

func (w *Worker) reject(delivery amqp.Delivery) {
	if err := delivery.Nack(false, false); err != nil {
		w.logger.Error("Failed to NACK rejected message",
			slog.String("error", err.Error()),
		)
	}
}
