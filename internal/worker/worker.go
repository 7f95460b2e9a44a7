package worker

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/wnt/stakepool/internal/logger"
	"github.com/wnt/stakepool/internal/queue"
	"github.com/wnt/stakepool/internal/staking"
)

// Applier applies a single queued operation
type Applier interface {
	Apply(ctx context.Context, op *staking.Operation) (*staking.Result, error)
}

// Worker represents a single operation processing worker
type Worker struct {
	id           string
	queue        *queue.Client
	service      Applier
	pollInterval time.Duration
	logger       zerolog.Logger
	stopped      atomic.Bool
}

// NewWorker creates a new worker instance
func NewWorker(id string, queueClient *queue.Client, service Applier, pollInterval time.Duration, baseLogger zerolog.Logger) *Worker {
	return &Worker{
		id:           id,
		queue:        queueClient,
		service:      service,
		pollInterval: pollInterval,
		logger:       logger.WithWorker(baseLogger, id),
	}
}

// Start begins the worker processing loop
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info().Msg("Starting worker")

	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("Worker received shutdown signal")
			return ctx.Err()
		default:
			if w.stopped.Load() {
				w.logger.Info().Msg("Worker stopped")
				return nil
			}

			processed, err := w.processOperation(ctx)
			if err != nil {
				w.logger.Error().Err(err).Msg("Failed to process operation")
			}
			if processed && err == nil {
				continue
			}

			// Pause when the queue is empty or Redis is failing to avoid spinning
			select {
			case <-time.After(w.pollInterval):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// Stop signals the worker to stop gracefully
func (w *Worker) Stop() {
	w.stopped.Store(true)
	w.logger.Info().Msg("Worker stop signal received")
}

// processOperation pops one operation, applies it and stores its result.
// It reports whether an operation was taken from the queue.
func (w *Worker) processOperation(ctx context.Context) (bool, error) {
	op, err := w.queue.Pop(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to pop operation from queue: %w", err)
	}
	if op == nil {
		return false, nil
	}

	if err := w.queue.SetInFlight(ctx, op.ID, w.id); err != nil {
		// Re-queue the operation since we couldn't track it
		if requeueErr := w.queue.Push(ctx, op); requeueErr != nil {
			w.logger.Error().Err(requeueErr).Str("operation_id", op.ID).Msg("Failed to requeue operation after in-flight error")
		}
		return true, err
	}

	opLogger := logger.WithOperation(w.logger, op.ID, string(op.Kind))
	startTime := time.Now()

	result, applyErr := w.service.Apply(ctx, op)
	duration := time.Since(startTime)

	if result == nil {
		// Validate rejected the operation before it reached the service
		result = &staking.Result{
			OperationID: op.ID,
			Kind:        op.Kind,
			Status:      "rejected",
			Pool:        op.Pool,
			CompletedAt: time.Now().UTC(),
		}
		if applyErr != nil {
			result.Error = applyErr.Error()
		}
	}

	if applyErr != nil && ctx.Err() != nil {
		// Interrupted by shutdown; the stuck recovery loop requeues it from in-flight
		opLogger.Warn().Err(applyErr).Msg("Operation interrupted by shutdown")
		return true, nil
	}

	// The result is stored even while shutting down so a committed operation is not replayed
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := w.queue.Complete(storeCtx, result); err != nil {
		return true, fmt.Errorf("failed to store result of %s: %w", op.ID, err)
	}

	switch result.Status {
	case "success":
		opLogger.Debug().Dur("duration", duration).Msg("Operation applied")
	case "rejected":
		opLogger.Info().Str("reason", result.Error).Msg("Operation rejected")
	default:
		opLogger.Error().Str("error", result.Error).Dur("duration", duration).Msg("Operation failed")
	}

	return true, nil
}
