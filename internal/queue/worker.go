package queue

import (
	"context"
	"errors"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/sramisetty/IDXR-Identity-Resolution-sub001/internal/interfaces"
)

// TaskHandler processes one dequeued task
type TaskHandler func(ctx context.Context, task *interfaces.Task) error

// WorkerPool polls the queue backend and dispatches tasks to registered
// handlers. This is the only out-of-process-style parallelism in the engine;
// the pipeline itself stays single-worker per job.
type WorkerPool struct {
	queueMgr     *Manager
	handlers     map[string]TaskHandler
	logger       arbor.ILogger
	concurrency  int
	pollInterval time.Duration
	ctx          context.Context
	cancel       context.CancelFunc
}

// NewWorkerPool creates a new worker pool
func NewWorkerPool(queueMgr *Manager, concurrency int, pollInterval time.Duration, logger arbor.ILogger) *WorkerPool {
	if concurrency <= 0 {
		concurrency = 1
	}
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &WorkerPool{
		queueMgr:     queueMgr,
		handlers:     make(map[string]TaskHandler),
		logger:       logger,
		concurrency:  concurrency,
		pollInterval: pollInterval,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// RegisterHandler registers a job type handler
func (wp *WorkerPool) RegisterHandler(jobType string, handler TaskHandler) {
	wp.handlers[jobType] = handler
	wp.logger.Debug().
		Str("job_type", jobType).
		Msg("Task handler registered")
}

// Start starts the worker pool
func (wp *WorkerPool) Start() error {
	wp.logger.Info().
		Int("concurrency", wp.concurrency).
		Msg("Starting worker pool")

	for i := 0; i < wp.concurrency; i++ {
		go wp.worker(i)
	}

	return nil
}

// Stop gracefully stops the worker pool
func (wp *WorkerPool) Stop() error {
	wp.logger.Info().Msg("Stopping worker pool")
	wp.cancel()
	return nil
}

// worker is the main loop polling for tasks
func (wp *WorkerPool) worker(workerID int) {
	// Stagger worker starts to reduce iterator contention on the shared store
	staggerDelay := (wp.pollInterval / time.Duration(wp.concurrency)) * time.Duration(workerID)
	if staggerDelay > 0 {
		time.Sleep(staggerDelay)
	}

	wp.logger.Debug().
		Int("worker_id", workerID).
		Dur("stagger_delay", staggerDelay).
		Msg("Worker started")

	ticker := time.NewTicker(wp.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-wp.ctx.Done():
			wp.logger.Debug().
				Int("worker_id", workerID).
				Msg("Worker stopped")
			return

		case <-ticker.C:
			if err := wp.processTask(workerID); err != nil {
				if errors.Is(err, ErrNoMessage) || errors.Is(err, ErrUnavailable) {
					continue
				}
				wp.logger.Warn().
					Err(err).
					Int("worker_id", workerID).
					Msg("Error processing task")
			}
		}
	}
}

// processTask receives and processes a single task
func (wp *WorkerPool) processTask(workerID int) error {
	task, ack, nack, err := wp.queueMgr.Receive(wp.ctx)
	if err != nil {
		return err
	}

	handler, exists := wp.handlers[task.JobType]
	if !exists {
		wp.logger.Error().
			Str("job_type", task.JobType).
			Str("job_id", task.JobID).
			Msg("No handler registered for job type")
		// Drop the task; redelivering it cannot succeed
		if ackErr := ack(); ackErr != nil {
			wp.logger.Warn().Err(ackErr).Msg("Failed to remove unhandled task")
		}
		return nil
	}

	wp.logger.Debug().
		Str("job_id", task.JobID).
		Str("job_type", task.JobType).
		Int("worker_id", workerID).
		Msg("Processing task")

	startTime := time.Now()
	handlerErr := handler(wp.ctx, task)
	duration := time.Since(startTime)

	if handlerErr != nil {
		wp.logger.Error().
			Err(handlerErr).
			Str("job_id", task.JobID).
			Str("job_type", task.JobType).
			Dur("duration", duration).
			Int("worker_id", workerID).
			Msg("Task handler failed")

		// Reschedule with backoff; receive-count budget dead-letters it eventually
		if nackErr := nack(); nackErr != nil {
			wp.logger.Warn().Err(nackErr).Str("job_id", task.JobID).Msg("Failed to reschedule task")
		}
		return handlerErr
	}

	wp.logger.Info().
		Str("job_id", task.JobID).
		Str("job_type", task.JobType).
		Dur("duration", duration).
		Int("worker_id", workerID).
		Msg("Task completed")

	if err := ack(); err != nil {
		wp.logger.Warn().
			Err(err).
			Str("job_id", task.JobID).
			Msg("Failed to remove task after successful processing")
		return err
	}

	return nil
}
