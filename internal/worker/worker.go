// Package worker runs background jobs on a bounded pool of goroutines fed by
// an in-memory queue.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/DukeRupert/defectscan/internal/metrics"
)

// Worker manages background job processing with concurrent workers.
type Worker struct {
	handlers map[string]JobHandler
	config   Config
	logger   *slog.Logger
	queue    chan Job

	// mu guards stopped and makes sends on queue safe against Stop closing it.
	mu      sync.RWMutex
	stopped bool
	started bool

	// ctx is the parent of every job context; cancel aborts running jobs.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Worker with the given configuration.
// The worker must be started with Start() and stopped with Stop().
func New(config Config, logger *slog.Logger) (*Worker, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Worker{
		handlers: make(map[string]JobHandler),
		config:   config,
		logger:   logger,
		queue:    make(chan Job, config.QueueSize),
	}, nil
}

// Register adds a job handler to the worker.
// The handler's Type() must be unique. Call this before Start().
func (w *Worker) Register(handler JobHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()

	jobType := handler.Type()
	if _, exists := w.handlers[jobType]; exists {
		w.logger.Warn("Overwriting existing handler", "job_type", jobType)
	}
	w.handlers[jobType] = handler
	w.logger.Debug("Registered job handler", "job_type", jobType)
}

// Start begins processing jobs with the configured number of concurrent
// workers. Jobs run with contexts derived from ctx, stripped of its
// cancellation: use Stop to end them.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started || w.stopped {
		return
	}
	w.started = true

	w.ctx, w.cancel = context.WithCancel(context.WithoutCancel(ctx))

	for i := 0; i < w.config.Concurrency; i++ {
		w.wg.Add(1)
		go w.runWorker(i + 1)
	}

	w.logger.Info("Worker started",
		"concurrency", w.config.Concurrency,
		"queue_size", w.config.QueueSize,
	)
}

// Stop stops accepting jobs and waits for queued and running jobs to finish.
// Jobs still running after ShutdownTimeout are canceled, and Stop waits for
// them to return.
func (w *Worker) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	close(w.queue)
	started := w.started
	w.mu.Unlock()

	if !started {
		return
	}

	w.logger.Info("Stopping worker...", "queued", len(w.queue))

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(w.config.ShutdownTimeout)
	defer timer.Stop()

	select {
	case <-done:
		w.logger.Info("Worker stopped gracefully")
	case <-timer.C:
		w.logger.Warn("Worker shutdown timeout exceeded, canceling running jobs")
		w.cancel()
		<-done
	}
	w.cancel()
}

// QueueLength returns the number of jobs waiting for a worker.
func (w *Worker) QueueLength() int {
	return len(w.queue)
}

// runWorker is the main loop for a worker goroutine. It exits once the queue
// is closed and drained.
func (w *Worker) runWorker(workerID int) {
	defer w.wg.Done()

	logger := w.logger.With("worker_id", workerID)
	logger.Debug("Worker started")

	for job := range w.queue {
		w.processJob(job, logger)
	}

	logger.Debug("Worker stopping")
}

// processJob runs a job until it succeeds, fails permanently or runs out of
// attempts.
func (w *Worker) processJob(job Job, logger *slog.Logger) {
	logger = logger.With("job_id", job.ID, "job_type", job.Type)

	w.mu.RLock()
	handler, ok := w.handlers[job.Type]
	w.mu.RUnlock()
	if !ok {
		logger.Error("Job failed", "error", "no handler registered")
		return
	}

	for attempt := 1; ; attempt++ {
		logger := logger.With("attempt", attempt)
		logger.Info("Processing job")

		start := time.Now()
		metrics.JobStarted(job.Type)
		err := w.executeJob(handler, job)
		if err == nil {
			metrics.JobCompleted(job.Type, time.Since(start))
			logger.Info("Job completed", "duration_ms", time.Since(start).Milliseconds())
			return
		}
		metrics.JobFailed(job.Type, time.Since(start))

		if IsPermanent(err) || attempt >= job.MaxAttempts {
			if IsPermanent(err) {
				logger.Warn("Job failed with permanent error, will not retry", "error", err)
			} else {
				logger.Error("Job failed", "error", err)
			}
			return
		}

		delay := w.config.RetryDelay * time.Duration(1<<(attempt-1))
		logger.Warn("Job failed, retrying", "error", err, "retry_in", delay)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-w.ctx.Done():
			timer.Stop()
			logger.Warn("Worker stopping, abandoning job retries")
			return
		}
	}
}

// executeJob runs the handler with a timeout context. Panics are turned into
// permanent errors.
func (w *Worker) executeJob(handler JobHandler, job Job) (err error) {
	jobCtx, cancel := context.WithTimeout(w.ctx, w.config.JobTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = NewPermanentError(fmt.Errorf("job panicked: %v", r))
		}
	}()

	return handler.Handle(jobCtx, job.Payload)
}
