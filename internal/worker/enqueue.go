package worker

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/DukeRupert/defectscan/internal/metrics"
	"github.com/google/uuid"
)

// Job type constants - these must match the JobHandler.Type() values
const (
	JobTypeAnalyzeVideo = "analyze_video"
)

var (
	// ErrQueueFull is returned by Enqueue when no queue slot is free.
	ErrQueueFull = errors.New("job queue is full")

	// ErrStopped is returned by Enqueue after Stop.
	ErrStopped = errors.New("worker is stopped")

	// ErrUnknownJobType is returned by Enqueue for job types without a
	// registered handler.
	ErrUnknownJobType = errors.New("no handler registered for job type")
)

// Job is one unit of queued work.
type Job struct {
	ID          string
	Type        string
	Payload     []byte
	MaxAttempts int
	EnqueuedAt  time.Time
}

// AnalyzeVideoPayload is the payload for video analysis jobs.
type AnalyzeVideoPayload struct {
	SessionID string `json:"session_id"`
}

// EnqueueOption is a functional option for customizing job enqueue parameters.
type EnqueueOption func(*Job)

// WithMaxAttempts sets the maximum number of attempts for one job.
func WithMaxAttempts(attempts int) EnqueueOption {
	return func(j *Job) {
		j.MaxAttempts = attempts
	}
}

// Enqueue marshals payload to JSON and queues a job of the given type. It
// never blocks: a full queue fails with ErrQueueFull.
func (w *Worker) Enqueue(jobType string, payload interface{}, opts ...EnqueueOption) (Job, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return Job{}, fmt.Errorf("marshal payload: %w", err)
	}

	job := Job{
		ID:          uuid.NewString(),
		Type:        jobType,
		Payload:     payloadJSON,
		MaxAttempts: w.config.MaxAttempts,
		EnqueuedAt:  time.Now(),
	}
	for _, opt := range opts {
		opt(&job)
	}
	job.MaxAttempts = max(job.MaxAttempts, 1)

	w.mu.RLock()
	defer w.mu.RUnlock()

	if _, ok := w.handlers[jobType]; !ok {
		return Job{}, fmt.Errorf("%w: %s", ErrUnknownJobType, jobType)
	}
	if w.stopped {
		metrics.JobRejected(jobType)
		return Job{}, ErrStopped
	}

	select {
	case w.queue <- job:
	default:
		metrics.JobRejected(jobType)
		w.logger.Warn("Job queue full, rejecting job", "job_type", jobType, "queue_size", cap(w.queue))
		return Job{}, ErrQueueFull
	}

	w.logger.Debug("Job enqueued", "job_id", job.ID, "job_type", jobType)
	return job, nil
}

// EnqueueAnalyzeVideo queues the analysis of an uploaded video.
func EnqueueAnalyzeVideo(w *Worker, sessionID string, opts ...EnqueueOption) (Job, error) {
	return w.Enqueue(JobTypeAnalyzeVideo, AnalyzeVideoPayload{SessionID: sessionID}, opts...)
}
