package worker

import (
	"context"
	"errors"
)

// JobHandler defines the interface that all job handlers must implement.
// Each handler is responsible for executing a specific type of background job.
type JobHandler interface {
	// Type returns the job type identifier that this handler processes.
	Type() string

	// Handle executes the job with the given JSON payload.
	// Use NewPermanentError to mark a failure that must not be retried.
	Handle(ctx context.Context, payload []byte) error
}

// FuncHandler adapts a function to the JobHandler interface.
type FuncHandler struct {
	JobType string
	Fn      func(ctx context.Context, payload []byte) error
}

// Type returns the job type identifier.
func (h FuncHandler) Type() string { return h.JobType }

// Handle calls h.Fn.
func (h FuncHandler) Handle(ctx context.Context, payload []byte) error {
	return h.Fn(ctx, payload)
}

// PermanentError wraps an error to indicate it should not be retried.
type PermanentError struct {
	Err error
}

// Error implements the error interface.
func (e *PermanentError) Error() string {
	return e.Err.Error()
}

// Unwrap allows errors.Is and errors.As to work with PermanentError.
func (e *PermanentError) Unwrap() error {
	return e.Err
}

// NewPermanentError creates a new PermanentError that wraps the given error.
// Use this to indicate that a job should not be retried.
func NewPermanentError(err error) error {
	return &PermanentError{Err: err}
}

// IsPermanent checks if an error is a PermanentError.
// Returns true if the error (or any error it wraps) is a PermanentError.
func IsPermanent(err error) bool {
	var permErr *PermanentError
	return errors.As(err, &permErr)
}
