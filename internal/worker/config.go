package worker

import (
	"fmt"
	"time"
)

// Config holds the configuration for the background job worker.
type Config struct {
	// Concurrency is the number of worker goroutines to run in parallel.
	// Each goroutine processes one job at a time.
	// Default: 2
	Concurrency int

	// QueueSize is how many jobs may wait for a free worker. Enqueue fails
	// with ErrQueueFull beyond that.
	// Default: 32
	QueueSize int

	// JobTimeout is the maximum time a single job attempt is allowed to run.
	// If a job exceeds this timeout, its context is canceled.
	// Default: 30 minutes
	JobTimeout time.Duration

	// ShutdownTimeout is how long Stop waits for queued and running jobs
	// before canceling them.
	// Default: 30 seconds
	ShutdownTimeout time.Duration

	// MaxAttempts is how many times a job runs before it is given up on,
	// unless it fails with a PermanentError. Jobs can override it.
	// Default: 1
	MaxAttempts int

	// RetryDelay is the base delay between attempts; it doubles after each
	// failure.
	// Default: 5 seconds
	RetryDelay time.Duration
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		Concurrency:     2,
		QueueSize:       32,
		JobTimeout:      30 * time.Minute,
		ShutdownTimeout: 30 * time.Second,
		MaxAttempts:     1,
		RetryDelay:      5 * time.Second,
	}
}

// Validate checks if the configuration is valid.
// Returns an error if any values are invalid.
func (c Config) Validate() error {
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency)
	}
	if c.Concurrency > 100 {
		return fmt.Errorf("concurrency too high (max 100), got %d", c.Concurrency)
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("queue size must be at least 1, got %d", c.QueueSize)
	}
	if c.JobTimeout <= 0 {
		return fmt.Errorf("job timeout must be positive, got %v", c.JobTimeout)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive, got %v", c.ShutdownTimeout)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1, got %d", c.MaxAttempts)
	}
	if c.MaxAttempts > 1 && c.RetryDelay <= 0 {
		return fmt.Errorf("retry delay must be positive when retries are enabled, got %v", c.RetryDelay)
	}
	return nil
}
