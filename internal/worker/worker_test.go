package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Concurrency = 1
	cfg.QueueSize = 4
	cfg.JobTimeout = time.Second
	cfg.ShutdownTimeout = time.Second
	cfg.RetryDelay = time.Millisecond
	return cfg
}

func newTestWorker(t *testing.T, cfg Config, handlers ...JobHandler) *Worker {
	t.Helper()
	w, err := New(cfg, testLogger())
	require.NoError(t, err)
	for _, h := range handlers {
		w.Register(h)
	}
	return w
}

func TestConfig_Validate(t *testing.T) {
	valid := DefaultConfig()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid default config", mutate: func(*Config) {}},
		{name: "concurrency too low", mutate: func(c *Config) { c.Concurrency = 0 }, wantErr: true},
		{name: "concurrency too high", mutate: func(c *Config) { c.Concurrency = 101 }, wantErr: true},
		{name: "empty queue", mutate: func(c *Config) { c.QueueSize = 0 }, wantErr: true},
		{name: "no job timeout", mutate: func(c *Config) { c.JobTimeout = 0 }, wantErr: true},
		{name: "no shutdown timeout", mutate: func(c *Config) { c.ShutdownTimeout = 0 }, wantErr: true},
		{name: "zero attempts", mutate: func(c *Config) { c.MaxAttempts = 0 }, wantErr: true},
		{name: "retries without delay", mutate: func(c *Config) { c.MaxAttempts = 3; c.RetryDelay = 0 }, wantErr: true},
		{name: "single attempt needs no delay", mutate: func(c *Config) { c.RetryDelay = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestIsPermanent(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "permanent error", err: NewPermanentError(context.Canceled), want: true},
		{name: "wrapped permanent error", err: errors.Join(errors.New("x"), NewPermanentError(context.Canceled)), want: true},
		{name: "regular error", err: context.Canceled, want: false},
		{name: "nil error", err: nil, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsPermanent(tt.err))
		})
	}
}

func TestWorker_RunsJobs(t *testing.T) {
	var mu sync.Mutex
	var got []string

	h := FuncHandler{JobType: JobTypeAnalyzeVideo, Fn: func(ctx context.Context, payload []byte) error {
		var p AnalyzeVideoPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return NewPermanentError(err)
		}
		mu.Lock()
		got = append(got, p.SessionID)
		mu.Unlock()
		return nil
	}}

	cfg := testConfig()
	cfg.Concurrency = 2
	w := newTestWorker(t, cfg, h)
	w.Start(context.Background())

	for _, id := range []string{"a", "b", "c"} {
		job, err := EnqueueAnalyzeVideo(w, id)
		require.NoError(t, err)
		assert.NotEmpty(t, job.ID)
		assert.JSONEq(t, `{"session_id":"`+id+`"}`, string(job.Payload))
	}

	w.Stop()

	assert.ElementsMatch(t, []string{"a", "b", "c"}, got)
}

func TestWorker_QueueFull(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	h := FuncHandler{JobType: "block", Fn: func(ctx context.Context, payload []byte) error {
		started <- struct{}{}
		<-release
		return nil
	}}

	cfg := testConfig()
	cfg.QueueSize = 1
	w := newTestWorker(t, cfg, h)
	w.Start(context.Background())

	_, err := w.Enqueue("block", nil)
	require.NoError(t, err)
	<-started // the only worker is now busy

	_, err = w.Enqueue("block", nil)
	require.NoError(t, err) // fills the single queue slot
	assert.Equal(t, 1, w.QueueLength())

	_, err = w.Enqueue("block", nil)
	assert.ErrorIs(t, err, ErrQueueFull)

	close(release)
	w.Stop()
}

func TestWorker_UnknownJobTypeAndStopped(t *testing.T) {
	w := newTestWorker(t, testConfig(), FuncHandler{JobType: "noop", Fn: func(context.Context, []byte) error { return nil }})
	w.Start(context.Background())

	_, err := w.Enqueue("missing", nil)
	assert.ErrorIs(t, err, ErrUnknownJobType)

	w.Stop()
	w.Stop() // idempotent

	_, err = w.Enqueue("noop", nil)
	assert.ErrorIs(t, err, ErrStopped)
}

func TestWorker_Retries(t *testing.T) {
	var calls atomic.Int32
	h := FuncHandler{JobType: "flaky", Fn: func(ctx context.Context, payload []byte) error {
		if calls.Add(1) < 3 {
			return errors.New("temporary")
		}
		return nil
	}}

	cfg := testConfig()
	cfg.MaxAttempts = 5
	w := newTestWorker(t, cfg, h)
	w.Start(context.Background())

	_, err := w.Enqueue("flaky", nil)
	require.NoError(t, err)
	w.Stop()

	assert.Equal(t, int32(3), calls.Load())
}

func TestWorker_PermanentErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	h := FuncHandler{JobType: "broken", Fn: func(ctx context.Context, payload []byte) error {
		calls.Add(1)
		return NewPermanentError(errors.New("bad payload"))
	}}

	cfg := testConfig()
	cfg.MaxAttempts = 5
	w := newTestWorker(t, cfg, h)
	w.Start(context.Background())

	_, err := w.Enqueue("broken", nil)
	require.NoError(t, err)
	w.Stop()

	assert.Equal(t, int32(1), calls.Load())
}

func TestWorker_PerJobMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	h := FuncHandler{JobType: "flaky", Fn: func(ctx context.Context, payload []byte) error {
		calls.Add(1)
		return errors.New("temporary")
	}}

	w := newTestWorker(t, testConfig(), h)
	w.Start(context.Background())

	_, err := w.Enqueue("flaky", nil, WithMaxAttempts(2))
	require.NoError(t, err)
	w.Stop()

	assert.Equal(t, int32(2), calls.Load())
}

func TestWorker_JobTimeout(t *testing.T) {
	errCh := make(chan error, 1)
	h := FuncHandler{JobType: "slow", Fn: func(ctx context.Context, payload []byte) error {
		<-ctx.Done()
		errCh <- ctx.Err()
		return ctx.Err()
	}}

	cfg := testConfig()
	cfg.JobTimeout = 20 * time.Millisecond
	w := newTestWorker(t, cfg, h)
	w.Start(context.Background())

	_, err := w.Enqueue("slow", nil)
	require.NoError(t, err)

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(2 * time.Second):
		t.Fatal("job was not timed out")
	}
	w.Stop()
}

func TestWorker_StopCancelsAfterShutdownTimeout(t *testing.T) {
	h := FuncHandler{JobType: "stuck", Fn: func(ctx context.Context, payload []byte) error {
		<-ctx.Done()
		return ctx.Err()
	}}

	cfg := testConfig()
	cfg.JobTimeout = time.Hour
	cfg.ShutdownTimeout = 20 * time.Millisecond
	w := newTestWorker(t, cfg, h)
	w.Start(context.Background())

	_, err := w.Enqueue("stuck", nil)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		w.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not cancel the running job")
	}
}

func TestWorker_StartContextCancellationDoesNotAbortJobs(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var sawCancel atomic.Bool
	release := make(chan struct{})
	h := FuncHandler{JobType: "job", Fn: func(jobCtx context.Context, payload []byte) error {
		<-release
		sawCancel.Store(jobCtx.Err() != nil)
		return nil
	}}

	w := newTestWorker(t, testConfig(), h)
	w.Start(ctx)

	_, err := w.Enqueue("job", nil)
	require.NoError(t, err)
	cancel()
	close(release)
	w.Stop()

	assert.False(t, sawCancel.Load())
}

func TestWorker_PanicsAreContained(t *testing.T) {
	var calls atomic.Int32
	h := FuncHandler{JobType: "panic", Fn: func(ctx context.Context, payload []byte) error {
		calls.Add(1)
		panic("boom")
	}}

	cfg := testConfig()
	cfg.MaxAttempts = 3
	w := newTestWorker(t, cfg, h)
	w.Start(context.Background())

	_, err := w.Enqueue("panic", nil)
	require.NoError(t, err)
	_, err = w.Enqueue("panic", nil)
	require.NoError(t, err)
	w.Stop()

	// Panics are permanent: one call per job.
	assert.Equal(t, int32(2), calls.Load())
}
