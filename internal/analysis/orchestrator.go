package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/DukeRupert/defectscan/internal/domain"
	"github.com/DukeRupert/defectscan/internal/metrics"
	"github.com/DukeRupert/defectscan/internal/session"
	"github.com/DukeRupert/defectscan/internal/storage"
	"github.com/DukeRupert/defectscan/internal/video"
)

// User-facing failure messages.
const (
	msgOpenFailed  = "Could not open video file"
	msgNoDecoder   = "Video decoder is not available"
	msgCancelled   = "Analysis was cancelled"
	msgTimedOut    = "Analysis timed out"
	msgInternalErr = "Internal error during analysis"
	msgNoFrames    = "Could not decode any video frames"
)

// ErrNoFrames is returned when a video that reports frames yields none.
var ErrNoFrames = errors.New("no frames decoded")

// OrchestratorConfig configures an Orchestrator.
type OrchestratorConfig struct {
	// Stride analyzes every Stride-th frame.
	Stride int

	// Uploads, when set together with RemoveUpload, is where uploaded videos
	// are deleted from once their analysis is over.
	Uploads      storage.Storage
	RemoveUpload bool
}

// Orchestrator owns the run of one session at a time, from pending to
// completed or failed.
type Orchestrator struct {
	sessions   *session.Store
	opener     video.Opener
	sampler    *video.Sampler
	aggregator *Aggregator
	uploads    storage.Storage
	removeFile bool
	now        func() time.Time
	logger     *slog.Logger
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(sessions *session.Store, opener video.Opener, aggregator *Aggregator, cfg OrchestratorConfig, logger *slog.Logger) (*Orchestrator, error) {
	sampler, err := video.NewSampler(cfg.Stride, logger)
	if err != nil {
		return nil, err
	}
	return &Orchestrator{
		sessions:   sessions,
		opener:     opener,
		sampler:    sampler,
		aggregator: aggregator,
		uploads:    cfg.Uploads,
		removeFile: cfg.RemoveUpload && cfg.Uploads != nil,
		now:        time.Now,
		logger:     logger,
	}, nil
}

// Run analyzes the session's video.
//
// The session moves pending -> analyzing -> completed, or to failed from
// either of the first two states. The terminal transition is always the last
// write Run makes to the session. Run returns nil when the session completed
// and the failure cause otherwise; by then the failure is already recorded on
// the session.
//
// ctx is checked once per sampled frame; cancelling it fails the session.
func (o *Orchestrator) Run(ctx context.Context, sessionID string) (err error) {
	logger := o.logger.With("session_id", sessionID)

	sess, err := o.sessions.Get(sessionID)
	if err != nil {
		return err
	}
	if sess.Status != domain.SessionStatusPending {
		return fmt.Errorf("%w: session is %s", domain.ErrInvalidTransition, sess.Status)
	}
	defer o.removeUpload(sess, logger)

	var started bool
	begin := o.now()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("analysis panicked", "panic", r)
			err = fmt.Errorf("analysis panicked: %v", r)
			o.fail(sessionID, msgInternalErr, started, begin, logger)
		}
	}()

	src, err := o.opener.Open(ctx, sess.FilePath)
	if err != nil {
		logger.Error("failed to open video", "path", sess.FilePath, "error", err)
		o.fail(sessionID, failureMessage(err), false, begin, logger)
		return err
	}
	defer func() {
		if cerr := src.Close(); cerr != nil {
			logger.Warn("failed to close video", "error", cerr)
		}
	}()

	sess, err = o.sessions.Update(sessionID, func(s *domain.AnalysisSession) error {
		return s.Start(src.TotalFrames(), src.FPS(), o.now())
	})
	if err != nil {
		return err
	}
	started = true
	metrics.SessionStarted()

	logger.Info("analysis started",
		"total_frames", sess.TotalFrames,
		"fps", sess.FPS,
		"duration", sess.Duration,
		"stride", o.sampler.Stride,
		"detectors", o.aggregator.Available(),
	)

	var detections []domain.Detection
	stats, err := o.sampler.Run(ctx, src, func(f video.Frame) error {
		found := o.aggregator.Process(ctx, FrameContext{
			SessionID:   sessionID,
			Index:       f.Index,
			TotalFrames: sess.TotalFrames,
			Duration:    sess.Duration,
			FPS:         sess.FPS,
		}, f.Image)
		detections = append(detections, found...)
		metrics.FramesAnalyzed.Inc()

		_, err := o.sessions.Update(sessionID, func(s *domain.AnalysisSession) error {
			return s.UpdateProgress(f.Progress, f.Index, f.Sampled)
		})
		return err
	})
	if err != nil {
		logger.Error("analysis failed", "frames_read", stats.FramesRead, "error", err)
		o.fail(sessionID, failureMessage(err), true, begin, logger)
		return err
	}
	if stats.FramesRead == 0 && sess.TotalFrames > 0 {
		err := fmt.Errorf("%w: expected %d frames", ErrNoFrames, sess.TotalFrames)
		if stats.ReadErr != nil {
			err = fmt.Errorf("%w: %w", err, stats.ReadErr)
		}
		logger.Error("video yielded no frames", "total_frames", sess.TotalFrames, "error", err)
		o.fail(sessionID, msgNoFrames, true, begin, logger)
		return err
	}
	if stats.ReadErr != nil {
		logger.Warn("video ended early, compiling partial report",
			"frames_read", stats.FramesRead,
			"error", stats.ReadErr,
		)
	}

	report := CompileReport(ReportMeta{
		SessionID:   sessionID,
		Filename:    sess.Filename,
		Duration:    sess.Duration,
		TotalFrames: sess.TotalFrames,
		CreatedAt:   o.now(),
	}, detections, stats.Sampled)

	_, err = o.sessions.Update(sessionID, func(s *domain.AnalysisSession) error {
		return s.Complete(report, o.now())
	})
	if err != nil {
		logger.Error("failed to complete session", "error", err)
		o.fail(sessionID, msgInternalErr, true, begin, logger)
		return err
	}
	metrics.SessionFinished(string(domain.SessionStatusCompleted), o.now().Sub(begin))

	logger.Info("analysis completed",
		"analyzed_frames", stats.Sampled,
		"defects", report.Summary.TotalDefects,
		"risk_score", report.Summary.RiskScore,
		"duration_ms", o.now().Sub(begin).Milliseconds(),
	)
	return nil
}

// fail moves the session to failed. A session that already reached a
// terminal state is left alone.
func (o *Orchestrator) fail(sessionID, message string, started bool, begin time.Time, logger *slog.Logger) {
	_, err := o.sessions.Update(sessionID, func(s *domain.AnalysisSession) error {
		return s.Fail(message, o.now())
	})
	if err != nil {
		logger.Error("failed to mark session as failed", "error", err)
		return
	}
	if started {
		metrics.SessionFinished(string(domain.SessionStatusFailed), o.now().Sub(begin))
	} else {
		metrics.SessionFailedBeforeStart()
	}
}

func (o *Orchestrator) removeUpload(sess *domain.AnalysisSession, logger *slog.Logger) {
	if !o.removeFile || sess.FilePath == "" {
		return
	}
	key := filepath.Base(sess.FilePath)
	if err := o.uploads.Delete(context.Background(), key); err != nil {
		logger.Warn("failed to remove uploaded video", "key", key, "error", err)
	}
}

// failureMessage turns a run error into the text stored on the session.
func failureMessage(err error) string {
	switch {
	case errors.Is(err, video.ErrDecoderNotAvailable):
		return msgNoDecoder
	case errors.Is(err, video.ErrOpen):
		return msgOpenFailed
	case errors.Is(err, context.DeadlineExceeded):
		return msgTimedOut
	case errors.Is(err, context.Canceled):
		return msgCancelled
	default:
		return err.Error()
	}
}
