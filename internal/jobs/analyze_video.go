// Package jobs contains the background job handlers run by the worker.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/DukeRupert/defectscan/internal/worker"
)

// Analyzer runs the analysis of one session.
type Analyzer interface {
	Run(ctx context.Context, sessionID string) error
}

// AnalyzeVideoHandler processes jobs that analyze an uploaded video.
type AnalyzeVideoHandler struct {
	analyzer Analyzer
	logger   *slog.Logger
}

// NewAnalyzeVideoHandler creates a new handler for video analysis jobs.
func NewAnalyzeVideoHandler(analyzer Analyzer, logger *slog.Logger) *AnalyzeVideoHandler {
	return &AnalyzeVideoHandler{
		analyzer: analyzer,
		logger:   logger,
	}
}

// Type returns the job type identifier.
func (h *AnalyzeVideoHandler) Type() string {
	return worker.JobTypeAnalyzeVideo
}

// Handle executes the video analysis job.
//
// Every failure is permanent: by the time Run returns an error the session
// has already been moved to failed, or was never runnable, so a retry could
// only fail again.
func (h *AnalyzeVideoHandler) Handle(ctx context.Context, payload []byte) error {
	var p worker.AnalyzeVideoPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return worker.NewPermanentError(fmt.Errorf("invalid payload: %w", err))
	}
	if p.SessionID == "" {
		return worker.NewPermanentError(errors.New("invalid payload: session_id is required"))
	}

	h.logger.Info("Analyzing video", "session_id", p.SessionID)

	if err := h.analyzer.Run(ctx, p.SessionID); err != nil {
		return worker.NewPermanentError(fmt.Errorf("analyze session %s: %w", p.SessionID, err))
	}
	return nil
}
