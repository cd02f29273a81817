// Package domain contains core business types and interfaces.
//
// This file defines the AnalysisSession domain type and its lifecycle:
// pending -> analyzing -> completed | failed.
package domain

import (
	"fmt"
	"math"
	"time"
)

// =============================================================================
// Session Status
// =============================================================================

// SessionStatus represents the lifecycle state of an analysis session.
type SessionStatus string

const (
	// SessionStatusPending indicates the video was uploaded and is waiting
	// for a worker.
	SessionStatusPending SessionStatus = "pending"

	// SessionStatusAnalyzing indicates frames are being sampled and analyzed.
	SessionStatusAnalyzing SessionStatus = "analyzing"

	// SessionStatusCompleted indicates a report was produced. Terminal.
	SessionStatusCompleted SessionStatus = "completed"

	// SessionStatusFailed indicates the analysis could not produce a report.
	// Terminal.
	SessionStatusFailed SessionStatus = "failed"
)

// String returns the string representation of the status.
func (s SessionStatus) String() string {
	return string(s)
}

// IsValid returns true if the status is a recognized value.
func (s SessionStatus) IsValid() bool {
	switch s {
	case SessionStatusPending, SessionStatusAnalyzing,
		SessionStatusCompleted, SessionStatusFailed:
		return true
	}
	return false
}

// IsTerminal returns true for completed and failed.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusFailed
}

// CanTransitionTo checks if a session can move to the target status.
//
// Valid transitions:
// - pending -> analyzing (video opened)
// - pending -> failed (video could not be opened, or never scheduled)
// - analyzing -> completed
// - analyzing -> failed
//
// Terminal states never change.
func (s SessionStatus) CanTransitionTo(target SessionStatus) bool {
	switch s {
	case SessionStatusPending:
		return target == SessionStatusAnalyzing || target == SessionStatusFailed
	case SessionStatusAnalyzing:
		return target == SessionStatusCompleted || target == SessionStatusFailed
	}
	return false
}

// =============================================================================
// AnalysisSession Domain Type
// =============================================================================

// AnalysisSession is one uploaded-video analysis run.
//
// Results is set if and only if Status is completed; Error is set if and
// only if Status is failed.
type AnalysisSession struct {
	ID              string
	Filename        string // Original upload filename
	FilePath        string // Where the uploaded video lives on disk
	Status          SessionStatus
	Progress        float64 // 0-100, non-decreasing while analyzing
	CurrentFrame    int
	TotalFrames     int
	ProcessedFrames int
	FPS             float64
	Duration        float64 // Seconds; 0 when fps is unknown
	CreatedAt       time.Time
	StartedAt       *time.Time
	CompletedAt     *time.Time
	Results         *Report
	Error           string
}

// NewAnalysisSession creates a session in pending status.
func NewAnalysisSession(id, filename, filePath string, now time.Time) *AnalysisSession {
	return &AnalysisSession{
		ID:        id,
		Filename:  filename,
		FilePath:  filePath,
		Status:    SessionStatusPending,
		CreatedAt: now,
	}
}

// IsAnalyzing returns true while frames are being processed.
func (s *AnalysisSession) IsAnalyzing() bool {
	return s.Status == SessionStatusAnalyzing
}

// transitionTo moves the session to target or returns ErrInvalidTransition.
func (s *AnalysisSession) transitionTo(target SessionStatus) error {
	if !s.Status.CanTransitionTo(target) {
		return fmt.Errorf("%w: cannot transition from %s to %s", ErrInvalidTransition, s.Status, target)
	}
	s.Status = target
	return nil
}

// Start moves a pending session to analyzing and records the video metadata.
func (s *AnalysisSession) Start(totalFrames int, fps float64, now time.Time) error {
	if err := s.transitionTo(SessionStatusAnalyzing); err != nil {
		return err
	}
	started := now
	s.StartedAt = &started
	s.TotalFrames = max(totalFrames, 0)
	s.FPS = fps
	s.Duration = VideoDuration(totalFrames, fps)
	return nil
}

// UpdateProgress publishes sampling progress. Values never move backwards.
// CurrentFrame is the zero-based index of the last sampled frame while
// ProcessedFrames counts sampled frames, so ProcessedFrames is at most
// CurrentFrame+1: after frame 0 the session reports current 0, processed 1.
// CurrentFrame never exceeds the total when the total is known.
func (s *AnalysisSession) UpdateProgress(progress float64, currentFrame, processedFrames int) error {
	if s.Status != SessionStatusAnalyzing {
		return fmt.Errorf("%w: progress update while %s", ErrInvalidTransition, s.Status)
	}
	if math.IsNaN(progress) {
		progress = 0
	}
	progress = math.Max(0, math.Min(100, progress))

	s.Progress = math.Max(s.Progress, progress)
	s.CurrentFrame = max(s.CurrentFrame, currentFrame)
	if s.TotalFrames > 0 {
		s.CurrentFrame = min(s.CurrentFrame, s.TotalFrames)
	}
	s.ProcessedFrames = min(max(s.ProcessedFrames, processedFrames), s.CurrentFrame+1)
	return nil
}

// Complete attaches the report and moves the session to completed. Results
// are assigned before the status so any snapshot reporting completed also
// carries results.
func (s *AnalysisSession) Complete(report *Report, now time.Time) error {
	if report == nil {
		return Invalid("session.complete", "report is required")
	}
	if !s.Status.CanTransitionTo(SessionStatusCompleted) {
		return fmt.Errorf("%w: cannot transition from %s to %s", ErrInvalidTransition, s.Status, SessionStatusCompleted)
	}
	completed := now
	s.Results = report
	s.Progress = 100
	s.CompletedAt = &completed
	s.Status = SessionStatusCompleted
	return nil
}

// Fail records the error and moves the session to failed.
func (s *AnalysisSession) Fail(message string, now time.Time) error {
	if message == "" {
		message = "analysis failed"
	}
	if err := s.transitionTo(SessionStatusFailed); err != nil {
		return err
	}
	completed := now
	s.Error = message
	s.Results = nil
	s.CompletedAt = &completed
	return nil
}

// EstimatedTimeRemaining extrapolates the remaining analysis time in seconds
// from the elapsed time and current progress. It is 0 when the session is not
// analyzing or has made no progress yet.
func (s *AnalysisSession) EstimatedTimeRemaining(now time.Time) float64 {
	if !s.IsAnalyzing() || s.Progress <= 0 || s.StartedAt == nil {
		return 0
	}
	elapsed := now.Sub(*s.StartedAt).Seconds()
	estimatedTotal := elapsed / (s.Progress / 100)
	return math.Max(0, estimatedTotal-elapsed)
}

// Clone returns a copy that shares only the immutable report.
func (s *AnalysisSession) Clone() *AnalysisSession {
	c := *s
	if s.StartedAt != nil {
		t := *s.StartedAt
		c.StartedAt = &t
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// VideoDuration returns total/fps, or 0 when fps is not positive.
func VideoDuration(totalFrames int, fps float64) float64 {
	if fps <= 0 || totalFrames <= 0 {
		return 0
	}
	return float64(totalFrames) / fps
}
