// Package detector finds defects in single video frames.
//
// Each Detector inspects one frame and returns zero or more detections. The
// Guarded wrapper is the fail-open boundary: errors and panics from a
// detector are logged and turn into an empty result for that frame.
package detector

import (
	"context"
	"fmt"
	"image"
	"log/slog"

	"github.com/DukeRupert/defectscan/internal/domain"
	"github.com/DukeRupert/defectscan/internal/metrics"
)

// Detector inspects a single frame.
type Detector interface {
	// Name identifies the detector in logs and metrics.
	Name() string

	// Available reports whether the detector can run at all. It is cheap,
	// has no side effects, and does not change over the detector's lifetime.
	Available() bool

	// Detect returns the defects found on the frame.
	Detect(ctx context.Context, frame image.Image, frameIndex int) ([]domain.Detection, error)
}

// Guarded wraps a Detector so that it never fails past its boundary.
type Guarded struct {
	inner     Detector
	available bool
	logger    *slog.Logger
}

// Guard wraps d. Availability is sampled once here.
func Guard(d Detector, logger *slog.Logger) *Guarded {
	available := d.Available()
	logger = logger.With("detector", d.Name())
	if !available {
		logger.Info("detector unavailable, it will be skipped")
	}
	return &Guarded{inner: d, available: available, logger: logger}
}

// Name returns the wrapped detector's name.
func (g *Guarded) Name() string { return g.inner.Name() }

// Available returns the availability captured at construction.
func (g *Guarded) Available() bool { return g.available }

// Detect runs the wrapped detector. Any error or panic is logged and yields
// an empty slice.
func (g *Guarded) Detect(ctx context.Context, frame image.Image, frameIndex int) (out []domain.Detection) {
	if !g.available {
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			metrics.DetectorErrorsTotal.WithLabelValues(g.inner.Name()).Inc()
			g.logger.Error("detector panicked", "frame", frameIndex, "error", fmt.Sprint(r))
			out = nil
		}
	}()

	detections, err := g.inner.Detect(ctx, frame, frameIndex)
	if err != nil {
		metrics.DetectorErrorsTotal.WithLabelValues(g.inner.Name()).Inc()
		g.logger.Error("detector failed", "frame", frameIndex, "error", err)
		return nil
	}
	return detections
}

// frameSize returns the frame's width and height.
func frameSize(frame image.Image) (int, int) {
	b := frame.Bounds()
	return b.Dx(), b.Dy()
}

// percent formats a confidence for descriptions, truncating like 0.87 -> 87.
func percent(confidence float64) int {
	return int(confidence * 100)
}
