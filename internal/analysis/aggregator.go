// Package analysis runs the defect-analysis pipeline for one uploaded video:
// frames are sampled, every available detector inspects each sampled frame,
// and the collected detections are compiled into a scored report.
package analysis

import (
	"context"
	"image"
	"log/slog"

	"github.com/DukeRupert/defectscan/internal/detector"
	"github.com/DukeRupert/defectscan/internal/domain"
	"github.com/DukeRupert/defectscan/internal/metrics"
	"github.com/DukeRupert/defectscan/internal/video"
)

// DefaultThumbnailThreshold is the confidence above which a detection gets a
// thumbnail.
const DefaultThumbnailThreshold = 0.7

// FrameContext places a frame within its session and video.
type FrameContext struct {
	SessionID   string
	Index       int
	TotalFrames int
	Duration    float64 // seconds
	FPS         float64
}

// Aggregator merges the output of all detectors for one frame.
//
// Detectors run in the order they were given; the conventional order is the
// remote model first, then the crack and water heuristics.
type Aggregator struct {
	detectors  []*detector.Guarded
	thumbnails Thumbnailer
	threshold  float64
	logger     *slog.Logger
}

// AggregatorConfig configures an Aggregator.
type AggregatorConfig struct {
	// ThumbnailThreshold defaults to DefaultThumbnailThreshold when zero.
	ThumbnailThreshold float64
}

// NewAggregator creates an aggregator. thumbnails may be nil to disable
// thumbnail extraction.
func NewAggregator(detectors []*detector.Guarded, thumbnails Thumbnailer, cfg AggregatorConfig, logger *slog.Logger) *Aggregator {
	threshold := cfg.ThumbnailThreshold
	if threshold <= 0 {
		threshold = DefaultThumbnailThreshold
	}
	return &Aggregator{
		detectors:  detectors,
		thumbnails: thumbnails,
		threshold:  threshold,
		logger:     logger,
	}
}

// Available returns the names of the detectors that will run.
func (a *Aggregator) Available() []string {
	var names []string
	for _, d := range a.detectors {
		if d.Available() {
			names = append(names, d.Name())
		}
	}
	return names
}

// Process runs every available detector on frame, stamps the detections with
// their position on the video timeline and attaches thumbnails to confident
// ones. It never fails: detector and thumbnail errors only reduce what is
// returned.
func (a *Aggregator) Process(ctx context.Context, fc FrameContext, frame image.Image) []domain.Detection {
	var detections []domain.Detection
	for _, d := range a.detectors {
		if !d.Available() {
			continue
		}
		detections = append(detections, d.Detect(ctx, frame, fc.Index)...)
	}

	timestamp := video.Timestamp(fc.Index, fc.TotalFrames, fc.Duration)
	videoTimestamp := video.VideoTimestamp(fc.Index, fc.FPS)

	for i := range detections {
		det := &detections[i]
		det.Timestamp = timestamp
		det.VideoTimestamp = videoTimestamp

		if a.thumbnails != nil && det.Confidence > a.threshold {
			a.attachThumbnail(ctx, fc.SessionID, frame, det)
		}
		metrics.DetectionRecorded(det.Type.String(), det.Severity.String())
	}

	return detections
}

func (a *Aggregator) attachThumbnail(ctx context.Context, sessionID string, frame image.Image, det *domain.Detection) {
	ref, err := a.thumbnails.Write(ctx, sessionID, frame, *det)
	if err != nil {
		metrics.ThumbnailsTotal.WithLabelValues("failed").Inc()
		a.logger.Error("thumbnail generation failed",
			"session_id", sessionID,
			"detection_id", det.ID,
			"frame", det.FrameNumber,
			"error", err,
		)
		return
	}
	metrics.ThumbnailsTotal.WithLabelValues("created").Inc()
	det.Thumbnail = ref
}
