package detector

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"strings"
	"sync"

	"github.com/DukeRupert/defectscan/internal/ai"
	"github.com/DukeRupert/defectscan/internal/domain"
)

// MoldDetector turns predictions from a remote classifier into detections.
type MoldDetector struct {
	classifier ai.MoldClassifier
	available  bool
	logger     *slog.Logger

	mu         sync.RWMutex
	confidence float64
	overlap    float64
}

// NewMoldDetector wraps classifier. A nil classifier yields an unavailable
// detector.
func NewMoldDetector(classifier ai.MoldClassifier, logger *slog.Logger) *MoldDetector {
	return &MoldDetector{
		classifier: classifier,
		available:  classifier != nil && classifier.Available(),
		logger:     logger,
		confidence: ai.DefaultThreshold,
		overlap:    ai.DefaultThreshold,
	}
}

func (d *MoldDetector) Name() string    { return "mold" }
func (d *MoldDetector) Available() bool { return d.available }

// SetConfidenceThreshold sets the minimum model confidence, clamped to
// [0.1, 1.0].
func (d *MoldDetector) SetConfidenceThreshold(v float64) {
	d.mu.Lock()
	d.confidence = ai.ClampThreshold(v)
	d.mu.Unlock()
	d.logger.Info("mold confidence threshold set", "threshold", d.confidence)
}

// SetOverlapThreshold sets the NMS overlap threshold, clamped to [0.1, 1.0].
func (d *MoldDetector) SetOverlapThreshold(v float64) {
	d.mu.Lock()
	d.overlap = ai.ClampThreshold(v)
	d.mu.Unlock()
	d.logger.Info("mold overlap threshold set", "threshold", d.overlap)
}

// Thresholds returns the current confidence and overlap thresholds.
func (d *MoldDetector) Thresholds() (confidence, overlap float64) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.confidence, d.overlap
}

// Detect sends the frame to the classifier and maps each returned box.
func (d *MoldDetector) Detect(ctx context.Context, frame image.Image, frameIndex int) ([]domain.Detection, error) {
	if !d.available {
		return nil, nil
	}
	width, height := frameSize(frame)
	if width == 0 || height == 0 {
		return nil, nil
	}

	confidence, overlap := d.Thresholds()
	predictions, err := d.classifier.Predict(ctx, frame, ai.PredictParams{
		Confidence: confidence,
		Overlap:    overlap,
		FrameIndex: frameIndex,
	})
	if err != nil {
		return nil, fmt.Errorf("mold prediction on frame %d: %w", frameIndex, err)
	}

	detections := make([]domain.Detection, 0, len(predictions))
	for _, p := range predictions {
		location := domain.NormalizeCenterBox(p.X, p.Y, p.Width, p.Height, width, height)
		conf := max(0, min(1, p.Confidence))
		severity := MoldSeverity(conf, location.Area())

		det, err := domain.NewDetection(domain.NewDetectionParams{
			Type:            domain.DetectionTypeMold,
			Severity:        severity,
			Confidence:      conf,
			FrameNumber:     frameIndex,
			Ordinal:         len(detections),
			Location:        location,
			Description:     moldDescription(p.Class, conf),
			Recommendations: Recommendations(domain.DetectionTypeMold, severity),
		})
		if err != nil {
			return nil, err
		}
		detections = append(detections, det)
	}

	if len(detections) > 0 {
		d.logger.Debug("mold detected", "frame", frameIndex, "count", len(detections))
	}
	return detections, nil
}

// MoldSeverity derives severity from model confidence and normalized area:
// critical for confident large regions, high for confident or large ones,
// medium above 0.6 confidence, otherwise low.
func MoldSeverity(confidence, area float64) domain.Severity {
	switch {
	case confidence > 0.8 && area > 0.1:
		return domain.SeverityCritical
	case confidence > 0.7 || area > 0.05:
		return domain.SeverityHigh
	case confidence > 0.6:
		return domain.SeverityMedium
	default:
		return domain.SeverityLow
	}
}

func moldDescription(class string, confidence float64) string {
	pct := percent(confidence)
	switch strings.ToLower(class) {
	case "mold", "":
		return fmt.Sprintf("Mold growth detected with %d%% confidence", pct)
	case "mouldy":
		return fmt.Sprintf("Moldy surface identified with %d%% confidence", pct)
	case "fungal":
		return fmt.Sprintf("Fungal growth observed with %d%% confidence", pct)
	default:
		return fmt.Sprintf("Mold-like substance detected with %d%% confidence", pct)
	}
}
