package detector

import (
	"context"
	"fmt"
	"image"
	"math"

	"github.com/DukeRupert/defectscan/internal/domain"
)

// StainConfig holds the thresholds of the color-range heuristic.
type StainConfig struct {
	Range         hsvRange
	CloseKernel   int // Side of the square closing kernel
	MinArea       int
	AreaScale     float64 // confidence = min(MaxConfidence, area/AreaScale)
	MaxConfidence float64
	MinConfidence float64 // Kept only above this
	HighAbove     float64 // Severity high above this confidence, else medium
}

// DefaultStainConfig returns the standard brown/yellow stain thresholds.
func DefaultStainConfig() StainConfig {
	return StainConfig{
		Range: hsvRange{
			lowH: 10, lowS: 50, lowV: 50,
			highH: 30, highS: 255, highV: 200,
		},
		CloseKernel:   5,
		MinArea:       500,
		AreaScale:     5000,
		MaxConfidence: 0.7,
		MinConfidence: 0.3,
		HighAbove:     0.5,
	}
}

// StainDetector flags brown/yellow discoloration as potential water damage.
type StainDetector struct {
	cfg StainConfig
}

// NewStainDetector creates a water stain detector.
func NewStainDetector(cfg StainConfig) *StainDetector {
	return &StainDetector{cfg: cfg}
}

func (d *StainDetector) Name() string    { return "water_stain" }
func (d *StainDetector) Available() bool { return true }

// Detect thresholds the frame in HSV space, closes small gaps and keeps
// large regions.
func (d *StainDetector) Detect(ctx context.Context, frame image.Image, frameIndex int) ([]domain.Detection, error) {
	width, height := frameSize(frame)
	if width == 0 || height == 0 {
		return nil, nil
	}

	mask := morphClose(inRangeMask(frame, d.cfg.Range), d.cfg.CloseKernel)

	var detections []domain.Detection
	for i, r := range regions(mask) {
		if r.Area < d.cfg.MinArea {
			continue
		}

		confidence := math.Min(d.cfg.MaxConfidence, float64(r.Area)/d.cfg.AreaScale)
		if confidence <= d.cfg.MinConfidence {
			continue
		}

		severity := domain.SeverityMedium
		if confidence > d.cfg.HighAbove {
			severity = domain.SeverityHigh
		}

		det, err := domain.NewDetection(domain.NewDetectionParams{
			Type:            domain.DetectionTypeWaterLeak,
			Severity:        severity,
			Confidence:      confidence,
			FrameNumber:     frameIndex,
			Ordinal:         i,
			Location:        domain.NormalizeRect(r.Bounds, width, height),
			Description:     fmt.Sprintf("Potential water damage or staining detected (confidence: %d%%)", percent(confidence)),
			Recommendations: Recommendations(domain.DetectionTypeWaterLeak, severity),
		})
		if err != nil {
			return nil, err
		}
		detections = append(detections, det)
	}
	return detections, nil
}
