package detector

import (
	"context"
	"fmt"
	"image"
	"math"

	"github.com/DukeRupert/defectscan/internal/domain"
)

// CrackConfig holds the thresholds of the edge-geometry heuristic.
type CrackConfig struct {
	CannyLow      float64
	CannyHigh     float64
	MinArea       int     // Smallest edge region considered, in pixels
	MaxAspect     float64 // Regions wider than this ratio are elongated
	MinAspect     float64 // Regions narrower than this ratio are elongated
	AreaScale     float64 // confidence = min(MaxConfidence, area/AreaScale)
	MaxConfidence float64
	MinConfidence float64 // Kept only above this
	MediumAbove   float64 // Severity medium above this confidence, else low
}

// DefaultCrackConfig returns the standard thresholds.
func DefaultCrackConfig() CrackConfig {
	return CrackConfig{
		CannyLow:      50,
		CannyHigh:     150,
		MinArea:       100,
		MaxAspect:     3,
		MinAspect:     0.3,
		AreaScale:     1000,
		MaxConfidence: 0.8,
		MinConfidence: 0.4,
		MediumAbove:   0.6,
	}
}

// CrackDetector flags long, thin edge regions as potential cracks.
type CrackDetector struct {
	cfg CrackConfig
}

// NewCrackDetector creates a crack detector.
func NewCrackDetector(cfg CrackConfig) *CrackDetector {
	return &CrackDetector{cfg: cfg}
}

func (d *CrackDetector) Name() string    { return "crack" }
func (d *CrackDetector) Available() bool { return true }

// Detect runs grayscale, blur, edge extraction and region labelling, then
// keeps elongated regions.
//
// A region's area is its edge pixel count. The ordinal in each detection ID
// is the region's position in scan order, so IDs stay stable for a frame.
func (d *CrackDetector) Detect(ctx context.Context, frame image.Image, frameIndex int) ([]domain.Detection, error) {
	width, height := frameSize(frame)
	if width == 0 || height == 0 {
		return nil, nil
	}

	edges := cannyEdges(grayBlur(frame), d.cfg.CannyLow, d.cfg.CannyHigh)

	var detections []domain.Detection
	for i, r := range regions(edges) {
		if r.Area < d.cfg.MinArea {
			continue
		}
		aspect := r.AspectRatio()
		if aspect <= d.cfg.MaxAspect && aspect >= d.cfg.MinAspect {
			continue
		}

		confidence := math.Min(d.cfg.MaxConfidence, float64(r.Area)/d.cfg.AreaScale)
		if confidence <= d.cfg.MinConfidence {
			continue
		}

		severity := domain.SeverityLow
		if confidence > d.cfg.MediumAbove {
			severity = domain.SeverityMedium
		}

		det, err := domain.NewDetection(domain.NewDetectionParams{
			Type:            domain.DetectionTypeCrack,
			Severity:        severity,
			Confidence:      confidence,
			FrameNumber:     frameIndex,
			Ordinal:         i,
			Location:        domain.NormalizeRect(r.Bounds, width, height),
			Description:     fmt.Sprintf("Potential structural crack detected (confidence: %d%%)", percent(confidence)),
			Recommendations: Recommendations(domain.DetectionTypeCrack, severity),
		})
		if err != nil {
			return nil, err
		}
		detections = append(detections, det)
	}
	return detections, nil
}
