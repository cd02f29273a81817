// Package domain contains core business types and interfaces.
//
// This file defines the Detection domain type: a single defect found on a
// single sampled video frame, together with its normalized location.
package domain

import (
	"fmt"
	"image"
	"math"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// =============================================================================
// Detection Type
// =============================================================================

// DetectionType identifies the kind of defect a detection describes.
// The set is open: detectors may introduce new types without changes here.
type DetectionType string

const (
	// DetectionTypeMold is produced by the external classification model.
	DetectionTypeMold DetectionType = "mold"

	// DetectionTypeCrack is produced by the edge-geometry heuristic.
	DetectionTypeCrack DetectionType = "crack"

	// DetectionTypeWaterLeak is produced by the color-range heuristic.
	DetectionTypeWaterLeak DetectionType = "water_leak"
)

// String returns the string representation of the type.
func (t DetectionType) String() string {
	return string(t)
}

// Label returns a human-readable label, e.g. "Water Leak".
func (t DetectionType) Label() string {
	words := strings.ReplaceAll(string(t), "_", " ")
	return cases.Title(language.English).String(words)
}

// idPrefix returns the prefix used when building detection IDs.
func (t DetectionType) idPrefix() string {
	switch t {
	case DetectionTypeWaterLeak:
		return "water"
	case "":
		return "defect"
	}
	return string(t)
}

// =============================================================================
// Severity
// =============================================================================

// Severity is the ordinal severity bucket of a detection.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// String returns the string representation of the severity.
func (s Severity) String() string {
	return string(s)
}

// IsValid returns true if the severity is a recognized value.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Weight returns the risk weight of the severity used by the report risk
// score. Unknown severities weigh nothing.
func (s Severity) Weight() float64 {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 3
	case SeverityHigh:
		return 7
	case SeverityCritical:
		return 15
	}
	return 0
}

// MaxSeverityWeight is the weight of the most severe bucket.
const MaxSeverityWeight = 15

// =============================================================================
// Bounding Box
// =============================================================================

// BoundingBox is a box expressed as fractions of the frame width and height.
// A valid box satisfies 0 <= X,Y,Width,Height <= 1, X+Width <= 1 and
// Y+Height <= 1.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// NormalizeCenterBox converts a pixel box given by its center and size into a
// normalized box. The origin is clamped to the frame and the size is clamped
// so the box never leaves it.
func NormalizeCenterBox(cx, cy, w, h float64, frameWidth, frameHeight int) BoundingBox {
	if frameWidth <= 0 || frameHeight <= 0 {
		return BoundingBox{}
	}
	fw, fh := float64(frameWidth), float64(frameHeight)

	x := clamp01((cx - w/2) / fw)
	y := clamp01((cy - h/2) / fh)

	return BoundingBox{
		X:      x,
		Y:      y,
		Width:  math.Max(0, math.Min(1-x, w/fw)),
		Height: math.Max(0, math.Min(1-y, h/fh)),
	}
}

// NormalizeRect converts a pixel rectangle into a normalized box.
func NormalizeRect(r image.Rectangle, frameWidth, frameHeight int) BoundingBox {
	if frameWidth <= 0 || frameHeight <= 0 {
		return BoundingBox{}
	}
	box := BoundingBox{
		X:      float64(r.Min.X) / float64(frameWidth),
		Y:      float64(r.Min.Y) / float64(frameHeight),
		Width:  float64(r.Dx()) / float64(frameWidth),
		Height: float64(r.Dy()) / float64(frameHeight),
	}
	return box.Clamp()
}

// Clamp returns a copy of the box forced inside the unit square.
func (b BoundingBox) Clamp() BoundingBox {
	b.X = clamp01(b.X)
	b.Y = clamp01(b.Y)
	b.Width = math.Max(0, math.Min(1-b.X, b.Width))
	b.Height = math.Max(0, math.Min(1-b.Y, b.Height))
	return b
}

// Area returns the normalized area of the box.
func (b BoundingBox) Area() float64 {
	return b.Width * b.Height
}

// Valid returns true if the box lies inside the unit square.
func (b BoundingBox) Valid() bool {
	const eps = 1e-9
	return b.X >= 0 && b.Y >= 0 && b.Width >= 0 && b.Height >= 0 &&
		b.X+b.Width <= 1+eps && b.Y+b.Height <= 1+eps
}

// Denormalize maps the box back to pixel coordinates of a frame.
func (b BoundingBox) Denormalize(frameWidth, frameHeight int) image.Rectangle {
	fw, fh := float64(frameWidth), float64(frameHeight)
	return image.Rect(
		int(b.X*fw),
		int(b.Y*fh),
		int((b.X+b.Width)*fw),
		int((b.Y+b.Height)*fh),
	)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// =============================================================================
// Detection Domain Type
// =============================================================================

// Detection is one finding on one sampled frame.
//
// Type, Severity and Confidence alone determine the detection's contribution
// to the session risk score.
type Detection struct {
	ID              string        `json:"id"`
	Type            DetectionType `json:"type"`
	Severity        Severity      `json:"severity"`
	Confidence      float64       `json:"confidence"`
	FrameNumber     int           `json:"frame_number"`
	Location        BoundingBox   `json:"location"`
	Timestamp       float64       `json:"timestamp"`
	VideoTimestamp  float64       `json:"video_timestamp"`
	Description     string        `json:"description"`
	Recommendations []string      `json:"recommendations"`
	Thumbnail       string        `json:"thumbnail,omitempty"`
}

// NewDetectionParams contains the fields a detector supplies.
type NewDetectionParams struct {
	Type            DetectionType
	Severity        Severity
	Confidence      float64
	FrameNumber     int
	Ordinal         int
	Location        BoundingBox
	Description     string
	Recommendations []string
}

// NewDetection validates params and builds a Detection. The location is
// clamped into the unit square; everything else must already be valid.
func NewDetection(p NewDetectionParams) (Detection, error) {
	const op = "detection.new"

	if p.Type == "" {
		return Detection{}, Invalid(op, "detection type is required")
	}
	if !p.Severity.IsValid() {
		return Detection{}, Invalid(op, fmt.Sprintf("unknown severity %q", p.Severity))
	}
	if math.IsNaN(p.Confidence) || p.Confidence < 0 || p.Confidence > 1 {
		return Detection{}, Invalid(op, fmt.Sprintf("confidence %v out of range [0,1]", p.Confidence))
	}
	if p.FrameNumber < 0 {
		return Detection{}, Invalid(op, "frame number must be non-negative")
	}

	recs := make([]string, len(p.Recommendations))
	copy(recs, p.Recommendations)

	return Detection{
		ID:              DetectionID(p.Type, p.FrameNumber, p.Ordinal),
		Type:            p.Type,
		Severity:        p.Severity,
		Confidence:      p.Confidence,
		FrameNumber:     p.FrameNumber,
		Location:        p.Location.Clamp(),
		Description:     p.Description,
		Recommendations: recs,
	}, nil
}

// DetectionID builds the session-stable ID "{prefix}_{frame}_{ordinal}".
func DetectionID(t DetectionType, frame, ordinal int) string {
	return fmt.Sprintf("%s_%d_%d", t.idPrefix(), frame, ordinal)
}

// RiskContribution returns weight(severity) * confidence.
func (d Detection) RiskContribution() float64 {
	return d.Severity.Weight() * d.Confidence
}

// HasThumbnail returns true if a thumbnail reference is attached.
func (d Detection) HasThumbnail() bool {
	return d.Thumbnail != ""
}
