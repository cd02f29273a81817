package analysis

import (
	"math"
	"time"

	"github.com/DukeRupert/defectscan/internal/domain"
)

// ReportMeta is the session metadata copied into a report.
type ReportMeta struct {
	SessionID   string
	Filename    string
	Duration    float64
	TotalFrames int
	CreatedAt   time.Time
}

// CompileReport builds the final report of a session. It is a pure function:
// the same inputs always give an identical report.
func CompileReport(meta ReportMeta, detections []domain.Detection, analyzedFrames int) *domain.Report {
	defects := make([]domain.Detection, len(detections))
	copy(defects, detections)

	report := &domain.Report{
		ID:             meta.SessionID,
		Filename:       meta.Filename,
		Duration:       meta.Duration,
		TotalFrames:    meta.TotalFrames,
		AnalyzedFrames: analyzedFrames,
		Defects:        defects,
		CreatedAt:      meta.CreatedAt,
	}
	report.Summary = domain.Summary{
		TotalDefects:    len(defects),
		CriticalDefects: report.CountBySeverity(domain.SeverityCritical),
		HighDefects:     report.CountBySeverity(domain.SeverityHigh),
		RiskScore:       RiskScore(defects),
	}
	return report
}

// RiskScore summarises detections on a 0-100 scale.
//
// Each detection contributes weight(severity) * confidence, with weights
// low=1, medium=3, high=7, critical=15. The sum is divided by the score the
// same number of critical detections at full confidence would reach. This is
// a simple, explainable weighting, not a calibrated risk model. No detections
// score 0.
func RiskScore(detections []domain.Detection) int {
	if len(detections) == 0 {
		return 0
	}

	var total float64
	for _, d := range detections {
		total += d.RiskContribution()
	}
	maxPossible := float64(len(detections)) * domain.MaxSeverityWeight

	return int(math.Round(math.Min(100, 100*total/maxPossible)))
}
