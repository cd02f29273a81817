package domain

import "time"

// Report is the immutable result of a completed analysis session.
type Report struct {
	ID             string      `json:"id"`
	Filename       string      `json:"filename"`
	Duration       float64     `json:"duration"`
	TotalFrames    int         `json:"total_frames"`
	AnalyzedFrames int         `json:"analyzed_frames"`
	Defects        []Detection `json:"defects"`
	Summary        Summary     `json:"summary"`
	CreatedAt      time.Time   `json:"created_at"`
}

// Summary holds the aggregate statistics of a report.
type Summary struct {
	TotalDefects    int `json:"total_defects"`
	CriticalDefects int `json:"critical_defects"`
	HighDefects     int `json:"high_defects"`
	RiskScore       int `json:"risk_score"`
}

// CountBySeverity returns how many defects fall in the given bucket.
func (r *Report) CountBySeverity(s Severity) int {
	n := 0
	for _, d := range r.Defects {
		if d.Severity == s {
			n++
		}
	}
	return n
}

// CountByType returns the number of defects of each type.
func (r *Report) CountByType() map[DetectionType]int {
	counts := make(map[DetectionType]int)
	for _, d := range r.Defects {
		counts[d.Type]++
	}
	return counts
}
