package detector

import "github.com/DukeRupert/defectscan/internal/domain"

// Recommendation text is fixed data keyed by detection type and severity.

var crackRecommendations = []string{
	"Monitor crack for expansion over time",
	"Consider professional structural assessment",
	"Seal crack to prevent water intrusion",
}

var waterRecommendations = []string{
	"Investigate source of moisture",
	"Check for active leaks in area",
	"Consider professional water damage assessment",
	"Monitor for mold development",
}

var moldBaseRecommendations = []string{
	"Identify and eliminate moisture source",
	"Improve ventilation in affected area",
	"Monitor for spread to adjacent areas",
}

var moldSeverityRecommendations = map[domain.Severity][]string{
	domain.SeverityCritical: {
		"IMMEDIATE professional mold remediation required",
		"Evacuate area until professional assessment",
		"Contact certified mold remediation specialist",
		"Consider temporary relocation if extensive",
	},
	domain.SeverityHigh: {
		"Professional mold remediation recommended",
		"Wear protective equipment when in area",
		"Schedule professional air quality testing",
		"Document extent for insurance purposes",
	},
	domain.SeverityMedium: {
		"Professional assessment recommended",
		"Clean with appropriate mold removal products",
		"Increase air circulation and dehumidification",
		"Monitor closely for expansion",
	},
	domain.SeverityLow: {
		"Clean affected area with mold removal solution",
		"Ensure proper ventilation",
		"Regular monitoring recommended",
		"Address any moisture issues promptly",
	},
}

// Recommendations returns the recommendation list for a detection type and
// severity. The result is a fresh slice.
func Recommendations(t domain.DetectionType, s domain.Severity) []string {
	var recs []string
	switch t {
	case domain.DetectionTypeCrack:
		recs = append(recs, crackRecommendations...)
	case domain.DetectionTypeWaterLeak:
		recs = append(recs, waterRecommendations...)
	case domain.DetectionTypeMold:
		recs = append(recs, moldBaseRecommendations...)
		recs = append(recs, moldSeverityRecommendations[s]...)
	}
	return recs
}
