package metrics

import "time"

// SessionStarted marks a session as being analyzed.
func SessionStarted() {
	SessionsActive.Inc()
}

// SessionFinished records the terminal status of a session that was started.
func SessionFinished(status string, duration time.Duration) {
	SessionsActive.Dec()
	SessionsTotal.WithLabelValues(status).Inc()
	AnalysisDuration.Observe(duration.Seconds())
}

// SessionFailedBeforeStart records a session that never reached analyzing.
func SessionFailedBeforeStart() {
	SessionsTotal.WithLabelValues("failed").Inc()
}

// DetectionRecorded counts one detection.
func DetectionRecorded(detectionType, severity string) {
	DetectionsTotal.WithLabelValues(detectionType, severity).Inc()
}
