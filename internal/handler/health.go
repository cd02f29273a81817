package handler

import (
	"net/http"
	"time"
)

// ModelStatus reports whether the external mold model can be reached.
type ModelStatus interface {
	Available() bool
}

// ActivityCounter counts sessions that are being analyzed.
type ActivityCounter interface {
	AnalyzingCount() int
}

// HealthHandler serves the liveness endpoint.
type HealthHandler struct {
	model    ModelStatus
	sessions ActivityCounter
	now      func() time.Time
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(model ModelStatus, sessions ActivityCounter) *HealthHandler {
	return &HealthHandler{model: model, sessions: sessions, now: time.Now}
}

// HealthResponse is the body of GET /api/health.
type HealthResponse struct {
	Status            string  `json:"status"`
	Timestamp         float64 `json:"timestamp"` // Unix seconds
	ModelsLoaded      bool    `json:"models_loaded"`
	ActiveSessions    int     `json:"active_sessions"`
	RoboflowAvailable bool    `json:"roboflow_available"`
}

// RegisterRoutes registers the health route with the provided mux.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", h.Health)
}

// Health reports service status. It always answers 200: an unreachable model
// degrades mold detection but the service keeps working.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	available := h.model.Available()
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:            "healthy",
		Timestamp:         float64(h.now().UnixMilli()) / 1000,
		ModelsLoaded:      available,
		ActiveSessions:    h.sessions.AnalyzingCount(),
		RoboflowAvailable: available,
	})
}
