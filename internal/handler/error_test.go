package handler

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/DukeRupert/defectscan/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestErrorCodeToHTTPStatus(t *testing.T) {
	tests := []struct {
		code string
		want int
	}{
		{domain.EPENDING, http.StatusAccepted},
		{domain.EINVALID, http.StatusBadRequest},
		{domain.ENOTFOUND, http.StatusNotFound},
		{domain.ECONFLICT, http.StatusConflict},
		{domain.ETOOLARGE, http.StatusRequestEntityTooLarge},
		{domain.ERATELIMIT, http.StatusTooManyRequests},
		{domain.EFAILED, http.StatusInternalServerError},
		{domain.EINTERNAL, http.StatusInternalServerError},
		{domain.EBUSY, http.StatusServiceUnavailable},
		{"unknown", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.want, ErrorCodeToHTTPStatus(tt.code))
		})
	}
}

func TestErrorResponse(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantBody   string
		forbidden  []string
	}{
		{
			name:       "internal error hides details",
			err:        domain.Internal(errors.New("open /var/lib/uploads: permission denied"), "storage.put", "Failed to save upload"),
			wantStatus: http.StatusInternalServerError,
			wantBody:   `{"error":"An internal error occurred. Please try again later."}`,
			forbidden:  []string{"/var/lib", "storage.put"},
		},
		{
			name:       "raw error is treated as internal",
			err:        errors.New("ffprobe: exit status 1"),
			wantStatus: http.StatusInternalServerError,
			wantBody:   `{"error":"An internal error occurred. Please try again later."}`,
			forbidden:  []string{"ffprobe"},
		},
		{
			name:       "failed analysis is verbatim",
			err:        domain.Failed("handler.results", "Could not open video file"),
			wantStatus: http.StatusInternalServerError,
			wantBody:   `{"error":"Could not open video file"}`,
			forbidden:  []string{"handler.results"},
		},
		{
			name:       "not found hides operation",
			err:        domain.Errorf(domain.ENOTFOUND, "session.get", "Session not found"),
			wantStatus: http.StatusNotFound,
			wantBody:   `{"error":"Session not found"}`,
			forbidden:  []string{"session.get"},
		},
		{
			name:       "pending",
			err:        domain.Pending("handler.results"),
			wantStatus: http.StatusAccepted,
			wantBody:   `{"error":"Analysis still in progress"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/results/abc", nil)
			rec := httptest.NewRecorder()

			ErrorResponse(rec, req, testLogger(), tt.err)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			assert.JSONEq(t, tt.wantBody, rec.Body.String())
			for _, s := range tt.forbidden {
				assert.False(t, strings.Contains(rec.Body.String(), s), "response exposes %q", s)
			}
		})
	}
}

func TestNotFoundResponse(t *testing.T) {
	rec := httptest.NewRecorder()
	NotFoundResponse(rec, httptest.NewRequest("GET", "/api/thumbnail/x.jpg", nil), testLogger(), "Thumbnail not found")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"Thumbnail not found"}`, rec.Body.String())
}
