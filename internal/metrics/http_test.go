package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/api/health", "/api/health"},
		{"/api/status/3f2b8c1e-9a4d-4e6f-8b7a-1c2d3e4f5a6b", "/api/status/{id}"},
		{"/api/results/3F2B8C1E-9A4D-4E6F-8B7A-1C2D3E4F5A6B", "/api/results/{id}"},
		{"/api/thumbnail/3f2b8c1e-9a4d-4e6f-8b7a-1c2d3e4f5a6b_mold_10_0.jpg", "/api/thumbnail/{name}"},
		{"/api/sessions/not-a-uuid", "/api/sessions/not-a-uuid"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizePath(tt.path))
		})
	}
}

func TestMiddleware_CapturesStatus(t *testing.T) {
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte("pending"))
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/results/abc", nil))

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "pending", rec.Body.String())
}
