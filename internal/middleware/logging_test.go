package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func serveLogged(t *testing.T, req *http.Request, status int) (string, *httptest.ResponseRecorder) {
	t.Helper()
	var buf bytes.Buffer
	mw := NewRequestLoggingMiddleware(slog.New(slog.NewTextHandler(&buf, nil)))

	wrapped := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))

	if req.RemoteAddr == "" {
		req.RemoteAddr = "192.168.1.1:12345"
	}
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)
	return buf.String(), rec
}

func TestRequestLoggingMiddleware_LogsBasicInfo(t *testing.T) {
	req := httptest.NewRequest("POST", "/api/upload", nil)
	req.Header.Set("User-Agent", "Mozilla/5.0 TestBrowser")
	logOutput, _ := serveLogged(t, req, http.StatusOK)

	for _, want := range []string{"method=POST", "path=/api/upload", "status=200", "duration_ms=", "ip=192.168.1.1", "TestBrowser"} {
		if !strings.Contains(logOutput, want) {
			t.Errorf("log should contain %q, got: %s", want, logOutput)
		}
	}
}

func TestRequestLoggingMiddleware_LogsClientIP(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/results/abc", nil)
	req.RemoteAddr = "10.0.0.1:8080"
	req.Header.Set("X-Forwarded-For", "203.0.113.195")
	logOutput, _ := serveLogged(t, req, http.StatusOK)

	if !strings.Contains(logOutput, "203.0.113.195") {
		t.Errorf("log should contain client IP from X-Forwarded-For, got: %s", logOutput)
	}
}

func TestRequestLoggingMiddleware_LevelByStatus(t *testing.T) {
	tests := []struct {
		status    int
		wantLevel string
	}{
		{http.StatusOK, "level=INFO"},
		{http.StatusNotFound, "level=INFO"},
		{http.StatusInternalServerError, "level=WARN"},
		{http.StatusServiceUnavailable, "level=WARN"},
	}

	for _, tt := range tests {
		logOutput, _ := serveLogged(t, httptest.NewRequest("GET", "/api/results/abc", nil), tt.status)
		if !strings.Contains(logOutput, tt.wantLevel) {
			t.Errorf("status %d: expected %s, got: %s", tt.status, tt.wantLevel, logOutput)
		}
	}
}

func TestRequestLoggingMiddleware_RedactsSensitiveQueryParams(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/results/abc?api_key=secretkey123&page=2", nil)
	logOutput, _ := serveLogged(t, req, http.StatusOK)

	if strings.Contains(logOutput, "secretkey123") {
		t.Errorf("log should NOT contain sensitive value, got: %s", logOutput)
	}
	if !strings.Contains(logOutput, "api_key=[REDACTED]") || !strings.Contains(logOutput, "page=2") {
		t.Errorf("log should keep redacted and harmless params, got: %s", logOutput)
	}
}

func TestRequestLoggingMiddleware_LogsRequestID(t *testing.T) {
	var buf bytes.Buffer
	mw := NewRequestLoggingMiddleware(slog.New(slog.NewTextHandler(&buf, nil)))
	wrapped := RequestID(mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))

	req := httptest.NewRequest("GET", "/api/results/abc", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	wrapped.ServeHTTP(httptest.NewRecorder(), req)

	if !strings.Contains(buf.String(), "request_id=req-42") {
		t.Errorf("log should contain request id, got: %s", buf.String())
	}
}

func TestRequestLoggingMiddleware_PassesRequestThrough(t *testing.T) {
	var buf bytes.Buffer
	mw := NewRequestLoggingMiddleware(slog.New(slog.NewTextHandler(&buf, nil)))

	wrapped := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Custom", "value")
		w.WriteHeader(http.StatusCreated)
		w.WriteHeader(http.StatusInternalServerError) // superfluous, ignored
		_, _ = w.Write([]byte("response body"))
	}))

	req := httptest.NewRequest("POST", "/api/upload", nil)
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Errorf("expected status 201, got %d", rec.Code)
	}
	if rec.Header().Get("X-Custom") != "value" {
		t.Error("custom header should be preserved")
	}
	if rec.Body.String() != "response body" {
		t.Errorf("response body should be preserved, got: %s", rec.Body.String())
	}
	if !strings.Contains(buf.String(), "status=201") {
		t.Errorf("log should contain the first status written, got: %s", buf.String())
	}
}

func TestRequestLoggingMiddleware_SkipsNoisyPaths(t *testing.T) {
	for _, path := range []string{"/api/health", "/metrics", "/api/status/abc"} {
		logOutput, rec := serveLogged(t, httptest.NewRequest("GET", path, nil), http.StatusOK)

		if logOutput != "" {
			t.Errorf("%s should not be logged, got: %s", path, logOutput)
		}
		if rec.Code != http.StatusOK {
			t.Errorf("%s: expected status 200, got %d", path, rec.Code)
		}
	}
}

func TestSanitizePath(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		rawQuery string
		want     string
	}{
		{name: "no query", path: "/api/health", want: "/api/health"},
		{name: "harmless query", path: "/x", rawQuery: "a=1", want: "/x?a=1"},
		{name: "token", path: "/x", rawQuery: "token=abc", want: "/x?token=[REDACTED]"},
		{name: "case insensitive", path: "/x", rawQuery: "API_KEY=abc", want: "/x?API_KEY=[REDACTED]"},
		{name: "valueless params dropped", path: "/x", rawQuery: "flag", want: "/x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizePath(tt.path, tt.rawQuery); got != tt.want {
				t.Errorf("sanitizePath() = %q, want %q", got, tt.want)
			}
		})
	}
}
