package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestRequestID(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{name: "generates when missing", incoming: "", keep: false},
		{name: "reuses valid id", incoming: "abc-123", keep: true},
		{name: "rejects whitespace", incoming: "abc 123", keep: false},
		{name: "rejects control characters", incoming: "abc\x01", keep: false},
		{name: "rejects oversized ids", incoming: strings.Repeat("a", maxRequestIDLength+1), keep: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			wrapped := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = RequestIDFromContext(r.Context())
			}))

			req := httptest.NewRequest("GET", "/api/health", nil)
			if tt.incoming != "" {
				req.Header.Set(RequestIDHeader, tt.incoming)
			}
			rec := httptest.NewRecorder()
			wrapped.ServeHTTP(rec, req)

			if seen == "" {
				t.Fatal("handler should see a request id")
			}
			if got := rec.Header().Get(RequestIDHeader); got != seen {
				t.Errorf("response header %q should match context id %q", got, seen)
			}
			if tt.keep {
				if seen != tt.incoming {
					t.Errorf("expected incoming id %q to be reused, got %q", tt.incoming, seen)
				}
			} else if _, err := uuid.Parse(seen); err != nil {
				t.Errorf("expected a generated uuid, got %q", seen)
			}
		})
	}
}

func TestRequestIDFromContext_Missing(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	if id := RequestIDFromContext(req.Context()); id != "" {
		t.Errorf("expected empty id, got %q", id)
	}
}
