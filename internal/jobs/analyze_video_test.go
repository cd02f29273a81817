package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/DukeRupert/defectscan/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAnalyzer struct {
	sessions []string
	err      error
}

func (f *fakeAnalyzer) Run(ctx context.Context, sessionID string) error {
	f.sessions = append(f.sessions, sessionID)
	return f.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAnalyzeVideoHandler_Type(t *testing.T) {
	h := NewAnalyzeVideoHandler(&fakeAnalyzer{}, testLogger())
	assert.Equal(t, "analyze_video", h.Type())
}

func TestAnalyzeVideoHandler_Handle(t *testing.T) {
	tests := []struct {
		name        string
		payload     string
		runErr      error
		wantErr     bool
		wantSession []string
	}{
		{
			name:        "runs the session",
			payload:     `{"session_id":"abc"}`,
			wantSession: []string{"abc"},
		},
		{
			name:    "malformed payload",
			payload: `{"session_id":`,
			wantErr: true,
		},
		{
			name:    "missing session id",
			payload: `{}`,
			wantErr: true,
		},
		{
			name:        "analysis failure",
			payload:     `{"session_id":"abc"}`,
			runErr:      errors.New("could not open video file"),
			wantErr:     true,
			wantSession: []string{"abc"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			analyzer := &fakeAnalyzer{err: tt.runErr}
			h := NewAnalyzeVideoHandler(analyzer, testLogger())

			err := h.Handle(context.Background(), []byte(tt.payload))
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, worker.IsPermanent(err))
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantSession, analyzer.sessions)
		})
	}
}

func TestAnalyzeVideoHandler_WrapsCause(t *testing.T) {
	cause := errors.New("boom")
	h := NewAnalyzeVideoHandler(&fakeAnalyzer{err: cause}, testLogger())

	err := h.Handle(context.Background(), []byte(`{"session_id":"abc"}`))
	assert.ErrorIs(t, err, cause)
}
