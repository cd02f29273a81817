package internal

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig_Defaults(t *testing.T) {
	cfg, err := NewConfig()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Env)
	assert.Equal(t, 5000, cfg.Port)
	assert.Equal(t, int64(100<<20), cfg.MaxContentLength)
	assert.Equal(t, "uploads", cfg.UploadFolder)
	assert.Equal(t, "thumbnails", cfg.ThumbnailFolder)
	assert.Equal(t, "local", cfg.StorageProvider)
	assert.Equal(t, "roboflow", cfg.AIProvider)
	assert.Equal(t, "mouldy-wall-classification/2", cfg.RoboflowModel)
	assert.Equal(t, 10, cfg.FrameSkipRatio)
	assert.Equal(t, 0.5, cfg.ConfidenceThreshold)
	assert.Equal(t, 0.5, cfg.OverlapThreshold)
	assert.Equal(t, 0.7, cfg.ThumbnailThreshold)
	assert.Equal(t, 2, cfg.WorkerConcurrency)
	assert.Equal(t, 32, cfg.WorkerQueueSize)
	assert.Equal(t, 30*time.Minute, cfg.WorkerJobTimeout)
	assert.Equal(t, 24*time.Hour, cfg.SessionTTL)
	assert.Equal(t, 10*time.Minute, cfg.SessionCleanupInterval)
	assert.True(t, cfg.RemoveUploads)
	assert.Empty(t, cfg.CORSOrigins)
	assert.False(t, cfg.IsProduction())
}

func TestNewConfig_Overrides(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("FRAME_SKIP_RATIO", "5")
	t.Setenv("THUMBNAIL_THRESHOLD", "0.9")
	t.Setenv("SESSION_TTL", "2h")
	t.Setenv("CORS_ORIGINS", " https://a.example.com, ,https://b.example.com ")
	t.Setenv("MAX_CONTENT_LENGTH", "1048576")
	t.Setenv("REMOVE_UPLOADS", "false")
	t.Setenv("WORKER_QUEUE_SIZE", "not-a-number")

	cfg, err := NewConfig()
	require.NoError(t, err)

	assert.True(t, cfg.IsProduction())
	assert.Equal(t, 5, cfg.FrameSkipRatio)
	assert.Equal(t, 0.9, cfg.ThumbnailThreshold)
	assert.Equal(t, 2*time.Hour, cfg.SessionTTL)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.CORSOrigins)
	assert.Equal(t, int64(1<<20), cfg.MaxContentLength)
	assert.False(t, cfg.RemoveUploads)
	assert.Equal(t, 32, cfg.WorkerQueueSize, "unparsable values fall back to the default")
}

func TestNewConfig_Validation(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "unknown storage provider",
			env:     map[string]string{"STORAGE_PROVIDER": "s3"},
			wantErr: "STORAGE_PROVIDER",
		},
		{
			name:    "r2 without account",
			env:     map[string]string{"STORAGE_PROVIDER": "r2"},
			wantErr: "R2_ACCOUNT_ID",
		},
		{
			name: "r2 without bucket",
			env: map[string]string{
				"STORAGE_PROVIDER":     "r2",
				"R2_ACCOUNT_ID":        "acct",
				"R2_ACCESS_KEY_ID":     "key",
				"R2_SECRET_ACCESS_KEY": "secret",
			},
			wantErr: "R2_BUCKET_NAME",
		},
		{
			name:    "unknown ai provider",
			env:     map[string]string{"AI_PROVIDER": "anthropic"},
			wantErr: "AI_PROVIDER",
		},
		{
			name:    "zero stride",
			env:     map[string]string{"FRAME_SKIP_RATIO": "0"},
			wantErr: "FRAME_SKIP_RATIO",
		},
		{
			name:    "threshold above one",
			env:     map[string]string{"CONFIDENCE_THRESHOLD": "1.5"},
			wantErr: "CONFIDENCE_THRESHOLD",
		},
		{
			name:    "zero threshold",
			env:     map[string]string{"THUMBNAIL_THRESHOLD": "0"},
			wantErr: "THUMBNAIL_THRESHOLD",
		},
		{
			name:    "negative rate limit",
			env:     map[string]string{"UPLOAD_RATE_LIMIT": "-1"},
			wantErr: "UPLOAD_RATE_LIMIT",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := NewConfig()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewConfig_R2Complete(t *testing.T) {
	t.Setenv("STORAGE_PROVIDER", "r2")
	t.Setenv("R2_ACCOUNT_ID", "acct")
	t.Setenv("R2_ACCESS_KEY_ID", "key")
	t.Setenv("R2_SECRET_ACCESS_KEY", "secret")
	t.Setenv("R2_BUCKET_NAME", "bucket")

	cfg, err := NewConfig()
	require.NoError(t, err)
	assert.Equal(t, "thumbnails", cfg.R2KeyPrefix)
}

func TestNewLogger(t *testing.T) {
	t.Run("development uses text", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLogger(&buf, "development", "info")

		logger.Debug("hidden")
		logger.Info("shown", "k", "v")

		out := buf.String()
		assert.NotContains(t, out, "hidden")
		assert.Contains(t, out, "msg=shown")
		assert.Contains(t, out, "service=defectscan")
	})

	t.Run("production uses json", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLogger(&buf, "production", "WARN")

		logger.Info("hidden")
		logger.Warn("shown")

		var rec map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
		assert.Equal(t, "shown", rec["msg"])
		assert.Equal(t, "defectscan", rec["service"])
	})
}
