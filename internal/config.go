package internal

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Mold classifier providers accepted by AI_PROVIDER.
const (
	AIProviderRoboflow = "roboflow"
	AIProviderMock     = "mock"
)

type Config struct {
	Env      string
	Port     int
	LogLevel string

	// Application base URL (logged at startup)
	BaseURL string

	// Upload Configuration
	MaxContentLength int64  // Largest accepted upload body, in bytes
	UploadFolder     string // Uploaded videos live here until analyzed
	RemoveUploads    bool   // Delete a video once its analysis has finished
	UploadRateLimit  int    // Uploads per client IP per minute; 0 disables

	// Thumbnail Storage Configuration
	StorageProvider string // "local" or "r2"
	ThumbnailFolder string // Base directory for local thumbnails

	// R2 Storage (production)
	R2AccountID       string
	R2AccessKeyID     string
	R2SecretAccessKey string
	R2BucketName      string
	R2KeyPrefix       string // Namespaces thumbnails inside a shared bucket

	// Mold Model Configuration
	AIProvider       string // "roboflow" or "mock"
	RoboflowAPIKey   string
	RoboflowModel    string
	RoboflowAPIURL   string
	RoboflowRPS      float64
	AIMaxRetries     int
	AIRetryBaseDelay time.Duration
	AIRequestTimeout time.Duration

	// Analysis Configuration
	FrameSkipRatio      int // Every Nth frame is analyzed
	ConfidenceThreshold float64
	OverlapThreshold    float64
	ThumbnailThreshold  float64
	FFmpegPath          string
	FFprobePath         string

	// Worker Configuration
	WorkerConcurrency     int
	WorkerQueueSize       int
	WorkerJobTimeout      time.Duration
	WorkerShutdownTimeout time.Duration

	// Session Configuration
	SessionTTL             time.Duration
	SessionCleanupInterval time.Duration

	// Allowed CORS origins; "*" allows any
	CORSOrigins []string

	// Metrics endpoint authentication
	// If both are empty, the /metrics endpoint will be unprotected (not recommended)
	MetricsUsername string
	MetricsPassword string
}

func NewConfig() (*Config, error) {
	// Load .env file if it exists (ignored in production)
	_ = godotenv.Load()

	cfg := &Config{
		Env:      getEnv("ENV", "development"),
		Port:     getEnvInt("PORT", 5000),
		LogLevel: getEnv("LOG_LEVEL", "debug"),

		BaseURL: getEnv("BASE_URL", "http://localhost:5000"),

		// Upload defaults
		MaxContentLength: getEnvInt64("MAX_CONTENT_LENGTH", 100<<20),
		UploadFolder:     getEnv("UPLOAD_FOLDER", "uploads"),
		RemoveUploads:    getEnvBool("REMOVE_UPLOADS", true),
		UploadRateLimit:  getEnvInt("UPLOAD_RATE_LIMIT", 10),

		// Thumbnails default to the local filesystem
		StorageProvider: getEnv("STORAGE_PROVIDER", "local"),
		ThumbnailFolder: getEnv("THUMBNAIL_FOLDER", "thumbnails"),

		// R2 configuration (production only)
		R2AccountID:       getEnv("R2_ACCOUNT_ID", ""),
		R2AccessKeyID:     getEnv("R2_ACCESS_KEY_ID", ""),
		R2SecretAccessKey: getEnv("R2_SECRET_ACCESS_KEY", ""),
		R2BucketName:      getEnv("R2_BUCKET_NAME", ""),
		R2KeyPrefix:       getEnv("R2_KEY_PREFIX", "thumbnails"),

		// Mold model defaults
		AIProvider:       getEnv("AI_PROVIDER", AIProviderRoboflow),
		RoboflowAPIKey:   getEnv("ROBOFLOW_API_KEY", ""),
		RoboflowModel:    getEnv("ROBOFLOW_MODEL", "mouldy-wall-classification/2"),
		RoboflowAPIURL:   getEnv("ROBOFLOW_API_URL", "https://detect.roboflow.com"),
		RoboflowRPS:      getEnvFloat("ROBOFLOW_RPS", 5),
		AIMaxRetries:     getEnvInt("AI_MAX_RETRIES", 3),
		AIRetryBaseDelay: getEnvDuration("AI_RETRY_BASE_DELAY", 1*time.Second),
		AIRequestTimeout: getEnvDuration("AI_REQUEST_TIMEOUT", 30*time.Second),

		// Analysis defaults
		FrameSkipRatio:      getEnvInt("FRAME_SKIP_RATIO", 10),
		ConfidenceThreshold: getEnvFloat("CONFIDENCE_THRESHOLD", 0.5),
		OverlapThreshold:    getEnvFloat("OVERLAP_THRESHOLD", 0.5),
		ThumbnailThreshold:  getEnvFloat("THUMBNAIL_THRESHOLD", 0.7),
		FFmpegPath:          getEnv("FFMPEG_PATH", "ffmpeg"),
		FFprobePath:         getEnv("FFPROBE_PATH", "ffprobe"),

		// Worker defaults
		WorkerConcurrency:     getEnvInt("WORKER_CONCURRENCY", 2),
		WorkerQueueSize:       getEnvInt("WORKER_QUEUE_SIZE", 32),
		WorkerJobTimeout:      getEnvDuration("WORKER_JOB_TIMEOUT", 30*time.Minute),
		WorkerShutdownTimeout: getEnvDuration("WORKER_SHUTDOWN_TIMEOUT", 30*time.Second),

		// Session defaults
		SessionTTL:             getEnvDuration("SESSION_TTL", 24*time.Hour),
		SessionCleanupInterval: getEnvDuration("SESSION_CLEANUP_INTERVAL", 10*time.Minute),

		CORSOrigins: getEnvList("CORS_ORIGINS"),

		// Metrics authentication
		MetricsUsername: getEnv("METRICS_USERNAME", ""),
		MetricsPassword: getEnv("METRICS_PASSWORD", ""),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// IsProduction reports whether HTTPS-only behaviour should be enabled.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func (c *Config) validate() error {
	// Validate storage configuration
	if c.StorageProvider == "r2" {
		if c.R2AccountID == "" {
			return fmt.Errorf("R2_ACCOUNT_ID is required when STORAGE_PROVIDER is 'r2'")
		}
		if c.R2AccessKeyID == "" {
			return fmt.Errorf("R2_ACCESS_KEY_ID is required when STORAGE_PROVIDER is 'r2'")
		}
		if c.R2SecretAccessKey == "" {
			return fmt.Errorf("R2_SECRET_ACCESS_KEY is required when STORAGE_PROVIDER is 'r2'")
		}
		if c.R2BucketName == "" {
			return fmt.Errorf("R2_BUCKET_NAME is required when STORAGE_PROVIDER is 'r2'")
		}
	} else if c.StorageProvider != "local" {
		return fmt.Errorf("STORAGE_PROVIDER must be either 'local' or 'r2', got: %s", c.StorageProvider)
	}

	// A missing Roboflow key is not an error: mold detection is then skipped.
	if c.AIProvider != AIProviderRoboflow && c.AIProvider != AIProviderMock {
		return fmt.Errorf("AI_PROVIDER must be either 'roboflow' or 'mock', got: %s", c.AIProvider)
	}

	if c.MaxContentLength <= 0 {
		return fmt.Errorf("MAX_CONTENT_LENGTH must be positive, got: %d", c.MaxContentLength)
	}
	if c.FrameSkipRatio < 1 {
		return fmt.Errorf("FRAME_SKIP_RATIO must be at least 1, got: %d", c.FrameSkipRatio)
	}
	if c.UploadRateLimit < 0 {
		return fmt.Errorf("UPLOAD_RATE_LIMIT must not be negative, got: %d", c.UploadRateLimit)
	}

	thresholds := []struct {
		name  string
		value float64
	}{
		{"CONFIDENCE_THRESHOLD", c.ConfidenceThreshold},
		{"OVERLAP_THRESHOLD", c.OverlapThreshold},
		{"THUMBNAIL_THRESHOLD", c.ThumbnailThreshold},
	}
	for _, t := range thresholds {
		if t.value <= 0 || t.value > 1 {
			return fmt.Errorf("%s must be in (0, 1], got: %g", t.name, t.value)
		}
	}

	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

// getEnvList splits a comma-separated variable, dropping empty items.
func getEnvList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
