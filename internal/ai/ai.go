package ai

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"
)

// MoldClassifier defines the interface for a remote mold detection model
type MoldClassifier interface {
	// Predict runs the model on one RGB frame and returns its raw boxes
	Predict(ctx context.Context, frame image.Image, params PredictParams) ([]Prediction, error)

	// Available reports whether the model can be called at all. It must be
	// cheap and free of side effects; it is consulted once per detector.
	Available() bool
}

// PredictParams contains parameters for one inference call
type PredictParams struct {
	Confidence float64 // Minimum confidence (0-1) the model should return
	Overlap    float64 // NMS overlap threshold (0-1)
	FrameIndex int     // Frame index for log correlation
}

// Prediction is one raw box returned by the model, in pixel space
type Prediction struct {
	X          float64 `json:"x"`      // Box center X in pixels
	Y          float64 `json:"y"`      // Box center Y in pixels
	Width      float64 `json:"width"`  // Box width in pixels
	Height     float64 `json:"height"` // Box height in pixels
	Confidence float64 `json:"confidence"`
	Class      string  `json:"class"`
}

// Threshold bounds accepted by the model API
const (
	MinThreshold     = 0.1
	MaxThreshold     = 1.0
	DefaultThreshold = 0.5
)

// ClampThreshold forces a confidence or overlap threshold into
// [MinThreshold, MaxThreshold].
func ClampThreshold(v float64) float64 {
	return max(MinThreshold, min(MaxThreshold, v))
}

// ProviderConfig contains common configuration for AI providers
type ProviderConfig struct {
	MaxRetries     int           // Maximum retry attempts for transient errors
	RetryBaseDelay time.Duration // Base delay for exponential backoff
	RequestTimeout time.Duration // Timeout for individual requests
}

// Error codes for AI provider operations
var (
	// EAIRateLimit indicates the API rate limit has been exceeded
	EAIRateLimit = errors.New("ai provider rate limit exceeded")

	// EAIInvalidImage indicates the image format or content is invalid
	EAIInvalidImage = errors.New("invalid image format or content")

	// EAITimeout indicates the request timed out
	EAITimeout = errors.New("ai request timed out")

	// EAIUnavailable indicates the AI service is temporarily unavailable
	EAIUnavailable = errors.New("ai service temporarily unavailable")

	// EAIUnauthorized indicates invalid API credentials
	EAIUnauthorized = errors.New("ai provider authentication failed")

	// EAINotConfigured indicates the provider has no credentials
	EAINotConfigured = errors.New("ai provider not configured")

	// EAIModelNotFound indicates the configured model does not exist
	EAIModelNotFound = errors.New("ai model not found")
)

// IsRetryable returns true if the error is a transient error that can be retried
func IsRetryable(err error) bool {
	return errors.Is(err, EAIRateLimit) ||
		errors.Is(err, EAITimeout) ||
		errors.Is(err, EAIUnavailable)
}

// IsPermanent returns true if the error means the provider cannot serve any
// request until its configuration changes
func IsPermanent(err error) bool {
	return errors.Is(err, EAIUnauthorized) ||
		errors.Is(err, EAIModelNotFound) ||
		errors.Is(err, EAINotConfigured)
}

// WrapError wraps an error with context about the AI operation
func WrapError(operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("ai %s: %w", operation, err)
}
