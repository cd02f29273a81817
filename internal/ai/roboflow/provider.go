package roboflow

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/DukeRupert/defectscan/internal/ai"
	"github.com/DukeRupert/defectscan/internal/metrics"
	"github.com/disintegration/imaging"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"
)

const (
	// DefaultAPIURL is the base URL of the hosted inference API
	DefaultAPIURL = "https://detect.roboflow.com"

	// DefaultModel is the mold classification model, as "{project}/{version}"
	DefaultModel = "mouldy-wall-classification/2"

	// MaxImageSize is the maximum encoded frame size in bytes (20MB)
	MaxImageSize = 20 * 1024 * 1024

	// JPEGQuality is used when encoding frames for upload
	JPEGQuality = 90

	// initFrameSize is the edge of the blank frame sent by Init
	initFrameSize = 32
)

// Config contains configuration for the Roboflow provider
type Config struct {
	APIKey string
	APIURL string
	Model  string

	// RequestsPerSecond and Burst pace calls across all sessions
	RequestsPerSecond float64
	Burst             int

	// BreakerFailures consecutive failures open the circuit for BreakerTimeout
	BreakerFailures uint32
	BreakerTimeout  time.Duration

	ProviderConfig ai.ProviderConfig
}

// Provider implements ai.MoldClassifier using the Roboflow hosted API
type Provider struct {
	config  Config
	client  *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[[]ai.Prediction]
	logger  *slog.Logger

	// disabled is set once the API rejects the key or the model
	disabled atomic.Bool
}

// New creates a new Roboflow provider. A provider without an API key is
// returned unavailable rather than as an error, so callers can skip it.
func New(config Config, logger *slog.Logger) *Provider {
	// Set defaults
	if config.APIURL == "" {
		config.APIURL = DefaultAPIURL
	}
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = 5
	}
	if config.Burst <= 0 {
		config.Burst = 5
	}
	if config.BreakerFailures == 0 {
		config.BreakerFailures = 5
	}
	if config.BreakerTimeout == 0 {
		config.BreakerTimeout = 30 * time.Second
	}
	if config.ProviderConfig.MaxRetries == 0 {
		config.ProviderConfig.MaxRetries = 3
	}
	if config.ProviderConfig.RetryBaseDelay == 0 {
		config.ProviderConfig.RetryBaseDelay = 1 * time.Second
	}
	if config.ProviderConfig.RequestTimeout == 0 {
		config.ProviderConfig.RequestTimeout = 30 * time.Second
	}

	p := &Provider{
		config: config,
		client: &http.Client{
			Timeout: config.ProviderConfig.RequestTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(config.RequestsPerSecond), config.Burst),
		logger:  logger,
	}

	p.breaker = gobreaker.NewCircuitBreaker[[]ai.Prediction](gobreaker.Settings{
		Name:        "roboflow",
		MaxRequests: 1,
		Timeout:     config.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.BreakerFailures
		},
		IsSuccessful: func(err error) bool {
			// Bad frames are the caller's fault; everything else counts
			// against the circuit
			return err == nil || !(ai.IsRetryable(err) || ai.IsPermanent(err))
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	if config.APIKey == "" {
		logger.Warn("No Roboflow API key provided, mold detection disabled")
	}

	return p
}

// Available reports whether an API key is configured and has not been
// rejected by the API.
func (p *Provider) Available() bool {
	return p.config.APIKey != "" && !p.disabled.Load()
}

// Init sends one blank frame to the model to verify the key and the model
// name. A rejected key or an unknown model disables the provider and is
// returned. Transient failures are logged and leave the provider available.
func (p *Provider) Init(ctx context.Context) error {
	if !p.Available() {
		return nil
	}

	var buf bytes.Buffer
	blank := image.NewRGBA(image.Rect(0, 0, initFrameSize, initFrameSize))
	if err := imaging.Encode(&buf, blank, imaging.JPEG, imaging.JPEGQuality(JPEGQuality)); err != nil {
		return ai.WrapError("init", err)
	}

	_, err := p.executeRequest(ctx, base64.StdEncoding.EncodeToString(buf.Bytes()), ai.PredictParams{})
	switch {
	case err == nil:
		p.logger.Info("Roboflow model ready", "model", p.config.Model)
		return nil
	case ai.IsPermanent(err):
		p.disable(err)
		return ai.WrapError("init", err)
	default:
		p.logger.Warn("Roboflow model check failed, will retry per frame", "model", p.config.Model, "error", err)
		return nil
	}
}

func (p *Provider) disable(err error) {
	if p.disabled.CompareAndSwap(false, true) {
		p.logger.Error("Roboflow rejected the request, mold detection disabled",
			"model", p.config.Model,
			"error", err,
		)
	}
}

// Predict encodes the frame as JPEG and runs it through the hosted model.
func (p *Provider) Predict(ctx context.Context, frame image.Image, params ai.PredictParams) ([]ai.Prediction, error) {
	if !p.Available() {
		return nil, ai.WrapError("predict", ai.EAINotConfigured)
	}
	if frame == nil || frame.Bounds().Empty() {
		return nil, ai.WrapError("predict", ai.EAIInvalidImage)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, frame, imaging.JPEG, imaging.JPEGQuality(JPEGQuality)); err != nil {
		return nil, ai.WrapError("encode frame", fmt.Errorf("%w: %w", ai.EAIInvalidImage, err))
	}
	if buf.Len() > MaxImageSize {
		return nil, ai.WrapError("predict", fmt.Errorf("%w: image size %d exceeds maximum %d", ai.EAIInvalidImage, buf.Len(), MaxImageSize))
	}
	body := base64.StdEncoding.EncodeToString(buf.Bytes())

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, ai.WrapError("rate limiter wait", err)
	}

	start := time.Now()
	predictions, err := p.breaker.Execute(func() ([]ai.Prediction, error) {
		return p.executeWithRetry(ctx, body, params)
	})
	if err != nil {
		if ai.IsPermanent(err) {
			p.disable(err)
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = fmt.Errorf("%w: circuit open", ai.EAIUnavailable)
		}
		metrics.ModelRequestsTotal.WithLabelValues("error").Inc()
		return nil, ai.WrapError("predict", err)
	}

	metrics.ModelRequestsTotal.WithLabelValues("success").Inc()
	p.logger.Debug("model prediction complete",
		"frame", params.FrameIndex,
		"predictions", len(predictions),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return predictions, nil
}

// endpoint builds the inference URL. Thresholds are sent as percentages.
func (p *Provider) endpoint(params ai.PredictParams) string {
	q := url.Values{}
	q.Set("api_key", p.config.APIKey)
	q.Set("confidence", strconv.Itoa(percent(params.Confidence)))
	q.Set("overlap", strconv.Itoa(percent(params.Overlap)))
	q.Set("format", "json")
	return strings.TrimRight(p.config.APIURL, "/") + "/" + strings.Trim(p.config.Model, "/") + "?" + q.Encode()
}

func percent(threshold float64) int {
	if threshold <= 0 {
		threshold = ai.DefaultThreshold
	}
	return int(math.Round(ai.ClampThreshold(threshold) * 100))
}

// executeWithRetry executes the request with exponential backoff retry
func (p *Provider) executeWithRetry(ctx context.Context, body string, params ai.PredictParams) ([]ai.Prediction, error) {
	var lastErr error

	for attempt := 1; attempt <= p.config.ProviderConfig.MaxRetries; attempt++ {
		predictions, err := p.executeRequest(ctx, body, params)
		if err == nil {
			return predictions, nil
		}

		lastErr = err

		// Only retry on retryable errors
		if !ai.IsRetryable(err) {
			return nil, err
		}

		// Don't retry if we've exhausted attempts
		if attempt >= p.config.ProviderConfig.MaxRetries {
			break
		}

		// Calculate backoff delay (exponential: base * 2^(attempt-1))
		delay := p.config.ProviderConfig.RetryBaseDelay * time.Duration(1<<(attempt-1))
		p.logger.Info("Retrying model request", "attempt", attempt, "delay", delay, "error", err)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}

	return nil, lastErr
}

// executeRequest executes a single HTTP request
func (p *Provider) executeRequest(ctx context.Context, body string, params ai.PredictParams) ([]ai.Prediction, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint(params), strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, ai.EAITimeout
		}
		// Network errors are typically retryable
		return nil, ai.EAIUnavailable
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, mapHTTPError(resp.StatusCode, bodyBytes)
	}

	var apiResp apiResponse
	if err := json.Unmarshal(bodyBytes, &apiResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	predictions := make([]ai.Prediction, 0, len(apiResp.Predictions))
	for _, pr := range apiResp.Predictions {
		if pr.Width <= 0 || pr.Height <= 0 {
			continue
		}
		predictions = append(predictions, ai.Prediction{
			X:          pr.X,
			Y:          pr.Y,
			Width:      pr.Width,
			Height:     pr.Height,
			Confidence: max(0, min(1, pr.Confidence)),
			Class:      pr.Class,
		})
	}
	return predictions, nil
}

// mapHTTPError maps HTTP status codes to domain errors
func mapHTTPError(statusCode int, body []byte) error {
	var errResp apiErrorResponse
	_ = json.Unmarshal(body, &errResp)

	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ai.EAIUnauthorized
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ai.EAIModelNotFound, errResp.message())
	case http.StatusTooManyRequests:
		return ai.EAIRateLimit
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return ai.EAITimeout
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge:
		return fmt.Errorf("%w: %s", ai.EAIInvalidImage, errResp.message())
	case http.StatusInternalServerError, http.StatusServiceUnavailable, http.StatusBadGateway:
		return ai.EAIUnavailable
	default:
		return fmt.Errorf("API error (status %d): %s", statusCode, errResp.message())
	}
}

// API response types

type apiResponse struct {
	Predictions []apiPrediction `json:"predictions"`
	Image       struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	} `json:"image"`
}

type apiPrediction struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
	Confidence float64 `json:"confidence"`
	Class      string  `json:"class"`
}

// Errors come back either as a bare string or as an object.
type apiErrorResponse struct {
	Error   json.RawMessage `json:"error"`
	Message string          `json:"message"`
}

func (e apiErrorResponse) message() string {
	if e.Message != "" {
		return e.Message
	}
	var s string
	if json.Unmarshal(e.Error, &s) == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(e.Error, &obj) == nil {
		return obj.Message
	}
	return ""
}
