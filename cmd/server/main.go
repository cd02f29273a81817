package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/DukeRupert/defectscan/internal"
	"github.com/DukeRupert/defectscan/internal/ai"
	"github.com/DukeRupert/defectscan/internal/ai/mock"
	"github.com/DukeRupert/defectscan/internal/ai/roboflow"
	"github.com/DukeRupert/defectscan/internal/analysis"
	"github.com/DukeRupert/defectscan/internal/detector"
	"github.com/DukeRupert/defectscan/internal/domain"
	"github.com/DukeRupert/defectscan/internal/handler"
	"github.com/DukeRupert/defectscan/internal/jobs"
	"github.com/DukeRupert/defectscan/internal/metrics"
	"github.com/DukeRupert/defectscan/internal/middleware"
	"github.com/DukeRupert/defectscan/internal/session"
	"github.com/DukeRupert/defectscan/internal/storage"
	"github.com/DukeRupert/defectscan/internal/video"
	"github.com/DukeRupert/defectscan/internal/worker"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// ==========================================================================
	// Storage
	// ==========================================================================

	uploads, err := storage.NewLocalStorage(storage.LocalConfig{BasePath: cfg.UploadFolder}, logger)
	if err != nil {
		return fmt.Errorf("upload storage initialization failed: %w", err)
	}

	thumbnails, err := newThumbnailStorage(cfg, logger)
	if err != nil {
		return fmt.Errorf("thumbnail storage initialization failed: %w", err)
	}

	// ==========================================================================
	// Detectors
	// ==========================================================================

	classifier := newClassifier(ctx, cfg, logger)

	mold := detector.NewMoldDetector(classifier, logger)
	mold.SetConfidenceThreshold(cfg.ConfidenceThreshold)
	mold.SetOverlapThreshold(cfg.OverlapThreshold)

	detectors := []*detector.Guarded{
		detector.Guard(mold, logger),
		detector.Guard(detector.NewCrackDetector(detector.DefaultCrackConfig()), logger),
		detector.Guard(detector.NewStainDetector(detector.DefaultStainConfig()), logger),
	}

	aggregator := analysis.NewAggregator(
		detectors,
		analysis.NewThumbnailWriter(thumbnails),
		analysis.AggregatorConfig{ThumbnailThreshold: cfg.ThumbnailThreshold},
		logger,
	)
	logger.Info("Detectors ready", "available", aggregator.Available())

	opener := video.NewFFmpegOpener(cfg.FFmpegPath, cfg.FFprobePath, logger)
	if !opener.Available() {
		logger.Warn("ffmpeg not found, uploaded videos cannot be decoded",
			"ffmpeg", cfg.FFmpegPath,
			"ffprobe", cfg.FFprobePath,
		)
	}

	// ==========================================================================
	// Sessions and background analysis
	// ==========================================================================

	sessions := session.NewStore(session.Config{
		TTL:             cfg.SessionTTL,
		CleanupInterval: cfg.SessionCleanupInterval,
	}, logger)
	sessions.OnEvict(removeSessionFiles(uploads, thumbnails, logger))

	orchestrator, err := analysis.NewOrchestrator(sessions, opener, aggregator, analysis.OrchestratorConfig{
		Stride:       cfg.FrameSkipRatio,
		Uploads:      uploads,
		RemoveUpload: cfg.RemoveUploads,
	}, logger)
	if err != nil {
		return fmt.Errorf("orchestrator initialization failed: %w", err)
	}

	workerCfg := worker.DefaultConfig()
	workerCfg.Concurrency = cfg.WorkerConcurrency
	workerCfg.QueueSize = cfg.WorkerQueueSize
	workerCfg.JobTimeout = cfg.WorkerJobTimeout
	workerCfg.ShutdownTimeout = cfg.WorkerShutdownTimeout

	w, err := worker.New(workerCfg, logger)
	if err != nil {
		return fmt.Errorf("worker initialization failed: %w", err)
	}
	w.Register(jobs.NewAnalyzeVideoHandler(orchestrator, logger))
	w.Start(ctx)

	// ==========================================================================
	// Create router and register routes
	// ==========================================================================

	mux := http.NewServeMux()

	healthHandler := handler.NewHealthHandler(classifier, sessions)
	healthHandler.RegisterRoutes(mux)

	limitUploads := func(next http.Handler) http.Handler { return next }
	if cfg.UploadRateLimit > 0 {
		limiter := middleware.NewRateLimiter(cfg.UploadRateLimit, time.Minute, logger)
		defer limiter.Close()
		limitUploads = middleware.NewRateLimitMiddleware(limiter, logger).Limit
	}

	analysisHandler := handler.NewAnalysisHandler(
		sessions,
		uploads,
		thumbnails,
		w,
		handler.AnalysisHandlerConfig{MaxUploadSize: cfg.MaxContentLength},
		logger,
	)
	analysisHandler.RegisterRoutes(mux, limitUploads)

	metricsAuth := middleware.NewMetricsAuthMiddleware(cfg.MetricsUsername, cfg.MetricsPassword)
	if !metricsAuth.Enabled() && cfg.IsProduction() {
		logger.Warn("Metrics endpoint is not protected, set METRICS_USERNAME and METRICS_PASSWORD")
	}
	mux.Handle("GET /metrics", metricsAuth.Handler(promhttp.Handler()))

	// Middleware chain, outermost first
	requestLogger := middleware.NewRequestLoggingMiddleware(logger)
	cors := middleware.NewCORSMiddleware(cfg.CORSOrigins)
	securityHeaders := middleware.NewSecurityHeadersMiddleware(cfg.IsProduction())

	var h http.Handler = mux
	h = securityHeaders.Handler(h)
	h = cors.Handler(h)
	h = metrics.Middleware(h)
	h = requestLogger.Handler(h)
	h = middleware.RequestID(h)

	// ==========================================================================
	// Start server
	// ==========================================================================

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Server started", "address", server.Addr, "base_url", cfg.BaseURL, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutdown signal received, initiating graceful shutdown...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}

		// Let running analyses finish or time out before exiting.
		w.Stop()
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	// Sessions do not survive a restart, so neither do their files.
	sessions.Flush()
	logger.Info("Graceful shutdown complete")
	return nil
}

// newThumbnailStorage picks the thumbnail backend named by STORAGE_PROVIDER.
func newThumbnailStorage(cfg *internal.Config, logger *slog.Logger) (storage.Storage, error) {
	switch cfg.StorageProvider {
	case storage.ProviderR2:
		return storage.NewR2Storage(storage.R2Config{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			SecretAccessKey: cfg.R2SecretAccessKey,
			BucketName:      cfg.R2BucketName,
			KeyPrefix:       cfg.R2KeyPrefix,
		}, logger)
	default:
		return storage.NewLocalStorage(storage.LocalConfig{BasePath: cfg.ThumbnailFolder}, logger)
	}
}

// newClassifier returns the mold model client. Without a working API key the
// Roboflow provider reports itself unavailable and mold detection is skipped.
func newClassifier(ctx context.Context, cfg *internal.Config, logger *slog.Logger) ai.MoldClassifier {
	if cfg.AIProvider == internal.AIProviderMock {
		logger.Info("Using mock mold classifier")
		return mock.New(logger)
	}

	if cfg.RoboflowAPIKey == "" {
		logger.Warn("ROBOFLOW_API_KEY is not set, mold detection is disabled",
			"hint_1", "get an API key at https://app.roboflow.com/settings/api",
			"hint_2", "export ROBOFLOW_API_KEY=<key>",
			"hint_3", "or add ROBOFLOW_API_KEY=<key> to .env",
		)
	}

	provider := roboflow.New(roboflow.Config{
		APIKey:            cfg.RoboflowAPIKey,
		APIURL:            cfg.RoboflowAPIURL,
		Model:             cfg.RoboflowModel,
		RequestsPerSecond: cfg.RoboflowRPS,
		ProviderConfig: ai.ProviderConfig{
			MaxRetries:     cfg.AIMaxRetries,
			RetryBaseDelay: cfg.AIRetryBaseDelay,
			RequestTimeout: cfg.AIRequestTimeout,
		},
	}, logger)

	// A rejected key or model disables the provider before any detector
	// asks whether it is available.
	initCtx, cancel := context.WithTimeout(ctx, cfg.AIRequestTimeout)
	defer cancel()
	if err := provider.Init(initCtx); err != nil {
		logger.Warn("Check ROBOFLOW_API_KEY and ROBOFLOW_MODEL", "error", err)
	}

	return provider
}

// removeSessionFiles deletes the upload and thumbnails of a session once it
// leaves the store.
func removeSessionFiles(uploads, thumbnails storage.Storage, logger *slog.Logger) func(*domain.AnalysisSession) {
	return func(sess *domain.AnalysisSession) {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if sess.FilePath != "" {
			if err := uploads.Delete(ctx, filepath.Base(sess.FilePath)); err != nil && !storage.IsNotFound(err) {
				logger.Warn("Failed to remove upload", "session_id", sess.ID, "error", err)
			}
		}

		if sess.Results == nil {
			return
		}
		for _, det := range sess.Results.Defects {
			if det.Thumbnail == "" {
				continue
			}
			key := storage.ThumbnailName(sess.ID, det.ID)
			if err := thumbnails.Delete(ctx, key); err != nil && !storage.IsNotFound(err) {
				logger.Warn("Failed to remove thumbnail", "session_id", sess.ID, "key", key, "error", err)
			}
		}
	}
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
