// Package handler contains the HTTP handlers of the defect analysis API.
//
// This file implements the upload, status, results, thumbnail and session
// endpoints.
package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/DukeRupert/defectscan/internal/domain"
	"github.com/DukeRupert/defectscan/internal/storage"
	"github.com/DukeRupert/defectscan/internal/worker"
	"github.com/google/uuid"
)

// uploadField is the multipart form field carrying the video.
const uploadField = "video"

// =============================================================================
// Dependencies
// =============================================================================

// SessionStore holds analysis sessions.
type SessionStore interface {
	Create(sess *domain.AnalysisSession) error
	Get(id string) (*domain.AnalysisSession, error)
	Update(id string, fn func(*domain.AnalysisSession) error) (*domain.AnalysisSession, error)
	Delete(id string) error
}

// UploadStore stores uploaded videos on the local filesystem so the decoder
// can open them by path.
type UploadStore interface {
	storage.Storage
	Path(key string) (string, error)
}

// JobQueue accepts background jobs.
type JobQueue interface {
	Enqueue(jobType string, payload interface{}, opts ...worker.EnqueueOption) (worker.Job, error)
}

// AnalysisHandlerConfig holds the tunables of AnalysisHandler.
type AnalysisHandlerConfig struct {
	// MaxUploadSize caps the request body of an upload in bytes.
	MaxUploadSize int64
}

// AnalysisHandler handles the video analysis API.
type AnalysisHandler struct {
	sessions   SessionStore
	uploads    UploadStore
	thumbnails storage.Storage
	jobs       JobQueue
	config     AnalysisHandlerConfig
	logger     *slog.Logger
	now        func() time.Time
}

// NewAnalysisHandler creates a new AnalysisHandler.
func NewAnalysisHandler(
	sessions SessionStore,
	uploads UploadStore,
	thumbnails storage.Storage,
	jobs JobQueue,
	config AnalysisHandlerConfig,
	logger *slog.Logger,
) *AnalysisHandler {
	return &AnalysisHandler{
		sessions:   sessions,
		uploads:    uploads,
		thumbnails: thumbnails,
		jobs:       jobs,
		config:     config,
		logger:     logger,
		now:        time.Now,
	}
}

// =============================================================================
// Route Registration
// =============================================================================

// RegisterRoutes registers all analysis routes with the provided mux.
//
// Routes:
// - POST   /api/upload            -> Upload (wrapped by limitUploads)
// - GET    /api/status/{id}       -> Status
// - GET    /api/results/{id}      -> Results
// - GET    /api/thumbnail/{name}  -> Thumbnail
// - DELETE /api/sessions/{id}     -> DeleteSession
func (h *AnalysisHandler) RegisterRoutes(mux *http.ServeMux, limitUploads func(http.Handler) http.Handler) {
	mux.Handle("POST /api/upload", limitUploads(http.HandlerFunc(h.Upload)))
	mux.HandleFunc("GET /api/status/{id}", h.Status)
	mux.HandleFunc("GET /api/results/{id}", h.Results)
	mux.HandleFunc("GET /api/thumbnail/{name}", h.Thumbnail)
	mux.HandleFunc("DELETE /api/sessions/{id}", h.DeleteSession)
}

// =============================================================================
// POST /api/upload - Upload Video
// =============================================================================

// UploadResponse is returned when an upload was accepted.
type UploadResponse struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
	Filename  string `json:"filename"`
}

// Upload stores the video, creates a pending session and queues its analysis.
// The multipart body is streamed straight to storage.
func (h *AnalysisHandler) Upload(w http.ResponseWriter, r *http.Request) {
	const op = "handler.upload"

	if h.config.MaxUploadSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.config.MaxUploadSize)
	}

	part, err := findFilePart(r, uploadField)
	if err != nil {
		ErrorResponse(w, r, h.logger, uploadError(op, err))
		return
	}
	defer part.Close()

	filename := part.FileName()
	if filename == "" {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "No file selected"))
		return
	}

	contentType := storage.DetectContentType(part.Header.Get("Content-Type"), filename, nil)
	if !storage.IsAllowedVideoType(contentType) {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "Unsupported file type: "+contentType))
		return
	}

	sessionID := uuid.NewString()
	key := storage.UploadName(sessionID, filename)
	logger := h.logger.With("session_id", sessionID, "filename", filename)

	err = h.uploads.Put(r.Context(), key, part, storage.PutOptions{
		ContentType: contentType,
		MaxSize:     h.config.MaxUploadSize,
	})
	if err != nil {
		ErrorResponse(w, r, h.logger, uploadError(op, err))
		return
	}

	path, err := h.uploads.Path(key)
	if err != nil {
		h.discardUpload(key, logger)
		InternalErrorResponse(w, r, h.logger, err)
		return
	}

	sess := domain.NewAnalysisSession(sessionID, filename, path, h.now())
	if err := h.sessions.Create(sess); err != nil {
		h.discardUpload(key, logger)
		ErrorResponse(w, r, h.logger, err)
		return
	}

	_, err = h.jobs.Enqueue(worker.JobTypeAnalyzeVideo, worker.AnalyzeVideoPayload{SessionID: sessionID})
	if err != nil {
		h.rejectSession(sessionID, key, logger)
		if errors.Is(err, worker.ErrQueueFull) || errors.Is(err, worker.ErrStopped) {
			ErrorResponse(w, r, h.logger, domain.Busy(op, "Server is busy, please try again later"))
			return
		}
		InternalErrorResponse(w, r, h.logger, err)
		return
	}

	logger.Info("Video uploaded, analysis queued", "content_type", contentType)

	writeJSON(w, http.StatusOK, UploadResponse{
		SessionID: sessionID,
		Message:   "Analysis started",
		Filename:  filename,
	})
}

// findFilePart advances the multipart reader to the named field.
func findFilePart(r *http.Request, field string) (*multipart.Part, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, err
	}
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return nil, errNoVideo
		}
		if err != nil {
			return nil, err
		}
		if part.FormName() == field {
			return part, nil
		}
		_ = part.Close()
	}
}

var errNoVideo = errors.New("no video part in request")

// uploadError maps request and storage failures to domain errors.
func uploadError(op string, err error) error {
	var maxBytesErr *http.MaxBytesError
	switch {
	case errors.Is(err, errNoVideo), errors.Is(err, http.ErrNotMultipart), errors.Is(err, http.ErrMissingBoundary):
		return domain.Invalid(op, "No video file provided")
	case errors.As(err, &maxBytesErr), storage.IsTooLarge(err):
		return domain.TooLarge(op, "File is too large")
	case storage.IsInvalidKey(err):
		return domain.Invalid(op, "Invalid filename")
	case errors.Is(err, io.ErrUnexpectedEOF):
		return domain.Wrap(err, domain.EINVALID, op, "Upload was interrupted")
	default:
		return domain.Internal(err, op, "Failed to save upload")
	}
}

// rejectSession fails a session whose job could not be queued and drops its
// upload.
func (h *AnalysisHandler) rejectSession(sessionID, key string, logger *slog.Logger) {
	_, err := h.sessions.Update(sessionID, func(s *domain.AnalysisSession) error {
		return s.Fail("Server is busy, please try again later", h.now())
	})
	if err != nil {
		logger.Error("Failed to mark rejected session as failed", "error", err)
	}
	h.discardUpload(key, logger)
}

func (h *AnalysisHandler) discardUpload(key string, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := h.uploads.Delete(ctx, key); err != nil {
		logger.Warn("Failed to remove upload", "key", key, "error", err)
	}
}

// =============================================================================
// GET /api/status/{id} - Analysis Status
// =============================================================================

// StatusResponse reports the progress of a session.
type StatusResponse struct {
	IsAnalyzing            bool    `json:"is_analyzing"`
	Status                 string  `json:"status"`
	Progress               float64 `json:"progress"`
	CurrentFrame           int     `json:"current_frame"`
	TotalFrames            int     `json:"total_frames"`
	ProcessedFrames        int     `json:"processed_frames"`
	EstimatedTimeRemaining float64 `json:"estimated_time_remaining"`
	Error                  *string `json:"error"`
}

// Status returns the progress of a session.
func (h *AnalysisHandler) Status(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Get(r.PathValue("id"))
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	resp := StatusResponse{
		IsAnalyzing:            sess.IsAnalyzing(),
		Status:                 sess.Status.String(),
		Progress:               sess.Progress,
		CurrentFrame:           sess.CurrentFrame,
		TotalFrames:            sess.TotalFrames,
		ProcessedFrames:        sess.ProcessedFrames,
		EstimatedTimeRemaining: sess.EstimatedTimeRemaining(h.now()),
	}
	if sess.Error != "" {
		resp.Error = &sess.Error
	}

	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// GET /api/results/{id} - Analysis Results
// =============================================================================

// Results returns the report of a completed session. Pending and running
// sessions answer 202; failed sessions answer 500 with the session error.
func (h *AnalysisHandler) Results(w http.ResponseWriter, r *http.Request) {
	const op = "handler.results"

	sess, err := h.sessions.Get(r.PathValue("id"))
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	switch sess.Status {
	case domain.SessionStatusPending, domain.SessionStatusAnalyzing:
		ErrorResponse(w, r, h.logger, domain.Pending(op))
	case domain.SessionStatusFailed:
		ErrorResponse(w, r, h.logger, domain.Failed(op, sess.Error))
	default:
		if sess.Results == nil {
			NotFoundResponse(w, r, h.logger, "No results available")
			return
		}
		writeJSON(w, http.StatusOK, sess.Results)
	}
}

// =============================================================================
// GET /api/thumbnail/{name} - Serve Thumbnail
// =============================================================================

// Thumbnail streams a detection thumbnail from thumbnail storage.
func (h *AnalysisHandler) Thumbnail(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := storage.ValidateName(name); err != nil {
		NotFoundResponse(w, r, h.logger, "Thumbnail not found")
		return
	}

	body, info, err := h.thumbnails.Get(r.Context(), name)
	if err != nil {
		if storage.IsNotFound(err) {
			NotFoundResponse(w, r, h.logger, "Thumbnail not found")
			return
		}
		InternalErrorResponse(w, r, h.logger, err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "image/jpeg")
	if info.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	}
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, body); err != nil {
		h.logger.Warn("Failed to stream thumbnail", "name", name, "error", err)
	}
}

// =============================================================================
// DELETE /api/sessions/{id} - Delete Session
// =============================================================================

// DeleteSession evicts a finished session together with its files.
func (h *AnalysisHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.sessions.Delete(id); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	h.logger.Info("Session deleted", "session_id", id)
	w.WriteHeader(http.StatusNoContent)
}
