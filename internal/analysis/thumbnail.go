package analysis

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/DukeRupert/defectscan/internal/domain"
	"github.com/DukeRupert/defectscan/internal/storage"
	"github.com/disintegration/imaging"
)

// Thumbnail defaults.
const (
	ThumbnailPadding     = 20  // pixels added around the detection box
	ThumbnailSize        = 150 // thumbnails are ThumbnailSize x ThumbnailSize
	ThumbnailJPEGQuality = 85
	ThumbnailURLPrefix   = "/api/thumbnail/"
)

// ErrEmptyCrop is returned when a detection box does not overlap the frame.
var ErrEmptyCrop = errors.New("thumbnail crop is empty")

// Thumbnailer extracts and stores the image region of a detection.
type Thumbnailer interface {
	// Write stores a thumbnail for det and returns its public reference.
	Write(ctx context.Context, sessionID string, frame image.Image, det domain.Detection) (string, error)
}

// ThumbnailWriter crops detections out of frames and stores them as JPEG.
type ThumbnailWriter struct {
	store   storage.Storage
	padding int
	size    int
}

// NewThumbnailWriter creates a writer that stores thumbnails in store.
func NewThumbnailWriter(store storage.Storage) *ThumbnailWriter {
	return &ThumbnailWriter{
		store:   store,
		padding: ThumbnailPadding,
		size:    ThumbnailSize,
	}
}

// Write crops the detection box plus padding (clamped to the frame), resizes
// it to a square thumbnail and stores it under "{session}_{detection}.jpg".
// The returned reference is the thumbnail's URL path.
func (w *ThumbnailWriter) Write(ctx context.Context, sessionID string, frame image.Image, det domain.Detection) (string, error) {
	data, err := w.render(frame, det.Location)
	if err != nil {
		return "", fmt.Errorf("render thumbnail for %s: %w", det.ID, err)
	}

	name := storage.ThumbnailName(sessionID, det.ID)
	err = w.store.Put(ctx, name, bytes.NewReader(data), storage.PutOptions{
		ContentType: "image/jpeg",
		Overwrite:   true,
	})
	if err != nil {
		return "", fmt.Errorf("store thumbnail %s: %w", name, err)
	}

	return ThumbnailURLPrefix + name, nil
}

// render returns the JPEG bytes of the thumbnail for box.
func (w *ThumbnailWriter) render(frame image.Image, box domain.BoundingBox) ([]byte, error) {
	bounds := frame.Bounds()
	rect := box.Denormalize(bounds.Dx(), bounds.Dy()).
		Add(bounds.Min).
		Inset(-w.padding).
		Intersect(bounds)
	if rect.Empty() {
		return nil, ErrEmptyCrop
	}

	// Resized to exactly size x size; the aspect ratio is not preserved.
	thumb := imaging.Resize(imaging.Crop(frame, rect), w.size, w.size, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(ThumbnailJPEGQuality)); err != nil {
		return nil, fmt.Errorf("failed to encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}
