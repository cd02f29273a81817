// Package video opens uploaded videos as frame streams and decimates them
// for analysis.
package video

import (
	"context"
	"errors"
	"image"
)

var (
	// ErrOpen is returned when a video cannot be opened for decoding.
	ErrOpen = errors.New("could not open video file")

	// ErrDecoderNotAvailable is returned when the ffmpeg/ffprobe binaries
	// cannot be found.
	ErrDecoderNotAvailable = errors.New("video decoder is not available")
)

// Source is an open, forward-only stream of decoded frames.
//
// Next returns io.EOF once the stream is exhausted. Any other error means the
// stream can no longer be read.
type Source interface {
	Next() (image.Image, error)

	// TotalFrames is the frame count reported by the container. It may be 0
	// when unknown.
	TotalFrames() int

	// FPS is the nominal frame rate. It may be 0 when unknown.
	FPS() float64

	Close() error
}

// Opener opens a video file as a Source.
type Opener interface {
	Open(ctx context.Context, path string) (Source, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(ctx context.Context, path string) (Source, error)

// Open calls f(ctx, path).
func (f OpenerFunc) Open(ctx context.Context, path string) (Source, error) {
	return f(ctx, path)
}
