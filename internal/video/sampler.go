package video

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
)

// Frame is one sampled frame handed to the sampler callback.
type Frame struct {
	Index       int
	Image       image.Image
	TotalFrames int
	// Progress is Index/TotalFrames as a percentage, or 0 when the total is
	// unknown.
	Progress float64
	// Sampled counts the frames handed to the callback so far, this one
	// included.
	Sampled int
}

// Stats summarises a sampling run.
type Stats struct {
	FramesRead int
	Sampled    int
	LastIndex  int
	// ReadErr is the decoder error that ended the stream early, if any. It is
	// recorded rather than returned: a truncated stream still yields a report.
	ReadErr error
}

// Sampler walks a Source and invokes a callback on every Stride-th frame.
// It never touches session state; callers publish progress from the Frame.
type Sampler struct {
	Stride int
	logger *slog.Logger
}

// NewSampler returns a sampler with the given stride.
func NewSampler(stride int, logger *slog.Logger) (*Sampler, error) {
	if stride < 1 {
		return nil, fmt.Errorf("stride must be at least 1, got %d", stride)
	}
	return &Sampler{Stride: stride, logger: logger}, nil
}

// Run reads src until it is exhausted and calls fn for frames whose index is
// divisible by the stride, in order.
//
// The context is checked once per sampled frame. A non-nil error from fn
// stops sampling and is returned as is.
func (s *Sampler) Run(ctx context.Context, src Source, fn func(Frame) error) (Stats, error) {
	stats := Stats{LastIndex: -1}
	total := src.TotalFrames()

	for index := 0; ; index++ {
		img, err := src.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				stats.ReadErr = err
				s.logger.Warn("frame read failed, ending sampling",
					"frame", index,
					"error", err,
				)
			}
			break
		}
		stats.FramesRead++

		if index%s.Stride != 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		stats.Sampled++
		stats.LastIndex = index
		frame := Frame{
			Index:       index,
			Image:       img,
			TotalFrames: total,
			Progress:    Progress(index, total),
			Sampled:     stats.Sampled,
		}
		if err := fn(frame); err != nil {
			return stats, err
		}
	}

	return stats, nil
}

// Progress returns index/total as a percentage in [0,100]. Unknown totals
// give 0.
func Progress(index, total int) float64 {
	if total <= 0 || index <= 0 {
		return 0
	}
	return min(100, float64(index)/float64(total)*100)
}

// Timestamp places a frame on the video timeline using (index/total)*duration,
// or 0 when the total is unknown.
func Timestamp(index, total int, duration float64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(index) / float64(total) * duration
}

// VideoTimestamp returns index/fps, or 0 when fps is not positive.
func VideoTimestamp(index int, fps float64) float64 {
	if fps <= 0 {
		return 0
	}
	return float64(index) / fps
}
