package video

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ProbeTimeout bounds the ffprobe metadata call.
const ProbeTimeout = 30 * time.Second

// FFmpegOpener decodes videos by piping raw RGB frames out of ffmpeg.
type FFmpegOpener struct {
	FFmpegPath  string
	FFprobePath string
	logger      *slog.Logger
}

// NewFFmpegOpener creates an opener using the given binaries. Empty paths
// default to "ffmpeg" and "ffprobe" on PATH.
func NewFFmpegOpener(ffmpegPath, ffprobePath string, logger *slog.Logger) *FFmpegOpener {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFmpegOpener{
		FFmpegPath:  ffmpegPath,
		FFprobePath: ffprobePath,
		logger:      logger,
	}
}

// Available reports whether both binaries can be resolved.
func (o *FFmpegOpener) Available() bool {
	if _, err := exec.LookPath(o.FFmpegPath); err != nil {
		return false
	}
	_, err := exec.LookPath(o.FFprobePath)
	return err == nil
}

// Open probes the file for its geometry and frame rate, then starts an
// ffmpeg process streaming rgb24 frames on stdout.
func (o *FFmpegOpener) Open(ctx context.Context, path string) (Source, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOpen, err)
	}

	meta, err := o.probe(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOpen, err)
	}
	if meta.Width <= 0 || meta.Height <= 0 {
		return nil, fmt.Errorf("%w: no video stream", ErrOpen)
	}

	// The process lifetime is tied to the source, not to the caller's ctx,
	// so Close is the only way it ends early.
	procCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(procCtx, o.FFmpegPath,
		"-v", "error",
		"-hide_banner",
		"-i", path,
		"-map", "0:v:0",
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"pipe:1",
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: creating ffmpeg pipe: %w", ErrOpen, err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		if errors.Is(err, exec.ErrNotFound) {
			return nil, fmt.Errorf("%w: %w", ErrDecoderNotAvailable, err)
		}
		return nil, fmt.Errorf("%w: starting ffmpeg: %w", ErrOpen, err)
	}

	o.logger.Debug("ffmpeg started",
		"path", path,
		"width", meta.Width,
		"height", meta.Height,
		"total_frames", meta.TotalFrames,
		"fps", meta.FPS,
	)

	return &ffmpegSource{
		meta:   meta,
		cmd:    cmd,
		cancel: cancel,
		stdout: bufio.NewReaderSize(stdout, meta.Width*meta.Height*3),
		stderr: &stderr,
		buf:    make([]byte, meta.Width*meta.Height*3),
		logger: o.logger,
	}, nil
}

// Metadata is what the decoder reports about a video stream.
type Metadata struct {
	Width       int
	Height      int
	TotalFrames int
	FPS         float64
	Duration    float64
}

type probeOutput struct {
	Streams []struct {
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		NbFrames     string `json:"nb_frames"`
		RFrameRate   string `json:"r_frame_rate"`
		AvgFrameRate string `json:"avg_frame_rate"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

func (o *FFmpegOpener) probe(ctx context.Context, path string) (Metadata, error) {
	ctx, cancel := context.WithTimeout(ctx, ProbeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, o.FFprobePath,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height,nb_frames,r_frame_rate,avg_frame_rate:format=duration",
		"-of", "json",
		path,
	)

	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return Metadata{}, ctx.Err()
		}
		if errors.Is(err, exec.ErrNotFound) {
			return Metadata{}, fmt.Errorf("%w: %w", ErrDecoderNotAvailable, err)
		}
		return Metadata{}, fmt.Errorf("ffprobe failed: %w (stderr: %s)", err, strings.TrimSpace(stderr.String()))
	}

	return parseProbe(out.Bytes())
}

// parseProbe extracts stream metadata from ffprobe JSON output. When the
// container does not store a frame count it is estimated from the duration.
func parseProbe(data []byte) (Metadata, error) {
	var p probeOutput
	if err := json.Unmarshal(data, &p); err != nil {
		return Metadata{}, fmt.Errorf("parse ffprobe output: %w", err)
	}
	if len(p.Streams) == 0 {
		return Metadata{}, errors.New("ffprobe returned no video stream")
	}

	s := p.Streams[0]
	meta := Metadata{
		Width:  s.Width,
		Height: s.Height,
		FPS:    parseRate(s.RFrameRate),
	}
	if meta.FPS <= 0 {
		meta.FPS = parseRate(s.AvgFrameRate)
	}
	if d, err := strconv.ParseFloat(p.Format.Duration, 64); err == nil && d > 0 {
		meta.Duration = d
	}
	if n, err := strconv.Atoi(s.NbFrames); err == nil && n > 0 {
		meta.TotalFrames = n
	} else if meta.Duration > 0 && meta.FPS > 0 {
		meta.TotalFrames = int(math.Round(meta.Duration * meta.FPS))
	}
	return meta, nil
}

// parseRate parses ffprobe rationals like "30000/1001". Unparseable or
// degenerate rates yield 0.
func parseRate(s string) float64 {
	num, den, found := strings.Cut(s, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !found {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}

type ffmpegSource struct {
	meta   Metadata
	cmd    *exec.Cmd
	cancel context.CancelFunc
	stdout *bufio.Reader
	stderr *bytes.Buffer
	buf    []byte
	logger *slog.Logger

	closeOnce sync.Once
}

func (s *ffmpegSource) TotalFrames() int { return s.meta.TotalFrames }
func (s *ffmpegSource) FPS() float64     { return s.meta.FPS }

// Next reads one rgb24 frame. A short final read is treated as end of stream.
func (s *ffmpegSource) Next() (image.Image, error) {
	if _, err := io.ReadFull(s.stdout, s.buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read frame: %w", err)
	}
	return rgb24ToRGBA(s.buf, s.meta.Width, s.meta.Height), nil
}

// Close stops ffmpeg and reaps the process.
func (s *ffmpegSource) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		err := s.cmd.Wait()
		if err != nil && !strings.Contains(err.Error(), "signal: killed") {
			if msg := strings.TrimSpace(s.stderr.String()); msg != "" {
				s.logger.Warn("ffmpeg exited with error", "error", err, "stderr", msg)
			}
		}
	})
	return nil
}

func rgb24ToRGBA(buf []byte, width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for i, j := 0, 0; i+2 < len(buf) && j+3 < len(img.Pix); i, j = i+3, j+4 {
		img.Pix[j] = buf[i]
		img.Pix[j+1] = buf[i+1]
		img.Pix[j+2] = buf[i+2]
		img.Pix[j+3] = 0xff
	}
	return img
}
