package analysis

import (
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"log/slog"
	"testing"

	"github.com/DukeRupert/defectscan/internal/ai"
	"github.com/DukeRupert/defectscan/internal/detector"
	"github.com/DukeRupert/defectscan/internal/domain"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("github.com/patrickmn/go-cache.(*janitor).Run"),
		// keep-alive connections of the model client close asynchronously
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
	)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var (
	wallGray   = color.RGBA{R: 200, G: 200, B: 200, A: 255}
	stainBrown = color.RGBA{R: 180, G: 140, B: 60, A: 255}
)

func solidFrame(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

// stainFrame is a gray wall with one 100x60 water stain.
func stainFrame() *image.RGBA {
	img := solidFrame(320, 240, wallGray)
	for y := 80; y < 140; y++ {
		for x := 100; x < 200; x++ {
			img.SetRGBA(x, y, stainBrown)
		}
	}
	return img
}

// fakeSource serves n copies of a frame.
type fakeSource struct {
	frame   image.Image
	n       int
	total   int
	fps     float64
	failAt  int // -1 disables
	panicAt int // -1 disables
	next    int
	closed  bool
}

func newFakeSource(frame image.Image, n int, fps float64) *fakeSource {
	return &fakeSource{frame: frame, n: n, total: n, fps: fps, failAt: -1, panicAt: -1}
}

func (s *fakeSource) Next() (image.Image, error) {
	if s.next == s.panicAt {
		panic("decoder exploded")
	}
	if s.next == s.failAt {
		return nil, errors.New("corrupt packet")
	}
	if s.next >= s.n {
		return nil, io.EOF
	}
	s.next++
	return s.frame, nil
}

func (s *fakeSource) TotalFrames() int { return s.total }
func (s *fakeSource) FPS() float64     { return s.fps }
func (s *fakeSource) Close() error {
	s.closed = true
	return nil
}

// stubDetector returns fixed detections.
type stubDetector struct {
	name       string
	available  bool
	detections []domain.Detection
	err        error
	calls      int
}

func (s *stubDetector) Name() string    { return s.name }
func (s *stubDetector) Available() bool { return s.available }
func (s *stubDetector) Detect(ctx context.Context, frame image.Image, frameIndex int) ([]domain.Detection, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	out := make([]domain.Detection, len(s.detections))
	copy(out, s.detections)
	for i := range out {
		out[i].FrameNumber = frameIndex
	}
	return out, nil
}

func detection(t domain.DetectionType, sev domain.Severity, conf float64) domain.Detection {
	return domain.Detection{
		ID:         domain.DetectionID(t, 0, 0),
		Type:       t,
		Severity:   sev,
		Confidence: conf,
		Location:   domain.BoundingBox{X: 0.25, Y: 0.25, Width: 0.5, Height: 0.5},
	}
}

// recordingThumbnailer records requests and can be told to fail.
type recordingThumbnailer struct {
	written []string
	err     error
}

func (r *recordingThumbnailer) Write(ctx context.Context, sessionID string, frame image.Image, det domain.Detection) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	r.written = append(r.written, det.ID)
	return "/api/thumbnail/" + sessionID + "_" + det.ID + ".jpg", nil
}

func guardAll(ds ...detector.Detector) []*detector.Guarded {
	out := make([]*detector.Guarded, len(ds))
	for i, d := range ds {
		out[i] = detector.Guard(d, testLogger())
	}
	return out
}

// heuristicDetectors returns the production detector chain around classifier.
func heuristicDetectors(classifier ai.MoldClassifier) []*detector.Guarded {
	return guardAll(
		detector.NewMoldDetector(classifier, testLogger()),
		detector.NewCrackDetector(detector.DefaultCrackConfig()),
		detector.NewStainDetector(detector.DefaultStainConfig()),
	)
}
