package pipeline

import (
	"fmt"
	"image"
	"image/color"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bryanchriswhite/SplitView/internal/capture"
	"github.com/bryanchriswhite/SplitView/internal/display"
	"github.com/bryanchriswhite/SplitView/internal/frame"
	"github.com/bryanchriswhite/SplitView/internal/logger"
)

func TestMain(m *testing.M) {
	logger.SetOutput(io.Discard)
	os.Exit(m.Run())
}

const fakeW, fakeH = 8, 6

// seqFrame encodes seq in the red and green channels of every pixel
func seqFrame(seq uint64) *frame.Frame {
	img := image.NewRGBA(image.Rect(0, 0, fakeW, fakeH))
	for y := 0; y < fakeH; y++ {
		for x := 0; x < fakeW; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8(seq), G: uint8(seq >> 8), B: uint8(x*16 + y), A: 255})
		}
	}
	return &frame.Frame{Seq: seq, CapturedAt: time.Now(), Image: img}
}

func decodeSeq(c color.RGBA) uint64 {
	return uint64(c.R) | uint64(c.G)<<8
}

// events records cross-component ordering
type events struct {
	mu   sync.Mutex
	list []string
}

func (e *events) add(s string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.list = append(e.list, s)
}

func (e *events) all() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.list...)
}

type fakeSource struct {
	frames    int // 0 is endless
	fps       float64
	delay     time.Duration
	openErr   error
	readErrAt int // 1-based frame index that fails, 0 never
	onRead    func()
	onRelease func()
	events    *events

	mu       sync.Mutex
	next     uint64
	produced map[uint64]*frame.Frame
	released atomic.Int32
}

func newFakeSource(frames int, fps float64) *fakeSource {
	return &fakeSource{frames: frames, fps: fps, produced: map[uint64]*frame.Frame{}}
}

func (s *fakeSource) Open() error { return s.openErr }

func (s *fakeSource) Read() (*frame.Frame, error) {
	if s.onRead != nil {
		s.onRead()
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frames > 0 && int(s.next) >= s.frames {
		return nil, capture.ErrEndOfStream
	}
	if s.readErrAt > 0 && int(s.next)+1 == s.readErrAt {
		return nil, fmt.Errorf("usb unplugged")
	}
	f := seqFrame(s.next)
	s.produced[s.next] = f.Clone()
	s.next++
	return f, nil
}

func (s *fakeSource) frame(seq uint64) *frame.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.produced[seq]
}

func (s *fakeSource) Geometry() capture.Geometry {
	return capture.Geometry{Width: fakeW, Height: fakeH, FPS: s.fps}
}

func (s *fakeSource) Release() error {
	s.released.Add(1)
	if s.onRelease != nil {
		s.onRelease()
	}
	if s.events != nil {
		s.events.add("release source")
	}
	return nil
}

func (s *fakeSource) Name() string { return "fake" }

type fakeSurface struct {
	startErr error
	exitAt   int // PollKey returns 'q' on this call, 0 never
	events   *events

	started  bool
	stopped  bool
	polls    int
	rendered []*image.RGBA
}

func (s *fakeSurface) Start() error {
	s.started = true
	return s.startErr
}

func (s *fakeSurface) Stop() error {
	s.stopped = true
	if s.events != nil {
		s.events.add("stop surface")
	}
	return nil
}

func (s *fakeSurface) Render(img *image.RGBA) error {
	s.rendered = append(s.rendered, img)
	return nil
}

func (s *fakeSurface) PollKey() (display.Key, bool) {
	s.polls++
	if s.exitAt > 0 && s.polls == s.exitAt {
		return display.KeyQuit, true
	}
	return display.KeyNone, false
}

func (s *fakeSurface) Name() string { return "fake" }

// slowIdentity copies frames after a delay and can fail chosen batches
type slowIdentity struct {
	delay  time.Duration
	failOn int64 // 1-based batch number that errors, 0 never
	calls  atomic.Int64
}

func (t *slowIdentity) Transform(batch frame.Batch) (frame.Batch, error) {
	n := t.calls.Add(1)
	if t.delay > 0 {
		time.Sleep(t.delay)
	}
	if n == t.failOn {
		return nil, fmt.Errorf("model rejected batch %d", n)
	}
	out := make(frame.Batch, len(batch))
	for i, f := range batch {
		out[i] = f.Clone()
	}
	return out, nil
}

func (t *slowIdentity) Name() string { return "slow-identity" }

type memWriter struct {
	width, height int
	fps           float64
	frames        []*image.RGBA
	closed        bool
}

func (w *memWriter) Write(img *image.RGBA) error {
	w.frames = append(w.frames, img)
	return nil
}

func (w *memWriter) Close() error {
	w.closed = true
	return nil
}
