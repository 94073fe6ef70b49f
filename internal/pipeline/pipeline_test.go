package pipeline

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanchriswhite/SplitView/internal/capture"
	"github.com/bryanchriswhite/SplitView/internal/frame"
	"github.com/bryanchriswhite/SplitView/internal/overlay"
	"github.com/bryanchriswhite/SplitView/internal/queue"
	"github.com/bryanchriswhite/SplitView/internal/transform"
)

func newPipeline(t *testing.T, opts Options) *Pipeline {
	t.Helper()
	p, err := New(opts)
	require.NoError(t, err)
	return p
}

func fill(t *testing.T, q *queue.Queue, from, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.True(t, q.Offer(seqFrame(uint64(from+i))))
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Options{Transform: transform.Identity{}, Surface: &fakeSurface{}})
	assert.Error(t, err)
	_, err = New(Options{Source: newFakeSource(1, 30), Surface: &fakeSurface{}})
	assert.Error(t, err)
	_, err = New(Options{Source: newFakeSource(1, 30), Transform: transform.Identity{}})
	assert.Error(t, err)
	_, err = New(Options{Source: newFakeSource(1, 30), Transform: transform.Identity{}, Surface: &fakeSurface{}, BatchSize: -1})
	assert.Error(t, err)
}

func TestWorkerProcessesPartialBatch(t *testing.T) {
	raw, _ := queue.New("raw", 30)
	processed, _ := queue.New("processed", 30)
	fill(t, raw, 0, 7)

	w := NewWorker(raw, processed, transform.Identity{}, 30, 0, NewLifecycle())
	assert.True(t, w.step())

	assert.Equal(t, 7, processed.Len())
	for i := 0; i < 7; i++ {
		f, ok := processed.Poll()
		require.True(t, ok)
		assert.Equal(t, uint64(i), f.Seq)
	}
	assert.False(t, w.step(), "empty raw queue means no work")

	s := w.Stats()
	assert.Equal(t, uint64(1), s.Batches)
	assert.Equal(t, uint64(7), s.FramesOut)
}

func TestWorkerSurvivesFailedBatch(t *testing.T) {
	raw, _ := queue.New("raw", 4)
	processed, _ := queue.New("processed", 4)
	tf := &slowIdentity{failOn: 3}
	w := NewWorker(raw, processed, tf, 4, 0, NewLifecycle())

	var produced []int
	for b := 0; b < 5; b++ {
		fill(t, raw, b*4, 4)
		require.True(t, w.step())
		produced = append(produced, processed.Drain())
	}

	assert.Equal(t, []int{4, 4, 0, 4, 4}, produced)
	s := w.Stats()
	assert.Equal(t, uint64(5), s.Batches)
	assert.Equal(t, uint64(1), s.Failed)
	assert.Equal(t, uint64(20), s.FramesIn)
	assert.Equal(t, uint64(16), s.FramesOut)
}

func TestWorkerRecoversPanickingTransform(t *testing.T) {
	raw, _ := queue.New("raw", 2)
	processed, _ := queue.New("processed", 2)
	w := NewWorker(raw, processed, panicky{}, 2, 0, NewLifecycle())

	fill(t, raw, 0, 2)
	require.NotPanics(t, func() { w.step() })
	assert.Equal(t, uint64(1), w.Stats().Failed)
	assert.True(t, processed.IsEmpty())
}

type panicky struct{}

func (panicky) Transform(frame.Batch) (frame.Batch, error) { panic("segfault in model") }
func (panicky) Name() string                               { return "panicky" }

func TestWorkerStopsWithLifecycle(t *testing.T) {
	raw, _ := queue.New("raw", 1)
	processed, _ := queue.New("processed", 1)
	lc := NewLifecycle()
	w := NewWorker(raw, processed, transform.Identity{}, 1, time.Millisecond, lc)

	done := make(chan struct{})
	go func() {
		w.Run()
		close(done)
	}()

	assert.True(t, lc.Stop())
	assert.False(t, lc.Stop(), "cleared only once")
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not exit")
	}
	assert.True(t, w.Exited())
}

func TestIdentityCompositesMatchRawFrames(t *testing.T) {
	src := newFakeSource(120, 10)
	src.delay = 2 * time.Millisecond
	surface := &fakeSurface{}

	p := newPipeline(t, Options{
		Source:    src,
		Transform: transform.Identity{},
		Surface:   surface,
	})
	require.NoError(t, p.Run(context.Background()))
	require.NotEmpty(t, surface.rendered)

	for _, img := range surface.rendered {
		require.Equal(t, image.Rect(0, 0, 2*fakeW, fakeH), img.Bounds())

		seq := decodeSeq(img.RGBAAt(fakeW, 0))
		want := src.frame(seq)
		require.NotNil(t, want)
		for y := 0; y < fakeH; y++ {
			for x := 0; x < fakeW; x++ {
				require.Equal(t, want.Image.RGBAAt(x, y), img.RGBAAt(fakeW+x, y))
			}
		}
	}

	s := p.Stats()
	assert.Equal(t, StateStopped.String(), s.State)
	assert.Equal(t, 10, s.Worker.BatchSize, "batch size follows fps")
	assert.Equal(t, 10, s.Raw.Capacity, "capacity follows batch size")
	assert.Equal(t, uint64(120), s.Captured)
	assert.Equal(t, s.Composited, s.Rendered)
}

func TestCapacityBoundsResidentFrames(t *testing.T) {
	src := newFakeSource(45, 30)
	surface := &fakeSurface{}
	tf := &slowIdentity{delay: 20 * time.Millisecond}

	p := newPipeline(t, Options{Source: src, Transform: tf, Surface: surface})

	var maxResident atomic.Int64
	src.onRead = func() {
		s := p.Stats()
		if n := int64(s.Raw.Len); n > maxResident.Load() {
			maxResident.Store(n)
		}
	}

	require.NoError(t, p.Run(context.Background()))

	assert.LessOrEqual(t, maxResident.Load(), int64(30))
	s := p.Stats()
	assert.Equal(t, 30, s.Raw.Capacity)
	assert.Equal(t, uint64(45), s.Raw.Offered)
	assert.Equal(t, s.Raw.Offered, s.Raw.Accepted+s.Raw.Dropped)
	// 45 frames into 30 slots: at least 15 were dropped or still pending
	// when the stream ended
	require.LessOrEqual(t, s.Worker.FramesOut, s.Raw.Accepted)
	assert.GreaterOrEqual(t, s.Raw.Dropped+(s.Raw.Accepted-s.Worker.FramesOut), uint64(15))
	assert.Less(t, uint64(len(surface.rendered)), uint64(45))

	var last int64 = -1
	for _, img := range surface.rendered {
		seq := int64(decodeSeq(img.RGBAAt(fakeW, 0)))
		assert.Greater(t, seq, last, "processed output stays in capture order")
		last = seq
	}
}

func TestShutdownJoinsWorkerBeforeRelease(t *testing.T) {
	ev := &events{}
	src := newFakeSource(40, 20)
	src.events = ev
	surface := &fakeSurface{events: ev}
	tf := &slowIdentity{delay: 30 * time.Millisecond}

	p := newPipeline(t, Options{Source: src, Transform: tf, Surface: surface})

	var workerExited atomic.Bool
	src.onRelease = func() {
		workerExited.Store(p.Stats().Worker.Exited)
		ev.add("release observed state " + p.State().String())
	}

	require.NoError(t, p.Run(context.Background()))

	assert.True(t, workerExited.Load(), "worker joined before source release")
	assert.Equal(t, []string{
		"release observed state stopping",
		"release source",
		"stop surface",
	}, ev.all())
	assert.Equal(t, int32(1), src.released.Load())
	assert.Equal(t, StateStopped, p.State())
}

func TestDeviceUnavailableFailsBeforeStart(t *testing.T) {
	src := newFakeSource(10, 30)
	src.openErr = capture.Unavailable("fake", errors.New("no such device"))
	surface := &fakeSurface{}

	p := newPipeline(t, Options{Source: src, Transform: transform.Identity{}, Surface: surface})
	err := p.Run(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, capture.ErrDeviceUnavailable)
	assert.False(t, surface.started)
	assert.Equal(t, StateStopped, p.State())
	assert.Zero(t, p.Stats().Worker.Batches)

	assert.Error(t, p.Run(context.Background()), "a pipeline runs once")
}

func TestSurfaceStartFailureReleasesSource(t *testing.T) {
	src := newFakeSource(10, 30)
	surface := &fakeSurface{startErr: errors.New("no display")}

	p := newPipeline(t, Options{Source: src, Transform: transform.Identity{}, Surface: surface})
	err := p.Run(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no display")
	assert.Equal(t, int32(1), src.released.Load())
	assert.Equal(t, StateStopped, p.State())
}

func TestReadErrorIsReturnedAfterCleanup(t *testing.T) {
	src := newFakeSource(0, 30)
	src.readErrAt = 5
	surface := &fakeSurface{}

	p := newPipeline(t, Options{Source: src, Transform: transform.Identity{}, Surface: surface})
	err := p.Run(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "usb unplugged")
	assert.False(t, errors.Is(err, capture.ErrEndOfStream))
	assert.Equal(t, int32(1), src.released.Load())
	assert.True(t, surface.stopped)
	assert.Equal(t, uint64(4), p.Stats().Captured)
}

func TestRunIsSingleUse(t *testing.T) {
	p := newPipeline(t, Options{Source: newFakeSource(3, 30), Transform: transform.Identity{}, Surface: &fakeSurface{}})
	assert.Equal(t, StateIdle, p.State())

	_, err := uuid.Parse(p.ID())
	require.NoError(t, err)
	assert.Equal(t, p.ID(), p.Stats().RunID)

	require.NoError(t, p.Run(context.Background()))
	err = p.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already stopped")
}

func TestExitKeyStopsLoop(t *testing.T) {
	src := newFakeSource(0, 30)
	surface := &fakeSurface{exitAt: 12}

	p := newPipeline(t, Options{Source: src, Transform: transform.Identity{}, Surface: surface})
	require.NoError(t, p.Run(context.Background()))

	assert.Equal(t, uint64(12), p.Stats().Captured)
	assert.True(t, surface.stopped)
}

func TestContextCancelStopsLoop(t *testing.T) {
	src := newFakeSource(0, 30)
	src.delay = time.Millisecond
	surface := &fakeSurface{}

	p := newPipeline(t, Options{Source: src, Transform: transform.Identity{}, Surface: surface})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, p.Run(ctx))

	assert.Equal(t, StateStopped, p.State())
	assert.True(t, p.Stats().Worker.Exited)
}

func TestRequestStop(t *testing.T) {
	src := newFakeSource(0, 30)
	surface := &fakeSurface{}
	p := newPipeline(t, Options{Source: src, Transform: transform.Identity{}, Surface: surface})

	src.onRead = func() {
		if p.Stats().Captured == 20 {
			p.RequestStop()
		}
	}
	require.NoError(t, p.Run(context.Background()))
	// the read in flight when the request lands still completes
	assert.Equal(t, uint64(21), p.Stats().Captured)
}

func TestHoldLastComposite(t *testing.T) {
	run := func(hold bool) Stats {
		src := newFakeSource(60, 10)
		src.delay = time.Millisecond
		tf := &slowIdentity{delay: 15 * time.Millisecond}
		p := newPipeline(t, Options{
			Source:            src,
			Transform:         tf,
			Surface:           &fakeSurface{},
			HoldLastComposite: hold,
		})
		require.NoError(t, p.Run(context.Background()))
		return p.Stats()
	}

	off := run(false)
	assert.Equal(t, off.Composited, off.Rendered)

	on := run(true)
	require.NotZero(t, on.Composited)
	assert.Greater(t, on.Rendered, on.Composited)
}

// tickWidget stamps the bottom-right pixel with how often it has rendered
type tickWidget struct {
	*overlay.BaseWidget
	ticks uint8
}

func (w *tickWidget) Type() string                                     { return "tick" }
func (w *tickWidget) GetConfig() map[string]interface{}                { return nil }
func (w *tickWidget) UpdateConfig(config map[string]interface{}) error { return nil }

func (w *tickWidget) Render(img *image.RGBA) error {
	w.ticks++
	img.SetRGBA(img.Rect.Max.X-1, img.Rect.Max.Y-1, color.RGBA{R: w.ticks, A: 255})
	return nil
}

func TestHeldCompositeGetsFreshOverlay(t *testing.T) {
	overlays := overlay.NewManager(nil, nil)
	require.NoError(t, overlays.AddWidget(&tickWidget{BaseWidget: overlay.NewBaseWidget("tick", 0, 0, 1)}))

	src := newFakeSource(60, 10)
	src.delay = time.Millisecond
	surface := &fakeSurface{}
	p := newPipeline(t, Options{
		Source:            src,
		Transform:         &slowIdentity{delay: 15 * time.Millisecond},
		Surface:           surface,
		Overlay:           overlays,
		HoldLastComposite: true,
	})
	require.NoError(t, p.Run(context.Background()))

	s := p.Stats()
	require.Greater(t, s.Rendered, s.Composited, "some ticks re-rendered a held composite")
	require.Len(t, surface.rendered, int(s.Rendered))

	for i, img := range surface.rendered {
		stamp := img.RGBAAt(img.Rect.Max.X-1, img.Rect.Max.Y-1).R
		assert.Equal(t, uint8(i+1), stamp, "render %d carries its own overlay pass", i)
		if i > 0 {
			assert.NotSame(t, surface.rendered[i-1], img)
		}
	}
}

func TestThroughputReport(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var ticks int64
	clock := func() time.Time {
		ticks++
		return base.Add(time.Duration(ticks) * time.Second)
	}

	p := newPipeline(t, Options{
		Source:    newFakeSource(30, 30),
		Transform: transform.Identity{},
		Surface:   &fakeSurface{},
		Clock:     clock,
	})
	require.NoError(t, p.Run(context.Background()))

	assert.InDelta(t, 30.0, p.FPS(), 0.001)
	assert.Contains(t, p.StatsLine(), "FPS: 30.00")
}

func TestRunBatchSkipsFailedBatch(t *testing.T) {
	src := newFakeSource(25, 10)
	tf := &slowIdentity{failOn: 2}
	var writer *memWriter

	report, err := RunBatch(context.Background(), BatchOptions{
		Source:    src,
		Transform: tf,
		OpenWriter: func(w, h int, fps float64) (FrameWriter, error) {
			writer = &memWriter{width: w, height: h, fps: fps}
			return writer, nil
		},
	})
	require.NoError(t, err)

	assert.Equal(t, BatchReport{Batches: 3, Failed: 1, Frames: 25, Written: 15}, report)
	require.NotNil(t, writer)
	assert.True(t, writer.closed)
	assert.Equal(t, 2*fakeW, writer.width)
	assert.Equal(t, 10.0, writer.fps)
	assert.Equal(t, int32(1), src.released.Load())

	// offline mode pairs every frame with its own processed copy
	for _, img := range writer.frames {
		assert.Equal(t, img.RGBAAt(0, 0), img.RGBAAt(fakeW, 0))
	}
	assert.Equal(t, uint64(0), decodeSeq(writer.frames[0].RGBAAt(0, 0)))
	assert.Equal(t, uint64(20), decodeSeq(writer.frames[10].RGBAAt(0, 0)))
}

func TestRunBatchHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := RunBatch(ctx, BatchOptions{
		Source:     newFakeSource(0, 30),
		Transform:  transform.Identity{},
		OpenWriter: func(int, int, float64) (FrameWriter, error) { return &memWriter{}, nil },
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "unknown", State(42).String())
}
