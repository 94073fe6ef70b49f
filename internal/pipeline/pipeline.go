// Package pipeline runs the capture, transform and display stages.
//
// The display loop owns the source and the surface. A single worker
// goroutine owns the transform. They share only the raw and processed
// queues and the lifecycle flag, so a slow transform never stalls capture
// or rendering; frames that do not fit are dropped and counted.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
	"go.uber.org/multierr"

	"github.com/bryanchriswhite/SplitView/internal/capture"
	"github.com/bryanchriswhite/SplitView/internal/display"
	"github.com/bryanchriswhite/SplitView/internal/logger"
	"github.com/bryanchriswhite/SplitView/internal/overlay"
	"github.com/bryanchriswhite/SplitView/internal/queue"
	"github.com/bryanchriswhite/SplitView/internal/transform"
)

// DefaultReportEvery is the number of captured frames between throughput
// reports
const DefaultReportEvery = 30

// Options configures a Pipeline
type Options struct {
	Source    capture.Source
	Transform transform.Transform
	Surface   display.Surface

	// Overlay draws on every fresh composite. Optional.
	Overlay *overlay.Manager

	BatchSize         int // 0 uses the source frame rate
	QueueCapacity     int // 0 uses the batch size
	IdleBackoff       time.Duration
	HoldLastComposite bool
	ReportEvery       int // 0 uses DefaultReportEvery

	// Clock is used for throughput measurement. Defaults to time.Now.
	Clock func() time.Time
}

// Pipeline connects a source, a transform and a surface
type Pipeline struct {
	opts      Options
	id        string
	log       zerolog.Logger
	state     atomic.Int32
	lifecycle *Lifecycle
	stopReq   atomic.Bool

	mu        sync.RWMutex
	geometry  capture.Geometry
	raw       *queue.Queue
	processed *queue.Queue
	worker    *Worker
	startedAt time.Time

	captured   atomic.Uint64
	composited atomic.Uint64
	rendered   atomic.Uint64
	fpsBits    atomic.Uint64
}

// Stats is a snapshot of a pipeline run
type Stats struct {
	RunID      string           `json:"run_id"`
	State      string           `json:"state"`
	Source     string           `json:"source"`
	Transform  string           `json:"transform"`
	Surface    string           `json:"surface"`
	Geometry   capture.Geometry `json:"geometry"`
	StartedAt  time.Time        `json:"started_at"`
	Captured   uint64           `json:"captured"`
	Composited uint64           `json:"composited"`
	Rendered   uint64           `json:"rendered"`
	FPS        float64          `json:"fps"`
	Raw        queue.Stats      `json:"raw_queue"`
	Processed  queue.Stats      `json:"processed_queue"`
	Worker     WorkerStats      `json:"worker"`
}

// New validates opts and creates an idle pipeline
func New(opts Options) (*Pipeline, error) {
	if opts.Source == nil {
		return nil, errors.New("pipeline: source is required")
	}
	if opts.Transform == nil {
		return nil, errors.New("pipeline: transform is required")
	}
	if opts.Surface == nil {
		return nil, errors.New("pipeline: surface is required")
	}
	if opts.BatchSize < 0 || opts.QueueCapacity < 0 || opts.ReportEvery < 0 {
		return nil, errors.New("pipeline: sizes must not be negative")
	}
	if opts.ReportEvery == 0 {
		opts.ReportEvery = DefaultReportEvery
	}
	if opts.IdleBackoff <= 0 {
		opts.IdleBackoff = DefaultIdleBackoff
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	id := uuid.NewString()
	return &Pipeline{
		opts:      opts,
		id:        id,
		log:       logger.WithComponent("pipeline").With().Str("run_id", id).Logger(),
		lifecycle: NewLifecycle(),
	}, nil
}

// ID returns the run identifier
func (p *Pipeline) ID() string {
	return p.id
}

// State returns the current lifecycle phase
func (p *Pipeline) State() State {
	return State(p.state.Load())
}

func (p *Pipeline) setState(s State) {
	p.state.Store(int32(s))
	p.log.Debug().Str("state", s.String()).Msg("Pipeline state changed")
}

// RequestStop asks the display loop to exit after the current iteration.
// Safe to call from any goroutine.
func (p *Pipeline) RequestStop() {
	if !p.stopReq.Swap(true) {
		p.log.Info().Msg("Stop requested")
	}
}

// Run drives the pipeline until end of stream, an exit key, a stop request
// or ctx cancellation. End of stream is a normal exit and returns nil.
// Cleanup always runs in order: stop flag, join worker, release source,
// stop surface. A Pipeline runs once.
func (p *Pipeline) Run(ctx context.Context) (err error) {
	if !p.state.CompareAndSwap(int32(StateIdle), int32(StateStarting)) {
		return fmt.Errorf("pipeline already %s", p.State())
	}

	src, surface := p.opts.Source, p.opts.Surface
	if err := src.Open(); err != nil {
		p.setState(StateStopped)
		return fmt.Errorf("open source %s: %w", src.Name(), err)
	}

	geom := src.Geometry()
	batchSize := p.opts.BatchSize
	if batchSize == 0 {
		batchSize = int(math.Round(geom.FPS))
	}
	if batchSize < 1 {
		batchSize = 1
	}
	capacity := p.opts.QueueCapacity
	if capacity == 0 {
		capacity = batchSize
	}

	raw, err := queue.New("raw", capacity)
	if err != nil {
		return multierr.Append(err, p.releaseOnStartFailure())
	}
	processed, err := queue.New("processed", capacity)
	if err != nil {
		return multierr.Append(err, p.releaseOnStartFailure())
	}

	if err := surface.Start(); err != nil {
		return multierr.Append(fmt.Errorf("start surface %s: %w", surface.Name(), err), p.releaseOnStartFailure())
	}

	worker := NewWorker(raw, processed, p.opts.Transform, batchSize, p.opts.IdleBackoff, p.lifecycle)

	p.mu.Lock()
	p.geometry = geom
	p.raw = raw
	p.processed = processed
	p.worker = worker
	p.startedAt = p.opts.Clock()
	p.mu.Unlock()

	var wg conc.WaitGroup
	wg.Go(worker.Run)

	p.log.Info().
		Str("source", src.Name()).
		Str("geometry", geom.String()).
		Str("transform", p.opts.Transform.Name()).
		Str("surface", surface.Name()).
		Int("batch_size", batchSize).
		Int("queue_capacity", capacity).
		Msg("Pipeline running")
	p.setState(StateRunning)

	defer func() {
		if r := recover(); r != nil {
			err = multierr.Append(err, fmt.Errorf("display loop panic: %v", r))
		}
		err = multierr.Append(err, p.shutdown(&wg, raw, processed))
	}()

	return p.loop(ctx, raw, processed)
}

// releaseOnStartFailure undoes Open when startup fails later on
func (p *Pipeline) releaseOnStartFailure() error {
	defer p.setState(StateStopped)
	if err := p.opts.Source.Release(); err != nil {
		return fmt.Errorf("release source: %w", err)
	}
	return nil
}

func (p *Pipeline) shutdown(wg *conc.WaitGroup, raw, processed *queue.Queue) error {
	p.setState(StateStopping)
	var errs error

	p.lifecycle.Stop()
	if r := wg.WaitAndRecover(); r != nil {
		errs = multierr.Append(errs, fmt.Errorf("worker: %w", r.AsError()))
	}

	if err := p.opts.Source.Release(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("release source: %w", err))
	}
	if err := p.opts.Surface.Stop(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("stop surface: %w", err))
	}

	droppedRaw := raw.Drain()
	droppedProcessed := processed.Drain()

	p.setState(StateStopped)
	ev := p.log.Info()
	if errs != nil {
		ev = p.log.Warn().Err(errs)
	}
	ev.Uint64("captured", p.captured.Load()).
		Uint64("rendered", p.rendered.Load()).
		Int("drained_raw", droppedRaw).
		Int("drained_processed", droppedProcessed).
		Msg("Pipeline stopped")
	return errs
}

func (p *Pipeline) loop(ctx context.Context, raw, processed *queue.Queue) error {
	var last *image.RGBA
	windowStart := p.opts.Clock()

	for {
		select {
		case <-ctx.Done():
			p.log.Info().Msg("Context cancelled")
			return nil
		default:
		}
		if p.stopReq.Load() {
			return nil
		}

		f, err := p.opts.Source.Read()
		if errors.Is(err, capture.ErrEndOfStream) {
			p.log.Info().Msg("End of stream")
			return nil
		}
		if err != nil {
			return fmt.Errorf("read frame: %w", err)
		}
		n := p.captured.Add(1)

		raw.Offer(f)

		var composite *image.RGBA
		if pf, ok := processed.Poll(); ok {
			last = display.Compose(f.Image, pf.Image)
			composite = p.decorate(last)
			p.composited.Add(1)
		} else if p.opts.HoldLastComposite && last != nil {
			composite = p.decorate(last)
		}

		if composite != nil {
			if err := p.opts.Surface.Render(composite); err != nil {
				return fmt.Errorf("render: %w", err)
			}
			p.rendered.Add(1)
		}

		if key, ok := p.opts.Surface.PollKey(); ok && key.IsExit() {
			p.log.Info().Str("key", string(rune(key))).Msg("Exit key pressed")
			return nil
		}

		if n%uint64(p.opts.ReportEvery) == 0 {
			now := p.opts.Clock()
			p.report(now.Sub(windowStart), raw, processed)
			windowStart = now
		}
	}
}

// decorate returns base with the overlays drawn at the current time. base is
// left untouched so a held composite never carries a stale timestamp.
func (p *Pipeline) decorate(base *image.RGBA) *image.RGBA {
	if p.opts.Overlay == nil {
		return base
	}
	out := &image.RGBA{
		Pix:    append([]uint8(nil), base.Pix...),
		Stride: base.Stride,
		Rect:   base.Rect,
	}
	p.opts.Overlay.Render(out)
	return out
}

// report logs throughput over the last ReportEvery frames
func (p *Pipeline) report(elapsed time.Duration, raw, processed *queue.Queue) {
	fps := 0.0
	if elapsed > 0 {
		fps = float64(p.opts.ReportEvery) / elapsed.Seconds()
	}
	p.fpsBits.Store(math.Float64bits(fps))

	rs, ps := raw.Stats(), processed.Stats()
	p.log.Info().
		Float64("fps", fps).
		Uint64("captured", p.captured.Load()).
		Uint64("rendered", p.rendered.Load()).
		Int("raw_len", rs.Len).
		Uint64("raw_dropped", rs.Dropped).
		Int("processed_len", ps.Len).
		Uint64("processed_dropped", ps.Dropped).
		Msgf("FPS: %.2f", fps)
}

// FPS returns the throughput measured at the last report
func (p *Pipeline) FPS() float64 {
	return math.Float64frombits(p.fpsBits.Load())
}

// Stats returns a snapshot of the run. Safe to call from any goroutine.
func (p *Pipeline) Stats() Stats {
	p.mu.RLock()
	raw, processed, worker := p.raw, p.processed, p.worker
	geom, started := p.geometry, p.startedAt
	p.mu.RUnlock()

	s := Stats{
		RunID:      p.id,
		State:      p.State().String(),
		Source:     p.opts.Source.Name(),
		Transform:  p.opts.Transform.Name(),
		Surface:    p.opts.Surface.Name(),
		Geometry:   geom,
		StartedAt:  started,
		Captured:   p.captured.Load(),
		Composited: p.composited.Load(),
		Rendered:   p.rendered.Load(),
		FPS:        p.FPS(),
	}
	if raw != nil {
		s.Raw = raw.Stats()
		s.Processed = processed.Stats()
	}
	if worker != nil {
		s.Worker = worker.Stats()
	}
	return s
}

// StatsLine is a one-line summary for the stats overlay
func (p *Pipeline) StatsLine() string {
	s := p.Stats()
	return fmt.Sprintf("FPS: %.2f  raw %d/%d  out %d/%d  dropped %d  failed %d",
		s.FPS, s.Raw.Len, s.Raw.Capacity, s.Processed.Len, s.Processed.Capacity,
		s.Raw.Dropped+s.Processed.Dropped, s.Worker.Failed)
}
