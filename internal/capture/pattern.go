package capture

import (
	"fmt"
	"image"
	"image/color"
	"time"

	"github.com/bryanchriswhite/SplitView/internal/frame"
	"github.com/bryanchriswhite/SplitView/internal/logger"
)

// PatternConfig configures the synthetic test-pattern source
type PatternConfig struct {
	Width  int
	Height int
	FPS    float64
	// Frames limits the stream length; 0 means unlimited
	Frames int
	// Paced sleeps between reads to honour FPS. Tests leave it off.
	Paced bool
}

// PatternSource generates moving colour bars. It stands in for a camera in
// headless runs and tests.
type PatternSource struct {
	cfg  PatternConfig
	seq  uint64
	open bool
	last time.Time
	now  func() time.Time
	bars []color.RGBA
}

// NewPatternSource creates a synthetic source
func NewPatternSource(cfg PatternConfig) *PatternSource {
	if cfg.Width <= 0 {
		cfg.Width = 640
	}
	if cfg.Height <= 0 {
		cfg.Height = 480
	}
	if cfg.FPS <= 0 {
		cfg.FPS = 30
	}
	return &PatternSource{
		cfg: cfg,
		now: time.Now,
		bars: []color.RGBA{
			{192, 192, 192, 255},
			{192, 192, 0, 255},
			{0, 192, 192, 255},
			{0, 192, 0, 255},
			{192, 0, 192, 255},
			{192, 0, 0, 255},
			{0, 0, 192, 255},
		},
	}
}

// Open implements Source
func (p *PatternSource) Open() error {
	if p.open {
		return fmt.Errorf("pattern source already open")
	}
	p.open = true
	p.seq = 0
	logger.WithComponent("capture").Info().
		Str("source", p.Name()).
		Str("geometry", p.Geometry().String()).
		Msg("Pattern source opened")
	return nil
}

// Read implements Source
func (p *PatternSource) Read() (*frame.Frame, error) {
	if !p.open {
		return nil, fmt.Errorf("pattern source not open")
	}
	if p.cfg.Frames > 0 && p.seq >= uint64(p.cfg.Frames) {
		return nil, ErrEndOfStream
	}

	if p.cfg.Paced && !p.last.IsZero() {
		interval := time.Duration(float64(time.Second) / p.cfg.FPS)
		if wait := interval - p.now().Sub(p.last); wait > 0 {
			time.Sleep(wait)
		}
	}
	p.last = p.now()

	img := image.NewRGBA(image.Rect(0, 0, p.cfg.Width, p.cfg.Height))
	barWidth := p.cfg.Width / len(p.bars)
	if barWidth == 0 {
		barWidth = 1
	}
	shift := int(p.seq) * 4
	for y := 0; y < p.cfg.Height; y++ {
		for x := 0; x < p.cfg.Width; x++ {
			bar := ((x + shift) / barWidth) % len(p.bars)
			img.SetRGBA(x, y, p.bars[bar])
		}
	}

	f := &frame.Frame{Seq: p.seq, CapturedAt: p.last, Image: img}
	p.seq++
	return f, nil
}

// Geometry implements Source
func (p *PatternSource) Geometry() Geometry {
	return Geometry{Width: p.cfg.Width, Height: p.cfg.Height, FPS: p.cfg.FPS}
}

// Release implements Source
func (p *PatternSource) Release() error {
	p.open = false
	return nil
}

// Name implements Source
func (p *PatternSource) Name() string {
	return "pattern"
}
