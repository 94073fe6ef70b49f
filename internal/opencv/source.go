package opencv

import (
	"fmt"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/bryanchriswhite/SplitView/internal/capture"
	"github.com/bryanchriswhite/SplitView/internal/frame"
	"github.com/bryanchriswhite/SplitView/internal/logger"
)

// fallbackFPS is used when a device reports no frame rate
const fallbackFPS = 30

// SourceConfig selects a webcam (Path empty) or a video file. Zero sizes
// and rates keep whatever the device negotiates.
type SourceConfig struct {
	Device int
	Path   string
	Width  int
	Height int
	FPS    float64
	Loop   bool // files only: rewind instead of ending
}

// Source reads frames through an OpenCV VideoCapture
type Source struct {
	cfg  SourceConfig
	name string

	mu   sync.Mutex
	vc   *gocv.VideoCapture
	mat  gocv.Mat
	geom capture.Geometry
	seq  uint64
}

// NewSource creates a webcam or file source
func NewSource(cfg SourceConfig) *Source {
	name := fmt.Sprintf("webcam:%d", cfg.Device)
	if cfg.Path != "" {
		name = "file:" + cfg.Path
	}
	return &Source{cfg: cfg, name: name}
}

func (s *Source) isFile() bool {
	return s.cfg.Path != ""
}

// Open implements capture.Source
func (s *Source) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		vc  *gocv.VideoCapture
		err error
	)
	if s.isFile() {
		vc, err = gocv.VideoCaptureFile(s.cfg.Path)
	} else {
		vc, err = gocv.VideoCaptureDevice(s.cfg.Device)
	}
	if err != nil {
		return capture.Unavailable(s.name, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return capture.Unavailable(s.name, nil)
	}

	if !s.isFile() {
		if s.cfg.Width > 0 {
			vc.Set(gocv.VideoCaptureFrameWidth, float64(s.cfg.Width))
		}
		if s.cfg.Height > 0 {
			vc.Set(gocv.VideoCaptureFrameHeight, float64(s.cfg.Height))
		}
		if s.cfg.FPS > 0 {
			vc.Set(gocv.VideoCaptureFPS, s.cfg.FPS)
		}
	}

	s.geom = capture.Geometry{
		Width:  int(vc.Get(gocv.VideoCaptureFrameWidth)),
		Height: int(vc.Get(gocv.VideoCaptureFrameHeight)),
		FPS:    vc.Get(gocv.VideoCaptureFPS),
	}
	if s.geom.FPS <= 0 {
		s.geom.FPS = fallbackFPS
	}

	s.vc = vc
	s.mat = gocv.NewMat()
	s.seq = 0

	logger.WithComponent("capture").Info().
		Str("source", s.name).
		Str("geometry", s.geom.String()).
		Msg("Video capture opened")
	return nil
}

// Read implements capture.Source
func (s *Source) Read() (*frame.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.vc == nil {
		return nil, fmt.Errorf("%s: not open", s.name)
	}

	if !s.vc.Read(&s.mat) || s.mat.Empty() {
		if !s.isFile() {
			return nil, fmt.Errorf("cannot read webcam device %d", s.cfg.Device)
		}
		if !s.cfg.Loop {
			return nil, capture.ErrEndOfStream
		}
		s.vc.Set(gocv.VideoCapturePosFrames, 0)
		if !s.vc.Read(&s.mat) || s.mat.Empty() {
			return nil, capture.ErrEndOfStream
		}
	}

	img, err := s.mat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("%s: convert frame: %w", s.name, err)
	}

	f := frame.New(s.seq, time.Now(), img)
	s.seq++
	return f, nil
}

// Geometry implements capture.Source
func (s *Source) Geometry() capture.Geometry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.geom
}

// Release implements capture.Source
func (s *Source) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.vc == nil {
		return nil
	}
	s.mat.Close()
	err := s.vc.Close()
	s.vc = nil
	logger.WithComponent("capture").Debug().Str("source", s.name).Uint64("frames", s.seq).Msg("Video capture released")
	return err
}

// Name implements capture.Source
func (s *Source) Name() string {
	return s.name
}
