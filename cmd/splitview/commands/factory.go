package commands

import (
	"fmt"
	"time"

	"github.com/bryanchriswhite/SplitView/internal/capture"
	"github.com/bryanchriswhite/SplitView/internal/config"
	"github.com/bryanchriswhite/SplitView/internal/display"
	"github.com/bryanchriswhite/SplitView/internal/opencv"
	"github.com/bryanchriswhite/SplitView/internal/output"
	"github.com/bryanchriswhite/SplitView/internal/overlay"
	"github.com/bryanchriswhite/SplitView/internal/transform"
)

func buildSource(cfg config.SourceConfig) (capture.Source, error) {
	switch cfg.Kind {
	case config.SourceWebcam:
		return opencv.NewSource(opencv.SourceConfig{
			Device: cfg.Device,
			Width:  cfg.Width,
			Height: cfg.Height,
			FPS:    cfg.FPS,
		}), nil
	case config.SourceFile:
		return opencv.NewSource(opencv.SourceConfig{
			Path: cfg.Path,
			Loop: cfg.Loop,
		}), nil
	case config.SourceScreen:
		return capture.NewScreenSource(capture.ScreenConfig{
			Width:  cfg.Width,
			Height: cfg.Height,
			FPS:    cfg.FPS,
			Window: cfg.Window,
		}), nil
	case config.SourcePattern:
		return capture.NewPatternSource(capture.PatternConfig{
			Width:  cfg.Width,
			Height: cfg.Height,
			FPS:    cfg.FPS,
			Frames: cfg.Frames,
			Paced:  true,
		}), nil
	default:
		return nil, fmt.Errorf("unknown source kind: %s", cfg.Kind)
	}
}

// buildSurface returns the surface and, for mjpeg, the stream to mount on
// the API server
func buildSurface(cfg config.DisplayConfig) (display.Surface, *output.MJPEGSurface, error) {
	switch cfg.Kind {
	case config.DisplayWindow:
		return opencv.NewWindow(cfg.Title, cfg.Width, cfg.Height), nil, nil
	case config.DisplayX11:
		return display.NewX11Window(display.X11Config{
			Title:  cfg.Title,
			Width:  cfg.Width,
			Height: cfg.Height,
		}), nil, nil
	case config.DisplayMJPEG:
		stream := output.NewMJPEGSurface(output.Config{
			Title:   cfg.Title,
			Quality: cfg.JPEGQuality,
		})
		return stream, stream, nil
	case config.DisplayNone:
		return display.NewHeadless(), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown display kind: %s", cfg.Kind)
	}
}

func buildTransform(cfg config.TransformConfig) (transform.Transform, error) {
	return transform.New(transform.Options{
		Kind:      cfg.Kind,
		Threshold: uint8(cfg.Threshold),
		External: transform.ExternalConfig{
			Command:   cfg.External.Command,
			Args:      cfg.External.Args,
			WorkDir:   cfg.External.WorkDir,
			KeepFiles: cfg.External.KeepFiles,
		},
	})
}

// buildOverlay assembles the timestamp, optional stats line and any extra
// configured widgets. stats may be nil when no pipeline is running.
func buildOverlay(cfg *config.Config, stats func() string) (*overlay.Manager, error) {
	mgr := overlay.NewManager(time.Now, stats)
	mgr.SetEnabled(cfg.Overlay.Enabled)

	if ts := cfg.Display.Timestamp; ts.Enabled {
		w, err := mgr.CreateWidget(overlay.TypeTimestamp, "timestamp", map[string]interface{}{
			"format": ts.Format,
			"x":      ts.X,
			"y":      ts.Y,
		})
		if err != nil {
			return nil, err
		}
		if err := mgr.AddWidget(w); err != nil {
			return nil, err
		}
	}

	if cfg.Display.StatsOverlay && stats != nil {
		w, err := mgr.CreateWidget(overlay.TypeStats, "stats", nil)
		if err != nil {
			return nil, err
		}
		if err := mgr.AddWidget(w); err != nil {
			return nil, err
		}
	}

	mgr.LoadFromConfig(cfg.Overlay.Widgets)
	return mgr, nil
}
