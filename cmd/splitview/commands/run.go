package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bryanchriswhite/SplitView/internal/api"
	"github.com/bryanchriswhite/SplitView/internal/logger"
	"github.com/bryanchriswhite/SplitView/internal/pipeline"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the live side-by-side pipeline",
	Long: `Capture frames from the configured source, process them in batches in the
background and show original and processed frames side by side.

Press q or Esc in the window (or POST /api/stop) to exit. Ctrl+C also stops
the pipeline cleanly.`,
	Example: `  # Webcam into an OpenCV window with the placeholder effect
  splitview run

  # Test pattern streamed to the browser at http://localhost:8080
  splitview run --source pattern --display mjpeg

  # External model, one call per one-second batch
  splitview run --transform external

  # Keep the last composite on screen between processed frames
  splitview run --hold-last`,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return bindFlags(cmd, runFlagKeys)
	},
	RunE: runRun,
}

// runFlagKeys maps config keys to the flags that override them
var runFlagKeys = map[string]string{
	"source.kind":                  "source",
	"source.device":                "device",
	"source.path":                  "input",
	"source.window":                "window",
	"transform.kind":               "transform",
	"display.kind":                 "display",
	"pipeline.batch_size":          "batch-size",
	"pipeline.hold_last_composite": "hold-last",
	"display.stats_overlay":        "stats-overlay",
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().String("source", "", "frame source (webcam, file, screen, pattern)")
	runCmd.Flags().Int("device", 0, "webcam device index")
	runCmd.Flags().String("input", "", "video file for the file source")
	runCmd.Flags().String("window", "", "title or class of the window to capture with the screen source")
	runCmd.Flags().String("transform", "", "transform (placeholder, identity, external)")
	runCmd.Flags().String("display", "", "display surface (window, x11, mjpeg, none)")
	runCmd.Flags().Int("batch-size", 0, "frames per batch (default: source fps)")
	runCmd.Flags().Bool("hold-last", false, "re-render the last composite while waiting for processed frames")
	runCmd.Flags().Bool("stats-overlay", false, "draw live stats on the composite")
}

func runRun(cmd *cobra.Command, args []string) error {
	configMgr, err := loadConfig()
	if err != nil {
		return err
	}
	cfg := configMgr.Get()
	log := logger.WithComponent("main")
	log.Info().Str("config", configMgr.GetConfigPath()).Msg("Configuration loaded")

	src, err := buildSource(cfg.Source)
	if err != nil {
		return err
	}
	tf, err := buildTransform(cfg.Transform)
	if err != nil {
		return err
	}
	surface, stream, err := buildSurface(cfg.Display)
	if err != nil {
		return err
	}

	var p *pipeline.Pipeline
	stats := func() string { return p.StatsLine() }
	overlays, err := buildOverlay(cfg, stats)
	if err != nil {
		return fmt.Errorf("failed to build overlay: %w", err)
	}

	p, err = pipeline.New(pipeline.Options{
		Source:            src,
		Transform:         tf,
		Surface:           surface,
		Overlay:           overlays,
		BatchSize:         cfg.Pipeline.BatchSize,
		QueueCapacity:     cfg.Pipeline.QueueCapacity,
		IdleBackoff:       cfg.Pipeline.IdleBackoff,
		HoldLastComposite: cfg.Pipeline.HoldLastComposite,
		ReportEvery:       cfg.Pipeline.ReportEvery,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.ServerPort > 0 {
		server := api.NewServer(p, configMgr, stream)
		serverCtx, cancelServer := context.WithCancel(ctx)
		defer cancelServer()
		go func() {
			if err := server.Start(serverCtx, cfg.ServerPort); err != nil {
				log.Error().Err(err).Msg("API server failed")
			}
		}()
		if stream != nil {
			log.Info().Msgf("Open http://localhost:%d to watch the stream", cfg.ServerPort)
		}
	}

	log.Info().Str("run_id", p.ID()).Msg("Starting pipeline, press q or Esc to quit")
	if err := p.Run(ctx); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	log.Info().Str("run_id", p.ID()).Msg("Pipeline finished")
	return nil
}
