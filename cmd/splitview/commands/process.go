package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bryanchriswhite/SplitView/internal/config"
	"github.com/bryanchriswhite/SplitView/internal/opencv"
	"github.com/bryanchriswhite/SplitView/internal/pipeline"
	"github.com/spf13/cobra"
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Process a video file offline",
	Long: `Read a video file in full batches, run every batch through the configured
transform and write the side-by-side composites to a new video file.

Unlike run, nothing is dropped: each frame is paired with its own processed
counterpart. Failed batches are skipped and reported.`,
	Example: `  # Placeholder effect over a clip
  splitview process --input clip.mov --output clip_split.avi

  # External model with 2-second batches at 30 fps
  splitview process --input clip.mov --output out.avi --transform external --batch-size 60`,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return bindFlags(cmd, processFlagKeys)
	},
	RunE: runProcess,
}

var (
	processInput  string
	processOutput string
	processCodec  string
)

// processFlagKeys maps config keys to the flags that override them
var processFlagKeys = map[string]string{
	"transform.kind":      "transform",
	"pipeline.batch_size": "batch-size",
}

func init() {
	rootCmd.AddCommand(processCmd)

	processCmd.Flags().StringVarP(&processInput, "input", "i", "", "input video file (required)")
	processCmd.Flags().StringVarP(&processOutput, "output", "o", "", "output video file (required)")
	processCmd.Flags().StringVar(&processCodec, "codec", opencv.DefaultCodec, "FourCC codec for the output")
	processCmd.Flags().String("transform", "", "transform (placeholder, identity, external)")
	processCmd.Flags().Int("batch-size", 0, "frames per batch (default: source fps)")
	processCmd.MarkFlagRequired("input")
	processCmd.MarkFlagRequired("output")
}

func runProcess(cmd *cobra.Command, args []string) error {
	configMgr, err := loadConfig()
	if err != nil {
		return err
	}
	cfg := configMgr.Get()

	tf, err := buildTransform(cfg.Transform)
	if err != nil {
		return err
	}
	overlays, err := buildOverlay(cfg, nil)
	if err != nil {
		return fmt.Errorf("failed to build overlay: %w", err)
	}
	src, err := buildSource(config.SourceConfig{Kind: config.SourceFile, Path: processInput})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := pipeline.RunBatch(ctx, pipeline.BatchOptions{
		Source:     src,
		Transform:  tf,
		Overlay:    overlays,
		BatchSize:  cfg.Pipeline.BatchSize,
		OpenWriter: opencv.WriterFunc(processOutput, processCodec),
	})
	if err != nil {
		return fmt.Errorf("processing %s: %w", processInput, err)
	}

	fmt.Printf("Processed %d frames in %d batches (%d failed)\n", report.Frames, report.Batches, report.Failed)
	fmt.Printf("Wrote %d composites to %s\n", report.Written, processOutput)
	if report.Failed > 0 {
		return fmt.Errorf("%d of %d batches failed", report.Failed, report.Batches)
	}
	return nil
}
