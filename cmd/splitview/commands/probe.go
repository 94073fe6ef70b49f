package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/bryanchriswhite/SplitView/internal/capture"
	"github.com/spf13/cobra"
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Open the configured source and print its geometry",
	Long: `Open the configured frame source, print the geometry it reports and
optionally read a few frames to measure the real frame rate.`,
	Example: `  # Check the default webcam
  splitview probe

  # Read 60 frames from device 1 and report the measured rate
  splitview probe --device 1 --frames 60

  # Machine-readable output
  splitview probe --format json`,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return bindFlags(cmd, probeFlagKeys)
	},
	RunE: runProbe,
}

var (
	probeFrames int
	probeFormat string
)

// probeFlagKeys maps config keys to the flags that override them
var probeFlagKeys = map[string]string{
	"source.kind":   "source",
	"source.device": "device",
	"source.path":   "input",
}

func init() {
	rootCmd.AddCommand(probeCmd)

	probeCmd.Flags().String("source", "", "frame source (webcam, file, screen, pattern)")
	probeCmd.Flags().Int("device", 0, "webcam device index")
	probeCmd.Flags().String("input", "", "video file for the file source")
	probeCmd.Flags().IntVar(&probeFrames, "frames", 0, "frames to read for measuring the rate")
	probeCmd.Flags().StringVarP(&probeFormat, "format", "f", "text", "output format (text or json)")
}

type probeResult struct {
	Source      string           `json:"source"`
	Geometry    capture.Geometry `json:"geometry"`
	FramesRead  int              `json:"frames_read"`
	MeasuredFPS float64          `json:"measured_fps,omitempty"`
}

func runProbe(cmd *cobra.Command, args []string) error {
	configMgr, err := loadConfig()
	if err != nil {
		return err
	}

	src, err := buildSource(configMgr.Get().Source)
	if err != nil {
		return err
	}
	if err := src.Open(); err != nil {
		return fmt.Errorf("failed to open %s: %w", src.Name(), err)
	}
	defer src.Release()

	res := probeResult{Source: src.Name(), Geometry: src.Geometry()}

	start := time.Now()
	for res.FramesRead < probeFrames {
		if _, err := src.Read(); err != nil {
			if errors.Is(err, capture.ErrEndOfStream) {
				break
			}
			return fmt.Errorf("read failed after %d frames: %w", res.FramesRead, err)
		}
		res.FramesRead++
	}
	if res.FramesRead > 0 {
		res.MeasuredFPS = float64(res.FramesRead) / time.Since(start).Seconds()
	}

	switch probeFormat {
	case "json":
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(res)
	case "text":
		fmt.Printf("Source:   %s\n", res.Source)
		fmt.Printf("Geometry: %s\n", res.Geometry)
		if res.FramesRead > 0 {
			fmt.Printf("Measured: %.2f FPS over %d frames\n", res.MeasuredFPS, res.FramesRead)
		}
		return nil
	default:
		return fmt.Errorf("unsupported format: %s (use 'text' or 'json')", probeFormat)
	}
}
