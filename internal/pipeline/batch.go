package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"

	"go.uber.org/multierr"

	"github.com/bryanchriswhite/SplitView/internal/capture"
	"github.com/bryanchriswhite/SplitView/internal/display"
	"github.com/bryanchriswhite/SplitView/internal/frame"
	"github.com/bryanchriswhite/SplitView/internal/logger"
	"github.com/bryanchriswhite/SplitView/internal/overlay"
	"github.com/bryanchriswhite/SplitView/internal/transform"
)

// FrameWriter receives finished composites
type FrameWriter interface {
	Write(img *image.RGBA) error
	Close() error
}

// OpenWriterFunc opens a writer once the composite size is known
type OpenWriterFunc func(width, height int, fps float64) (FrameWriter, error)

// BatchOptions configures RunBatch
type BatchOptions struct {
	Source     capture.Source
	Transform  transform.Transform
	Overlay    *overlay.Manager
	BatchSize  int // 0 uses the source frame rate
	OpenWriter OpenWriterFunc
}

// BatchReport summarizes an offline run
type BatchReport struct {
	Batches int `json:"batches"`
	Failed  int `json:"failed"`
	Frames  int `json:"frames"`
	Written int `json:"written"`
}

// RunBatch processes a finite source offline. Unlike Run, nothing is
// dropped: every full batch (and the trailing partial one) is transformed
// and each frame is written next to its own processed counterpart. A failed
// batch is logged, counted and skipped.
func RunBatch(ctx context.Context, opts BatchOptions) (report BatchReport, err error) {
	if opts.Source == nil || opts.Transform == nil || opts.OpenWriter == nil {
		return report, errors.New("batch: source, transform and writer are required")
	}
	log := logger.WithComponent("batch")

	if err := opts.Source.Open(); err != nil {
		return report, fmt.Errorf("open source %s: %w", opts.Source.Name(), err)
	}
	defer func() {
		if rerr := opts.Source.Release(); rerr != nil {
			err = multierr.Append(err, fmt.Errorf("release source: %w", rerr))
		}
	}()

	geom := opts.Source.Geometry()
	size := opts.BatchSize
	if size <= 0 {
		size = int(math.Round(geom.FPS))
	}
	if size < 1 {
		size = 1
	}

	var writer FrameWriter
	defer func() {
		if writer != nil {
			if cerr := writer.Close(); cerr != nil {
				err = multierr.Append(err, fmt.Errorf("close writer: %w", cerr))
			}
		}
	}()

	flush := func(batch frame.Batch) error {
		report.Batches++
		out, terr := transform.Apply(opts.Transform, batch)
		if terr != nil {
			report.Failed++
			log.Error().Err(terr).Int("batch", report.Batches).Int("frames", len(batch)).Msg("Transform failed, skipping batch")
			return nil
		}
		for i, f := range batch {
			composite := display.Compose(f.Image, out[i].Image)
			if opts.Overlay != nil {
				opts.Overlay.Render(composite)
			}
			if writer == nil {
				b := composite.Bounds()
				w, werr := opts.OpenWriter(b.Dx(), b.Dy(), geom.FPS)
				if werr != nil {
					return fmt.Errorf("open writer: %w", werr)
				}
				writer = w
			}
			if werr := writer.Write(composite); werr != nil {
				return fmt.Errorf("write frame %d: %w", f.Seq, werr)
			}
			report.Written++
		}
		log.Info().Int("batch", report.Batches).Int("frames", len(batch)).Msg("Batch written")
		return nil
	}

	batch := make(frame.Batch, 0, size)
	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		f, rerr := opts.Source.Read()
		if errors.Is(rerr, capture.ErrEndOfStream) {
			break
		}
		if rerr != nil {
			return report, fmt.Errorf("read frame: %w", rerr)
		}
		report.Frames++
		batch = append(batch, f)

		if len(batch) == size {
			if err := flush(batch); err != nil {
				return report, err
			}
			batch = make(frame.Batch, 0, size)
		}
	}

	if len(batch) > 0 {
		if err := flush(batch); err != nil {
			return report, err
		}
	}

	log.Info().
		Int("batches", report.Batches).
		Int("failed", report.Failed).
		Int("frames", report.Frames).
		Int("written", report.Written).
		Msg("Batch run complete")
	return report, nil
}
