package opencv

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"github.com/bryanchriswhite/SplitView/internal/pipeline"
)

// DefaultCodec is the FourCC used when none is given
const DefaultCodec = "MJPG"

// VideoWriter encodes composites to a video file
type VideoWriter struct {
	path string
	vw   *gocv.VideoWriter
}

// OpenVideoWriter creates path with the given FourCC codec
func OpenVideoWriter(path, codec string, width, height int, fps float64) (*VideoWriter, error) {
	if codec == "" {
		codec = DefaultCodec
	}
	vw, err := gocv.VideoWriterFile(path, codec, fps, width, height, true)
	if err != nil {
		return nil, fmt.Errorf("open video writer %s: %w", path, err)
	}
	if !vw.IsOpened() {
		vw.Close()
		return nil, fmt.Errorf("open video writer %s: codec %s not available", path, codec)
	}
	return &VideoWriter{path: path, vw: vw}, nil
}

// WriterFunc adapts OpenVideoWriter to pipeline.OpenWriterFunc
func WriterFunc(path, codec string) pipeline.OpenWriterFunc {
	return func(width, height int, fps float64) (pipeline.FrameWriter, error) {
		return OpenVideoWriter(path, codec, width, height, fps)
	}
}

// Write implements pipeline.FrameWriter
func (w *VideoWriter) Write(img *image.RGBA) error {
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return fmt.Errorf("convert composite: %w", err)
	}
	defer mat.Close()
	return w.vw.Write(mat)
}

// Close implements pipeline.FrameWriter
func (w *VideoWriter) Close() error {
	return w.vw.Close()
}
