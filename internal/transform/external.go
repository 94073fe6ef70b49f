package transform

import (
	"bufio"
	"bytes"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/bryanchriswhite/SplitView/internal/frame"
	"github.com/bryanchriswhite/SplitView/internal/logger"
)

// ExternalConfig configures the out-of-process model bridge
type ExternalConfig struct {
	// Command is the executable to run once per batch
	Command string
	// Args are passed before the input and output directories
	Args []string
	// WorkDir is the parent for per-batch temp dirs; empty means os.TempDir
	WorkDir string
	// KeepFiles leaves the per-batch temp dirs on disk for inspection
	KeepFiles bool
}

// External hands each batch to an external model process.
//
// For every batch a temp dir with in/ and out/ subdirectories is created.
// Frames are written to in/ as frame_000000.png, frame_000001.png, ... and
// the command is run as:
//
//	<command> <args...> <in> <out>
//
// It must exit 0 and leave one PNG with the same name and size in out/ for
// every input frame.
type External struct {
	cfg     ExternalConfig
	mu      sync.Mutex
	batches uint64
}

// NewExternal validates cfg and creates the bridge
func NewExternal(cfg ExternalConfig) (*External, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("external transform requires a command")
	}
	if _, err := exec.LookPath(cfg.Command); err != nil {
		return nil, fmt.Errorf("external transform command %q: %w", cfg.Command, err)
	}
	return &External{cfg: cfg}, nil
}

// Name implements Transform
func (e *External) Name() string {
	return KindExternal
}

// Transform implements Transform
func (e *External) Transform(batch frame.Batch) (frame.Batch, error) {
	if len(batch) == 0 {
		return frame.Batch{}, nil
	}

	// One model process at a time
	e.mu.Lock()
	defer e.mu.Unlock()
	e.batches++

	log := logger.WithComponent("transform")

	dir, err := os.MkdirTemp(e.cfg.WorkDir, fmt.Sprintf("splitview-batch-%06d-", e.batches))
	if err != nil {
		return nil, fmt.Errorf("failed to create batch dir: %w", err)
	}
	if e.cfg.KeepFiles {
		log.Debug().Str("dir", dir).Msg("Keeping batch files")
	} else {
		defer os.RemoveAll(dir)
	}

	inDir := filepath.Join(dir, "in")
	outDir := filepath.Join(dir, "out")
	for _, d := range []string{inDir, outDir} {
		if err := os.Mkdir(d, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", d, err)
		}
	}

	for i, f := range batch {
		if err := writePNG(filepath.Join(inDir, frameFileName(i)), f.Image); err != nil {
			return nil, err
		}
	}

	if err := e.run(inDir, outDir); err != nil {
		return nil, err
	}

	out := make(frame.Batch, len(batch))
	for i, f := range batch {
		img, err := readPNG(filepath.Join(outDir, frameFileName(i)))
		if err != nil {
			return nil, err
		}
		if img.Bounds().Size() != f.Image.Bounds().Size() {
			return nil, fmt.Errorf("%w: output %s is %v, want %v", ErrContractViolation,
				frameFileName(i), img.Bounds().Size(), f.Image.Bounds().Size())
		}
		out[i] = f.WithImage(img)
	}

	log.Debug().
		Uint64("batch", e.batches).
		Int("frames", len(batch)).
		Msg("External model batch complete")
	return out, nil
}

func (e *External) run(inDir, outDir string) error {
	log := logger.WithComponent("transform")

	args := append(append([]string{}, e.cfg.Args...), inDir, outDir)
	cmd := exec.Command(e.cfg.Command, args...)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to get stderr pipe: %w", err)
	}
	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", e.cfg.Command, err)
	}

	// Drain stderr before Wait closes the pipe
	logStderr(stderr)

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("%s exited: %w", e.cfg.Command, err)
	}

	if stdout.Len() > 0 {
		log.Debug().Str("stdout", stdout.String()).Msg("External model output")
	}
	return nil
}

func logStderr(r io.Reader) {
	log := logger.WithComponent("transform")
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		log.Warn().Str("stderr", scanner.Text()).Msg("External model")
	}
}

func frameFileName(i int) string {
	return fmt.Sprintf("frame_%06d.png", i)
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return f.Close()
}

func readPNG(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("missing model output: %w", err)
	}
	defer f.Close()

	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return img, nil
}
