// Package transform holds the pluggable stage that turns raw frames into
// processed frames.
//
// Every Transform must return exactly one output frame per input frame, in
// input order, carrying the input's sequence number. Output dimensions match
// the input.
package transform

import (
	"errors"
	"fmt"

	"github.com/bryanchriswhite/SplitView/internal/frame"
)

// Kinds accepted in configuration
const (
	KindPlaceholder = "placeholder"
	KindIdentity    = "identity"
	KindExternal    = "external"
)

// Transform maps a batch of raw frames to processed frames
type Transform interface {
	Transform(batch frame.Batch) (frame.Batch, error)
	Name() string
}

// Error reports a failed batch. It is recoverable: the batch is dropped and
// processing continues.
type Error struct {
	Transform string
	Frames    int
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transform %s failed on batch of %d frames: %v", e.Transform, e.Frames, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrContractViolation marks output that breaks the length/order contract
var ErrContractViolation = errors.New("transform output violates batch contract")

// Options configures New
type Options struct {
	Kind      string
	Threshold uint8
	External  ExternalConfig
}

// New builds the transform selected by opts.Kind
func New(opts Options) (Transform, error) {
	switch opts.Kind {
	case "", KindPlaceholder:
		return NewPlaceholder(opts.Threshold), nil
	case KindIdentity:
		return Identity{}, nil
	case KindExternal:
		return NewExternal(opts.External)
	default:
		return nil, fmt.Errorf("unknown transform kind: %s", opts.Kind)
	}
}

// Verify checks out against in for the length, order and size contract.
func Verify(in, out frame.Batch) error {
	if len(out) != len(in) {
		return fmt.Errorf("%w: got %d frames, want %d", ErrContractViolation, len(out), len(in))
	}
	for i := range in {
		if out[i] == nil || out[i].Image == nil {
			return fmt.Errorf("%w: frame %d is empty", ErrContractViolation, i)
		}
		if out[i].Seq != in[i].Seq {
			return fmt.Errorf("%w: frame %d has seq %d, want %d", ErrContractViolation, i, out[i].Seq, in[i].Seq)
		}
		if out[i].Image.Bounds().Size() != in[i].Image.Bounds().Size() {
			return fmt.Errorf("%w: frame %d is %v, want %v", ErrContractViolation, i,
				out[i].Image.Bounds().Size(), in[i].Image.Bounds().Size())
		}
	}
	return nil
}

// Identity returns pixel-identical copies of its input
type Identity struct{}

// Transform implements Transform
func (Identity) Transform(batch frame.Batch) (frame.Batch, error) {
	out := make(frame.Batch, len(batch))
	for i, f := range batch {
		out[i] = f.Clone()
	}
	return out, nil
}

// Name implements Transform
func (Identity) Name() string {
	return KindIdentity
}

// Apply runs t on batch and enforces the batch contract. Any failure,
// including a panic inside t, comes back as a *Error.
func Apply(t Transform, batch frame.Batch) (out frame.Batch, err error) {
	wrap := func(cause error) error {
		var te *Error
		if errors.As(cause, &te) {
			return cause
		}
		return &Error{Transform: t.Name(), Frames: len(batch), Err: cause}
	}

	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = wrap(fmt.Errorf("panic: %v", r))
		}
	}()

	out, err = t.Transform(batch)
	if err != nil {
		return nil, wrap(err)
	}
	if err := Verify(batch, out); err != nil {
		return nil, wrap(err)
	}
	return out, nil
}
