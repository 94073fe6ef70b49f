package pipeline

import (
	"sync/atomic"
)

// Lifecycle is the running flag shared with the worker. It starts set and
// is cleared exactly once.
type Lifecycle struct {
	running atomic.Bool
}

// NewLifecycle returns a lifecycle in the running state
func NewLifecycle() *Lifecycle {
	l := &Lifecycle{}
	l.running.Store(true)
	return l
}

// Running reports whether the pipeline should keep going
func (l *Lifecycle) Running() bool {
	return l.running.Load()
}

// Stop clears the flag. Only the first call returns true.
func (l *Lifecycle) Stop() bool {
	return l.running.CompareAndSwap(true, false)
}
