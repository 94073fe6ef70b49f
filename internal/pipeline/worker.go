package pipeline

import (
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/SplitView/internal/logger"
	"github.com/bryanchriswhite/SplitView/internal/queue"
	"github.com/bryanchriswhite/SplitView/internal/transform"
)

// DefaultIdleBackoff is how long the worker sleeps when the raw queue is empty
const DefaultIdleBackoff = 5 * time.Millisecond

// Worker drains the raw queue in batches, runs the transform and feeds the
// processed queue. It owns every call into the transform.
type Worker struct {
	raw         *queue.Queue
	processed   *queue.Queue
	transform   transform.Transform
	batchSize   int
	idleBackoff time.Duration
	lifecycle   *Lifecycle
	log         *zerolog.Logger

	batches   atomic.Uint64
	failed    atomic.Uint64
	framesIn  atomic.Uint64
	framesOut atomic.Uint64
	exited    atomic.Bool
}

// WorkerStats is a snapshot of worker counters
type WorkerStats struct {
	Transform string `json:"transform"`
	BatchSize int    `json:"batch_size"`
	Batches   uint64 `json:"batches"`
	Failed    uint64 `json:"failed"`
	FramesIn  uint64 `json:"frames_in"`
	FramesOut uint64 `json:"frames_out"`
	Exited    bool   `json:"exited"`
}

// NewWorker creates a worker. A non-positive idleBackoff uses
// DefaultIdleBackoff.
func NewWorker(raw, processed *queue.Queue, t transform.Transform, batchSize int, idleBackoff time.Duration, lc *Lifecycle) *Worker {
	if batchSize < 1 {
		batchSize = 1
	}
	if idleBackoff <= 0 {
		idleBackoff = DefaultIdleBackoff
	}
	return &Worker{
		raw:         raw,
		processed:   processed,
		transform:   t,
		batchSize:   batchSize,
		idleBackoff: idleBackoff,
		lifecycle:   lc,
		log:         logger.WithComponent("worker"),
	}
}

// Run loops until the lifecycle stops. A batch in flight is always
// finished before the flag is checked again.
func (w *Worker) Run() {
	defer w.exited.Store(true)

	w.log.Debug().
		Str("transform", w.transform.Name()).
		Int("batch_size", w.batchSize).
		Msg("Worker started")

	for w.lifecycle.Running() {
		if !w.step() {
			time.Sleep(w.idleBackoff)
		}
	}

	w.log.Debug().Uint64("batches", w.batches.Load()).Msg("Worker stopped")
}

// step processes at most one batch and reports whether there was any work
func (w *Worker) step() bool {
	batch := w.raw.PollBatch(w.batchSize)
	if len(batch) == 0 {
		return false
	}

	n := w.batches.Add(1)
	w.framesIn.Add(uint64(len(batch)))

	start := time.Now()
	out, err := transform.Apply(w.transform, batch)
	if err != nil {
		w.failed.Add(1)
		w.log.Error().
			Err(err).
			Uint64("batch", n).
			Int("frames", len(batch)).
			Msg("Transform failed, dropping batch")
		return true
	}

	accepted := 0
	for _, f := range out {
		if w.processed.Offer(f) {
			accepted++
		}
	}
	w.framesOut.Add(uint64(len(out)))

	w.log.Debug().
		Uint64("batch", n).
		Int("frames", len(batch)).
		Int("accepted", accepted).
		Dur("took", time.Since(start)).
		Msg("Batch processed")
	return true
}

// Exited reports whether Run has returned
func (w *Worker) Exited() bool {
	return w.exited.Load()
}

// Stats returns a snapshot of the worker counters
func (w *Worker) Stats() WorkerStats {
	return WorkerStats{
		Transform: w.transform.Name(),
		BatchSize: w.batchSize,
		Batches:   w.batches.Load(),
		Failed:    w.failed.Load(),
		FramesIn:  w.framesIn.Load(),
		FramesOut: w.framesOut.Load(),
		Exited:    w.exited.Load(),
	}
}
