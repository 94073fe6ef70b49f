// Package queue provides the fixed-capacity frame FIFO shared between the
// display loop and the processing worker.
//
// Neither side ever blocks on the other: Offer drops the newest frame when
// the queue is full and Poll reports empty instead of waiting. IsEmpty and
// IsFull are hints; the state can change before the caller acts on them.
package queue

import (
	"fmt"
	"sync/atomic"

	"github.com/bryanchriswhite/SplitView/internal/frame"
)

// Queue is a bounded FIFO of frames with non-blocking offer/poll.
// Safe for one producer and one consumer running concurrently.
type Queue struct {
	name string
	ch   chan *frame.Frame

	offered atomic.Uint64
	dropped atomic.Uint64
	polled  atomic.Uint64
	drained atomic.Uint64
}

// Stats is a snapshot of queue counters
type Stats struct {
	Name     string `json:"name"`
	Capacity int    `json:"capacity"`
	Len      int    `json:"len"`
	Offered  uint64 `json:"offered"`
	Accepted uint64 `json:"accepted"`
	Dropped  uint64 `json:"dropped"`
	Polled   uint64 `json:"polled"`
	Drained  uint64 `json:"drained"`
}

// New creates a queue holding at most capacity frames
func New(name string, capacity int) (*Queue, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("queue %s: capacity must be positive, got %d", name, capacity)
	}
	return &Queue{
		name: name,
		ch:   make(chan *frame.Frame, capacity),
	}, nil
}

// Offer enqueues f if there is room. It reports false, and the frame is
// dropped, when the queue is full.
func (q *Queue) Offer(f *frame.Frame) bool {
	q.offered.Add(1)
	select {
	case q.ch <- f:
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// Poll removes and returns the oldest frame, or false when the queue is empty.
func (q *Queue) Poll() (*frame.Frame, bool) {
	select {
	case f := <-q.ch:
		q.polled.Add(1)
		return f, true
	default:
		return nil, false
	}
}

// PollBatch removes up to n frames, stopping early when the queue empties.
func (q *Queue) PollBatch(n int) frame.Batch {
	var batch frame.Batch
	for len(batch) < n {
		f, ok := q.Poll()
		if !ok {
			break
		}
		batch = append(batch, f)
	}
	return batch
}

// Drain discards every resident frame and returns how many were discarded.
func (q *Queue) Drain() int {
	n := 0
	for {
		select {
		case <-q.ch:
			n++
		default:
			q.drained.Add(uint64(n))
			return n
		}
	}
}

// Len returns the current number of resident frames
func (q *Queue) Len() int {
	return len(q.ch)
}

// Cap returns the queue capacity
func (q *Queue) Cap() int {
	return cap(q.ch)
}

// IsEmpty reports whether the queue currently holds no frames (advisory)
func (q *Queue) IsEmpty() bool {
	return len(q.ch) == 0
}

// IsFull reports whether the queue is currently at capacity (advisory)
func (q *Queue) IsFull() bool {
	return len(q.ch) == cap(q.ch)
}

// Name returns the queue name used in logs and stats
func (q *Queue) Name() string {
	return q.name
}

// Stats returns a snapshot of the queue counters
func (q *Queue) Stats() Stats {
	offered := q.offered.Load()
	dropped := q.dropped.Load()
	return Stats{
		Name:     q.name,
		Capacity: cap(q.ch),
		Len:      len(q.ch),
		Offered:  offered,
		Accepted: offered - dropped,
		Dropped:  dropped,
		Polled:   q.polled.Load(),
		Drained:  q.drained.Load(),
	}
}
