// Package exportring implements the bounded SPSC pointer ring between a
// FlowCache (the single producer) and its OutputWorker (the single
// consumer). No mutex guards the hot path: head/tail are advanced with
// atomic operations only, since the FlowCache is owned exclusively by one
// goroutine and this ring is the only structure shared with OutputWorker.
package exportring

import (
	"errors"

	"go.uber.org/atomic"

	"github.com/flowprobe/fprobe/internal/flowrecord"
)

// ErrFull is returned by Push when the ring has no free slot. The caller
// (FlowCache) must treat this as backpressure: drop-oldest is never silent.
var ErrFull = errors.New("exportring: full")

// Ring is a single-producer, single-consumer bounded circular buffer of
// *flowrecord.Record pointers, sized to a power of two so index wrapping is
// a mask instead of a modulo.
type Ring struct {
	mask uint64
	buf  []*flowrecord.Record

	head atomic.Uint64 // next free slot to write (producer-owned)
	tail atomic.Uint64 // next slot to read (consumer-owned)
}

// New creates a ring of the given capacity, rounded up to the next power of
// two (minimum 2).
func New(capacity int) *Ring {
	if capacity < 2 {
		capacity = 2
	}
	size := 1
	for size < capacity {
		size <<= 1
	}
	return &Ring{
		mask: uint64(size - 1),
		buf:  make([]*flowrecord.Record, size),
	}
}

// Push enqueues a record. Only the producer goroutine may call Push.
func (r *Ring) Push(rec *flowrecord.Record) error {
	head := r.head.Load()
	tail := r.tail.Load()
	if head-tail >= uint64(len(r.buf)) {
		return ErrFull
	}
	r.buf[head&r.mask] = rec
	r.head.Store(head + 1)
	return nil
}

// Pop dequeues a record, or returns nil, false if the ring is empty. Only
// the consumer goroutine may call Pop.
func (r *Ring) Pop() (*flowrecord.Record, bool) {
	tail := r.tail.Load()
	head := r.head.Load()
	if tail == head {
		return nil, false
	}
	rec := r.buf[tail&r.mask]
	r.buf[tail&r.mask] = nil
	r.tail.Store(tail + 1)
	return rec, true
}

// Len returns a snapshot of the number of queued records. Safe to call from
// either side or the control-plane goroutine; may be stale by the time it
// returns.
func (r *Ring) Len() int {
	return int(r.head.Load() - r.tail.Load())
}

// Cap returns the ring's fixed capacity.
func (r *Ring) Cap() int {
	return len(r.buf)
}
