package workers

import (
	"context"
	"time"

	"github.com/tevino/abool"

	"github.com/flowprobe/fprobe/internal/exportring"
	"github.com/flowprobe/fprobe/internal/flowrecord"
	"github.com/flowprobe/fprobe/internal/flowsink"
	"github.com/flowprobe/fprobe/internal/log"
)

// OutputWorker drains an ExportRing into a Sink. It is the only goroutine
// other than the owning InputWorker that ever touches the ring, keeping
// the ring single-producer/single-consumer.
type OutputWorker struct {
	ring    *exportring.Ring
	sink    flowsink.Sink
	logger  log.Logger
	stopped *abool.AtomicBool

	idleBackoff time.Duration
}

func NewOutputWorker(ring *exportring.Ring, sink flowsink.Sink, logger log.Logger) *OutputWorker {
	return &OutputWorker{
		ring:        ring,
		sink:        sink,
		logger:      logger,
		stopped:     abool.New(),
		idleBackoff: time.Millisecond,
	}
}

// Run drains the ring until ctx is cancelled and the ring is empty.
func (w *OutputWorker) Run(ctx context.Context) error {
	defer w.sink.Close()

	for {
		rec, ok := w.ring.Pop()
		if !ok {
			if w.stopped.IsSet() || ctx.Err() != nil {
				return nil
			}
			select {
			case <-ctx.Done():
				// Drain whatever remains before exiting.
				for {
					rec, ok := w.ring.Pop()
					if !ok {
						return nil
					}
					w.write(ctx, rec)
				}
			case <-time.After(w.idleBackoff):
			}
			continue
		}
		w.write(ctx, rec)
	}
}

func (w *OutputWorker) write(ctx context.Context, rec *flowrecord.Record) {
	if err := w.sink.Write(ctx, rec); err != nil && w.logger != nil {
		w.logger.WithError(err).Warn("output worker: sink write failed")
	}
}

func (w *OutputWorker) Stop() {
	w.stopped.Set()
}
