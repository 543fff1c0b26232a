// Package workers implements InputWorker and OutputWorker: the goroutines
// that respectively pull packets from a Source into a FlowCache, and
// drain a FlowCache's ExportRing into a Sink. Lifecycle (start/stop,
// WaitGroup-gated shutdown) is grounded on
// internal/otus/module/pipeline/pipeline.go's Boot/Shutdown.
package workers

import (
	"context"
	"io"
	"time"

	"github.com/tevino/abool"

	"github.com/flowprobe/fprobe/internal/flowcache"
	"github.com/flowprobe/fprobe/internal/flowsource"
	"github.com/flowprobe/fprobe/internal/log"
)

// InputWorker owns one Source and one FlowCache exclusively: the flow
// cache is never touched by any other goroutine.
type InputWorker struct {
	source  flowsource.Source
	cache   *flowcache.Cache
	logger  log.Logger
	stopped *abool.AtomicBool

	sweepInterval time.Duration
}

func NewInputWorker(source flowsource.Source, cache *flowcache.Cache, logger log.Logger) *InputWorker {
	return &InputWorker{
		source:        source,
		cache:         cache,
		logger:        logger,
		stopped:       abool.New(),
		sweepInterval: time.Second,
	}
}

// Run drives the source until ctx is cancelled or the source is exhausted,
// feeding every packet into the cache. It returns nil on a clean shutdown
// (ctx cancellation or io.EOF), and a non-nil error only when source.Start
// fails; every error from source.Next is logged and skipped, so a failing
// source does not end Run.
func (w *InputWorker) Run(ctx context.Context) error {
	if err := w.source.Start(ctx); err != nil {
		return err
	}
	defer w.source.Stop()

	for {
		if w.stopped.IsSet() || ctx.Err() != nil {
			w.cache.Finish()
			return nil
		}

		pkt, err := w.source.Next(ctx)
		if err == io.EOF {
			w.cache.Finish()
			return nil
		}
		if err != nil {
			if w.logger != nil {
				w.logger.WithError(err).Warn("input worker: packet read failed")
			}
			continue // read errors of every kind are skip-and-continue
		}

		if err := w.cache.PutPkt(pkt); err != nil {
			if w.logger != nil {
				w.logger.WithError(err).Error("input worker: plugin hook failed")
			}
		}
	}
}

// Stop requests cooperative shutdown; Run will finish its current
// iteration, force-export every cached flow, and return.
func (w *InputWorker) Stop() {
	w.stopped.Set()
}
