package flowsink

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/atomic"

	"github.com/flowprobe/fprobe/internal/flowrecord"
)

// ConsoleSink writes formatted records to an io.Writer, one per line.
// Adapted from plugins/reporter/console's ConsoleReporter.
type ConsoleSink struct {
	w         io.Writer
	formatter Formatter
	written   atomic.Uint64
}

func NewConsoleSink(w io.Writer, formatter Formatter) *ConsoleSink {
	if formatter == nil {
		formatter = JSONFormatter{}
	}
	return &ConsoleSink{w: w, formatter: formatter}
}

func (s *ConsoleSink) Write(ctx context.Context, rec *flowrecord.Record) error {
	b, err := s.formatter.Format(rec)
	if err != nil {
		return fmt.Errorf("flowsink: format: %w", err)
	}
	if _, err := s.w.Write(append(b, '\n')); err != nil {
		return fmt.Errorf("flowsink: write: %w", err)
	}
	s.written.Inc()
	return nil
}

func (s *ConsoleSink) Close() error { return nil }

func (s *ConsoleSink) Written() uint64 { return s.written.Load() }
