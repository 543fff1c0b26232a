// Package flowsink defines the output Formatter/Sink contract — the
// external_export wire format is deliberately left non-normative — plus
// two concrete sinks, adapted from plugins/reporter/console and
// plugins/reporter/kafka.
package flowsink

import (
	"context"

	"github.com/flowprobe/fprobe/internal/flowrecord"
)

// Formatter turns one exported flow record into bytes for a Sink to write.
type Formatter interface {
	Format(rec *flowrecord.Record) ([]byte, error)
}

// Sink is implemented by every output destination.
type Sink interface {
	Write(ctx context.Context, rec *flowrecord.Record) error
	Close() error
}
