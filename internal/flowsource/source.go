// Package flowsource defines the packet source driver contract plus
// concrete adapters so InputWorker can be exercised end-to-end in tests.
// Grounded on internal/source/file/source.go's factory-registered
// pcap.OpenOffline wrapper.
package flowsource

import (
	"context"

	"github.com/flowprobe/fprobe/internal/packet"
)

// Source is implemented by any packet capture driver. Decoding raw link
// layers into a packet.Descriptor is the source's responsibility, so the
// rest of the pipeline never depends on capture-technology-specific types.
type Source interface {
	Start(ctx context.Context) error
	// Next blocks until a packet is available, ctx is cancelled, or the
	// source is exhausted (io.EOF).
	Next(ctx context.Context) (*packet.Descriptor, error)
	Stop() error
}
