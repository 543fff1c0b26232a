// Package telemetry implements the control-plane binary stats protocol
// and the concurrent registry of per-worker stat snapshots it serves,
// adapted from internal/command/uds_server.go's UDS listener (changed
// from a stream JSON-RPC server to a "unixgram" datagram server speaking
// a fixed binary framing) and backed by github.com/alphadose/haxmap
// (from gchux-pcap-sidecar) instead of sync.Map for its lock-free
// single-writer/many-reader access pattern.
package telemetry

import (
	"github.com/alphadose/haxmap"
)

// WorkerStats is one partition's worker-pair stats, snapshotted on demand
// for the control socket.
type WorkerStats struct {
	Name         string
	PacketsIn    uint64
	FlowsActive  int64
	FlowsExported uint64
	CacheHits    uint64
	CacheMisses  uint64
	RingLen      int
	RingCap      int
}

// Registry holds the latest WorkerStats per named worker, read by the
// control-plane socket goroutine. Nothing in this repository calls Set:
// the daemon creates an empty registry, so Snapshot returns no entries and
// the control socket replies with zero workers.
type Registry struct {
	workers *haxmap.Map[string, *WorkerStats]
}

func NewRegistry() *Registry {
	return &Registry{workers: haxmap.New[string, *WorkerStats]()}
}

func (r *Registry) Set(name string, stats *WorkerStats) {
	r.workers.Set(name, stats)
}

func (r *Registry) Get(name string) (*WorkerStats, bool) {
	return r.workers.Get(name)
}

// Snapshot returns every registered worker's stats in an arbitrary order;
// the control-plane reply assembler is responsible for any ordering
// guarantees it needs.
func (r *Registry) Snapshot() []*WorkerStats {
	out := make([]*WorkerStats, 0, r.workers.Len())
	r.workers.ForEach(func(_ string, v *WorkerStats) bool {
		out = append(out, v)
		return true
	})
	return out
}
