// Package flowrecord defines the exported flow record and its extension
// chain, expanded from internal/core/packet.go's OutputPacket stub.
package flowrecord

import (
	"time"

	"github.com/flowprobe/fprobe/internal/flowkey"
)

// EndReason mirrors FlowEndReasonStats from the original cache
// (cacheStats.hpp): every exported flow records exactly one reason.
type EndReason uint8

const (
	EndActiveTimeout EndReason = iota
	EndInactiveTimeout
	EndOfFlow // FIN/RST observed
	EndCollision
	EndForced // finish()-time flush, e.g. on shutdown
)

func (r EndReason) String() string {
	switch r {
	case EndActiveTimeout:
		return "active_timeout"
	case EndInactiveTimeout:
		return "inactive_timeout"
	case EndOfFlow:
		return "end_of_flow"
	case EndCollision:
		return "collision"
	case EndForced:
		return "forced"
	default:
		return "unknown"
	}
}

// Extension is implemented by protocol-specific enrichment data attached to
// a flow record by a ProcessPlugin. A tagged interface slice replaces the
// original's intrusive linked list of extension structs (its RecordExt
// chain).
type Extension interface {
	// ExtensionName identifies the extension kind, e.g. "quic", "dns", "http".
	ExtensionName() string
}

// Record is the unit handed to the export ring and, ultimately, the output
// sink: one direction-canonicalized flow's accumulated statistics plus
// whatever protocol extensions were attached along the way.
type Record struct {
	Key flowkey.Key

	FirstSeen time.Time
	LastSeen  time.Time

	PacketsToDst uint64
	BytesToDst   uint64
	PacketsToSrc uint64
	BytesToSrc   uint64

	TCPFlagsToDst uint8
	TCPFlagsToSrc uint8

	EndReason EndReason

	Extensions []Extension
}

// Extension looks up an attached extension by name.
func (r *Record) Extension(name string) (Extension, bool) {
	for _, e := range r.Extensions {
		if e.ExtensionName() == name {
			return e, true
		}
	}
	return nil, false
}

// Reset clears a record for reuse from a free-list, avoiding an allocation
// per exported flow on the hot path.
func (r *Record) Reset() {
	r.Key = flowkey.Key{}
	r.FirstSeen = time.Time{}
	r.LastSeen = time.Time{}
	r.PacketsToDst = 0
	r.BytesToDst = 0
	r.PacketsToSrc = 0
	r.BytesToSrc = 0
	r.TCPFlagsToDst = 0
	r.TCPFlagsToSrc = 0
	r.EndReason = 0
	r.Extensions = r.Extensions[:0]
}
