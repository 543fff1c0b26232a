// Package plugin defines the ProcessPlugin contract and a
// dependency-ordered registry for it, adapted from the generic
// gatherer/processor/forwarder plugin registry this repository used to
// carry. The hook set below — PreCreate/PostCreate/PreUpdate/PostUpdate/
// PreExport — matches every process plugin under
// original_source/src/plugins/process/.
package plugin

import (
	"github.com/flowprobe/fprobe/internal/flowrecord"
	"github.com/flowprobe/fprobe/internal/packet"
)

// Verdict is returned by every ProcessPlugin hook to tell the FlowCache
// what to do with the flow the hook just observed.
type Verdict int

const (
	// OK means continue normal processing; no special action needed.
	OK Verdict = iota
	// Flush means export the flow now, without waiting for a timeout.
	Flush
	// FlushWithReinsert means export the flow now and immediately start a
	// new flow record for the same key from the triggering packet (used
	// e.g. when a SYN is seen on a key that just carried a FIN/RST).
	FlushWithReinsert
)

// Metadata describes a registered plugin: its name and the names of
// plugins it must run after, used to compute a deterministic load order.
type Metadata struct {
	Name         string
	Dependencies []string
}

// ProcessPlugin is implemented by protocol-specific enrichment plugins
// (QUIC, DNS, HTTP, ...). Every method has the no-op-safe default verdict
// OK; plugins only need to act on the hooks relevant to their protocol,
// following the "interface with default no-op methods" pattern.
type ProcessPlugin interface {
	Metadata() Metadata

	// PreCreate runs before a brand new flow record is created for pkt,
	// and may veto the creation by returning false: no record is created
	// and the packet is not counted in any flow.
	PreCreate(pkt *packet.Descriptor) bool
	// PostCreate runs immediately after a new flow record is created.
	PostCreate(rec *flowrecord.Record, pkt *packet.Descriptor) Verdict
	// PreUpdate runs before an existing flow record is updated with pkt.
	PreUpdate(rec *flowrecord.Record, pkt *packet.Descriptor) Verdict
	// PostUpdate runs after an existing flow record is updated with pkt.
	PostUpdate(rec *flowrecord.Record, pkt *packet.Descriptor) Verdict
	// PreExport runs once, just before a flow record is pushed onto the
	// export ring, and is the last chance to attach or finalize an
	// extension.
	PreExport(rec *flowrecord.Record) Verdict
}

// Base gives plugins a no-op implementation of every hook to embed, so a
// plugin only needs to override the hooks it cares about.
type Base struct{}

func (Base) PreCreate(*packet.Descriptor) bool { return true }
func (Base) PostCreate(*flowrecord.Record, *packet.Descriptor) Verdict { return OK }
func (Base) PreUpdate(*flowrecord.Record, *packet.Descriptor) Verdict  { return OK }
func (Base) PostUpdate(*flowrecord.Record, *packet.Descriptor) Verdict { return OK }
func (Base) PreExport(*flowrecord.Record) Verdict                     { return OK }
