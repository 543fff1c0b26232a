// Package packet defines the decoded packet representation that flows
// from capture sources into the flow cache.
package packet

import "time"

// Descriptor is the normalized view of one captured packet that the rest of
// the pipeline operates on. Capture-source-specific decoding happens once,
// at ingestion, so everything downstream (flow cache, process plugins)
// works against this flat shape instead of re-parsing link layers.
type Descriptor struct {
	Timestamp time.Time
	CaptureLen int
	WireLen    int

	SrcIP   [16]byte
	DstIP   [16]byte
	IPVersion uint8
	Protocol  uint8 // IANA protocol number (TCP=6, UDP=17, ...)
	TTL       uint8
	VLAN      uint16

	SrcPort uint16
	DstPort uint16

	TCPFlags uint8
	SeqNum   uint32
	AckNum   uint32

	// Fragmentation, set only when IPVersion == 4 and the fragment bits
	// indicate a non-first fragment or MF is set on the first fragment.
	FragID     uint32
	FragOffset uint16
	MoreFrags  bool

	Payload []byte
}

// IsFragment reports whether this packet is part of an IP fragmentation
// sequence (either a non-first fragment, or a first fragment with MF set).
func (d *Descriptor) IsFragment() bool {
	return d.MoreFrags || d.FragOffset != 0
}

// FirstFragment reports whether this is the first fragment of a sequence,
// the only one carrying L4 header information.
func (d *Descriptor) FirstFragment() bool {
	return d.FragOffset == 0 && d.MoreFrags
}
