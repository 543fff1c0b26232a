// Package flowkey implements the flow 5-tuple key and its symmetric hash,
// grounded on the field layout of ipfixprobe's FlowKey
// (src_ip[16], dst_ip[16], src_port, dst_port, proto, ip_version, vlan_id).
package flowkey

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// Key identifies a flow by its directional 5-tuple plus VLAN. Address
// fields are always 16 bytes; IPv4 addresses are stored left-padded with
// zeroes exactly as the original packs them, so the hash input layout is
// stable regardless of IP version.
type Key struct {
	SrcIP     [16]byte
	DstIP     [16]byte
	SrcPort   uint16
	DstPort   uint16
	Proto     uint8
	IPVersion uint8
	VLAN      uint16
}

// packedLen matches flowKey.hpp's sizeof(FlowKey): two 16-byte addresses,
// two ports, two bytes of proto/version, one VLAN field.
const packedLen = 16 + 16 + 2 + 2 + 1 + 1 + 2

func (k Key) pack(buf *[packedLen]byte) {
	copy(buf[0:16], k.SrcIP[:])
	copy(buf[16:32], k.DstIP[:])
	binary.LittleEndian.PutUint16(buf[32:34], k.SrcPort)
	binary.LittleEndian.PutUint16(buf[34:36], k.DstPort)
	buf[36] = k.Proto
	buf[37] = k.IPVersion
	binary.LittleEndian.PutUint16(buf[38:40], k.VLAN)
}

// Hash returns the xxHash64 digest of the packed key, playing the same
// role as the original's XXH3_64bits(this, sizeof(*this)) call (XXH3 and
// XXH64 are different algorithms in the reference library; xxHash64 is
// used here deliberately, not as a stand-in for XXH3).
func (k Key) Hash() uint64 {
	var buf [packedLen]byte
	k.pack(&buf)
	return xxhash.Sum64(buf[:])
}

// reversed swaps source and destination so a flow can be looked up
// regardless of which direction a packet arrived in.
func (k Key) reversed() Key {
	return Key{
		SrcIP:     k.DstIP,
		DstIP:     k.SrcIP,
		SrcPort:   k.DstPort,
		DstPort:   k.SrcPort,
		Proto:     k.Proto,
		IPVersion: k.IPVersion,
		VLAN:      k.VLAN,
	}
}

// Canonical returns the biflow-canonical form of the key together with
// whether the packet's natural direction is the reverse of that canonical
// form (i.e. whether the caller is looking at "response" traffic for the
// flow that owns the canonical key).
//
// Canonicalization picks the direction whose packed byte representation is
// lexicographically smaller, so that both directions of a biflow hash to
// the same row and slot.
func (k Key) Canonical() (canon Key, reversed bool) {
	rev := k.reversed()
	var a, b [packedLen]byte
	k.pack(&a)
	rev.pack(&b)
	for i := range a {
		if a[i] == b[i] {
			continue
		}
		if a[i] < b[i] {
			return k, false
		}
		return rev, true
	}
	return k, false
}
