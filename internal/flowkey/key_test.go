package flowkey

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func makeKey(srcIP, dstIP byte, srcPort, dstPort uint16) Key {
	k := Key{SrcPort: srcPort, DstPort: dstPort, Proto: 6, IPVersion: 4, VLAN: 0}
	k.SrcIP[15] = srcIP
	k.DstIP[15] = dstIP
	return k
}

func TestCanonical_SymmetricAcrossDirection(t *testing.T) {
	fwd := makeKey(10, 20, 1234, 443)
	rev := makeKey(20, 10, 443, 1234)

	fwdCanon, fwdReversed := fwd.Canonical()
	revCanon, revReversed := rev.Canonical()

	assert.Equal(t, fwdCanon, revCanon, "both directions of a biflow must canonicalize to the same key")
	assert.NotEqual(t, fwdReversed, revReversed, "exactly one direction is the 'reversed' one")
}

func TestCanonical_HashStableAcrossDirection(t *testing.T) {
	fwd := makeKey(10, 20, 1234, 443)
	rev := makeKey(20, 10, 443, 1234)

	fwdCanon, _ := fwd.Canonical()
	revCanon, _ := rev.Canonical()

	assert.Equal(t, fwdCanon.Hash(), revCanon.Hash())
}

func TestHash_DifferentForDifferentFlows(t *testing.T) {
	a := makeKey(10, 20, 1234, 443)
	b := makeKey(10, 20, 1235, 443)

	assert.NotEqual(t, a.Hash(), b.Hash())
}

func TestHash_Deterministic(t *testing.T) {
	k := makeKey(10, 20, 1234, 443)
	assert.Equal(t, k.Hash(), k.Hash())
}

func TestCanonical_VLANParticipatesInIdentity(t *testing.T) {
	a := makeKey(10, 20, 1234, 443)
	b := a
	b.VLAN = 100

	aCanon, _ := a.Canonical()
	bCanon, _ := b.Canonical()

	assert.NotEqual(t, aCanon.Hash(), bCanon.Hash())
}
