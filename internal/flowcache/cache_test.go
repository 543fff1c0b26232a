package flowcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowprobe/fprobe/internal/exportring"
	"github.com/flowprobe/fprobe/internal/flowrecord"
	"github.com/flowprobe/fprobe/internal/packet"
	"github.com/flowprobe/fprobe/internal/plugin"
)

func ip(n byte) [16]byte {
	var a [16]byte
	a[15] = n
	return a
}

func tcpPkt(srcPort, dstPort uint16, flags uint8, ts time.Time) *packet.Descriptor {
	return &packet.Descriptor{
		Timestamp: ts,
		SrcIP:     ip(1),
		DstIP:     ip(2),
		IPVersion: 4,
		Protocol:  6,
		SrcPort:   srcPort,
		DstPort:   dstPort,
		TCPFlags:  flags,
		WireLen:   100,
	}
}

// oneRowCache builds a cache whose entire table is a single associative
// row (size == line size), so every key lands at lineIndex 0 regardless of
// its hash. That makes eviction order and the sweep window exactly
// predictable without needing to reverse-engineer xxHash output.
func oneRowCache(t *testing.T, active, inactive time.Duration, reg *plugin.Registry) (*Cache, *exportring.Ring) {
	t.Helper()
	ring := exportring.New(16)
	c, err := New(Config{
		SizeExponent: 2,
		LineExponent: 2,
		Active:       active,
		Inactive:     inactive,
	}, ring, reg)
	require.NoError(t, err)
	return c, ring
}

func TestNew_RejectsLineLargerThanSize(t *testing.T) {
	_, err := New(Config{SizeExponent: 2, LineExponent: 4}, exportring.New(2), nil)
	assert.Error(t, err)
}

func TestNew_RejectsNilRing(t *testing.T) {
	_, err := New(Config{}, nil, nil)
	assert.Error(t, err)
}

func TestPutPkt_BasicFlow_ExportsOnFinish(t *testing.T) {
	c, ring := oneRowCache(t, time.Hour, time.Hour, nil)
	t0 := time.Now()

	require.NoError(t, c.PutPkt(tcpPkt(1000, 80, tcpSYN, t0)))
	require.NoError(t, c.PutPkt(tcpPkt(1000, 80, 0, t0.Add(time.Millisecond))))

	assert.EqualValues(t, 1, c.Stats.Flows.Load())
	assert.EqualValues(t, 1, c.Stats.Misses.Load())
	assert.EqualValues(t, 1, c.Stats.Hits.Load())

	c.Finish()

	rec, ok := ring.Pop()
	require.True(t, ok)
	assert.Equal(t, flowrecord.EndForced, rec.EndReason)
	assert.EqualValues(t, 2, rec.PacketsToDst)

	_, ok = ring.Pop()
	assert.False(t, ok, "only one flow was created")
	assert.EqualValues(t, 0, c.Stats.Flows.Load())
}

func TestPutPkt_RowFull_EvictsLastSlotAsCollision(t *testing.T) {
	c, ring := oneRowCache(t, time.Hour, time.Hour, nil)
	t0 := time.Now()

	for i, port := range []uint16{1, 2, 3, 4} {
		require.NoError(t, c.PutPkt(tcpPkt(port, 80, tcpSYN, t0.Add(time.Duration(i)*time.Millisecond))))
	}
	assert.EqualValues(t, 4, c.Stats.Flows.Load())

	// A 5th distinct flow forces eviction; with no promotion, the slot at
	// the end of the row (the 4th flow inserted, port 4) is exported.
	require.NoError(t, c.PutPkt(tcpPkt(5, 80, tcpSYN, t0.Add(10*time.Millisecond))))

	assert.EqualValues(t, 4, c.Stats.Flows.Load(), "one evicted, one inserted: net unchanged")

	rec, ok := ring.Pop()
	require.True(t, ok)
	assert.Equal(t, flowrecord.EndCollision, rec.EndReason)
	assert.EqualValues(t, 4, rec.Key.SrcPort, "the last-in-row flow (port 4) is the one evicted")
}

func TestPutPkt_LRUPromotion_ProtectsFromEviction(t *testing.T) {
	c, ring := oneRowCache(t, time.Hour, time.Hour, nil)
	t0 := time.Now()

	for i, port := range []uint16{1, 2, 3, 4} {
		require.NoError(t, c.PutPkt(tcpPkt(port, 80, tcpSYN, t0.Add(time.Duration(i)*time.Millisecond))))
	}

	// A repeat packet on the flow at the back of the row promotes it to
	// the front, protecting it from the next eviction.
	require.NoError(t, c.PutPkt(tcpPkt(4, 80, 0, t0.Add(5*time.Millisecond))))

	require.NoError(t, c.PutPkt(tcpPkt(5, 80, tcpSYN, t0.Add(10*time.Millisecond))))

	rec, ok := ring.Pop()
	require.True(t, ok)
	assert.Equal(t, flowrecord.EndCollision, rec.EndReason)
	assert.EqualValues(t, 3, rec.Key.SrcPort, "port 4 was promoted, so port 3 is evicted instead")
}

func TestPutPkt_SynAfterFinRst_ForcesExportAndReinsert(t *testing.T) {
	c, ring := oneRowCache(t, time.Hour, time.Hour, nil)
	t0 := time.Now()

	require.NoError(t, c.PutPkt(tcpPkt(1000, 80, tcpSYN, t0)))
	require.NoError(t, c.PutPkt(tcpPkt(1000, 80, tcpFIN, t0.Add(time.Millisecond))))

	// A new SYN on the same 5-tuple must close out the old record and
	// start a fresh one, rather than being folded into the closed flow.
	require.NoError(t, c.PutPkt(tcpPkt(1000, 80, tcpSYN, t0.Add(2*time.Millisecond))))

	assert.EqualValues(t, 1, c.Stats.Flows.Load(), "exactly one live flow after the restart")

	closed, ok := ring.Pop()
	require.True(t, ok)
	assert.Equal(t, flowrecord.EndOfFlow, closed.EndReason)
	assert.EqualValues(t, 2, closed.PacketsToDst)

	c.Finish()
	reopened, ok := ring.Pop()
	require.True(t, ok)
	assert.Equal(t, flowrecord.EndForced, reopened.EndReason)
	assert.EqualValues(t, 1, reopened.PacketsToDst)
}

func TestPutPkt_InactiveTimeout_ExportsAndRestartsOnNextPacket(t *testing.T) {
	c, ring := oneRowCache(t, time.Hour, 30*time.Second, nil)
	t0 := time.Now()

	require.NoError(t, c.PutPkt(tcpPkt(1000, 80, 0, t0)))
	require.NoError(t, c.PutPkt(tcpPkt(1000, 80, 0, t0.Add(time.Minute))))

	rec, ok := ring.Pop()
	require.True(t, ok)
	assert.Equal(t, flowrecord.EndInactiveTimeout, rec.EndReason)
	assert.EqualValues(t, 1, rec.PacketsToDst)
	assert.EqualValues(t, 1, c.Stats.Flows.Load(), "the restarted flow is still live")
}

func TestPutPkt_InactiveTimeout_GracefulWhenFinRstSeen(t *testing.T) {
	c, ring := oneRowCache(t, time.Hour, 30*time.Second, nil)
	t0 := time.Now()

	require.NoError(t, c.PutPkt(tcpPkt(1000, 80, tcpFIN, t0)))
	require.NoError(t, c.PutPkt(tcpPkt(1000, 80, 0, t0.Add(time.Minute))))

	rec, ok := ring.Pop()
	require.True(t, ok)
	assert.Equal(t, flowrecord.EndOfFlow, rec.EndReason, "FIN was observed, so the timeout-driven export is graceful")
}

func TestPutPkt_ActiveTimeout_ExportsAndRestarts(t *testing.T) {
	c, ring := oneRowCache(t, 10*time.Second, time.Hour, nil)
	t0 := time.Now()

	require.NoError(t, c.PutPkt(tcpPkt(1000, 80, 0, t0)))
	require.NoError(t, c.PutPkt(tcpPkt(1000, 80, 0, t0.Add(20*time.Second))))

	rec, ok := ring.Pop()
	require.True(t, ok)
	assert.Equal(t, flowrecord.EndActiveTimeout, rec.EndReason)
	assert.EqualValues(t, 1, c.Stats.Flows.Load())
}

func TestPutPkt_ExportExpiredSweep_CatchesIdleFlowWithoutLookup(t *testing.T) {
	// lineNewIdx (half the row) rows are swept per call, walking forward
	// from timeoutIdx each time: flow1 and flow2 sit idle in the first
	// half of the one-row table; it takes a third, unrelated packet for
	// the sweep's rotating window to come back around to their half and
	// export them, without either ever being looked up again directly.
	c, ring := oneRowCache(t, time.Hour, 10*time.Second, nil)
	t0 := time.Now()

	require.NoError(t, c.PutPkt(tcpPkt(1000, 80, 0, t0)))                  // row0
	require.NoError(t, c.PutPkt(tcpPkt(2000, 80, 0, t0.Add(time.Second)))) // row1; sweep this call covers rows 2-3

	require.NoError(t, c.PutPkt(tcpPkt(3000, 80, 0, t0.Add(30*time.Second)))) // row2; sweep now covers rows 0-1

	first, ok := ring.Pop()
	require.True(t, ok)
	assert.Equal(t, flowrecord.EndInactiveTimeout, first.EndReason)
	assert.EqualValues(t, 1000, first.Key.SrcPort, "row0 (flow1) is reclaimed by the sweep, not a direct lookup")

	second, ok := ring.Pop()
	require.True(t, ok)
	assert.Equal(t, flowrecord.EndInactiveTimeout, second.EndReason)
	assert.EqualValues(t, 2000, second.Key.SrcPort, "row1 (flow2) is reclaimed in the same sweep pass")

	assert.EqualValues(t, 1, c.Stats.Flows.Load(), "only flow3 remains live")
}

type forcingPlugin struct {
	plugin.Base
	name            string
	preUpdate       plugin.Verdict
	postCreate      plugin.Verdict
	postCreateCalls int
}

func (p *forcingPlugin) Metadata() plugin.Metadata { return plugin.Metadata{Name: p.name} }

func (p *forcingPlugin) PreUpdate(rec *flowrecord.Record, pkt *packet.Descriptor) plugin.Verdict {
	return p.preUpdate
}

// PostCreate only forces FlushWithReinsert once: the recursive reinsert
// immediately re-triggers PostCreate on the same packet, and a plugin that
// kept forcing it would loop forever.
func (p *forcingPlugin) PostCreate(rec *flowrecord.Record, pkt *packet.Descriptor) plugin.Verdict {
	if p.postCreate == plugin.FlushWithReinsert && p.postCreateCalls > 0 {
		return plugin.OK
	}
	p.postCreateCalls++
	return p.postCreate
}

func TestPutPkt_PreUpdateVeto_ForcesExportWithoutApplyingPacket(t *testing.T) {
	reg := plugin.NewRegistry()
	require.NoError(t, reg.Register(&forcingPlugin{name: "forcer", preUpdate: plugin.Flush}))

	c, ring := oneRowCache(t, time.Hour, time.Hour, reg)
	t0 := time.Now()

	require.NoError(t, c.PutPkt(tcpPkt(1000, 80, tcpSYN, t0)))
	require.NoError(t, c.PutPkt(tcpPkt(1000, 80, 0, t0.Add(time.Millisecond))))

	rec, ok := ring.Pop()
	require.True(t, ok)
	assert.Equal(t, flowrecord.EndForced, rec.EndReason)
	assert.EqualValues(t, 1, rec.PacketsToDst, "the second packet's data must not be applied once vetoed")
	assert.EqualValues(t, 0, c.Stats.Flows.Load())
}

func TestPutPkt_PostCreateFlush_ExportsWithoutApplyingPacket(t *testing.T) {
	reg := plugin.NewRegistry()
	require.NoError(t, reg.Register(&forcingPlugin{name: "forcer", postCreate: plugin.Flush}))

	c, ring := oneRowCache(t, time.Hour, time.Hour, reg)
	t0 := time.Now()

	require.NoError(t, c.PutPkt(tcpPkt(1000, 80, tcpSYN, t0)))

	rec, ok := ring.Pop()
	require.True(t, ok)
	assert.Equal(t, flowrecord.EndForced, rec.EndReason)
	assert.EqualValues(t, 0, rec.PacketsToDst, "the triggering packet must not be applied once flushed")
	assert.EqualValues(t, 0, c.Stats.Flows.Load())
}

func TestPutPkt_PostCreateFlushWithReinsert_ExportsThenReappliesPacket(t *testing.T) {
	reg := plugin.NewRegistry()
	require.NoError(t, reg.Register(&forcingPlugin{name: "forcer", postCreate: plugin.FlushWithReinsert}))

	c, ring := oneRowCache(t, time.Hour, time.Hour, reg)
	t0 := time.Now()

	require.NoError(t, c.PutPkt(tcpPkt(1000, 80, tcpSYN, t0)))

	rec, ok := ring.Pop()
	require.True(t, ok)
	assert.Equal(t, flowrecord.EndForced, rec.EndReason)
	assert.EqualValues(t, 0, rec.PacketsToDst, "the first, empty record is exported as-is")

	assert.EqualValues(t, 1, c.Stats.Flows.Load(), "the packet was reapplied to a freshly created record")
}

func TestPutPkt_FragmentedPorts_RecoveredFromFirstFragment(t *testing.T) {
	c, err := New(Config{
		SizeExponent: 2,
		LineExponent: 2,
		Active:       time.Hour,
		Inactive:     time.Hour,
		FragCache:    true,
		FragSize:     16,
		FragTimeout:  time.Minute,
	}, exportring.New(16), nil)
	require.NoError(t, err)

	t0 := time.Now()
	first := &packet.Descriptor{
		Timestamp:  t0,
		SrcIP:      ip(1),
		DstIP:      ip(2),
		IPVersion:  4,
		Protocol:   6,
		SrcPort:    1000,
		DstPort:    80,
		FragID:     42,
		FragOffset: 0,
		MoreFrags:  true,
	}
	require.NoError(t, c.PutPkt(first))

	trailing := &packet.Descriptor{
		Timestamp:  t0.Add(time.Millisecond),
		SrcIP:      ip(1),
		DstIP:      ip(2),
		IPVersion:  4,
		Protocol:   6,
		FragID:     42,
		FragOffset: 200,
		MoreFrags:  false,
	}
	require.NoError(t, c.PutPkt(trailing))

	assert.EqualValues(t, 1000, trailing.SrcPort, "ports must be recovered onto the fragment before it is keyed")
	assert.EqualValues(t, 80, trailing.DstPort)
	assert.EqualValues(t, 1, c.Stats.Flows.Load(), "the recovered fragment joins the existing flow, not a new one")
	assert.EqualValues(t, 1, c.Stats.Hits.Load())
}

func TestFinish_ExportsEveryOccupiedSlot(t *testing.T) {
	c, ring := oneRowCache(t, time.Hour, time.Hour, nil)
	t0 := time.Now()

	for i, port := range []uint16{1, 2, 3} {
		require.NoError(t, c.PutPkt(tcpPkt(port, 80, tcpSYN, t0.Add(time.Duration(i)*time.Millisecond))))
	}

	c.Finish()

	seen := 0
	for {
		rec, ok := ring.Pop()
		if !ok {
			break
		}
		assert.Equal(t, flowrecord.EndForced, rec.EndReason)
		seen++
	}
	assert.Equal(t, 3, seen)
	assert.EqualValues(t, 0, c.Stats.Flows.Load())
}
