// Package flowcache implements a set-associative flow cache, grounded
// line-for-line on NHTFlowCache::put_pkt in
// original_source/src/plugins/storage/cache/src/cache.cpp: row indexing by
// hash & line_mask, LRU promotion via in-row swap, row-full eviction of the
// row's last slot followed by a shift down to the row's midpoint insertion
// index, a periodic sweeping export of one row-half per call
// (export_expired's m_timeout_idx walk), and SYN-after-FIN/RST forced
// export-and-reinsert.
package flowcache

import (
	"fmt"
	"time"

	"go.uber.org/atomic"

	"github.com/flowprobe/fprobe/internal/exportring"
	"github.com/flowprobe/fprobe/internal/flowkey"
	"github.com/flowprobe/fprobe/internal/flowrecord"
	"github.com/flowprobe/fprobe/internal/fragcache"
	"github.com/flowprobe/fprobe/internal/packet"
	"github.com/flowprobe/fprobe/internal/plugin"
)

const (
	// DefaultSizeExponent/DefaultLineExponent reproduce
	// cacheOptParser.cpp's DEFAULT_FLOW_CACHE_SIZE/DEFAULT_FLOW_LINE_SIZE:
	// 2^17 total entries split into rows ("associativity ways") of 2^4.
	DefaultSizeExponent = 17
	DefaultLineExponent = 4

	DefaultActiveTimeout   = 300 * time.Second
	DefaultInactiveTimeout = 30 * time.Second
)

const (
	tcpFIN = 0x01
	tcpSYN = 0x02
	tcpRST = 0x04
)

// slot is one row entry. A nil Rec marks the slot empty.
type slot struct {
	Rec  *flowrecord.Record
	Hash uint64
	Key  flowkey.Key
}

func (s *slot) empty() bool { return s.Rec == nil }

// Config configures a Cache. SizeExponent/LineExponent follow the
// original's -s/-l CLI options (cache size = 2^SizeExponent entries,
// associativity = 2^LineExponent entries per row).
type Config struct {
	SizeExponent uint
	LineExponent uint
	Active       time.Duration
	Inactive     time.Duration
	SplitBiflow  bool
	FragCache    bool
	FragSize     int
	FragTimeout  time.Duration
}

func (c Config) withDefaults() Config {
	if c.SizeExponent == 0 {
		c.SizeExponent = DefaultSizeExponent
	}
	if c.LineExponent == 0 {
		c.LineExponent = DefaultLineExponent
	}
	if c.Active == 0 {
		c.Active = DefaultActiveTimeout
	}
	if c.Inactive == 0 {
		c.Inactive = DefaultInactiveTimeout
	}
	return c
}

// Stats are lock-free counters that other goroutines may read without
// touching the cache's single owning goroutine, grounded on
// FlowCacheStats (cacheStats.hpp): empty/not_empty/hits/exported/lookups.
// Nothing in this repository copies them into the telemetry registry, so
// the control-plane socket does not report them.
type Stats struct {
	Hits     atomic.Uint64
	Misses   atomic.Uint64
	Exported atomic.Uint64
	Dropped  atomic.Uint64 // records lost because the export ring was full
	Lookups  atomic.Uint64
	Flows    atomic.Int64
}

// Cache is the single-goroutine-owned set-associative flow table. Every
// method except the Stats fields must only be called from the owning
// InputWorker goroutine.
type Cache struct {
	cfg Config

	size       uint32
	lineSize   uint32
	lineMask   uint32
	lineNewIdx uint32
	timeoutIdx uint32

	rows []slot

	frag *fragcache.Cache
	ring *exportring.Ring
	reg  *plugin.Registry

	Stats Stats
}

// New builds a Cache. size must be a power of two no smaller than the line
// size, matching the original's init() validation.
func New(cfg Config, ring *exportring.Ring, reg *plugin.Registry) (*Cache, error) {
	cfg = cfg.withDefaults()

	size := uint32(1) << cfg.SizeExponent
	lineSize := uint32(1) << cfg.LineExponent
	if lineSize > size {
		return nil, fmt.Errorf("flowcache: line size must be <= cache size")
	}
	if ring == nil {
		return nil, fmt.Errorf("flowcache: export ring must be set before init")
	}

	c := &Cache{
		cfg:        cfg,
		size:       size,
		lineSize:   lineSize,
		lineMask:   (size - 1) &^ (lineSize - 1),
		lineNewIdx: lineSize / 2,
		rows:       make([]slot, size),
		ring:       ring,
		reg:        reg,
	}
	if cfg.FragCache {
		c.frag = fragcache.New(cfg.FragSize, cfg.FragTimeout)
	}
	return c, nil
}

// PutPkt ingests one packet descriptor, matching put_pkt's control flow.
func (c *Cache) PutPkt(pkt *packet.Descriptor) error {
	if c.frag != nil {
		c.fillFragmentedPorts(pkt)
	}

	key, ok := c.buildKey(pkt)
	if !ok {
		return nil // unsupported IP version; silently skipped, as upstream does
	}

	var canon flowkey.Key
	var reversed bool
	if c.cfg.SplitBiflow {
		// Biflow matching disabled: key each direction independently
		// instead of folding request/response traffic into one record.
		canon, reversed = key, false
	} else {
		canon, reversed = key.Canonical()
	}
	hash := canon.Hash()

	lineIndex := uint32(hash) & c.lineMask
	nextLine := lineIndex + c.lineSize

	c.Stats.Lookups.Inc()

	flowIndex, found := c.findInLine(lineIndex, nextLine, hash)
	if found {
		c.Stats.Hits.Inc()
		c.promote(flowIndex, lineIndex)
		flowIndex = lineIndex
	} else {
		c.Stats.Misses.Inc()
		flowIndex, found = c.findEmptyInLine(lineIndex, nextLine)
		if !found {
			evictIndex := nextLine - 1
			c.exportSlot(evictIndex, flowrecord.EndCollision)
			newIndex := lineIndex + c.lineNewIdx
			c.shiftDown(evictIndex, newIndex)
			flowIndex = newIndex
		}
	}

	s := &c.rows[flowIndex]

	// SYN arriving on a key that just carried FIN/RST: export and restart.
	if !s.empty() && pkt.TCPFlags&tcpSYN != 0 {
		existingFlags := s.Rec.TCPFlagsToDst
		if reversed {
			existingFlags = s.Rec.TCPFlagsToSrc
		}
		if existingFlags&(tcpFIN|tcpRST) != 0 {
			c.exportSlot(flowIndex, flowrecord.EndOfFlow)
			return c.PutPkt(pkt)
		}
	}

	if s.empty() {
		if c.reg != nil {
			keep, err := c.reg.RunPreCreate(pkt)
			if err != nil {
				return err
			}
			if !keep {
				return nil
			}
		}
		rec := &flowrecord.Record{Key: canon, FirstSeen: pkt.Timestamp, LastSeen: pkt.Timestamp}
		s.Rec, s.Hash, s.Key = rec, hash, canon
		c.Stats.Flows.Inc()

		if c.reg != nil {
			verdict, err := c.reg.RunPostCreate(rec, pkt)
			if err != nil {
				return err
			}
			if verdict == plugin.Flush {
				c.exportSlot(flowIndex, flowrecord.EndForced)
				return nil
			}
			if verdict == plugin.FlushWithReinsert {
				c.exportSlot(flowIndex, flowrecord.EndForced)
				return c.PutPkt(pkt)
			}
		}
		applyPacket(rec, pkt, reversed)
	} else {
		if pkt.Timestamp.Sub(s.Rec.LastSeen) >= c.cfg.Inactive {
			c.exportSlot(flowIndex, inactiveEndReason(s.Rec))
			return c.PutPkt(pkt)
		}
		if pkt.Timestamp.Sub(s.Rec.FirstSeen) >= c.cfg.Active {
			c.exportSlot(flowIndex, flowrecord.EndActiveTimeout)
			return c.PutPkt(pkt)
		}

		if c.reg != nil {
			verdict, err := c.reg.RunPreUpdate(s.Rec, pkt)
			if err != nil {
				return err
			}
			if verdict == plugin.FlushWithReinsert {
				c.exportSlot(flowIndex, flowrecord.EndForced)
				return c.PutPkt(pkt)
			}
			if verdict != plugin.OK {
				c.exportSlot(flowIndex, flowrecord.EndForced)
				return nil
			}
		}

		applyPacket(s.Rec, pkt, reversed)

		if c.reg != nil {
			verdict, err := c.reg.RunPostUpdate(s.Rec, pkt)
			if err != nil {
				return err
			}
			if verdict == plugin.FlushWithReinsert {
				c.exportSlot(flowIndex, flowrecord.EndForced)
				return c.PutPkt(pkt)
			}
			if verdict != plugin.OK {
				c.exportSlot(flowIndex, flowrecord.EndForced)
				return nil
			}
		}
	}

	c.exportExpiredSweep(pkt.Timestamp)
	return nil
}

func inactiveEndReason(rec *flowrecord.Record) flowrecord.EndReason {
	if rec.TCPFlagsToDst&(tcpFIN|tcpRST) != 0 || rec.TCPFlagsToSrc&(tcpFIN|tcpRST) != 0 {
		return flowrecord.EndOfFlow
	}
	return flowrecord.EndInactiveTimeout
}

func applyPacket(rec *flowrecord.Record, pkt *packet.Descriptor, reversed bool) {
	rec.LastSeen = pkt.Timestamp
	if !reversed {
		rec.PacketsToDst++
		rec.BytesToDst += uint64(pkt.WireLen)
		rec.TCPFlagsToDst |= pkt.TCPFlags
	} else {
		rec.PacketsToSrc++
		rec.BytesToSrc += uint64(pkt.WireLen)
		rec.TCPFlagsToSrc |= pkt.TCPFlags
	}
}

func (c *Cache) buildKey(pkt *packet.Descriptor) (flowkey.Key, bool) {
	if pkt.IPVersion != 4 && pkt.IPVersion != 6 {
		return flowkey.Key{}, false
	}
	return flowkey.Key{
		SrcIP:     pkt.SrcIP,
		DstIP:     pkt.DstIP,
		SrcPort:   pkt.SrcPort,
		DstPort:   pkt.DstPort,
		Proto:     pkt.Protocol,
		IPVersion: pkt.IPVersion,
		VLAN:      pkt.VLAN,
	}, true
}

func (c *Cache) findInLine(lineIndex, nextLine uint32, hash uint64) (uint32, bool) {
	for i := lineIndex; i < nextLine; i++ {
		if !c.rows[i].empty() && c.rows[i].Hash == hash {
			return i, true
		}
	}
	return 0, false
}

func (c *Cache) findEmptyInLine(lineIndex, nextLine uint32) (uint32, bool) {
	for i := lineIndex; i < nextLine; i++ {
		if c.rows[i].empty() {
			return i, true
		}
	}
	return 0, false
}

// promote moves the hit at flowIndex to the front of its row (lineIndex),
// shifting everything in between down by one, exactly like the original's
// swap chain.
func (c *Cache) promote(flowIndex, lineIndex uint32) {
	for j := flowIndex; j > lineIndex; j-- {
		c.rows[j], c.rows[j-1] = c.rows[j-1], c.rows[j]
	}
}

// shiftDown moves the (now-exported, empty) slot at from down to newIndex,
// shifting the intervening entries up by one, mirroring the eviction swap
// chain in the original.
func (c *Cache) shiftDown(from, newIndex uint32) {
	for j := from; j > newIndex; j-- {
		c.rows[j], c.rows[j-1] = c.rows[j-1], c.rows[j]
	}
}

// exportSlot finalizes and pushes the record at index onto the export
// ring, then clears the slot.
func (c *Cache) exportSlot(index uint32, reason flowrecord.EndReason) {
	s := &c.rows[index]
	if s.empty() {
		return
	}
	s.Rec.EndReason = reason
	if c.reg != nil {
		c.reg.RunPreExport(s.Rec)
	}
	if err := c.ring.Push(s.Rec); err != nil {
		// Ring full: the record is dropped. This is surfaced via Stats as
		// a counted, non-fatal event.
		c.Stats.Dropped.Inc()
	} else {
		c.Stats.Exported.Inc()
	}
	c.Stats.Flows.Dec()
	*s = slot{}
}

// exportExpiredSweep walks lineNewIdx rows per call starting at
// timeoutIdx, wrapping across the whole cache, exporting any occupied
// slot past its inactive timeout. This is the periodic sweep that catches
// flows no active lookup will ever revisit.
func (c *Cache) exportExpiredSweep(now time.Time) {
	start := c.timeoutIdx
	end := start + c.lineNewIdx
	for i := start; i < end; i++ {
		idx := i & (c.size - 1)
		s := &c.rows[idx]
		if s.empty() {
			continue
		}
		if now.Sub(s.Rec.LastSeen) >= c.cfg.Inactive {
			c.exportSlot(idx, inactiveEndReason(s.Rec))
		}
	}
	c.timeoutIdx = end & (c.size - 1)
}

func (c *Cache) fillFragmentedPorts(pkt *packet.Descriptor) {
	if pkt.IPVersion != 4 || pkt.Protocol != 6 && pkt.Protocol != 17 {
		if !pkt.IsFragment() {
			return
		}
	}
	fk := fragcache.Key{SrcIP: pkt.SrcIP, DstIP: pkt.DstIP, Proto: pkt.Protocol, FragID: pkt.FragID, VLAN: pkt.VLAN}
	if pkt.FirstFragment() {
		c.frag.Learn(fk, pkt.SrcPort, pkt.DstPort, pkt.TCPFlags, pkt.Timestamp)
		return
	}
	if pkt.IsFragment() && pkt.SrcPort == 0 && pkt.DstPort == 0 {
		if e, ok := c.frag.Lookup(fk, pkt.Timestamp); ok {
			pkt.SrcPort, pkt.DstPort, pkt.TCPFlags = e.SrcPort, e.DstPort, e.TCPFlags
		}
	}
}

// Finish force-exports every occupied slot, used on shutdown, matching the
// original's finish(): every record leaves with EndForced.
func (c *Cache) Finish() {
	for i := uint32(0); i < c.size; i++ {
		if !c.rows[i].empty() {
			c.exportSlot(i, flowrecord.EndForced)
		}
	}
}
