// Package fragcache implements a bounded, time-limited table of
// in-progress IPv4 fragment sequences,
// keyed by (src, dst, proto, frag id), used to recover the L4 ports that
// only the first fragment carries so later fragments can still be matched
// to the right flow.
//
// Grounded on cacheOptParser.cpp's frag-enable/frag-size/frag-timeout
// options (default size 10007, default timeout 3s); the original uses a
// fixed-bucket unordered_map with the same defaults, so a plain Go map with
// an explicit sweep matches it rather than falling short of it.
package fragcache

import (
	"sync"
	"time"
)

const (
	DefaultEnabled = true
	DefaultSize    = 10007
	DefaultTimeout = 3 * time.Second
)

// Key identifies one fragment sequence. VLAN is included because two
// sequences with the same addresses/id in different VLANs are unrelated.
type Key struct {
	SrcIP  [16]byte
	DstIP  [16]byte
	Proto  uint8
	FragID uint32
	VLAN   uint16
}

// Entry caches the L4 ports learned from a sequence's first fragment.
type Entry struct {
	SrcPort  uint16
	DstPort  uint16
	TCPFlags uint8
	learnedAt time.Time
}

// Cache is a bounded table of in-flight fragment sequences. Entries expire
// Timeout after they were last learned; Size bounds the number of live entries,
// evicting the oldest when full (the original's hash table has a fixed
// bucket count and lets chains grow, but a hard cap here is the safer
// choice for a long-running exporter and is documented in DESIGN.md).
type Cache struct {
	mu      sync.Mutex
	size    int
	timeout time.Duration
	entries map[Key]*Entry
	order   []Key // insertion order, for oldest-eviction when full
}

func New(size int, timeout time.Duration) *Cache {
	if size <= 0 {
		size = DefaultSize
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Cache{
		size:    size,
		timeout: timeout,
		entries: make(map[Key]*Entry, size),
	}
}

// Learn records the L4 ports observed on a sequence's first fragment.
func (c *Cache) Learn(k Key, srcPort, dstPort uint16, tcpFlags uint8, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[k]; !exists {
		if len(c.entries) >= c.size {
			c.evictOldestLocked()
		}
		c.order = append(c.order, k)
	}
	c.entries[k] = &Entry{SrcPort: srcPort, DstPort: dstPort, TCPFlags: tcpFlags, learnedAt: now}
}

// Lookup retrieves the cached ports for a later fragment in the sequence.
// It returns ok=false if the sequence is unknown or has expired.
func (c *Cache) Lookup(k Key, now time.Time) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, exists := c.entries[k]
	if !exists {
		return Entry{}, false
	}
	if now.Sub(e.learnedAt) > c.timeout {
		delete(c.entries, k)
		return Entry{}, false
	}
	return *e, true
}

// Sweep removes every entry older than Timeout and returns how many it
// removed. Nothing in the pipeline calls it; without it, expired entries
// leave the table only when Lookup finds them or eviction reaches them.
func (c *Cache) Sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	kept := c.order[:0]
	for _, k := range c.order {
		e, exists := c.entries[k]
		if !exists {
			continue
		}
		if now.Sub(e.learnedAt) > c.timeout {
			delete(c.entries, k)
			removed++
			continue
		}
		kept = append(kept, k)
	}
	c.order = kept
	return removed
}

func (c *Cache) evictOldestLocked() {
	// Skip keys that Lookup already deleted on expiry, so a live entry is
	// always removed and the table stays within size.
	for len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		if _, exists := c.entries[oldest]; exists {
			delete(c.entries, oldest)
			return
		}
	}
}

// Len returns the current number of live sequences (best-effort, includes
// entries that may have just expired but not yet been swept).
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
