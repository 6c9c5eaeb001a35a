package lookup

import "sync/atomic"

// rowCache is a direct-mapped hot-row cache for one session. A slot holds
// one row; colliding keys replace each other. The cache is touched only by
// the session's owning goroutine, so slots are unlocked; the hit/miss
// counters are atomic because the coordinator reads them concurrently.
type rowCache struct {
	vecSize  int
	mask     uint64
	keys     []uint64
	occupied []bool
	rows     []float32

	hits   atomic.Uint64
	misses atomic.Uint64
}

// newRowCache creates a cache with at least capacity slots, rounded up to
// a power of two.
func newRowCache(capacity, vecSize int) *rowCache {
	if capacity < 1 {
		capacity = 1
	}
	slots := 1
	for slots < capacity {
		slots <<= 1
	}
	return &rowCache{
		vecSize:  vecSize,
		mask:     uint64(slots - 1),
		keys:     make([]uint64, slots),
		occupied: make([]bool, slots),
		rows:     make([]float32, slots*vecSize),
	}
}

func (c *rowCache) slot(key uint64) int {
	// Fibonacci hashing spreads dense synthetic key ranges.
	return int(((key * 0x9e3779b97f4a7c15) >> 17) & c.mask)
}

// get copies the cached row for key into dst and reports whether it was
// present.
func (c *rowCache) get(key uint64, dst []float32) bool {
	i := c.slot(key)
	if !c.occupied[i] || c.keys[i] != key {
		c.misses.Add(1)
		return false
	}
	copy(dst, c.rows[i*c.vecSize:(i+1)*c.vecSize])
	c.hits.Add(1)
	return true
}

// put stores a row for key, replacing any colliding entry.
func (c *rowCache) put(key uint64, row []float32) {
	i := c.slot(key)
	c.keys[i] = key
	c.occupied[i] = true
	copy(c.rows[i*c.vecSize:(i+1)*c.vecSize], row)
}

// stats returns the hit and miss counts so far.
func (c *rowCache) stats() (hits, misses uint64) {
	return c.hits.Load(), c.misses.Load()
}
