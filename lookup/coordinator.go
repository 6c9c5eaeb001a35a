package lookup

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
)

// CoordinatorConfig sizes the coordinator for one replica sync group.
type CoordinatorConfig struct {
	NumReplicas        int
	Epochs             int
	IterationsPerEpoch int

	// Out receives the reports. Defaults to os.Stdout.
	Out io.Writer
	// Logger receives structured progress output. Defaults to slog.Default().
	Logger *slog.Logger
}

// CacheCoordinator tracks cross-replica cache effectiveness: per-replica
// step counters, the sets of recently accessed keys, hit/miss totals and
// per-step cache-copy timing. One instance is shared by all replicas; the
// per-replica slots are written only by their owning replica, so the only
// cross-replica synchronization is on the access sets read at report time.
type CacheCoordinator struct {
	cfg CoordinatorConfig
	out io.Writer
	log *slog.Logger

	steps []stepSlot

	accessed []replicaAccess

	timingMu sync.Mutex
	timings  [][]time.Duration // [replica][step]

	hits   []stepSlot
	misses []stepSlot
}

// stepSlot is a per-replica counter padded to its own cache line.
type stepSlot struct {
	v uint64
	_ [56]byte
}

type replicaAccess struct {
	mu   sync.Mutex
	keys *roaring64.Bitmap
}

// NewCacheCoordinator creates a coordinator for the given group.
func NewCacheCoordinator(cfg CoordinatorConfig) *CacheCoordinator {
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	c := &CacheCoordinator{
		cfg:      cfg,
		out:      cfg.Out,
		log:      cfg.Logger,
		steps:    make([]stepSlot, cfg.NumReplicas),
		accessed: make([]replicaAccess, cfg.NumReplicas),
		timings:  make([][]time.Duration, cfg.NumReplicas),
		hits:     make([]stepSlot, cfg.NumReplicas),
		misses:   make([]stepSlot, cfg.NumReplicas),
	}
	for i := range c.accessed {
		c.accessed[i].keys = roaring64.New()
	}
	return c
}

// NumReplicas returns the size of the sync group.
func (c *CacheCoordinator) NumReplicas() int { return c.cfg.NumReplicas }

// RecordStep increments replica's step counter and returns the zero-based
// step index of the call. Each replica writes only its own slot.
func (c *CacheCoordinator) RecordStep(replica int32) uint64 {
	step := c.steps[replica].v
	c.steps[replica].v++
	return step
}

// Steps returns replica's current step count.
func (c *CacheCoordinator) Steps(replica int32) uint64 {
	return c.steps[replica].v
}

// RecordAccess adds the looked-up keys to replica's recently-accessed set.
func (c *CacheCoordinator) RecordAccess(replica int32, keys []uint64) {
	a := &c.accessed[replica]
	a.mu.Lock()
	a.keys.AddMany(keys)
	a.mu.Unlock()
}

// RecordLookup accumulates cache hit/miss counts for replica.
func (c *CacheCoordinator) RecordLookup(replica int32, hits, misses uint64) {
	c.hits[replica].v += hits
	c.misses[replica].v += misses
}

// RecordCacheCopyTime records the elapsed lookup time of one step in the
// cache-copy bucket.
func (c *CacheCoordinator) RecordCacheCopyTime(replica int32, step uint64, d time.Duration) {
	c.timingMu.Lock()
	defer c.timingMu.Unlock()
	t := c.timings[replica]
	for uint64(len(t)) <= step {
		t = append(t, 0)
	}
	t[step] = d
	c.timings[replica] = t
}

// ReportCacheIntersect reports how much the replicas' recently-accessed key
// sets overlap. High overlap means a cache shared across replicas serves
// repeated keys once; low overlap favors private per-replica caches.
func (c *CacheCoordinator) ReportCacheIntersect() {
	n := c.cfg.NumReplicas
	sets := make([]*roaring64.Bitmap, n)
	for i := range sets {
		a := &c.accessed[i]
		a.mu.Lock()
		sets[i] = a.keys.Clone()
		a.mu.Unlock()
	}

	for i := 0; i < n; i++ {
		hits, misses := c.hits[i].v, c.misses[i].v
		total := hits + misses
		ratio := 0.0
		if total > 0 {
			ratio = float64(hits) / float64(total)
		}
		fmt.Fprintf(c.out, "replica %d: steps=%d accessed=%d hit_ratio=%.4f\n",
			i, c.steps[i].v, sets[i].GetCardinality(), ratio)
	}

	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			inter := roaring64.And(sets[i], sets[j]).GetCardinality()
			union := roaring64.Or(sets[i], sets[j]).GetCardinality()
			ratio := 0.0
			if union > 0 {
				ratio = float64(inter) / float64(union)
			}
			fmt.Fprintf(c.out, "cache intersect %d/%d: %.4f (%d of %d keys)\n",
				i, j, ratio, inter, union)
		}
	}
}

// ReportAvg reports the mean cache-copy time across replicas for the given
// epoch and step, then flushes the output. Only the designated reporting
// replica (worker 0) may call this; the surrounding framework enforces the
// designation.
func (c *CacheCoordinator) ReportAvg(epoch, step int) {
	idx := uint64(epoch*c.cfg.IterationsPerEpoch + step)

	c.timingMu.Lock()
	var sum time.Duration
	var count int
	for r := range c.timings {
		if idx < uint64(len(c.timings[r])) {
			sum += c.timings[r][idx]
			count++
		}
	}
	c.timingMu.Unlock()

	if count == 0 {
		fmt.Fprintf(c.out, "step average: epoch=%d step=%d no samples\n", epoch, step)
		return
	}
	fmt.Fprintf(c.out, "step average: epoch=%d step=%d cache_copy=%v\n",
		epoch, step, sum/time.Duration(count))
	if f, ok := c.out.(*os.File); ok {
		_ = f.Sync()
	}
}

// Intersection returns the size of the intersection of the accessed-key
// sets of two replicas.
func (c *CacheCoordinator) Intersection(a, b int32) uint64 {
	ra, rb := &c.accessed[a], &c.accessed[b]
	ra.mu.Lock()
	sa := ra.keys.Clone()
	ra.mu.Unlock()
	rb.mu.Lock()
	sb := rb.keys.Clone()
	rb.mu.Unlock()
	return roaring64.And(sa, sb).GetCardinality()
}
