package lookup

import (
	"fmt"

	"github.com/hupe1980/embcache/device"
	"github.com/hupe1980/embcache/table"
)

// SessionKey identifies a lookup session: one model table served for one
// replica.
type SessionKey struct {
	Model     string
	TableID   int32
	ReplicaID int32
}

func (k SessionKey) String() string {
	return fmt.Sprintf("%s/%d/%d", k.Model, k.TableID, k.ReplicaID)
}

// Session executes batched lookups for one (model, table, replica) triple.
// It holds the table reference, a hot-row cache and a staging buffer reused
// across calls. A session is driven by a single replica goroutine; calls
// for the same session must be serialized by the caller.
type Session struct {
	key          SessionKey
	table        *table.EmbeddingTable
	bundle       *device.ResourceBundle
	defaultValue float32

	cache   *rowCache
	index   map[uint64]int // built lazily on first miss path
	staging []float32
}

func newSession(key SessionKey, tb *table.EmbeddingTable, bundle *device.ResourceBundle, defaultValue float32, cacheRows int) *Session {
	return &Session{
		key:          key,
		table:        tb,
		bundle:       bundle,
		defaultValue: defaultValue,
		cache:        newRowCache(cacheRows, tb.VecSize()),
	}
}

// Key returns the session identity.
func (s *Session) Key() SessionKey { return s.key }

// Table returns the table the session serves.
func (s *Session) Table() *table.EmbeddingTable { return s.table }

// CacheStats returns the session's hot-row cache hit/miss counts.
func (s *Session) CacheStats() (hits, misses uint64) {
	return s.cache.stats()
}

// buildIndex maps table keys to row indices. Mock tables use a dense key
// space and skip the map entirely.
func (s *Session) buildIndex() {
	keys := s.table.Keys()
	s.index = make(map[uint64]int, len(keys))
	for i, k := range keys {
		s.index[k] = i
	}
}

// rowFor resolves the physical row index for key, or -1 when the key is
// not in the table.
func (s *Session) rowFor(key uint64) int {
	if s.table.IsMock() {
		if key >= uint64(s.table.KeyCount()) {
			return -1
		}
		// With a reduced physical feature set, declared keys alias onto
		// the mapped rows.
		return int(key % uint64(s.table.VectorRows()))
	}
	if s.index == nil {
		s.buildIndex()
	}
	row, ok := s.index[key]
	if !ok {
		return -1
	}
	return row
}

// Forward gathers the embedding rows for keys into out, which must hold
// len(keys)*vecSize floats. Rows come from the hot-row cache when present
// and from the table otherwise; keys absent from the table yield rows
// filled with the configured default value. The final copy into out is
// issued on the replica's active stream.
func (s *Session) Forward(keys []uint64, out []float32) error {
	vecSize := s.table.VecSize()
	want := len(keys) * vecSize
	if len(out) != want {
		return fmt.Errorf("lookup: output buffer holds %d floats, need %d", len(out), want)
	}

	if cap(s.staging) < want {
		s.staging = make([]float32, want)
	}
	staging := s.staging[:want]

	vectors := s.table.Vectors()
	for i, key := range keys {
		dst := staging[i*vecSize : (i+1)*vecSize]
		if s.cache.get(key, dst) {
			continue
		}
		row := s.rowFor(key)
		if row < 0 {
			for j := range dst {
				dst[j] = s.defaultValue
			}
			continue
		}
		copy(dst, vectors[row*vecSize:(row+1)*vecSize])
		s.cache.put(key, dst)
	}

	// Issue the result copy on the replica's bound stream and fence so the
	// caller's buffer is complete on return.
	stream := s.bundle.Stream()
	if err := stream.Enqueue(func() { copy(out, staging) }); err != nil {
		return fmt.Errorf("lookup: issue copy on stream %q: %w", stream.Name(), err)
	}
	if err := stream.Synchronize(); err != nil {
		return fmt.Errorf("lookup: synchronize stream %q: %w", stream.Name(), err)
	}
	return nil
}
