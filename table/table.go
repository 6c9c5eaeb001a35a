// Package table materializes embedding tables for lookup serving, either
// from flat key/vector files or as synthetic shared-memory tables used for
// benchmarking without real data.
package table

import (
	"unsafe"

	"github.com/hupe1980/embcache/internal/shm"
	"github.com/hupe1980/embcache/resource"
)

// Buffer is an ownership-tagged float32 buffer. Owned buffers are host
// allocations freed on Release; segment-backed buffers view a shared-memory
// mapping the table does not own exclusively, and Release only drops the
// local mapping.
type Buffer struct {
	data []float32
	seg  *shm.Segment
}

// OwnedBuffer allocates a host buffer of n floats.
func OwnedBuffer(n int) Buffer {
	return Buffer{data: make([]float32, n)}
}

// SegmentBuffer views the first n floats of a shared-memory segment.
func SegmentBuffer(seg *shm.Segment, n int) Buffer {
	b := seg.Bytes()
	data := unsafe.Slice((*float32)(unsafe.Pointer(&b[0])), n)
	return Buffer{data: data, seg: seg}
}

// Floats returns the buffer contents. The view is invalid after Release.
func (b *Buffer) Floats() []float32 { return b.data }

// Len returns the number of floats in the buffer.
func (b *Buffer) Len() int { return len(b.data) }

// Owned reports whether the buffer is an exclusively owned host allocation.
func (b *Buffer) Owned() bool { return b.seg == nil }

// Segment returns the backing shared-memory segment, or nil for owned
// buffers.
func (b *Buffer) Segment() *shm.Segment { return b.seg }

// Release frees owned storage or drops the shared-memory mapping. The
// shared segment itself is never destroyed here; other processes holding
// the same name keep working.
func (b *Buffer) Release() error {
	b.data = nil
	if b.seg != nil {
		seg := b.seg
		b.seg = nil
		return seg.Close()
	}
	return nil
}

// EmbeddingTable is the in-memory form of one model table: keys, row-major
// vectors of a fixed row width, and optional per-key metadata.
type EmbeddingTable struct {
	name     string
	keyCount int
	keys     []uint64
	keyWidth int
	vecSize  int
	vectors  Buffer
	meta     []float32
	mock     bool

	ctrl          *resource.Controller
	reservedBytes int64
}

// Name returns the table name.
func (t *EmbeddingTable) Name() string { return t.name }

// KeyCount returns the declared number of unique keys. For mock tables this
// is the declared key space, which may exceed the physically mapped rows.
func (t *EmbeddingTable) KeyCount() int { return t.keyCount }

// Keys returns the key sequence, normalized to 64-bit on load.
// The view is invalid after Delete.
func (t *EmbeddingTable) Keys() []uint64 { return t.keys }

// KeyWidth returns the table's native key width in bytes.
func (t *EmbeddingTable) KeyWidth() int { return t.keyWidth }

// VecSize returns the row width in floats.
func (t *EmbeddingTable) VecSize() int { return t.vecSize }

// Vectors returns the row-major vector storage.
// The view is invalid after Delete.
func (t *EmbeddingTable) Vectors() []float32 { return t.vectors.Floats() }

// VectorRows returns the number of physically stored rows. For mock tables
// with a feature-set override this may be smaller than KeyCount.
func (t *EmbeddingTable) VectorRows() int {
	if t.vecSize == 0 {
		return 0
	}
	return t.vectors.Len() / t.vecSize
}

// Meta returns the optional per-key metadata buffer, or nil.
// The view is invalid after Delete.
func (t *EmbeddingTable) Meta() []float32 { return t.meta }

// IsMock reports whether the table is backed by a shared-memory segment.
func (t *EmbeddingTable) IsMock() bool { return t.mock }

// Delete releases owned host buffers and drops any shared-memory mapping.
// Views returned by the accessors must not be retained past this call.
func (t *EmbeddingTable) Delete() error {
	t.keys = nil
	t.meta = nil
	err := t.vectors.Release()
	if t.reservedBytes > 0 {
		t.ctrl.ReleaseMemory(t.reservedBytes)
		t.reservedBytes = 0
	}
	return err
}
