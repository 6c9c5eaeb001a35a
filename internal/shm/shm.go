// Package shm provides named, process-shared memory segments.
//
// Segments back synthetic embedding tables: several loaders (possibly in
// different processes) may request the same name and observe the same
// physical pages. Closing a segment only drops the local mapping; the
// segment itself stays alive for other users until explicitly unlinked.
package shm

import (
	"fmt"
	"sync/atomic"
)

// SegmentAlign is the allocation granularity for segments.
// Sizes are rounded up to the next multiple (huge-page friendly).
const SegmentAlign = 2 << 20 // 2 MiB

// AlignSize returns the smallest multiple of SegmentAlign >= size.
func AlignSize(size int64) int64 {
	return (size + SegmentAlign - 1) &^ (SegmentAlign - 1)
}

// Segment is a read/write mapping of a named shared-memory region.
// It does not own the region exclusively; Close drops the mapping only.
type Segment struct {
	name   string
	data   []byte
	size   int64 // requested logical size
	closed atomic.Bool
}

// OpenOrCreate opens the named segment, creating it if absent, and maps it
// read/write. The physical region is grown to AlignSize(size) if it is
// currently smaller; an existing larger region is left as is and the whole
// region is mapped.
func OpenOrCreate(name string, size int64) (*Segment, error) {
	if size <= 0 {
		return nil, fmt.Errorf("shm: invalid segment size %d", size)
	}

	data, err := osOpenOrCreate(name, AlignSize(size))
	if err != nil {
		return nil, err
	}

	return &Segment{
		name: name,
		data: data,
		size: size,
	}, nil
}

// Name returns the segment name.
func (s *Segment) Name() string { return s.name }

// Bytes returns the mapped byte slice.
// The slice is valid only until Close() is called.
func (s *Segment) Bytes() []byte {
	if s.closed.Load() {
		return nil
	}
	return s.data
}

// Size returns the logical size requested at open time.
func (s *Segment) Size() int64 { return s.size }

// MappedSize returns the size of the mapping in bytes.
func (s *Segment) MappedSize() int64 { return int64(len(s.data)) }

// Close unmaps the segment. It is idempotent and never destroys the
// underlying region; other processes holding the same name keep working.
func (s *Segment) Close() error {
	if s.closed.Swap(true) {
		return nil // Already closed
	}
	if s.data == nil {
		return nil
	}
	data := s.data
	s.data = nil
	return osUnmap(data)
}

// Unlink removes the named segment from the system. Mappings held by live
// processes stay valid until they are closed.
func Unlink(name string) error {
	return osUnlink(name)
}
