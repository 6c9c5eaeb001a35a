//go:build !windows

package shm

import (
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSegmentName(t *testing.T) string {
	t.Helper()
	name := fmt.Sprintf("embcache_shm_test_%d", os.Getpid())
	t.Cleanup(func() { _ = Unlink(name) })
	return name
}

func TestAlignSize(t *testing.T) {
	assert.Equal(t, int64(SegmentAlign), AlignSize(1))
	assert.Equal(t, int64(SegmentAlign), AlignSize(SegmentAlign))
	assert.Equal(t, int64(2*SegmentAlign), AlignSize(SegmentAlign+1))
	assert.Equal(t, int64(SegmentAlign), AlignSize(100*8*4))
}

func TestSegment_OpenWriteReopen(t *testing.T) {
	name := testSegmentName(t)

	s, err := OpenOrCreate(name, 1024)
	require.NoError(t, err)

	assert.Equal(t, int64(1024), s.Size())
	assert.Equal(t, int64(SegmentAlign), s.MappedSize())

	copy(s.Bytes(), []byte("hello, segment"))
	require.NoError(t, s.Close())

	// Reopen under the same name: contents survive the close.
	s2, err := OpenOrCreate(name, 1024)
	require.NoError(t, err)
	defer s2.Close()

	assert.Equal(t, []byte("hello, segment"), s2.Bytes()[:14])
}

func TestSegment_ReuseLargerRegion(t *testing.T) {
	name := testSegmentName(t)

	big, err := OpenOrCreate(name, 3*SegmentAlign)
	require.NoError(t, err)
	assert.Equal(t, int64(3*SegmentAlign), big.MappedSize())
	require.NoError(t, big.Close())

	// A smaller request maps the whole existing region, never shrinks it.
	small, err := OpenOrCreate(name, 16)
	require.NoError(t, err)
	defer small.Close()

	assert.Equal(t, int64(16), small.Size())
	assert.Equal(t, int64(3*SegmentAlign), small.MappedSize())
}

func TestSegment_CloseIdempotent(t *testing.T) {
	name := testSegmentName(t)

	s, err := OpenOrCreate(name, 64)
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Nil(t, s.Bytes())
}

func TestSegment_InvalidSize(t *testing.T) {
	_, err := OpenOrCreate("embcache_shm_invalid", 0)
	assert.Error(t, err)
}
