package table

import (
	"context"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/hupe1980/embcache/config"
	"github.com/hupe1980/embcache/internal/shm"
	"github.com/hupe1980/embcache/resource"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTableFiles writes key/emb_vector fixtures and returns the table dir.
func writeTableFiles(t *testing.T, keys []uint64, vectors []float32) string {
	t.Helper()
	dir := t.TempDir()

	keyBytes := make([]byte, len(keys)*8)
	for i, k := range keys {
		binary.LittleEndian.PutUint64(keyBytes[i*8:], k)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, KeyFileName), keyBytes, 0o600))

	vecBytes := make([]byte, len(vectors)*4)
	for i, v := range vectors {
		binary.LittleEndian.PutUint32(vecBytes[i*4:], math.Float32bits(v))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, VecFileName), vecBytes, 0o600))

	return dir
}

func testVectors(keyCount, vecSize int) []float32 {
	out := make([]float32, keyCount*vecSize)
	for i := range out {
		out[i] = float32(i) * 0.5
	}
	return out
}

func TestKindForPath(t *testing.T) {
	assert.Equal(t, KindMock, KindForPath("mock_100_8"))
	assert.Equal(t, KindMock, KindForPath("/models/dlrm/mock_100_8"))
	assert.Equal(t, KindRawFile, KindForPath("/models/dlrm/table0"))
}

func TestParseMockPath(t *testing.T) {
	numKeys, vecSize, err := ParseMockPath("mock_100_8")
	require.NoError(t, err)
	assert.Equal(t, 100, numKeys)
	assert.Equal(t, 8, vecSize)

	for _, bad := range []string{"table0", "mock_", "mock_100", "mock_x_8", "mock_100_y", "mock_0_8", "mock_100_0", "mock_1_2_3"} {
		_, _, err := ParseMockPath(bad)
		assert.ErrorIs(t, err, ErrMockPath, bad)
	}
}

func TestRawFileLoader_RoundTrip(t *testing.T) {
	keys := []uint64{3, 1, 4, 15, 9}
	vectors := testVectors(len(keys), 4)
	dir := writeTableFiles(t, keys, vectors)

	tc := config.TableConfig{Name: "t0", Path: dir, KeyWidth: 8, EmbeddingVecSize: 4}

	tb, err := Load(context.Background(), tc, nil)
	require.NoError(t, err)
	defer tb.Delete()

	assert.Equal(t, len(keys), tb.KeyCount())
	assert.Equal(t, keys, tb.Keys())
	assert.Equal(t, vectors, tb.Vectors())
	assert.Equal(t, len(keys), tb.VectorRows())
	assert.False(t, tb.IsMock())
	assert.Equal(t, 4, tb.VecSize())

	// Re-loading yields byte-identical buffers.
	tb2, err := Load(context.Background(), tc, nil)
	require.NoError(t, err)
	defer tb2.Delete()
	assert.Equal(t, tb.Vectors(), tb2.Vectors())
}

func TestRawFileLoader_NarrowsKeys(t *testing.T) {
	keys := []uint64{1<<40 | 7, 42}
	vectors := testVectors(len(keys), 2)
	dir := writeTableFiles(t, keys, vectors)

	tc := config.TableConfig{Name: "t0", Path: dir, KeyWidth: 4, EmbeddingVecSize: 2}
	tb, err := Load(context.Background(), tc, nil)
	require.NoError(t, err)
	defer tb.Delete()

	assert.Equal(t, []uint64{7, 42}, tb.Keys())
	assert.Equal(t, config.KeyWidth32, tb.KeyWidth())
}

func TestRawFileLoader_MissingFiles(t *testing.T) {
	tc := config.TableConfig{Name: "t0", Path: t.TempDir(), EmbeddingVecSize: 4}
	_, err := Load(context.Background(), tc, nil)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRawFileLoader_SizeMismatch(t *testing.T) {
	keys := []uint64{1, 2, 3}
	vectors := testVectors(len(keys), 4)
	dir := writeTableFiles(t, keys, vectors)

	// Configured row width does not divide the vector file evenly.
	tc := config.TableConfig{Name: "t0", Path: dir, EmbeddingVecSize: 5}
	_, err := Load(context.Background(), tc, nil)
	assert.ErrorIs(t, err, ErrSizeMismatch)
}

func TestRawFileLoader_TracksHostMemory(t *testing.T) {
	keys := []uint64{1, 2}
	vectors := testVectors(len(keys), 2)
	dir := writeTableFiles(t, keys, vectors)

	ctrl := resource.NewController(resource.Config{})
	tc := config.TableConfig{Name: "t0", Path: dir, EmbeddingVecSize: 2}
	tb, err := Load(context.Background(), tc, ctrl)
	require.NoError(t, err)

	want := int64(len(keys))*8 + int64(len(vectors))*4
	assert.Equal(t, want, ctrl.MemoryUsage())

	require.NoError(t, tb.Delete())
	assert.Equal(t, int64(0), ctrl.MemoryUsage())
}

func TestMockLoader_SegmentSizing(t *testing.T) {
	t.Cleanup(func() { _ = shm.Unlink(SharedSegmentName) })

	tc := config.TableConfig{Name: "mock", Path: "mock_100_8", EmbeddingVecSize: 8}
	tb, err := Load(context.Background(), tc, nil)
	require.NoError(t, err)
	defer tb.Delete()

	assert.True(t, tb.IsMock())
	assert.Equal(t, 100, tb.KeyCount())
	assert.Len(t, tb.Keys(), 100)
	assert.Equal(t, uint64(99), tb.Keys()[99])
	assert.Equal(t, 100*8, len(tb.Vectors()))

	seg := tb.vectors.Segment()
	require.NotNil(t, seg)
	assert.Equal(t, shm.AlignSize(100*8*4), seg.MappedSize())
	assert.False(t, tb.vectors.Owned())
}

func TestMockLoader_EmptyFeatOverride(t *testing.T) {
	t.Cleanup(func() { _ = shm.Unlink(SharedSegmentName) })
	t.Setenv(EnvEmptyFeat, "4") // 2^4 = 16 physical keys

	tc := config.TableConfig{Name: "mock", Path: "mock_100_8", EmbeddingVecSize: 8}
	tb, err := Load(context.Background(), tc, nil)
	require.NoError(t, err)
	defer tb.Delete()

	// Declared key space is unchanged; physical rows shrink.
	assert.Equal(t, 100, tb.KeyCount())
	assert.Equal(t, 16, tb.VectorRows())

	seg := tb.vectors.Segment()
	require.NotNil(t, seg)
	assert.Equal(t, shm.AlignSize(16*8*4), seg.MappedSize())
}

func TestMockLoader_BadOverride(t *testing.T) {
	t.Setenv(EnvEmptyFeat, "not-a-number")

	tc := config.TableConfig{Name: "mock", Path: "mock_100_8", EmbeddingVecSize: 8}
	_, err := Load(context.Background(), tc, nil)
	assert.Error(t, err)
}

func TestMockLoader_WidthMismatch(t *testing.T) {
	tc := config.TableConfig{Name: "mock", Path: "mock_100_8", EmbeddingVecSize: 16}
	_, err := Load(context.Background(), tc, nil)
	assert.ErrorIs(t, err, ErrMockPath)
}

func TestMockLoader_SharedAcrossLoads(t *testing.T) {
	t.Cleanup(func() { _ = shm.Unlink(SharedSegmentName) })

	tc := config.TableConfig{Name: "mock", Path: "mock_10_4", EmbeddingVecSize: 4}

	a, err := Load(context.Background(), tc, nil)
	require.NoError(t, err)
	a.Vectors()[0] = 1.5

	b, err := Load(context.Background(), tc, nil)
	require.NoError(t, err)
	defer b.Delete()

	// Both tables view the same physical pages.
	assert.Equal(t, float32(1.5), b.Vectors()[0])

	// Deleting one mapping leaves the segment (and the other view) intact.
	require.NoError(t, a.Delete())
	assert.Equal(t, float32(1.5), b.Vectors()[0])
}
