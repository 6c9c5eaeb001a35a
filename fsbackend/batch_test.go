package fsbackend

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/embcache/resource"
)

func writeBatchFixture(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
	}
	return dir
}

func TestBatchUpload_CountsManifest(t *testing.T) {
	ctx := context.Background()
	src := writeBatchFixture(t, map[string]string{
		"key":        "keydata",
		"emb_vector": "vecdata",
	})
	fs := NewLocal(t.TempDir())

	n, err := fs.BatchUpload(ctx, src, "dlrm/t0")
	require.NoError(t, err)
	assert.Equal(t, 3, n) // two data files plus the manifest

	raw, err := fs.ReadAll(ctx, "dlrm/t0/MANIFEST")
	require.NoError(t, err)

	m, err := decodeManifest(raw)
	require.NoError(t, err)
	require.Len(t, m.Files, 2)
	assert.Equal(t, "emb_vector", m.Files[0].Name)
	assert.Equal(t, int64(7), m.Files[0].Size)
	assert.Equal(t, "key", m.Files[1].Name)
}

func TestBatchRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := writeBatchFixture(t, map[string]string{
		"key":        "keydata",
		"emb_vector": "vecdata",
		"meta":       "m",
	})
	fs := NewLocal(t.TempDir())

	up, err := fs.BatchUpload(ctx, src, "remote")
	require.NoError(t, err)
	assert.Equal(t, 4, up)

	dst := t.TempDir()
	down, err := fs.BatchFetch(ctx, "remote", dst)
	require.NoError(t, err)
	assert.Equal(t, up, down)

	for _, name := range []string{"key", "emb_vector", "meta"} {
		got, err := os.ReadFile(filepath.Join(dst, name))
		require.NoError(t, err)
		want, err := os.ReadFile(filepath.Join(src, name))
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestBatchRoundTrip_Compressed(t *testing.T) {
	ctx := context.Background()
	src := writeBatchFixture(t, map[string]string{
		"emb_vector": "0123456789 0123456789 0123456789",
	})
	fs := NewLocal(t.TempDir(), WithLocalCompression(true))

	up, err := fs.BatchUpload(ctx, src, "remote")
	require.NoError(t, err)
	assert.Equal(t, 2, up)

	// The stored file carries the compression suffix.
	_, err = fs.GetFileSize(ctx, "remote/emb_vector.zst")
	require.NoError(t, err)

	dst := t.TempDir()
	_, err = fs.BatchFetch(ctx, "remote", dst)
	require.NoError(t, err)

	got, err := os.ReadFile(filepath.Join(dst, "emb_vector"))
	require.NoError(t, err)
	assert.Equal(t, "0123456789 0123456789 0123456789", string(got))
}

func TestBatchUpload_Throttled(t *testing.T) {
	ctx := context.Background()
	src := writeBatchFixture(t, map[string]string{
		"a": "aaaa", "b": "bbbb", "c": "cccc", "d": "dddd",
	})

	ctrl := resource.NewController(resource.Config{MaxTransferWorkers: 1})
	fs := NewLocal(t.TempDir(), WithLocalController(ctrl))

	n, err := fs.BatchUpload(ctx, src, "remote")
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestBatchFetch_MissingManifest(t *testing.T) {
	fs := NewLocal(t.TempDir())

	_, err := fs.BatchFetch(context.Background(), "remote", t.TempDir())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBatchUpload_SkipsStaleManifest(t *testing.T) {
	ctx := context.Background()
	src := writeBatchFixture(t, map[string]string{
		"key":            "keydata",
		ManifestFileName: "stale",
	})
	fs := NewLocal(t.TempDir())

	n, err := fs.BatchUpload(ctx, src, "remote")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
