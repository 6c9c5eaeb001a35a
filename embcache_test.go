package embcache

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeServingFixture writes a raw table (row i holds float32(keys[i]))
// and a serving config pointing at it, returning the config path.
func writeServingFixture(t *testing.T, keys []uint64, vecSize, numReplicas int) string {
	t.Helper()
	dir := t.TempDir()

	keyBytes := make([]byte, len(keys)*8)
	for i, k := range keys {
		binary.LittleEndian.PutUint64(keyBytes[i*8:], k)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "key"), keyBytes, 0o600))

	vecBytes := make([]byte, len(keys)*vecSize*4)
	for i, k := range keys {
		for j := 0; j < vecSize; j++ {
			binary.LittleEndian.PutUint32(vecBytes[(i*vecSize+j)*4:], math.Float32bits(float32(k)))
		}
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "emb_vector"), vecBytes, 0o600))

	cfgJSON := fmt.Sprintf(`{
		"models": [{
			"model": "dlrm",
			"tables": [{"name": "t0", "path": %q, "key_width": 8, "embedding_vec_size": %d}],
			"max_batch_size": 64,
			"default_value": -1,
			"deployed_devices": [0]
		}],
		"num_replicas": %d,
		"epochs": 1,
		"iterations_per_epoch": 10
	}`, dir, vecSize, numReplicas)

	cfgPath := filepath.Join(dir, "serving.json")
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfgJSON), 0o600))
	return cfgPath
}

func TestServing_InitForwardShutdown(t *testing.T) {
	ctx := context.Background()
	cfgPath := writeServingFixture(t, []uint64{10, 20, 30}, 2, 1)

	var report bytes.Buffer
	sv := New(WithReportWriter(&report))
	require.NoError(t, sv.Init(ctx, 0, cfgPath, 64, 1))
	assert.True(t, sv.Initialized())

	keys := []uint64{20, 10}
	out := make([]float32, len(keys)*2)
	require.NoError(t, sv.Forward(ctx, "dlrm", 0, 0, keys, out))
	assert.Equal(t, []float32{20, 20, 10, 10}, out)

	status, err := sv.Shutdown(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, status)
	assert.Contains(t, report.String(), "replica 0:")
}

func TestServing_InitIdempotent(t *testing.T) {
	ctx := context.Background()
	cfgPath := writeServingFixture(t, []uint64{1}, 2, 1)

	sv := New()
	require.NoError(t, sv.Init(ctx, 0, cfgPath, 64, 1))

	// A second call with different (even invalid) arguments is a no-op.
	require.NoError(t, sv.Init(ctx, 3, "does-not-exist.json", 0, 0))
	assert.Equal(t, int32(0), sv.GlobalReplicaID())
}

func TestServing_InitBadConfig(t *testing.T) {
	sv := New()
	err := sv.Init(context.Background(), 0, "does-not-exist.json", 64, 1)

	var ce *ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "does-not-exist.json", ce.Path)

	// The failure sticks for later calls.
	assert.Error(t, sv.Init(context.Background(), 0, "does-not-exist.json", 64, 1))
	assert.False(t, sv.Initialized())
}

func TestServing_ForwardBeforeInit(t *testing.T) {
	sv := New()
	err := sv.Forward(context.Background(), "dlrm", 0, 0, []uint64{1}, make([]float32, 2))
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestServing_ForwardUnknownModel(t *testing.T) {
	ctx := context.Background()
	cfgPath := writeServingFixture(t, []uint64{1}, 2, 1)

	sv := New(WithReportWriter(&bytes.Buffer{}))
	require.NoError(t, sv.Init(ctx, 0, cfgPath, 64, 1))
	t.Cleanup(func() { _, _ = sv.Shutdown(ctx) })

	err := sv.Forward(ctx, "unknown", 0, 0, []uint64{1}, make([]float32, 2))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestServing_ShutdownDesignatedReporter(t *testing.T) {
	ctx := context.Background()
	cfgPath := writeServingFixture(t, []uint64{1, 2}, 2, 1)
	t.Setenv(EnvWorkerID, "0")

	var report bytes.Buffer
	sv := New(WithReportWriter(&report))
	require.NoError(t, sv.Init(ctx, 0, cfgPath, 64, 1))

	out := make([]float32, 2)
	require.NoError(t, sv.Forward(ctx, "dlrm", 0, 0, []uint64{1}, out))

	status, err := sv.Shutdown(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, status)

	// Worker 0 additionally reports the final step average.
	assert.Contains(t, report.String(), "step average:")
}

func TestServing_ShutdownNonReporter(t *testing.T) {
	ctx := context.Background()
	cfgPath := writeServingFixture(t, []uint64{1, 2}, 2, 2)
	t.Setenv(EnvWorkerID, "1")

	var report bytes.Buffer
	sv := New(WithReportWriter(&report))
	require.NoError(t, sv.Init(ctx, 1, cfgPath, 128, 2))

	// Worker 1 has no table shard placeholder, so forwards still work, but
	// the step average stays with worker 0.
	out := make([]float32, 2)
	require.NoError(t, sv.Forward(ctx, "dlrm", 0, 0, []uint64{1}, out))

	_, err := sv.Shutdown(ctx)
	require.NoError(t, err)
	assert.NotContains(t, report.String(), "step average:")
	assert.Contains(t, report.String(), "cache intersect")
}

func TestServing_ShutdownIdempotent(t *testing.T) {
	ctx := context.Background()
	cfgPath := writeServingFixture(t, []uint64{1}, 2, 1)

	var report bytes.Buffer
	sv := New(WithReportWriter(&report))
	require.NoError(t, sv.Init(ctx, 0, cfgPath, 64, 1))
	require.NoError(t, sv.Forward(ctx, "dlrm", 0, 0, []uint64{1}, make([]float32, 2)))

	_, err := sv.Shutdown(ctx)
	require.NoError(t, err)
	first := report.String()

	status, err := sv.Shutdown(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, status)
	assert.Equal(t, first, report.String()) // no duplicate reports
}

func TestServing_ShutdownBeforeInit(t *testing.T) {
	sv := New()
	status, err := sv.Shutdown(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusOK, status)
}

func TestServing_Metrics(t *testing.T) {
	ctx := context.Background()
	cfgPath := writeServingFixture(t, []uint64{1, 2}, 2, 1)

	metrics := &BasicMetricsCollector{}
	sv := New(WithMetricsCollector(metrics), WithReportWriter(&bytes.Buffer{}))
	require.NoError(t, sv.Init(ctx, 0, cfgPath, 64, 1))

	out := make([]float32, 2)
	require.NoError(t, sv.Forward(ctx, "dlrm", 0, 0, []uint64{1}, out))
	require.Error(t, sv.Forward(ctx, "unknown", 0, 0, []uint64{1}, out))

	_, err := sv.Shutdown(ctx)
	require.NoError(t, err)

	stats := metrics.GetStats()
	assert.Equal(t, int64(1), stats.InitCount)
	assert.Equal(t, int64(2), stats.ForwardCount)
	assert.Equal(t, int64(1), stats.ForwardErrors)
	assert.Equal(t, int64(2), stats.ForwardKeys)
	assert.Equal(t, int64(1), stats.ShutdownCount)
}

func TestTranslateError_SizeMismatch(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	// Key file declares two keys, vector file holds one row.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "key"), make([]byte, 16), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "emb_vector"), make([]byte, 8), 0o600))

	cfgJSON := fmt.Sprintf(`{
		"models": [{
			"model": "dlrm",
			"tables": [{"name": "t0", "path": %q, "key_width": 8, "embedding_vec_size": 2}],
			"max_batch_size": 4,
			"deployed_devices": [0]
		}],
		"num_replicas": 1
	}`, dir)
	cfgPath := filepath.Join(dir, "serving.json")
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfgJSON), 0o600))

	sv := New(WithReportWriter(&bytes.Buffer{}))
	require.NoError(t, sv.Init(ctx, 0, cfgPath, 4, 1))

	err := sv.Forward(ctx, "dlrm", 0, 0, []uint64{0}, make([]float32, 2))
	var ioe *IOError
	assert.ErrorAs(t, err, &ioe)
}
