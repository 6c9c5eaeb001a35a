package resource

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestController_MemoryTracking(t *testing.T) {
	c := NewController(Config{})

	require.NoError(t, c.AcquireMemory(context.Background(), 1024))
	assert.Equal(t, int64(1024), c.MemoryUsage())

	c.ReleaseMemory(1024)
	assert.Equal(t, int64(0), c.MemoryUsage())
}

func TestController_MemoryLimitBlocks(t *testing.T) {
	c := NewController(Config{HostMemoryLimitBytes: 100})

	require.NoError(t, c.AcquireMemory(context.Background(), 100))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := c.AcquireMemory(ctx, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	c.ReleaseMemory(100)
	require.NoError(t, c.AcquireMemory(context.Background(), 1))
	c.ReleaseMemory(1)
}

func TestController_TransferSlots(t *testing.T) {
	c := NewController(Config{MaxTransferWorkers: 1})

	require.NoError(t, c.AcquireTransfer(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, c.AcquireTransfer(ctx))

	c.ReleaseTransfer()
	require.NoError(t, c.AcquireTransfer(context.Background()))
	c.ReleaseTransfer()
}

func TestController_NilSafe(t *testing.T) {
	var c *Controller

	require.NoError(t, c.AcquireMemory(context.Background(), 10))
	c.ReleaseMemory(10)
	require.NoError(t, c.AcquireTransfer(context.Background()))
	c.ReleaseTransfer()
	require.NoError(t, c.AcquireIO(context.Background(), 10))
	assert.Equal(t, int64(0), c.MemoryUsage())
}

func TestController_IOChunking(t *testing.T) {
	c := NewController(Config{TransferLimitBytesPerSec: 1 << 30})

	// Requests larger than the burst are split, not rejected.
	require.NoError(t, c.AcquireIO(context.Background(), (1<<30)+512))
}
