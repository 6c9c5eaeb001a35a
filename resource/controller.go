// Package resource tracks host-side resources shared by table staging and
// batch file transfers: a host memory budget for loaded embedding tables,
// transfer worker slots, and transfer IO throughput.
package resource

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Config holds resource limits.
type Config struct {
	// HostMemoryLimitBytes is the hard limit for host-staged table memory.
	// If 0, no hard limit is enforced (only tracking).
	HostMemoryLimitBytes int64

	// MaxTransferWorkers is the maximum number of concurrent batch-transfer
	// workers. If 0, defaults to 4.
	MaxTransferWorkers int64

	// TransferLimitBytesPerSec is the maximum IO throughput for batch
	// transfers. If 0, unlimited.
	TransferLimitBytesPerSec int64
}

// Controller manages host resources shared across replicas.
type Controller struct {
	cfg Config

	// Memory
	memSem  *semaphore.Weighted // nil if unlimited
	memUsed atomic.Int64

	// Transfers
	xferSem *semaphore.Weighted

	// IO
	ioLimiter *rate.Limiter
}

// NewController creates a new resource controller.
func NewController(cfg Config) *Controller {
	if cfg.MaxTransferWorkers <= 0 {
		cfg.MaxTransferWorkers = 4
	}

	c := &Controller{
		cfg:     cfg,
		xferSem: semaphore.NewWeighted(cfg.MaxTransferWorkers),
	}

	if cfg.HostMemoryLimitBytes > 0 {
		c.memSem = semaphore.NewWeighted(cfg.HostMemoryLimitBytes)
	}

	if cfg.TransferLimitBytesPerSec > 0 {
		c.ioLimiter = rate.NewLimiter(rate.Limit(cfg.TransferLimitBytesPerSec), int(cfg.TransferLimitBytesPerSec))
	}

	return c
}

// AcquireMemory reserves host memory for a staged table buffer.
// If a hard limit is configured and usage would exceed it, this blocks
// until memory is available or ctx is canceled.
func (c *Controller) AcquireMemory(ctx context.Context, bytes int64) error {
	if c == nil || bytes <= 0 {
		return nil
	}

	if c.memSem != nil {
		if err := c.memSem.Acquire(ctx, bytes); err != nil {
			return err
		}
	}

	c.memUsed.Add(bytes)
	return nil
}

// ReleaseMemory releases reserved host memory.
func (c *Controller) ReleaseMemory(bytes int64) {
	if c == nil || bytes <= 0 {
		return
	}

	if c.memSem != nil {
		c.memSem.Release(bytes)
	}
	c.memUsed.Add(-bytes)
}

// MemoryUsage returns the current tracked host memory usage in bytes.
func (c *Controller) MemoryUsage() int64 {
	if c == nil {
		return 0
	}
	return c.memUsed.Load()
}

// AcquireTransfer reserves a batch-transfer worker slot.
// Blocks if all slots are busy.
func (c *Controller) AcquireTransfer(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.xferSem.Acquire(ctx, 1)
}

// ReleaseTransfer releases a batch-transfer worker slot.
func (c *Controller) ReleaseTransfer() {
	if c == nil {
		return
	}
	c.xferSem.Release(1)
}

// AcquireIO waits until the transfer IO limit allows the specified number
// of bytes.
func (c *Controller) AcquireIO(ctx context.Context, bytes int) error {
	if c == nil || c.ioLimiter == nil {
		return nil
	}
	if bytes <= 0 {
		return nil
	}
	burst := c.ioLimiter.Burst()
	// Large files are admitted in burst-sized chunks.
	for bytes > 0 {
		n := bytes
		if n > burst {
			n = burst
		}
		if err := c.ioLimiter.WaitN(ctx, n); err != nil {
			return err
		}
		bytes -= n
	}
	return nil
}
