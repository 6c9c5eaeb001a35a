package device

import (
	"context"
	"sync"
)

// Comm is a collective-communication channel across the replicas of a sync
// group. Collective calls are blocking barriers: every participant must
// issue the matching call or the group stalls. No timeout or deadlock
// detection is performed here; context cancellation is the only way out.
type Comm interface {
	// Rank returns the caller's position within the group.
	Rank() int
	// Size returns the number of participants.
	Size() int
	// Barrier blocks until every participant has entered the barrier.
	Barrier(ctx context.Context) error
	// AllGatherUint64 contributes v and returns every participant's value
	// ordered by rank.
	AllGatherUint64(ctx context.Context, v uint64) ([]uint64, error)
}

// localGroup synchronizes replicas that share one process.
type localGroup struct {
	size int

	mu  sync.Mutex
	cur *generation
}

// generation holds the state of one barrier round. Waiters keep a reference
// to their round, so a released round is never reused.
type generation struct {
	values  []uint64
	arrived int
	out     []uint64
	release chan struct{}
}

// NewLocalGroup creates collective channels for n same-process replicas.
// The returned slice is indexed by rank.
func NewLocalGroup(n int) []Comm {
	g := &localGroup{
		size: n,
		cur:  newGeneration(n),
	}
	comms := make([]Comm, n)
	for i := range comms {
		comms[i] = &localComm{group: g, rank: i}
	}
	return comms
}

func newGeneration(n int) *generation {
	return &generation{
		values:  make([]uint64, n),
		release: make(chan struct{}),
	}
}

func (g *localGroup) enter(ctx context.Context, rank int, v uint64) ([]uint64, error) {
	g.mu.Lock()
	gen := g.cur
	gen.values[rank] = v
	gen.arrived++
	if gen.arrived == g.size {
		// Last arrival releases this round and opens the next one.
		gen.out = gen.values
		g.cur = newGeneration(g.size)
		close(gen.release)
		g.mu.Unlock()
		return gen.out, nil
	}
	g.mu.Unlock()

	select {
	case <-gen.release:
		return gen.out, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type localComm struct {
	group *localGroup
	rank  int
}

func (c *localComm) Rank() int { return c.rank }
func (c *localComm) Size() int { return c.group.size }

func (c *localComm) Barrier(ctx context.Context) error {
	_, err := c.group.enter(ctx, c.rank, 0)
	return err
}

func (c *localComm) AllGatherUint64(ctx context.Context, v uint64) ([]uint64, error) {
	return c.group.enter(ctx, c.rank, v)
}
