package device

import (
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
)

// ErrHandleClosed is returned when a released handle is used.
var ErrHandleClosed = errors.New("device: compute handle closed")

// HandleKind identifies a vendor compute-library handle.
type HandleKind uint8

const (
	HandleBlas HandleKind = iota
	HandleBlasWgrad
	HandleBlasLt
	HandleDnn
)

func (k HandleKind) String() string {
	switch k {
	case HandleBlas:
		return "blas"
	case HandleBlasWgrad:
		return "blas-wgrad"
	case HandleBlasLt:
		return "blas-lt"
	case HandleDnn:
		return "dnn"
	default:
		return fmt.Sprintf("handle(%d)", uint8(k))
	}
}

// ComputeHandle is a handle into a vendor compute library. Stream-stateful
// handles execute their work on the stream they are currently bound to.
type ComputeHandle struct {
	kind   HandleKind
	stream *Stream
	closed atomic.Bool
}

func newComputeHandle(kind HandleKind, stream *Stream) *ComputeHandle {
	return &ComputeHandle{kind: kind, stream: stream}
}

// Kind returns the handle kind.
func (h *ComputeHandle) Kind() HandleKind { return h.kind }

// Stream returns the stream the handle is currently bound to.
func (h *ComputeHandle) Stream() *Stream { return h.stream }

// SetStream retargets the handle to s.
func (h *ComputeHandle) SetStream(s *Stream) error {
	if h.closed.Load() {
		return fmt.Errorf("%w: %s", ErrHandleClosed, h.kind)
	}
	if s == nil {
		return fmt.Errorf("device: nil stream for %s handle", h.kind)
	}
	h.stream = s
	return nil
}

// Close releases the handle. Idempotent.
func (h *ComputeHandle) Close() error {
	h.closed.Store(true)
	return nil
}

// RNG is a per-replica random generator bound to a stream, used for
// replica-uniform and replica-variant initialization paths.
type RNG struct {
	rand   *rand.Rand
	seed   int64
	stream *Stream
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)), // nolint gosec
		seed: seed,
	}
}

// Seed returns the seed the generator was created with.
func (r *RNG) Seed() int64 { return r.seed }

// SetStream binds the generator to s.
func (r *RNG) SetStream(s *Stream) error {
	if s == nil {
		return errors.New("device: nil stream for rng")
	}
	r.stream = s
	return nil
}

// FillUniform fills dst with uniform values in [0, 1).
func (r *RNG) FillUniform(dst []float32) {
	for i := range dst {
		dst[i] = r.rand.Float32()
	}
}
