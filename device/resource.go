package device

import (
	"log/slog"
	"os"
	"runtime"
)

// DefaultStreamName is the stream every bundle starts on.
const DefaultStreamName = "default"

// Names of the dedicated streams each bundle owns.
const (
	memcpyStreamName      = "memcpy"
	p2pStreamName         = "p2p"
	compOverlapStreamName = "compute-overlap"
)

// fatalf reports an unrecoverable device-resource failure. Device state is
// assumed inconsistent at this point, so the process terminates instead of
// attempting recovery.
var fatalf = func(msg string, args ...any) {
	slog.Error(msg, args...)
	os.Exit(1)
}

// Props holds device capability metadata.
type Props struct {
	SMCount         int
	MaxThreadsPerSM int
	CCMajor         int
	CCMinor         int
}

// DetectProps reports capability metadata for the device. Without a vendor
// driver the host stands in for the device, so the multiprocessor count maps
// to the CPU count and the remaining values are fixed.
func DetectProps(deviceID int) Props {
	return Props{
		SMCount:         runtime.NumCPU(),
		MaxThreadsPerSM: 2048,
		CCMajor:         8,
		CCMinor:         0,
	}
}

// ResourceBundle owns one device's execution resources: named streams and
// events, the dedicated memcpy/p2p/compute-overlap streams, the two replica
// random generators, the compute-library handles and an optional collective
// channel.
//
// A bundle must not be copied and is mutated only by its owning replica
// goroutine. It must not be closed while another goroutine still references
// its active stream.
type ResourceBundle struct {
	deviceID int
	localID  int
	globalID int

	streamName string
	streams    map[string]*Stream
	events     map[string]*Event

	memcpyStream      *Stream
	p2pStream         *Stream
	compOverlapStream *Stream

	uniformRNG *RNG
	variantRNG *RNG

	blas      *ComputeHandle
	blasWgrad *ComputeHandle
	blasLt    *ComputeHandle
	dnn       *ComputeHandle

	comm Comm

	props Props

	// wgradEvent orders the weight-gradient producer stream against
	// consumer streams without a device-wide synchronization.
	wgradEvent *Event

	closed bool

	noCopy noCopy
}

// NewResourceBundle binds to the device and allocates its default streams,
// events and compute-library handles. comm may be nil, which disables
// collective operations.
func NewResourceBundle(deviceID, localID, globalID int, uniformSeed, variantSeed int64, comm Comm) *ResourceBundle {
	b := &ResourceBundle{
		deviceID:   deviceID,
		localID:    localID,
		globalID:   globalID,
		streams:    make(map[string]*Stream),
		events:     make(map[string]*Event),
		uniformRNG: NewRNG(uniformSeed),
		variantRNG: NewRNG(variantSeed),
		comm:       comm,
		props:      DetectProps(deviceID),
		wgradEvent: newEvent(),
	}

	b.memcpyStream = newStream(memcpyStreamName, 0)
	b.p2pStream = newStream(p2pStreamName, 0)
	b.compOverlapStream = newStream(compOverlapStreamName, 0)

	def := b.GetStream(DefaultStreamName, 0)
	b.blas = newComputeHandle(HandleBlas, def)
	b.blasWgrad = newComputeHandle(HandleBlasWgrad, def)
	b.blasLt = newComputeHandle(HandleBlasLt, def)
	b.dnn = newComputeHandle(HandleDnn, def)

	b.SetStream(DefaultStreamName, 0)

	return b
}

// DeviceID returns the device identifier.
func (b *ResourceBundle) DeviceID() int { return b.deviceID }

// LocalID returns the replica index local to this process.
func (b *ResourceBundle) LocalID() int { return b.localID }

// GlobalID returns the replica index across the whole sync group.
func (b *ResourceBundle) GlobalID() int { return b.globalID }

// GetStream returns the stream registered under name, creating it with the
// given priority on first use. The same name always yields the same stream
// for the bundle's lifetime.
func (b *ResourceBundle) GetStream(name string, priority int) *Stream {
	if s, ok := b.streams[name]; ok {
		return s
	}
	s := newStream(name, priority)
	b.streams[name] = s
	return s
}

// Stream returns the currently active stream.
func (b *ResourceBundle) Stream() *Stream {
	return b.streams[b.streamName]
}

// CurrentStreamName returns the name of the currently active stream.
func (b *ResourceBundle) CurrentStreamName() string { return b.streamName }

// SetStream makes name the active stream and retargets every
// stream-stateful compute handle to it. A rejected retarget leaves device
// state inconsistent and terminates the process.
func (b *ResourceBundle) SetStream(name string, priority int) {
	s := b.GetStream(name, priority)
	b.streamName = name
	if err := b.variantRNG.SetStream(s); err != nil {
		fatalf("retarget variant rng failed", "device", b.deviceID, "stream", name, "error", err)
	}
	if err := b.blas.SetStream(s); err != nil {
		fatalf("retarget blas handle failed", "device", b.deviceID, "stream", name, "error", err)
	}
	if err := b.dnn.SetStream(s); err != nil {
		fatalf("retarget dnn handle failed", "device", b.deviceID, "stream", name, "error", err)
	}
}

// GetEvent returns the event registered under name, creating it on first use.
func (b *ResourceBundle) GetEvent(name string) *Event {
	if e, ok := b.events[name]; ok {
		return e
	}
	e := newEvent()
	b.events[name] = e
	return e
}

// MemcpyStream returns the dedicated data-copy stream.
func (b *ResourceBundle) MemcpyStream() *Stream { return b.memcpyStream }

// P2PStream returns the dedicated peer-to-peer broadcast stream.
func (b *ResourceBundle) P2PStream() *Stream { return b.p2pStream }

// CompOverlapStream returns the dedicated compute-overlap stream.
func (b *ResourceBundle) CompOverlapStream() *Stream { return b.compOverlapStream }

// UniformRNG returns the replica-uniform random generator.
func (b *ResourceBundle) UniformRNG() *RNG { return b.uniformRNG }

// VariantRNG returns the replica-variant random generator.
func (b *ResourceBundle) VariantRNG() *RNG { return b.variantRNG }

// BlasHandle returns the linear-algebra handle.
func (b *ResourceBundle) BlasHandle() *ComputeHandle { return b.blas }

// BlasWgradHandle returns the linear-algebra handle reserved for
// weight-gradient work.
func (b *ResourceBundle) BlasWgradHandle() *ComputeHandle { return b.blasWgrad }

// BlasLtHandle returns the light-weight linear-algebra handle.
func (b *ResourceBundle) BlasLtHandle() *ComputeHandle { return b.blasLt }

// DnnHandle returns the neural-net library handle.
func (b *ResourceBundle) DnnHandle() *ComputeHandle { return b.dnn }

// Comm returns the collective channel, or nil when collectives are disabled.
func (b *ResourceBundle) Comm() Comm { return b.comm }

// SupportsCollectives reports whether a collective channel is present.
func (b *ResourceBundle) SupportsCollectives() bool { return b.comm != nil }

// SMCount returns the device's multiprocessor count.
func (b *ResourceBundle) SMCount() int { return b.props.SMCount }

// MaxThreadsPerSM returns the maximum resident threads per multiprocessor.
func (b *ResourceBundle) MaxThreadsPerSM() int { return b.props.MaxThreadsPerSM }

// CCMajor returns the compute-capability major version.
func (b *ResourceBundle) CCMajor() int { return b.props.CCMajor }

// CCMinor returns the compute-capability minor version.
func (b *ResourceBundle) CCMinor() int { return b.props.CCMinor }

// SetWgradEventSync records the weight-gradient fence on the producer
// stream after its gradient-relevant work.
func (b *ResourceBundle) SetWgradEventSync(s *Stream) {
	if err := s.Record(b.wgradEvent); err != nil {
		fatalf("record wgrad event failed", "device", b.deviceID, "stream", s.Name(), "error", err)
	}
}

// WaitOnWgradEvent blocks subsequent work on the consumer stream until the
// weight-gradient fence has been reached.
func (b *ResourceBundle) WaitOnWgradEvent(s *Stream) {
	if err := s.WaitEvent(b.wgradEvent); err != nil {
		fatalf("wait on wgrad event failed", "device", b.deviceID, "stream", s.Name(), "error", err)
	}
}

// Close releases all owned streams, events and handles. Must not be called
// while another goroutine holds a reference to the active stream.
func (b *ResourceBundle) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true

	for _, s := range b.streams {
		_ = s.Close()
	}
	_ = b.memcpyStream.Close()
	_ = b.p2pStream.Close()
	_ = b.compOverlapStream.Close()

	_ = b.blas.Close()
	_ = b.blasWgrad.Close()
	_ = b.blasLt.Close()
	_ = b.dnn.Close()

	return nil
}

// noCopy triggers go vet's copylocks check when a bundle is copied by value.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}
