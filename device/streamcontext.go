package device

import "sync/atomic"

// StreamContext temporarily switches a bundle's active stream, restoring
// the previous stream on Close. The restore runs exactly once, regardless
// of how the enclosing scope exits:
//
//	sc := device.NewStreamContext(bundle, "compute-overlap", 0)
//	defer sc.Close()
//
// Not safe to nest concurrently on the same bundle from different
// goroutines.
type StreamContext struct {
	bundle   *ResourceBundle
	origin   string
	restored atomic.Bool
}

// NewStreamContext captures the bundle's current stream name and switches
// to name at the given priority.
func NewStreamContext(bundle *ResourceBundle, name string, priority int) *StreamContext {
	sc := &StreamContext{
		bundle: bundle,
		origin: bundle.CurrentStreamName(),
	}
	bundle.SetStream(name, priority)
	return sc
}

// Close restores the stream that was active at construction, at default
// priority. Idempotent.
func (sc *StreamContext) Close() error {
	if sc.restored.Swap(true) {
		return nil
	}
	sc.bundle.SetStream(sc.origin, 0)
	return nil
}
