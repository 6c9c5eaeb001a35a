package device

import (
	"errors"
	"sync"
	"sync/atomic"
)

// ErrStreamClosed is returned when work is submitted to a closed stream.
var ErrStreamClosed = errors.New("device: stream closed")

// streamQueueDepth bounds the number of pending commands per stream.
// Submission blocks once the queue is full, mirroring a saturated device.
const streamQueueDepth = 1024

// Stream is an in-order asynchronous execution queue. Commands submitted
// via Enqueue run one after another on a dedicated worker; Enqueue itself
// returns as soon as the command is queued.
type Stream struct {
	name     string
	priority int

	cmds   chan func()
	done   chan struct{}
	closed atomic.Bool
}

func newStream(name string, priority int) *Stream {
	s := &Stream{
		name:     name,
		priority: priority,
		cmds:     make(chan func(), streamQueueDepth),
		done:     make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Stream) run() {
	defer close(s.done)
	for fn := range s.cmds {
		fn()
	}
}

// Name returns the stream name.
func (s *Stream) Name() string { return s.name }

// Priority returns the priority the stream was created with.
func (s *Stream) Priority() int { return s.priority }

// Enqueue submits fn for asynchronous in-order execution.
func (s *Stream) Enqueue(fn func()) error {
	if s.closed.Load() {
		return ErrStreamClosed
	}
	s.cmds <- fn
	return nil
}

// Synchronize blocks until all previously enqueued commands have executed.
func (s *Stream) Synchronize() error {
	if s.closed.Load() {
		return ErrStreamClosed
	}
	var wg sync.WaitGroup
	wg.Add(1)
	s.cmds <- wg.Done
	wg.Wait()
	return nil
}

// Record arms e and signals it once all work previously enqueued on s has
// executed.
func (s *Stream) Record(e *Event) error {
	if s.closed.Load() {
		return ErrStreamClosed
	}
	fence := e.arm()
	s.cmds <- func() { close(fence) }
	return nil
}

// WaitEvent makes subsequent work on s wait until the fence most recently
// recorded on e has been reached. Waiting on an unrecorded event is a no-op.
func (s *Stream) WaitEvent(e *Event) error {
	if s.closed.Load() {
		return ErrStreamClosed
	}
	fence := e.fence()
	s.cmds <- func() { <-fence }
	return nil
}

// Close drains pending work and stops the stream worker. Idempotent.
func (s *Stream) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	close(s.cmds)
	<-s.done
	return nil
}

// Event is a cross-stream synchronization fence. Recording on a producer
// stream and waiting on a consumer stream orders the two without a full
// device synchronization.
type Event struct {
	mu      sync.Mutex
	current chan struct{}
}

func newEvent() *Event {
	done := make(chan struct{})
	close(done) // unrecorded events are complete
	return &Event{current: done}
}

// arm resets the event and returns the channel the producer must close.
func (e *Event) arm() chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.current = make(chan struct{})
	return e.current
}

// fence returns the channel a consumer must receive on.
func (e *Event) fence() chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

// Synchronize blocks the calling goroutine until the event is signaled.
func (e *Event) Synchronize() {
	<-e.fence()
}
