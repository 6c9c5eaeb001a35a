package lookup

import "sync"

// GateState is the observable state of a OnceGate.
type GateState uint8

const (
	GateUnstarted GateState = iota
	GateInProgress
	GateReady
)

func (s GateState) String() string {
	switch s {
	case GateUnstarted:
		return "unstarted"
	case GateInProgress:
		return "in-progress"
	case GateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// OnceGate is a one-shot initialization barrier. Exactly one caller runs
// the construction function; callers arriving while it is in progress block
// until it finishes and then observe the fully-initialized result. If the
// construction fails, the gate returns to unstarted so a later caller can
// retry.
type OnceGate struct {
	mu    sync.Mutex
	state GateState
	round *gateRound
}

type gateRound struct {
	done chan struct{}
	err  error
}

// NewOnceGate returns a gate in the unstarted state.
func NewOnceGate() *OnceGate {
	return &OnceGate{}
}

// State returns the current gate state.
func (g *OnceGate) State() GateState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Do runs fn exactly once across all callers. The winner executes fn;
// everyone else blocks until the winner finishes and shares its error.
// After a successful round every subsequent call returns nil immediately.
func (g *OnceGate) Do(fn func() error) error {
	g.mu.Lock()
	switch g.state {
	case GateReady:
		g.mu.Unlock()
		return nil
	case GateInProgress:
		round := g.round
		g.mu.Unlock()
		<-round.done
		return round.err
	}

	round := &gateRound{done: make(chan struct{})}
	g.state = GateInProgress
	g.round = round
	g.mu.Unlock()

	round.err = fn()

	g.mu.Lock()
	if round.err != nil {
		g.state = GateUnstarted
	} else {
		g.state = GateReady
	}
	g.round = nil
	g.mu.Unlock()

	close(round.done)
	return round.err
}
