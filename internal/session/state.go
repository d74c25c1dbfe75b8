package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/jarvis/internal/events"
	"github.com/MrWong99/jarvis/internal/observe"
)

// State is the connection state of the assistant.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Error
)

// String returns the upper-case state name shown to clients.
func (s State) String() string {
	switch s {
	case Disconnected:
		return "DISCONNECTED"
	case Connecting:
		return "CONNECTING"
	case Connected:
		return "CONNECTED"
	case Error:
		return "ERROR"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// ErrInvalidTransition is returned by [StateMachine.Transition] for an edge
// outside the connection graph.
var ErrInvalidTransition = errors.New("session: invalid state transition")

// edges is the connection graph.
var edges = map[State][]State{
	Disconnected: {Connecting},
	Connecting:   {Connected, Error},
	Connected:    {Disconnected, Error},
	Error:        {Disconnected},
}

// CanTransition reports whether from→to is an edge. Self-transitions are
// always allowed and have no effect.
func CanTransition(from, to State) bool {
	if from == to {
		return true
	}
	for _, s := range edges[from] {
		if s == to {
			return true
		}
	}
	return false
}

// StateReader exposes the current state without the ability to change it.
type StateReader interface {
	Current() State
}

// StateMachine holds the connection state and publishes every change. Safe
// for concurrent use.
type StateMachine struct {
	bus     *events.Bus
	metrics *observe.Metrics

	mu    sync.Mutex
	state State
}

var _ StateReader = (*StateMachine)(nil)

// NewStateMachine returns a machine in [Disconnected]. bus may be nil; a nil
// metrics falls back to [observe.DefaultMetrics].
func NewStateMachine(bus *events.Bus, metrics *observe.Metrics) *StateMachine {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &StateMachine{bus: bus, metrics: metrics}
}

// Current returns the current state.
func (m *StateMachine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Transition moves to the given state. A self-transition is a no-op and
// publishes nothing.
func (m *StateMachine) Transition(ctx context.Context, to State) error {
	m.mu.Lock()
	from := m.state
	if !CanTransition(from, to) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	if from == to {
		m.mu.Unlock()
		return nil
	}
	m.state = to
	// Publishing under the lock keeps bus order equal to transition order.
	m.bus.State(from.String(), to.String())
	m.mu.Unlock()

	m.metrics.RecordTransition(ctx, from.String(), to.String())
	observe.Logger(ctx).Debug("session: state changed", slog.String("from", from.String()), slog.String("to", to.String()))
	return nil
}
