package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/livesync/internal/bus"
)

// State is the push channel's connection state.
type State string

const (
	Disconnected State = "disconnected"
	Connecting   State = "connecting"
	Connected    State = "connected"
)

// validTransitions defines allowed state transitions. A dropped connection
// goes back to Connecting; only an explicit disconnect reaches Disconnected
// from Connected.
var validTransitions = map[State][]State{
	Disconnected: {Connecting},
	Connecting:   {Connected, Disconnected},
	Connected:    {Connecting, Disconnected},
}

// Machine tracks and enforces connection state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Disconnected.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Disconnected,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition moves to a new state and returns the change. Returns an error if
// the transition is not allowed.
func (m *Machine) Transition(to State) (Change, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !slices.Contains(validTransitions[m.current], to) {
		return Change{}, fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	change := Change{From: m.current, To: to}
	m.current = to
	m.bus.Publish(bus.NewEvent(bus.KindTransportState, change))
	return change, nil
}

// Change is the payload of transport.state_changed events.
type Change struct {
	From State
	To   State
}
