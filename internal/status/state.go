package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/lifelink/commsync/internal/bus"
)

// State represents the realtime connection lifecycle.
type State string

const (
	Idle         State = "IDLE"
	Connecting   State = "CONNECTING"
	Open         State = "OPEN"
	Reconnecting State = "RECONNECTING"
	Closed       State = "CLOSED"
)

// Signal is the three-way connectivity signal exposed to the UI layer.
type Signal string

const (
	SignalConnected    Signal = "connected"
	SignalReconnecting Signal = "reconnecting"
	SignalOffline      Signal = "offline"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Idle:         {Connecting, Closed},
	Connecting:   {Open, Closed, Reconnecting},
	Open:         {Reconnecting, Closed},
	Reconnecting: {Connecting, Closed},
	Closed:       {Connecting},
}

// Machine tracks and enforces connection state transitions. Transitions
// fan out on the bus so the UI and the reconciler observe connectivity
// without polling.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a state machine starting in Idle.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Idle,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Signal maps the current state onto the UI connectivity signal.
func (m *Machine) Signal() Signal {
	switch m.Current() {
	case Open:
		return SignalConnected
	case Connecting, Reconnecting:
		return SignalReconnecting
	default:
		return SignalOffline
	}
}

// Transition attempts to move to a new state. Returns an error if the
// transition is not allowed; state is left unchanged in that case.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      bus.KindConnStatusChanged,
			Timestamp: time.Now(),
			Payload: StatusChange{
				From: from,
				To:   to,
			},
		})
	}
	return nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State
	To   State
}
