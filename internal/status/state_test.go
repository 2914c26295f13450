package status

import (
	"testing"

	"github.com/lifelink/commsync/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine(nil)
	if m.Current() != Idle {
		t.Errorf("initial state = %s, want IDLE", m.Current())
	}
	if m.Signal() != SignalOffline {
		t.Errorf("initial signal = %s, want offline", m.Signal())
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Idle, Connecting},
		{Connecting, Open},
		{Connecting, Closed},
		{Connecting, Reconnecting},
		{Open, Reconnecting},
		{Open, Closed},
		{Reconnecting, Connecting},
		{Reconnecting, Closed},
		{Closed, Connecting},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine(nil)
			walkTo(t, m, tt.from)
			if err := m.Transition(tt.to); err != nil {
				t.Errorf("Transition(%s -> %s) error = %v", tt.from, tt.to, err)
			}
			if m.Current() != tt.to {
				t.Errorf("state = %s, want %s", m.Current(), tt.to)
			}
		})
	}
}

func TestInvalidTransition(t *testing.T) {
	m := NewMachine(nil)
	if err := m.Transition(Open); err == nil {
		t.Error("Transition(IDLE -> OPEN) should fail")
	}
	if m.Current() != Idle {
		t.Errorf("state = %s, want IDLE after failed transition", m.Current())
	}
}

func TestSignalMapping(t *testing.T) {
	tests := []struct {
		state State
		want  Signal
	}{
		{Idle, SignalOffline},
		{Connecting, SignalReconnecting},
		{Open, SignalConnected},
		{Reconnecting, SignalReconnecting},
		{Closed, SignalOffline},
	}
	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			m := NewMachine(nil)
			walkTo(t, m, tt.state)
			if got := m.Signal(); got != tt.want {
				t.Errorf("Signal() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("conn.", 10)
	defer unsub()

	m := NewMachine(b)
	if err := m.Transition(Connecting); err != nil {
		t.Fatal(err)
	}

	evt := <-ch
	if evt.Kind != bus.KindConnStatusChanged {
		t.Errorf("event kind = %q, want %q", evt.Kind, bus.KindConnStatusChanged)
	}
	change, ok := evt.Payload.(StatusChange)
	if !ok {
		t.Fatalf("payload type = %T, want StatusChange", evt.Payload)
	}
	if change.From != Idle || change.To != Connecting {
		t.Errorf("change = %v -> %v, want IDLE -> CONNECTING", change.From, change.To)
	}
}

// TestDropReconnectCycle walks the full drop/recover loop:
// OPEN → RECONNECTING → CONNECTING → OPEN.
func TestDropReconnectCycle(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, Open)

	steps := []State{Reconnecting, Connecting, Open}
	for _, s := range steps {
		if err := m.Transition(s); err != nil {
			t.Fatalf("Transition to %s: %v (current: %s)", s, err, m.Current())
		}
	}
	if m.Signal() != SignalConnected {
		t.Errorf("signal = %s, want connected", m.Signal())
	}
}

// TestExhaustedReconnectEndsClosed verifies that giving up on reconnects
// lands in CLOSED and that a later manual connect is still possible.
func TestExhaustedReconnectEndsClosed(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, Reconnecting)

	if err := m.Transition(Closed); err != nil {
		t.Fatalf("RECONNECTING -> CLOSED: %v", err)
	}
	if m.Signal() != SignalOffline {
		t.Errorf("signal = %s, want offline", m.Signal())
	}
	if err := m.Transition(Connecting); err != nil {
		t.Fatalf("CLOSED -> CONNECTING: %v", err)
	}
}

// walkTo is a helper that transitions the machine to a target state.
func walkTo(t *testing.T, m *Machine, target State) {
	t.Helper()
	paths := map[State][]State{
		Idle:         {},
		Connecting:   {Connecting},
		Open:         {Connecting, Open},
		Reconnecting: {Connecting, Open, Reconnecting},
		Closed:       {Closed},
	}
	for _, s := range paths[target] {
		if err := m.Transition(s); err != nil {
			t.Fatalf("walkTo(%s): %v", target, err)
		}
	}
}
