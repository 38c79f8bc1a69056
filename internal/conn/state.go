package conn

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/chatvault/internal/bus"
)

// State represents a connection lifecycle state.
type State string

const (
	Idle         State = "IDLE"
	Connecting   State = "CONNECTING"
	Open         State = "OPEN"
	Closing      State = "CLOSING"
	Reconnecting State = "RECONNECTING"
	// LoggedOut is terminal: the session's credentials were revoked
	// upstream and reconnecting is pointless until re-authentication.
	LoggedOut State = "LOGGED_OUT"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Idle:         {Connecting},
	Connecting:   {Open, Reconnecting, Idle, LoggedOut},
	Open:         {Closing, Reconnecting, LoggedOut},
	Closing:      {Idle, Reconnecting, LoggedOut},
	Reconnecting: {Connecting, Idle, LoggedOut},
	LoggedOut:    {},
}

// machine tracks and enforces connection state transitions.
type machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

func newMachine(b *bus.Bus) *machine {
	return &machine{current: Idle, bus: b}
}

func (m *machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns an error if the
// transition is not in the table.
func (m *machine) Transition(to State) error {
	m.mu.Lock()
	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		from := m.current
		m.mu.Unlock()
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	from := m.current
	m.current = to
	m.mu.Unlock()

	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      bus.KindStateChanged,
			Timestamp: time.Now(),
			Payload:   StateChange{From: from, To: to},
		})
	}
	return nil
}

// StateChange is the payload for conn.state_changed bus events.
type StateChange struct {
	From State
	To   State
}
