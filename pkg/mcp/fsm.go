package mcp

import (
	"sync"

	"github.com/dbcore/agentcore/pkg/async/bus"
)

// ConnectionState is one state in the Connection State Machine from
// spec.md §4.B.
type ConnectionState string

const (
	StateDisconnected  ConnectionState = "DISCONNECTED"
	StateConnecting    ConnectionState = "CONNECTING"
	StateConnected     ConnectionState = "CONNECTED"
	StateDegraded      ConnectionState = "DEGRADED"
	StateError         ConnectionState = "ERROR"
	StateDisconnecting ConnectionState = "DISCONNECTING"
)

// allowed enumerates every legal transition; anything not listed here is
// rejected by Transition.
var allowed = map[ConnectionState]map[ConnectionState]bool{
	StateDisconnected: {StateConnecting: true},
	StateConnecting:   {StateConnected: true, StateError: true},
	StateConnected: {
		StateDegraded:      true,
		StateDisconnecting: true,
		StateError:         true,
	},
	StateDegraded: {
		StateConnected:     true,
		StateError:         true,
		StateDisconnecting: true,
	},
	StateError:         {StateConnecting: true},
	StateDisconnecting: {StateDisconnected: true},
}

// ConnectionFSM tracks one connection's lifecycle and publishes a
// connection.state event on every transition.
type ConnectionFSM struct {
	mu    sync.Mutex
	name  string
	state ConnectionState
	bus   *bus.Bus
}

// NewConnectionFSM starts a connection in DISCONNECTED.
func NewConnectionFSM(name string, eventBus *bus.Bus) *ConnectionFSM {
	return &ConnectionFSM{name: name, state: StateDisconnected, bus: eventBus}
}

// State returns the current state.
func (f *ConnectionFSM) State() ConnectionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Transition moves to next if legal, publishing a connection.state event
// either way (an illegal transition's event carries the unchanged "from"
// state, the requested "to" state and accepted=false, so subscribers can
// observe the attempt).
func (f *ConnectionFSM) Transition(next ConnectionState) bool {
	f.mu.Lock()
	from := f.state
	ok := allowed[from][next]
	if ok {
		f.state = next
	}
	f.mu.Unlock()

	if f.bus != nil {
		payload := map[string]any{"connection": f.name, "from": string(from), "to": string(next), "accepted": ok}
		f.bus.Publish(bus.TopicConnectionState, payload, "mcp")
	}
	return ok
}

// Fault forces an immediate transition to ERROR from any state, matching
// spec.md's "Any → ERROR on fatal driver error."
func (f *ConnectionFSM) Fault() {
	f.mu.Lock()
	from := f.state
	f.state = StateError
	f.mu.Unlock()

	if f.bus != nil {
		f.bus.Publish(bus.TopicConnectionState, map[string]any{"connection": f.name, "from": string(from), "to": string(StateError), "accepted": true}, "mcp")
		f.bus.Publish(bus.TopicConnectionError, map[string]any{"connection": f.name}, "mcp")
	}
}
