package mcp_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dbcore/agentcore/pkg/async/bus"
	"github.com/dbcore/agentcore/pkg/mcp"
)

func TestConnectionFSM_LegalLifecycle(t *testing.T) {
	f := mcp.NewConnectionFSM("pg:test", nil)
	require.Equal(t, mcp.StateDisconnected, f.State())

	require.True(t, f.Transition(mcp.StateConnecting))
	require.True(t, f.Transition(mcp.StateConnected))
	require.True(t, f.Transition(mcp.StateDegraded))
	require.True(t, f.Transition(mcp.StateConnected))
	require.True(t, f.Transition(mcp.StateDisconnecting))
	require.True(t, f.Transition(mcp.StateDisconnected))
}

func TestConnectionFSM_RejectsIllegalTransition(t *testing.T) {
	f := mcp.NewConnectionFSM("pg:test", nil)
	require.False(t, f.Transition(mcp.StateConnected)) // must go through CONNECTING first
	require.Equal(t, mcp.StateDisconnected, f.State())
}

func TestConnectionFSM_FaultForcesErrorFromAnyState(t *testing.T) {
	f := mcp.NewConnectionFSM("pg:test", nil)
	f.Transition(mcp.StateConnecting)
	f.Transition(mcp.StateConnected)
	f.Fault()
	require.Equal(t, mcp.StateError, f.State())
}

func TestConnectionFSM_PublishesStateEvents(t *testing.T) {
	b := bus.New(nil)
	events := make(chan bus.Message, 10)
	b.Subscribe(bus.TopicConnectionState, func(m bus.Message) { events <- m })

	f := mcp.NewConnectionFSM("pg:test", b)
	f.Transition(mcp.StateConnecting)

	select {
	case m := <-events:
		require.Equal(t, bus.TopicConnectionState, m.Topic)
	case <-time.After(time.Second):
		t.Fatal("expected a connection.state event")
	}
}
