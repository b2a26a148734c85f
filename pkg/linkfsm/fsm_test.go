package linkfsm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHappyPathTransitions(t *testing.T) {
	f := New()
	require.Equal(t, Unsynchronized, f.State())

	require.True(t, f.Apply(EventHandshakeComplete))
	require.Equal(t, Idle, f.State())

	require.True(t, f.Apply(EventSendCritical))
	require.Equal(t, AwaitingAck, f.State())

	require.True(t, f.Apply(EventAckReceived))
	require.Equal(t, Idle, f.State())
}

func TestTimeoutReturnsToIdle(t *testing.T) {
	f := New()
	f.Apply(EventHandshakeComplete)
	f.Apply(EventSendCritical)
	require.True(t, f.Apply(EventTimeout))
	require.Equal(t, Idle, f.State())
}

func TestResetFromAnyState(t *testing.T) {
	for _, start := range []State{Unsynchronized, Idle, AwaitingAck, Fault} {
		f := &FSM{state: start}
		require.True(t, f.Apply(EventReset))
		require.Equal(t, Unsynchronized, f.State())
	}
}

func TestCryptoFaultIsTerminal(t *testing.T) {
	f := New()
	require.True(t, f.Apply(EventCryptoFault))
	require.Equal(t, Fault, f.State())

	require.False(t, f.Apply(EventCryptoFault))
	require.Equal(t, Fault, f.State())

	require.False(t, f.Apply(EventHandshakeComplete))
	require.Equal(t, Fault, f.State())
}

func TestInvalidTransitionsAreNoOps(t *testing.T) {
	f := New()
	require.False(t, f.Apply(EventAckReceived))
	require.Equal(t, Unsynchronized, f.State())
	require.False(t, f.Apply(EventSendCritical))
	require.Equal(t, Unsynchronized, f.State())
}
