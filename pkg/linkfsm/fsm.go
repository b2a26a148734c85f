// Package linkfsm implements the explicit link state machine from
// spec.md §4.7. It is intentionally inert: it records transitions for
// tracing and assurance but gates nothing itself — pkg/link's
// synchronized and awaiting-ack flags do the actual gating, per
// spec.md's "Observable state is exposed to telemetry but not used for
// gating" note.
package linkfsm

import "fmt"

// State is one of the four link states.
type State uint8

const (
	Unsynchronized State = iota
	Idle
	AwaitingAck
	Fault
)

func (s State) String() string {
	switch s {
	case Unsynchronized:
		return "Unsynchronized"
	case Idle:
		return "Idle"
	case AwaitingAck:
		return "AwaitingAck"
	case Fault:
		return "Fault"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Event drives a transition.
type Event uint8

const (
	EventHandshakeComplete Event = iota
	EventSendCritical
	EventAckReceived
	EventTimeout
	EventReset
	EventCryptoFault
)

func (e Event) String() string {
	switch e {
	case EventHandshakeComplete:
		return "HandshakeComplete"
	case EventSendCritical:
		return "SendCritical"
	case EventAckReceived:
		return "AckReceived"
	case EventTimeout:
		return "Timeout"
	case EventReset:
		return "Reset"
	case EventCryptoFault:
		return "CryptoFault"
	default:
		return fmt.Sprintf("Event(%d)", uint8(e))
	}
}

// FSM is the explicit, single-threaded link state machine.
type FSM struct {
	state State
}

// New returns an FSM starting in Unsynchronized.
func New() *FSM {
	return &FSM{state: Unsynchronized}
}

// State returns the current state.
func (f *FSM) State() State { return f.state }

// Apply drives a transition per spec.md §4.7's table. Events that have
// no defined transition from the current state (e.g. AckReceived while
// Idle) are no-ops that return false. Reset is valid from any state;
// CryptoFault is valid from any state except Fault itself (where it is a
// no-op returning false), and Fault accepts no event but Reset.
func (f *FSM) Apply(event Event) bool {
	if f.state == Fault && event != EventReset {
		// Fault is terminal per spec.md §4.4; only a fresh
		// CMD_LINK_RESET/CMD_LINK_SYNC round (modeled here as Reset)
		// can move out of it, and even that is the service layer's
		// call, not the FSM's — Reset is accepted so telemetry reflects
		// the attempt, but CryptoFault after Fault is a no-op.
		if event == EventCryptoFault {
			return false
		}
	}

	switch event {
	case EventReset:
		f.state = Unsynchronized
		return true
	case EventCryptoFault:
		f.state = Fault
		return true
	}

	switch f.state {
	case Unsynchronized:
		if event == EventHandshakeComplete {
			f.state = Idle
			return true
		}
	case Idle:
		if event == EventSendCritical {
			f.state = AwaitingAck
			return true
		}
	case AwaitingAck:
		if event == EventAckReceived || event == EventTimeout {
			f.state = Idle
			return true
		}
	}

	return false
}
