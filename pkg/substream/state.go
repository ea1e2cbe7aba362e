// Package substream implements the per-direction lifecycle of a signaling
// substream: negotiation tracking, non-blocking frame writes with partial
// write resumption, and incremental frame reads.
package substream

import "fmt"

// Direction identifies which side opened a substream.
type Direction int

const (
	// Inbound substreams are opened by the remote peer.
	Inbound Direction = iota

	// Outbound substreams are opened locally to send messages.
	Outbound
)

// String returns "inbound" or "outbound".
func (d Direction) String() string {
	switch d {
	case Inbound:
		return "inbound"
	case Outbound:
		return "outbound"
	default:
		return fmt.Sprintf("Direction(%d)", d)
	}
}

// State is the lifecycle state of a substream.
type State int

const (
	// StateIdle indicates no stream exists and none is being negotiated.
	StateIdle State = iota

	// StateNegotiating indicates a protocol upgrade is in flight.
	StateNegotiating

	// StateOpen indicates the stream is usable for reads and writes.
	StateOpen

	// StateClosing indicates the stream ended cleanly.
	StateClosing

	// StateErrored indicates negotiation or I/O failed.
	StateErrored
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateNegotiating:
		return "Negotiating"
	case StateOpen:
		return "Open"
	case StateClosing:
		return "Closing"
	case StateErrored:
		return "Errored"
	default:
		return fmt.Sprintf("Unknown(%d)", s)
	}
}

// IsTerminal returns true if the state is a terminal state. Terminal
// states are never left automatically; only Reset returns to Idle.
func (s State) IsTerminal() bool {
	return s == StateClosing || s == StateErrored
}

// validTransitions lists the transitions driven by negotiation and I/O.
// Reset is deliberately absent: it tears down from any state.
var validTransitions = map[State][]State{
	StateIdle:        {StateNegotiating},
	StateNegotiating: {StateOpen, StateErrored},
	StateOpen:        {StateClosing, StateErrored},
	StateClosing:     {},
	StateErrored:     {},
}

// CanTransitionTo checks if a transition from the current state to
// the target state is valid.
func (s State) CanTransitionTo(target State) bool {
	for _, t := range validTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// ValidateTransition returns an error if the transition is invalid.
func (s State) ValidateTransition(target State) error {
	if !s.CanTransitionTo(target) {
		return fmt.Errorf("invalid substream transition: %s -> %s", s, target)
	}
	return nil
}
