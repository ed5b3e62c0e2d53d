// Package fsm governs legal conversation-state transitions.
// The transition graph is static and built once; every transition attempt
// is additionally checked by three guards (membership, terminal origin,
// self-loop restriction).
package fsm

import (
	"time"
)

// State is the name of a conversation state.
type State string

const (
	StateInitial    State = "INITIAL"
	StateTriage     State = "TRIAGE"
	StateCollecting State = "COLLECTING"
	StateScheduling State = "SCHEDULING"
	StateScheduled  State = "SCHEDULED"
	StateHandoff    State = "HANDOFF_HUMAN"
	StateClosed     State = "CLOSED"
)

// transitions is the static adjacency map. Terminal states have no entry.
// COLLECTING is the only state that may transition to itself: iterative
// field collection stays there until enough signals are known.
var transitions = map[State][]State{
	StateInitial:    {StateTriage, StateCollecting, StateHandoff, StateClosed},
	StateTriage:     {StateCollecting, StateScheduling, StateHandoff, StateClosed},
	StateCollecting: {StateCollecting, StateScheduling, StateHandoff, StateClosed},
	StateScheduling: {StateCollecting, StateScheduled, StateHandoff, StateClosed},
}

var terminals = map[State]bool{
	StateScheduled: true,
	StateHandoff:   true,
	StateClosed:    true,
}

var allStates = map[State]bool{
	StateInitial:    true,
	StateTriage:     true,
	StateCollecting: true,
	StateScheduling: true,
	StateScheduled:  true,
	StateHandoff:    true,
	StateClosed:     true,
}

// IsState reports whether name is a member of the state set.
func IsState(name State) bool { return allStates[name] }

// IsTerminal reports whether s accepts no outgoing transitions.
func IsTerminal(s State) bool { return terminals[s] }

// Transition failure reasons.
const (
	ReasonUnknownState   = "unknown_state"
	ReasonTerminalOrigin = "terminal_origin"
	ReasonSelfTransition = "self_transition"
	ReasonNotAdjacent    = "not_adjacent"
)

// IsTransitionValid reports whether from → to is legal. Deterministic for
// every (from, to) pair.
func IsTransitionValid(from, to State) (bool, string) {
	if !allStates[from] || !allStates[to] {
		return false, ReasonUnknownState
	}
	if terminals[from] {
		return false, ReasonTerminalOrigin
	}
	if from == to && from != StateCollecting {
		return false, ReasonSelfTransition
	}
	for _, next := range transitions[from] {
		if next == to {
			return true, ""
		}
	}
	return false, ReasonNotAdjacent
}

// ValidNext returns the legal targets from s. Empty for terminal or
// unknown states. The result is a copy; callers may mutate it.
func ValidNext(s State) []State {
	adj := transitions[s]
	out := make([]State, len(adj))
	copy(out, adj)
	return out
}

// TransitionRecord is an immutable entry in the machine's trail.
type TransitionRecord struct {
	From       State     `json:"from"`
	To         State     `json:"to"`
	Trigger    string    `json:"trigger"`
	Confidence float64   `json:"confidence"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	At         time.Time `json:"at"`
}

// Machine tracks the current state of one conversation and its
// transition trail. Not safe for concurrent use; each inbound message is
// handled by a single task (the engine never shares a Machine).
type Machine struct {
	current State
	trail   []TransitionRecord
	now     func() time.Time
}

// New creates a machine at the given state, defaulting to INITIAL when
// the name is unknown.
func New(start State) *Machine {
	if !allStates[start] {
		start = StateInitial
	}
	return &Machine{current: start, now: time.Now}
}

// WithClock overrides the record timestamp source. Test hook.
func (m *Machine) WithClock(now func() time.Time) *Machine {
	m.now = now
	return m
}

// Current returns the machine's current state.
func (m *Machine) Current() State { return m.current }

// Trail returns a copy of the transition records.
func (m *Machine) Trail() []TransitionRecord {
	out := make([]TransitionRecord, len(m.trail))
	copy(out, m.trail)
	return out
}

// Transition attempts to advance to target. On success the current state
// moves and a timestamped record is appended; on failure nothing changes
// and the reason is returned.
func (m *Machine) Transition(target State, trigger string, metadata map[string]string, confidence float64) (bool, string) {
	ok, reason := IsTransitionValid(m.current, target)
	if !ok {
		return false, reason
	}
	m.trail = append(m.trail, TransitionRecord{
		From:       m.current,
		To:         target,
		Trigger:    trigger,
		Confidence: confidence,
		Metadata:   metadata,
		At:         m.now(),
	})
	m.current = target
	return true, ""
}
