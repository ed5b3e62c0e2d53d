package fsm

import (
	"testing"
	"time"
)

func TestIsTransitionValid_Totality(t *testing.T) {
	states := []State{
		StateInitial, StateTriage, StateCollecting,
		StateScheduling, StateScheduled, StateHandoff, StateClosed,
	}
	for _, from := range states {
		for _, to := range states {
			ok1, r1 := IsTransitionValid(from, to)
			ok2, r2 := IsTransitionValid(from, to)
			if ok1 != ok2 || r1 != r2 {
				t.Errorf("IsTransitionValid(%s, %s) not deterministic", from, to)
			}
			// Consistency with adjacency map.
			adjacent := false
			for _, next := range ValidNext(from) {
				if next == to {
					adjacent = true
				}
			}
			if ok1 && !adjacent {
				t.Errorf("IsTransitionValid(%s, %s) = true but not adjacent", from, to)
			}
		}
	}
}

func TestTerminalStatesHaveNoOutgoingEdges(t *testing.T) {
	for _, s := range []State{StateScheduled, StateHandoff, StateClosed} {
		if got := ValidNext(s); len(got) != 0 {
			t.Errorf("terminal %s has outgoing edges: %v", s, got)
		}
		ok, reason := IsTransitionValid(s, StateCollecting)
		if ok || reason != ReasonTerminalOrigin {
			t.Errorf("transition out of terminal %s: ok=%v reason=%q", s, ok, reason)
		}
	}
}

func TestSelfTransition_OnlyCollecting(t *testing.T) {
	tests := []struct {
		state State
		want  bool
	}{
		{StateCollecting, true},
		{StateInitial, false},
		{StateTriage, false},
		{StateScheduling, false},
	}
	for _, tt := range tests {
		ok, _ := IsTransitionValid(tt.state, tt.state)
		if ok != tt.want {
			t.Errorf("self-transition %s = %v, want %v", tt.state, ok, tt.want)
		}
	}
}

func TestUnknownStateRejected(t *testing.T) {
	ok, reason := IsTransitionValid(StateInitial, State("BOGUS"))
	if ok || reason != ReasonUnknownState {
		t.Errorf("got ok=%v reason=%q, want unknown_state", ok, reason)
	}
}

func TestMachine_TransitionAppendsRecord(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	m := New(StateInitial).WithClock(func() time.Time { return fixed })

	ok, reason := m.Transition(StateTriage, "decision", map[string]string{"msg": "m1"}, 0.9)
	if !ok {
		t.Fatalf("transition failed: %s", reason)
	}
	if m.Current() != StateTriage {
		t.Errorf("current = %s, want TRIAGE", m.Current())
	}
	trail := m.Trail()
	if len(trail) != 1 {
		t.Fatalf("trail length = %d, want 1", len(trail))
	}
	rec := trail[0]
	if rec.From != StateInitial || rec.To != StateTriage || rec.Trigger != "decision" {
		t.Errorf("unexpected record: %+v", rec)
	}
	if !rec.At.Equal(fixed) {
		t.Errorf("record timestamp = %v, want %v", rec.At, fixed)
	}
}

func TestMachine_FailedTransitionChangesNothing(t *testing.T) {
	m := New(StateInitial)
	ok, reason := m.Transition(StateScheduled, "decision", nil, 1)
	if ok {
		t.Fatal("INITIAL → SCHEDULED should be illegal")
	}
	if reason != ReasonNotAdjacent {
		t.Errorf("reason = %q, want not_adjacent", reason)
	}
	if m.Current() != StateInitial {
		t.Errorf("state moved to %s on failed transition", m.Current())
	}
	if len(m.Trail()) != 0 {
		t.Error("failed transition appended a record")
	}
}

func TestNew_UnknownStartDefaultsToInitial(t *testing.T) {
	m := New(State("GARBAGE"))
	if m.Current() != StateInitial {
		t.Errorf("current = %s, want INITIAL", m.Current())
	}
}
