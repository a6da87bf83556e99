package orchestration

import "testing"

func TestStateTransitionsFollowTurnTaking(t *testing.T) {
	allowed := []struct{ from, to State }{
		{StateIdle, StateListening},
		{StateIdle, StateThinking},
		{StateListening, StateThinking},
		{StateListening, StateIdle},
		{StateThinking, StateResponding},
		{StateThinking, StateIdle},
		{StateResponding, StateIdle},
		{StateResponding, StateListening},
	}
	for _, transition := range allowed {
		if !transition.from.CanTransitionTo(transition.to) {
			t.Errorf("expected %s -> %s to be allowed", transition.from, transition.to)
		}
	}

	forbidden := []struct{ from, to State }{
		{StateIdle, StateResponding},
		{StateListening, StateResponding},
		{StateThinking, StateListening},
		{StateResponding, StateThinking},
	}
	for _, transition := range forbidden {
		if transition.from.CanTransitionTo(transition.to) {
			t.Errorf("expected %s -> %s to be rejected", transition.from, transition.to)
		}
	}
}

func TestEveryStateCanTerminate(t *testing.T) {
	for _, from := range []State{StateIdle, StateListening, StateThinking, StateResponding} {
		if !from.CanTransitionTo(StateTerminated) {
			t.Errorf("expected %s -> %s to be allowed", from, StateTerminated)
		}
	}
}

func TestTerminatedIsAbsorbing(t *testing.T) {
	for _, to := range []State{StateIdle, StateListening, StateThinking, StateResponding, StateTerminated} {
		if StateTerminated.CanTransitionTo(to) {
			t.Errorf("expected %s -> %s to be rejected", StateTerminated, to)
		}
	}
	if !StateTerminated.IsTerminal() {
		t.Error("expected TERMINATED to be terminal")
	}
}
