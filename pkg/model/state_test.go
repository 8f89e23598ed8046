package model

import "testing"

func TestUnitState_IsTerminal(t *testing.T) {
	tests := []struct {
		state    UnitState
		terminal bool
	}{
		{UnitStatePending, false},
		{UnitStateRunning, false},
		{UnitStateCompleted, true},
		{UnitStateTimedOut, true},
		{UnitStateCancelled, true},
		{UnitStateError, true},
	}
	for _, tt := range tests {
		if got := tt.state.IsTerminal(); got != tt.terminal {
			t.Errorf("UnitState(%q).IsTerminal() = %v, want %v", tt.state, got, tt.terminal)
		}
	}
}

func TestUnitState_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from  UnitState
		to    UnitState
		valid bool
	}{
		// Valid transitions
		{UnitStatePending, UnitStateRunning, true},
		{UnitStatePending, UnitStateCancelled, true},
		{UnitStateRunning, UnitStateCompleted, true},
		{UnitStateRunning, UnitStateTimedOut, true},
		{UnitStateRunning, UnitStateCancelled, true},
		{UnitStateRunning, UnitStateError, true},

		// Invalid transitions
		{UnitStatePending, UnitStateCompleted, false},
		{UnitStatePending, UnitStateTimedOut, false},
		{UnitStateCompleted, UnitStateError, false},
		{UnitStateTimedOut, UnitStateCompleted, false},
		{UnitStateCancelled, UnitStateRunning, false},
		{UnitStateError, UnitStatePending, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.valid {
			t.Errorf("UnitState(%q).CanTransitionTo(%q) = %v, want %v", tt.from, tt.to, got, tt.valid)
		}
	}
}

func TestRunState_IsTerminal(t *testing.T) {
	tests := []struct {
		state    RunState
		terminal bool
	}{
		{RunStateRunning, false},
		{RunStateCompleted, true},
		{RunStateStopped, true},
		{RunStateFailed, true},
		{RunStateInterrupted, true},
	}
	for _, tt := range tests {
		if got := tt.state.IsTerminal(); got != tt.terminal {
			t.Errorf("RunState(%q).IsTerminal() = %v, want %v", tt.state, got, tt.terminal)
		}
	}
}

func TestRunState_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from  RunState
		to    RunState
		valid bool
	}{
		{RunStateRunning, RunStateCompleted, true},
		{RunStateRunning, RunStateInterrupted, true},
		{RunStateCompleted, RunStateRunning, false},
		{RunStateFailed, RunStateCompleted, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.valid {
			t.Errorf("RunState(%q).CanTransitionTo(%q) = %v, want %v", tt.from, tt.to, got, tt.valid)
		}
	}
}
