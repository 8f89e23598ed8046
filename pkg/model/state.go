package model

// UnitState represents the lifecycle state of one scheduled work-unit task.
type UnitState string

const (
	UnitStatePending   UnitState = "PENDING"
	UnitStateRunning   UnitState = "RUNNING"
	UnitStateCompleted UnitState = "COMPLETED"
	UnitStateTimedOut  UnitState = "TIMED_OUT"
	UnitStateCancelled UnitState = "CANCELLED"
	UnitStateError     UnitState = "ERROR"
)

// String returns the string representation of the unit state.
func (s UnitState) String() string {
	return string(s)
}

// IsTerminal returns true if the unit task is in a final state.
func (s UnitState) IsTerminal() bool {
	switch s {
	case UnitStateCompleted, UnitStateTimedOut, UnitStateCancelled, UnitStateError:
		return true
	}
	return false
}

// ValidUnitTransitions defines the allowed state transitions for unit tasks.
// A pending task may be cancelled before it ever acquires a worker slot.
var ValidUnitTransitions = map[UnitState][]UnitState{
	UnitStatePending: {UnitStateRunning, UnitStateCancelled},
	UnitStateRunning: {UnitStateCompleted, UnitStateTimedOut, UnitStateCancelled, UnitStateError},
}

// CanTransitionTo returns true if moving from the current state to next is valid.
func (s UnitState) CanTransitionTo(next UnitState) bool {
	for _, allowed := range ValidUnitTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// RunState represents the lifecycle state of one pipeline run.
type RunState string

const (
	RunStateRunning     RunState = "RUNNING"
	RunStateCompleted   RunState = "COMPLETED"
	RunStateStopped     RunState = "STOPPED"
	RunStateFailed      RunState = "FAILED"
	RunStateInterrupted RunState = "INTERRUPTED"
)

// String returns the string representation of the run state.
func (s RunState) String() string {
	return string(s)
}

// IsTerminal returns true if the run is in a final state.
func (s RunState) IsTerminal() bool {
	switch s {
	case RunStateCompleted, RunStateStopped, RunStateFailed, RunStateInterrupted:
		return true
	}
	return false
}

// ValidRunTransitions defines the allowed state transitions for runs.
var ValidRunTransitions = map[RunState][]RunState{
	RunStateRunning: {RunStateCompleted, RunStateStopped, RunStateFailed, RunStateInterrupted},
}

// CanTransitionTo returns true if moving from the current state to next is valid.
func (s RunState) CanTransitionTo(next RunState) bool {
	for _, allowed := range ValidRunTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IntronOutcome is the result of the optional intron-recovery step of a unit.
type IntronOutcome string

const (
	IntronNotApplicable IntronOutcome = "N/A"
	IntronSucceeded     IntronOutcome = "SUCCEEDED"
	IntronFailed        IntronOutcome = "FAILED"
)
