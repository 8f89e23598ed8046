package engine

import (
	"sync"
	"time"

	"github.com/me/hybpiper/pkg/model"
)

// Future is the engine's handle on one scheduled unit task. It reaches
// exactly one terminal state and never changes afterwards.
type Future struct {
	Unit      string
	Submitted time.Time

	mu       sync.Mutex
	state    model.UnitState
	started  time.Time
	finished time.Time
	result   model.UnitResult
	err      error
	logPath  string
	done     chan struct{}
}

func newFuture(unit string, now time.Time) *Future {
	return &Future{
		Unit:      unit,
		Submitted: now,
		state:     model.UnitStatePending,
		done:      make(chan struct{}),
	}
}

// State returns the current state.
func (f *Future) State() model.UnitState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Done is closed once the future is terminal.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Result returns the unit result and the task error. Only meaningful once
// Done is closed.
func (f *Future) Result() (model.UnitResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.result, f.err
}

// Outcome summarises the terminal future.
func (f *Future) Outcome() model.UnitOutcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	o := model.UnitOutcome{Unit: f.Unit, State: f.state, Result: f.result}
	if o.Result.Unit == "" {
		o.Result.Unit = f.Unit
	}
	if o.Result.Intron == "" {
		o.Result.Intron = model.IntronNotApplicable
	}
	if f.err != nil {
		o.Error = f.err.Error()
	}
	return o
}

// Elapsed is the time between the task starting and settling.
func (f *Future) Elapsed() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.started.IsZero() || f.finished.IsZero() {
		return 0
	}
	return f.finished.Sub(f.started)
}

func (f *Future) markRunning(now time.Time) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.state.CanTransitionTo(model.UnitStateRunning) {
		return false
	}
	f.state = model.UnitStateRunning
	f.started = now
	return true
}

func (f *Future) setLogPath(p string) {
	f.mu.Lock()
	f.logPath = p
	f.mu.Unlock()
}

func (f *Future) logFile() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logPath
}

// settle moves the future to a terminal state. Only the first call has an
// effect; it reports whether this call won.
func (f *Future) settle(state model.UnitState, result model.UnitResult, err error, now time.Time) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state.IsTerminal() || !f.state.CanTransitionTo(state) {
		return false
	}
	f.state = state
	f.result = result
	f.err = err
	f.finished = now
	close(f.done)
	return true
}
