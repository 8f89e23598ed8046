// Package engine runs a batch of independent work units over a bounded
// worker pool, with a per-unit timeout, isolated per-unit logs and result
// aggregation.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/me/hybpiper/internal/logging"
	"github.com/me/hybpiper/pkg/model"
)

// ProcessRecorder receives the id of every external process a unit starts.
type ProcessRecorder interface {
	RegisterPID(pid int)
}

// Job is handed to the runner for one unit.
type Job struct {
	Unit string
	// Logger writes to the unit's isolated log.
	Logger *slog.Logger
	Procs  ProcessRecorder
}

// Runner executes one work unit end to end. It must return promptly once
// ctx is done.
type Runner interface {
	RunUnit(ctx context.Context, job Job) (model.UnitResult, error)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, job Job) (model.UnitResult, error)

func (f RunnerFunc) RunUnit(ctx context.Context, job Job) (model.UnitResult, error) {
	return f(ctx, job)
}

// Config controls one engine.
type Config struct {
	// Workers bounds the number of concurrently running units; <= 0 means
	// unlimited.
	Workers int
	// Timeout is the per-unit wall-clock limit, measured from the moment the
	// unit gets a worker slot. Zero disables it.
	Timeout time.Duration
	// WorkDir holds one directory per unit; isolated logs are written there.
	WorkDir string
	// KeepIntermediate retains isolated unit logs after re-aggregation.
	KeepIntermediate bool
	// Label names the batch in progress lines, e.g. "exonerate".
	Label string
	// Progress receives the progress line. Nil discards it.
	Progress io.Writer
}

// Engine schedules unit tasks.
type Engine struct {
	cfg        Config
	runner     Runner
	state      *BatchState
	logger     *slog.Logger
	now        func() time.Time
	onProgress func(unit string, done, total int)
}

// New creates an engine. state is shared with whatever needs the process
// record, typically the interrupt supervisor; nil creates a private one.
func New(cfg Config, runner Runner, state *BatchState, logger *slog.Logger) *Engine {
	if state == nil {
		state = NewBatchState()
	}
	if cfg.Progress == nil {
		cfg.Progress = io.Discard
	}
	if cfg.Label == "" {
		cfg.Label = "unit"
	}
	return &Engine{
		cfg:    cfg,
		runner: runner,
		state:  state,
		logger: logger.With("component", "engine"),
		now:    time.Now,
	}
}

// OnProgress registers a callback invoked after each unit is collected.
func (e *Engine) OnProgress(fn func(unit string, done, total int)) {
	e.onProgress = fn
}

// State returns the shared batch state.
func (e *Engine) State() *BatchState {
	return e.state
}

type outcome struct {
	result model.UnitResult
	err    error
}

// Run executes every unit and returns the aggregate once all of them are
// terminal. If ctx is cancelled the batch is abandoned and ErrInterrupted is
// returned without an aggregate.
func (e *Engine) Run(ctx context.Context, units []string) (*Aggregate, error) {
	start := e.now()
	e.state.Begin(len(units))
	var slots *semaphore.Weighted
	if e.cfg.Workers > 0 {
		slots = semaphore.NewWeighted(int64(e.cfg.Workers))
	}

	e.logger.Info("starting batch", "label", e.cfg.Label, "units", len(units),
		"workers", e.cfg.Workers, "timeout", e.cfg.Timeout)

	completed := make(chan *Future, len(units))
	futures := make([]*Future, 0, len(units))
	for _, u := range units {
		f := newFuture(u, e.now())
		futures = append(futures, f)
		go e.execute(ctx, slots, f, completed)
	}

	agg := newAggregate()
	for range futures {
		select {
		case f := <-completed:
			if ctx.Err() != nil {
				return nil, ErrInterrupted
			}
			e.collect(f, agg)
		case <-ctx.Done():
			return nil, ErrInterrupted
		}
	}
	if ctx.Err() != nil {
		return nil, ErrInterrupted
	}

	// Every future has already been collected; this only confirms it.
	for _, f := range futures {
		<-f.Done()
	}

	agg.finalize(e.now().Sub(start))
	e.logSummary(agg)
	return agg, nil
}

func (e *Engine) execute(ctx context.Context, slots *semaphore.Weighted, f *Future, completed chan<- *Future) {
	defer func() { completed <- f }()

	if !acquire(ctx, slots) {
		f.settle(model.UnitStateCancelled, model.UnitResult{Unit: f.Unit}, context.Canceled, e.now())
		return
	}
	f.markRunning(e.now())

	// release frees the slot and the unit log once the runner has returned.
	release := func(ulog *logging.UnitLog) {
		if ulog != nil {
			ulog.Close()
		}
		if slots != nil {
			slots.Release(1)
		}
	}

	ulog, err := logging.OpenUnitLog(filepath.Join(e.cfg.WorkDir, f.Unit), f.Unit, e.now())
	if err != nil {
		release(nil)
		f.settle(model.UnitStateError, model.UnitResult{Unit: f.Unit}, err, e.now())
		return
	}
	f.setLogPath(ulog.Path)

	taskCtx, cancel := e.taskContext(ctx)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		var o outcome
		defer func() {
			if r := recover(); r != nil {
				o = outcome{result: model.UnitResult{Unit: f.Unit}, err: &PanicError{Unit: f.Unit, Value: r, Stack: debug.Stack()}}
			}
			done <- o
		}()
		o.result, o.err = e.runner.RunUnit(taskCtx, Job{Unit: f.Unit, Logger: ulog.Logger, Procs: e.state})
	}()

	select {
	case o := <-done:
		e.settleFinished(ctx, taskCtx, f, o, ulog.Logger)
		release(ulog)
	case <-taskCtx.Done():
		e.settleAbandoned(ctx, f, ulog.Logger)
		// An abandoned runner keeps its slot until it returns, so the pool
		// never runs more than Workers units at once.
		go func() {
			<-done
			release(ulog)
		}()
	}
}

// acquire takes a worker slot; a nil semaphore is unbounded. A cancelled
// batch starts no new units even when a slot is free.
func acquire(ctx context.Context, slots *semaphore.Weighted) bool {
	if ctx.Err() != nil {
		return false
	}
	return slots == nil || slots.Acquire(ctx, 1) == nil
}

func (e *Engine) taskContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.cfg.Timeout > 0 {
		return context.WithTimeout(ctx, e.cfg.Timeout)
	}
	return context.WithCancel(ctx)
}

// settleFinished classifies a runner that returned. A runner that failed
// because its deadline passed is a timeout, not an error.
func (e *Engine) settleFinished(ctx, taskCtx context.Context, f *Future, o outcome, logger *slog.Logger) {
	if o.result.Unit == "" {
		o.result.Unit = f.Unit
	}
	switch {
	case o.err == nil:
		f.settle(model.UnitStateCompleted, o.result, nil, e.now())
	case ctx.Err() != nil:
		f.settle(model.UnitStateCancelled, o.result, o.err, e.now())
	case errors.Is(taskCtx.Err(), context.DeadlineExceeded):
		logger.Warn("unit timed out", "timeout", e.cfg.Timeout, "error", o.err)
		f.settle(model.UnitStateTimedOut, o.result, ErrTimedOut, e.now())
	default:
		var pe *PanicError
		if errors.As(o.err, &pe) {
			logger.Debug("unit panicked", "error", pe.Value, "stack", string(pe.Stack))
		}
		logger.Error("unit failed", "error", o.err)
		f.settle(model.UnitStateError, o.result, o.err, e.now())
	}
}

// settleAbandoned handles a unit whose context ended before the runner
// returned.
func (e *Engine) settleAbandoned(ctx context.Context, f *Future, logger *slog.Logger) {
	res := model.UnitResult{Unit: f.Unit}
	if ctx.Err() != nil {
		f.settle(model.UnitStateCancelled, res, ctx.Err(), e.now())
		return
	}
	logger.Warn("unit timed out", "timeout", e.cfg.Timeout)
	f.settle(model.UnitStateTimedOut, res, ErrTimedOut, e.now())
}

// collect re-emits the unit's isolated log, advances progress and records
// the outcome. It runs only on the collecting goroutine, so each unit's log
// lines form one contiguous block in the main log.
func (e *Engine) collect(f *Future, agg *Aggregate) {
	e.relog(f)
	done, total := e.state.Complete()
	fmt.Fprintf(e.cfg.Progress, "\r%-10s Finished running %s for gene %s, %d/%d", "[INFO]:", e.cfg.Label, f.Unit, done, total)
	if done == total {
		fmt.Fprintln(e.cfg.Progress)
	}
	if e.onProgress != nil {
		e.onProgress(f.Unit, done, total)
	}
	agg.add(f.Outcome(), f.Elapsed())
}

func (e *Engine) relog(f *Future) {
	path := f.logFile()
	if path == "" {
		return
	}
	lines, err := logging.ReadLines(path)
	if err != nil {
		e.logger.Warn("could not read unit log", "unit", f.Unit, "path", path, "error", err)
		return
	}
	for _, line := range lines {
		e.logger.Debug("unit log", "unit", f.Unit, "line", line)
	}
	if e.cfg.KeepIntermediate {
		return
	}
	if err := os.Remove(path); err != nil {
		e.logger.Warn("could not remove unit log", "unit", f.Unit, "path", path, "error", err)
	}
}

func (e *Engine) logSummary(agg *Aggregate) {
	e.logger.Info("batch finished", "label", e.cfg.Label, "units", agg.Total(),
		"with_sequence", len(agg.Successes()), "duration", formatDuration(agg.Summary.Wall))
	if len(agg.TimedOut) > 0 {
		e.logger.Warn(fmt.Sprintf("the following genes timed out while running %s; consider increasing the timeout", e.cfg.Label),
			"timeout", e.cfg.Timeout, "genes", agg.TimedOut)
	}
	if len(agg.Errored) > 0 {
		e.logger.Warn(fmt.Sprintf("the following genes raised an error while running %s; see the log file for details", e.cfg.Label),
			"genes", agg.Errored)
	}
	if len(agg.IntronFailed) > 0 {
		e.logger.Warn("intron recovery failed for the following genes; their sequences were still recovered",
			"genes", agg.IntronFailed)
	}
	if len(agg.MissingInput) > 0 {
		e.logger.Warn("the following genes were missing input files", "genes", agg.MissingInput)
	}
	PrintBatchSummary(e.cfg.Progress, e.cfg.Label, agg.Summary)
}
