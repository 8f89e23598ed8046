package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/me/hybpiper/internal/engine"
	"github.com/me/hybpiper/internal/stage"
	"github.com/me/hybpiper/internal/store"
	"github.com/me/hybpiper/pkg/model"
)

// Recorder writes a run's history to the store. A nil *Recorder records
// nothing. Store failures are logged and never fail the run.
type Recorder struct {
	store  store.Store
	run    *model.Run
	logger *slog.Logger
	now    func() time.Time
}

// NewRecorder returns a recorder for a new run of sample.
func NewRecorder(st store.Store, sample, sampleDir string, start, end stage.Stage, logger *slog.Logger) *Recorder {
	return &Recorder{
		store: st,
		run: &model.Run{
			ID:         store.NewRunID(),
			Sample:     sample,
			SampleDir:  sampleDir,
			StartStage: start.String(),
			EndStage:   end.String(),
			State:      model.RunStateRunning,
		},
		logger: logger.With("component", "recorder"),
		now:    time.Now,
	}
}

// RunID is the id of the recorded run, or "" for a nil recorder.
func (r *Recorder) RunID() string {
	if r == nil {
		return ""
	}
	return r.run.ID
}

// Begin inserts the run record.
func (r *Recorder) Begin(ctx context.Context) {
	if r == nil {
		return
	}
	r.run.CreatedAt = r.now().UTC()
	if err := r.store.CreateRun(ctx, r.run); err != nil {
		r.logger.Warn("could not record run", "run_id", r.run.ID, "error", err)
	}
}

// Stage records a controller decision.
func (r *Recorder) Stage(ctx context.Context, s stage.Stage, action model.StageAction) {
	if r == nil {
		return
	}
	ev := model.StageEvent{RunID: r.run.ID, Stage: s.String(), Action: action, At: r.now().UTC()}
	if err := r.store.AddStageEvent(context.WithoutCancel(ctx), ev); err != nil {
		r.logger.Warn("could not record stage event", "stage", s, "action", action, "error", err)
	}
}

// Units records the outcomes of a finished batch.
func (r *Recorder) Units(ctx context.Context, outcomes []model.UnitOutcome) {
	if r == nil {
		return
	}
	if err := r.store.SaveUnitOutcomes(context.WithoutCancel(ctx), r.run.ID, outcomes); err != nil {
		r.logger.Warn("could not record unit outcomes", "count", len(outcomes), "error", err)
	}
}

// Finish stores the final state of the run.
func (r *Recorder) Finish(ctx context.Context, sum *Summary, err error) {
	if r == nil {
		return
	}
	done := r.now().UTC()
	r.run.State = RunState(sum, err)
	r.run.CompletedAt = &done
	if err != nil {
		r.run.Error = err.Error()
	}
	if uerr := r.store.UpdateRun(context.WithoutCancel(ctx), r.run); uerr != nil {
		r.logger.Warn("could not record run state", "run_id", r.run.ID, "error", uerr)
	}
}

// RunState maps the result of Pipeline.Run onto a run state.
func RunState(sum *Summary, err error) model.RunState {
	switch {
	case errors.Is(err, engine.ErrInterrupted):
		return model.RunStateInterrupted
	case err != nil:
		return model.RunStateFailed
	case sum != nil && sum.StoppedAfter != "":
		return model.RunStateStopped
	default:
		return model.RunStateCompleted
	}
}
