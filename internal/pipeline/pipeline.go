// Package pipeline runs the stages of one sample: map reads, distribute them
// to genes, assemble each gene and stitch the per-gene results.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"

	"github.com/me/hybpiper/internal/assembly"
	"github.com/me/hybpiper/internal/config"
	"github.com/me/hybpiper/internal/distribute"
	"github.com/me/hybpiper/internal/engine"
	"github.com/me/hybpiper/internal/layout"
	"github.com/me/hybpiper/internal/mapping"
	"github.com/me/hybpiper/internal/report"
	"github.com/me/hybpiper/internal/stage"
	"github.com/me/hybpiper/internal/unit"
	"github.com/me/hybpiper/internal/unitfilter"
	"github.com/me/hybpiper/pkg/model"
)

// ErrNoUnits is returned when a stage leaves no gene to carry on with.
var ErrNoUnits = errors.New("no units")

// Deps are the collaborators of a run.
type Deps struct {
	Mappers     *mapping.Registry
	Distributor distribute.Backend
	Assembler   assembly.Backend
	Stitcher    unit.HitStitcher
	// Intron is nil when intron recovery is disabled.
	Intron unit.IntronRecoverer

	// State is shared with the interrupt supervisor.
	State    *engine.BatchState
	Recorder *Recorder
	Progress io.Writer
}

// Summary describes a finished run.
type Summary struct {
	// StoppedAfter is set when the run ended early at the requested end stage.
	StoppedAfter   stage.Stage
	Reads          int
	Distributed    []string
	Assembled      []string
	AssemblyFailed []string
	Aggregate      *engine.Aggregate
	Counts         *report.Counts
}

// Pipeline runs one sample.
type Pipeline struct {
	cfg    config.AssembleConfig
	deps   Deps
	layout layout.Layout
	method mapping.Method
	filter *unitfilter.Filter
	cpu    int
	logger *slog.Logger
}

// New prepares a run of cfg. cfg must already be validated; New compiles the
// unit filter and touches nothing on disk.
func New(cfg config.AssembleConfig, deps Deps, logger *slog.Logger) (*Pipeline, error) {
	method, err := mapping.ParseMethod(cfg.Mapper)
	if err != nil {
		return nil, &config.ValidationError{Field: "mapper", Message: err.Error()}
	}
	filter, err := unitfilter.Compile(cfg.UnitFilter)
	if err != nil {
		return nil, &config.ValidationError{Field: "unit_filter", Message: err.Error()}
	}
	if deps.State == nil {
		deps.State = engine.NewBatchState()
	}
	if deps.Progress == nil {
		deps.Progress = io.Discard
	}
	cpu := cfg.CPU
	if cpu <= 0 {
		cpu = runtime.NumCPU()
	}
	return &Pipeline{
		cfg:    cfg,
		deps:   deps,
		layout: layout.New(cfg.SampleDir(), cfg.SampleName(), method.Nucleotide()),
		method: method,
		filter: filter,
		cpu:    cpu,
		logger: logger.With("component", "pipeline", "sample", cfg.SampleName()),
	}, nil
}

// Layout returns the sample's file layout.
func (p *Pipeline) Layout() layout.Layout {
	return p.layout
}

// Run executes the selected stage range. Stopping after an end stage other
// than the last is a successful run. A cancelled ctx yields
// engine.ErrInterrupted.
func (p *Pipeline) Run(ctx context.Context) (*Summary, error) {
	sum := &Summary{}
	rec := p.deps.Recorder
	rec.Begin(ctx)
	err := p.run(ctx, sum)
	if ctx.Err() != nil && !errors.Is(err, engine.ErrInterrupted) {
		if err == nil {
			err = engine.ErrInterrupted
		} else {
			err = fmt.Errorf("%w: %v", engine.ErrInterrupted, err)
		}
	}
	if errors.Is(err, engine.ErrInterrupted) {
		p.DiscardReports(sum)
	}
	rec.Finish(ctx, sum, err)
	return sum, err
}

// DiscardReports removes the sample-level reports this run wrote. Reports
// left by earlier runs are kept.
func (p *Pipeline) DiscardReports(sum *Summary) {
	if sum == nil || sum.Counts == nil {
		return
	}
	sum.Counts = nil
	if err := report.Remove(p.layout); err != nil {
		p.logger.Warn("could not remove reports of interrupted run", "error", err)
	}
}

func (p *Pipeline) run(ctx context.Context, sum *Summary) error {
	start, err := stage.Parse(p.cfg.StartFrom)
	if err != nil {
		return err
	}
	end, err := stage.Parse(p.cfg.EndWith)
	if err != nil {
		return err
	}
	ctrl, err := stage.NewController(start, end, p.layout)
	if err != nil {
		return err
	}

	rec := p.deps.Recorder
	skipped := ctrl.Skipped()
	for _, s := range skipped {
		p.logger.Info("skipping stage", "stage", s)
		rec.Stage(ctx, s, model.StageActionSkipped)
	}
	// The start stage consumes the outputs of the stage right before it.
	if len(skipped) > 0 {
		if err := ctrl.CheckResumable(skipped[len(skipped)-1]); err != nil {
			return err
		}
	}

	if err := os.MkdirAll(p.layout.Dir, 0o755); err != nil {
		return fmt.Errorf("create sample directory: %w", err)
	}

	for _, s := range stage.All() {
		if !ctrl.ShouldRun(s) {
			continue
		}
		if ctx.Err() != nil {
			return engine.ErrInterrupted
		}
		p.logger.Info("running stage", "stage", s)
		if err := p.runStage(ctx, s, sum); err != nil {
			return fmt.Errorf("%s: %w", s, err)
		}
		rec.Stage(ctx, s, model.StageActionRan)
		if ctrl.ShouldStopAfter(s) {
			if s != stage.Last() {
				p.logger.Info("stopping after requested end stage", "stage", s)
				rec.Stage(ctx, s, model.StageActionStopped)
				sum.StoppedAfter = s
			}
			return nil
		}
	}
	return nil
}

func (p *Pipeline) runStage(ctx context.Context, s stage.Stage, sum *Summary) error {
	switch s {
	case stage.MapReads:
		return p.mapReads(ctx)
	case stage.DistributeReads:
		return p.distributeReads(ctx, sum)
	case stage.AssembleReads:
		return p.assembleReads(ctx, sum)
	case stage.ExonerateContigs:
		return p.exonerateContigs(ctx, sum)
	}
	return fmt.Errorf("unknown stage %q", s)
}

// selectUnits applies the unit filter.
func (p *Pipeline) selectUnits(units []string) ([]string, error) {
	if p.filter == nil {
		return units, nil
	}
	selected, err := p.filter.Select(unitfilter.Describe(p.layout, p.cfg.Paired(), units))
	if err != nil {
		return nil, err
	}
	p.logger.Info("unit filter applied", "filter", p.filter.String(), "before", len(units), "after", len(selected))
	return selected, nil
}
