package pipeline

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/me/hybpiper/internal/assembly"
	"github.com/me/hybpiper/internal/config"
	"github.com/me/hybpiper/internal/distribute"
	"github.com/me/hybpiper/internal/engine"
	"github.com/me/hybpiper/internal/layout"
	"github.com/me/hybpiper/internal/mapping"
	"github.com/me/hybpiper/internal/stage"
	"github.com/me/hybpiper/internal/store"
	"github.com/me/hybpiper/internal/unit"
	"github.com/me/hybpiper/pkg/model"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

type fakeMapper struct {
	l     layout.Layout
	calls int
}

func (f *fakeMapper) Method() mapping.Method { return mapping.MethodBLASTX }

func (f *fakeMapper) Map(_ context.Context, req mapping.Request) (*mapping.Result, error) {
	f.calls++
	if err := os.WriteFile(req.Layout.MappingFile(), []byte("read1\tBra-gene001\t90\n"), 0o644); err != nil {
		return nil, err
	}
	return &mapping.Result{Mapping: req.Layout.MappingFile()}, nil
}

type fakeDistributor struct {
	units []string
	calls int
}

func (f *fakeDistributor) Distribute(_ context.Context, req distribute.Request) (*distribute.Result, error) {
	f.calls++
	for _, u := range f.units {
		if err := os.MkdirAll(req.Layout.UnitDir(u), 0o755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(req.Layout.InterleavedFile(u), []byte(">r/1\nACGT\n>r/2\nACGT\n"), 0o644); err != nil {
			return nil, err
		}
		if err := os.WriteFile(req.Layout.TargetFile(u), []byte(">Bra-"+u+"\nMKPGF\n"), 0o644); err != nil {
			return nil, err
		}
	}
	return &distribute.Result{Reads: 2 * len(f.units), Units: f.units}, nil
}

type fakeAssembler struct {
	fail  map[string]bool
	calls int
	units []string
}

func (f *fakeAssembler) Assemble(_ context.Context, req assembly.Request) (*assembly.Result, error) {
	f.calls++
	f.units = req.Units
	res := &assembly.Result{}
	for _, u := range req.Units {
		if f.fail[u] {
			res.Failed = append(res.Failed, u)
			continue
		}
		if err := os.WriteFile(req.Layout.ContigsFile(u), []byte(">NODE_1\nATGAAACCCGGGTTT\n"), 0o644); err != nil {
			return nil, err
		}
		res.Assembled = append(res.Assembled, u)
	}
	var list []byte
	for _, u := range res.Assembled {
		list = append(list, u+"\n"...)
	}
	if err := os.WriteFile(req.Layout.Path(layout.ExonerateGeneList), list, 0o644); err != nil {
		return nil, err
	}
	return res, nil
}

// fakeStitcher writes a stitched sequence for every unit not in noSeq. With
// interrupt set, the first call cancels the run and waits for cancellation.
type fakeStitcher struct {
	l         layout.Layout
	noSeq     map[string]bool
	interrupt context.CancelFunc

	mu    sync.Mutex
	units []string
}

func (f *fakeStitcher) Stitch(ctx context.Context, req unit.Request) error {
	f.mu.Lock()
	f.units = append(f.units, req.Unit)
	f.mu.Unlock()
	if f.interrupt != nil {
		f.interrupt()
		<-ctx.Done()
		return ctx.Err()
	}
	if f.noSeq[req.Unit] {
		return nil
	}
	path := f.l.FNAFile(req.Unit)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(">"+req.Unit+"\nATGAAACCCGGGTTT\n"), 0o644)
}

func (f *fakeStitcher) stitched() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]string(nil), f.units...)
	sort.Strings(out)
	return out
}

type fixture struct {
	cfg         config.AssembleConfig
	l           layout.Layout
	mapper      *fakeMapper
	distributor *fakeDistributor
	assembler   *fakeAssembler
	stitcher    *fakeStitcher
	recorder    *Recorder
	store       *store.SQLiteStore
	history     store.Store // defaults to store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := config.DefaultAssembleConfig()
	cfg.ReadFiles = []string{"s1_R1.fastq", "s1_R2.fastq"}
	cfg.Prefix = "s1"
	cfg.OutputFolder = t.TempDir()
	cfg.TargetAA = "targets.faa"
	cfg.CPU = 2
	l := layout.New(filepath.Join(cfg.OutputFolder, "s1"), "s1", false)

	st, err := store.NewSQLiteStore(":memory:", quietLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	return &fixture{
		cfg:         cfg,
		l:           l,
		mapper:      &fakeMapper{l: l},
		distributor: &fakeDistributor{units: []string{"gene001", "gene002", "gene003"}},
		assembler:   &fakeAssembler{},
		stitcher:    &fakeStitcher{l: l},
		store:       st,
	}
}

func (f *fixture) run(t *testing.T, ctx context.Context) (*Summary, error) {
	t.Helper()
	start, _ := stage.Parse(f.cfg.StartFrom)
	end, _ := stage.Parse(f.cfg.EndWith)
	var history store.Store = f.store
	if f.history != nil {
		history = f.history
	}
	f.recorder = NewRecorder(history, "s1", f.l.Dir, start, end, quietLogger())

	reg := mapping.NewRegistry(quietLogger())
	reg.Register(f.mapper)
	p, err := New(f.cfg, Deps{
		Mappers:     reg,
		Distributor: f.distributor,
		Assembler:   f.assembler,
		Stitcher:    f.stitcher,
		Recorder:    f.recorder,
	}, quietLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p.Run(ctx)
}

func (f *fixture) storedRun(t *testing.T) *model.Run {
	t.Helper()
	run, err := f.store.GetRun(context.Background(), f.recorder.RunID())
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	return run
}

func TestRun_AllStages(t *testing.T) {
	f := newFixture(t)
	f.assembler.fail = map[string]bool{"gene003": true}

	sum, err := f.run(t, context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if f.mapper.calls != 1 || f.distributor.calls != 1 || f.assembler.calls != 1 {
		t.Errorf("calls: map=%d distribute=%d assemble=%d, want 1 each",
			f.mapper.calls, f.distributor.calls, f.assembler.calls)
	}
	if got := f.stitcher.stitched(); len(got) != 2 || got[0] != "gene001" || got[1] != "gene002" {
		t.Errorf("stitched = %v, want [gene001 gene002]", got)
	}
	if sum.Reads != 6 || sum.StoppedAfter != "" || sum.Counts == nil || sum.Counts.WithSequence != 2 {
		t.Errorf("summary = %+v", sum)
	}
	if len(sum.AssemblyFailed) != 1 || sum.AssemblyFailed[0] != "gene003" {
		t.Errorf("AssemblyFailed = %v", sum.AssemblyFailed)
	}

	data, err := os.ReadFile(f.l.Path(layout.GenesWithSeqs))
	if err != nil {
		t.Fatalf("read genes_with_seqs: %v", err)
	}
	if string(data) != "gene001\t15\ngene002\t15\n" {
		t.Errorf("genes_with_seqs = %q", data)
	}

	run := f.storedRun(t)
	if run.State != model.RunStateCompleted || run.CompletedAt == nil {
		t.Errorf("run = %+v", run)
	}
	events, _ := f.store.ListStageEvents(context.Background(), run.ID)
	if len(events) != 4 {
		t.Fatalf("events = %+v, want 4", events)
	}
	for _, ev := range events {
		if ev.Action != model.StageActionRan {
			t.Errorf("event %+v, want ran", ev)
		}
	}
	outcomes, _ := f.store.ListUnitOutcomes(context.Background(), run.ID)
	if len(outcomes) != 2 {
		t.Errorf("outcomes = %+v", outcomes)
	}
}

func TestRun_BadStageOrder(t *testing.T) {
	f := newFixture(t)
	f.cfg.StartFrom = "exonerate_contigs"
	f.cfg.EndWith = "map_reads"

	_, err := f.run(t, context.Background())
	var oe *stage.OrderError
	if !errors.As(err, &oe) {
		t.Fatalf("err = %v, want *stage.OrderError", err)
	}
	if f.mapper.calls+f.distributor.calls+f.assembler.calls != 0 || len(f.stitcher.stitched()) != 0 {
		t.Error("collaborators called before stage validation")
	}
	if _, err := os.Stat(f.l.Dir); !os.IsNotExist(err) {
		t.Errorf("sample dir created before validation: %v", err)
	}
	if run := f.storedRun(t); run.State != model.RunStateFailed {
		t.Errorf("run state = %s, want FAILED", run.State)
	}
}

func TestRun_ResumeMissingArtifact(t *testing.T) {
	tests := []struct {
		start    string
		producer stage.Stage
	}{
		{"distribute_reads", stage.MapReads},
		{"assemble_reads", stage.DistributeReads},
		{"exonerate_contigs", stage.AssembleReads},
	}
	for _, tt := range tests {
		t.Run(tt.start, func(t *testing.T) {
			f := newFixture(t)
			f.cfg.StartFrom = tt.start

			_, err := f.run(t, context.Background())
			var me *stage.MissingArtifactError
			if !errors.As(err, &me) {
				t.Fatalf("err = %v, want *stage.MissingArtifactError", err)
			}
			if me.Producer != tt.producer {
				t.Errorf("Producer = %s, want %s", me.Producer, tt.producer)
			}
			if f.distributor.calls+f.assembler.calls != 0 || len(f.stitcher.stitched()) != 0 {
				t.Error("dependent stage ran despite missing artifact")
			}
		})
	}
}

func TestRun_StopAfterEndStage(t *testing.T) {
	f := newFixture(t)
	f.cfg.EndWith = "assemble_reads"

	sum, err := f.run(t, context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.StoppedAfter != stage.AssembleReads {
		t.Errorf("StoppedAfter = %q, want assemble_reads", sum.StoppedAfter)
	}
	if n := len(f.stitcher.stitched()); n != 0 {
		t.Errorf("stitcher called %d times after early stop", n)
	}
	if run := f.storedRun(t); run.State != model.RunStateStopped {
		t.Errorf("run state = %s, want STOPPED", run.State)
	}
	events, _ := f.store.ListStageEvents(context.Background(), f.recorder.RunID())
	if last := events[len(events)-1]; last.Action != model.StageActionStopped || last.Stage != "assemble_reads" {
		t.Errorf("last event = %+v", last)
	}
}

func TestRun_ResumeExonerateFromContigs(t *testing.T) {
	f := newFixture(t)
	f.cfg.StartFrom = "exonerate_contigs"
	f.cfg.UnitFilter = "unit.name !== 'gene002'"
	for _, u := range []string{"gene001", "gene002", "gene003"} {
		writeFile(t, f.l.ContigsFile(u), ">NODE_1\nATGAAACCCGGGTTT\n")
		writeFile(t, f.l.TargetFile(u), ">Bra-"+u+"\nMKPGF\n")
	}

	sum, err := f.run(t, context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := f.stitcher.stitched(); len(got) != 2 || got[0] != "gene001" || got[1] != "gene003" {
		t.Errorf("stitched = %v, want [gene001 gene003]", got)
	}
	if sum.Counts.WithSequence != 2 {
		t.Errorf("WithSequence = %d, want 2", sum.Counts.WithSequence)
	}
	events, _ := f.store.ListStageEvents(context.Background(), f.recorder.RunID())
	if len(events) != 4 || events[0].Action != model.StageActionSkipped || events[3].Action != model.StageActionRan {
		t.Errorf("events = %+v", events)
	}
}

func TestRun_NoUnits(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *fixture)
	}{
		{"nothing distributed", func(f *fixture) { f.distributor.units = nil }},
		{"nothing assembled", func(f *fixture) {
			f.assembler.fail = map[string]bool{"gene001": true, "gene002": true, "gene003": true}
		}},
		{"no sequences", func(f *fixture) {
			f.stitcher.noSeq = map[string]bool{"gene001": true, "gene002": true, "gene003": true}
		}},
		{"filter rejects all", func(f *fixture) { f.cfg.UnitFilter = "false" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.setup(f)
			_, err := f.run(t, context.Background())
			if !errors.Is(err, ErrNoUnits) {
				t.Fatalf("err = %v, want ErrNoUnits", err)
			}
			if run := f.storedRun(t); run.State != model.RunStateFailed || run.Error == "" {
				t.Errorf("run = %+v", run)
			}
		})
	}
}

func TestRun_Interrupted(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.stitcher.interrupt = cancel

	_, err := f.run(t, ctx)
	if !errors.Is(err, engine.ErrInterrupted) {
		t.Fatalf("err = %v, want ErrInterrupted", err)
	}
	if _, err := os.Stat(f.l.Path(layout.GenesWithSeqs)); !os.IsNotExist(err) {
		t.Errorf("genes_with_seqs written after interrupt: %v", err)
	}
	if run := f.storedRun(t); run.State != model.RunStateInterrupted {
		t.Errorf("run state = %s, want INTERRUPTED", run.State)
	}
}

// cancellingStore cancels the run once the batch outcomes are saved, the
// way a signal arriving right after the last unit would.
type cancellingStore struct {
	store.Store
	cancel context.CancelFunc
}

func (s cancellingStore) SaveUnitOutcomes(ctx context.Context, runID string, outcomes []model.UnitOutcome) error {
	err := s.Store.SaveUnitOutcomes(ctx, runID, outcomes)
	s.cancel()
	return err
}

func TestRun_InterruptedAfterBatch(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.history = cancellingStore{Store: f.store, cancel: cancel}

	sum, err := f.run(t, ctx)
	if !errors.Is(err, engine.ErrInterrupted) {
		t.Fatalf("err = %v, want ErrInterrupted", err)
	}
	if sum.Counts != nil {
		t.Errorf("Counts = %+v, want nil after interrupt", sum.Counts)
	}
	if _, err := os.Stat(f.l.Path(layout.GenesWithSeqs)); !os.IsNotExist(err) {
		t.Errorf("genes_with_seqs written after interrupt: %v", err)
	}
	if run := f.storedRun(t); run.State != model.RunStateInterrupted {
		t.Errorf("run state = %s, want INTERRUPTED", run.State)
	}
}

func TestDiscardReports(t *testing.T) {
	f := newFixture(t)
	sum, err := f.run(t, context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	p, err := New(f.cfg, Deps{}, quietLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	seqs := f.l.Path(layout.GenesWithSeqs)

	// Nothing written by this run: reports of an earlier run stay.
	p.DiscardReports(&Summary{})
	if _, err := os.Stat(seqs); err != nil {
		t.Fatalf("earlier report removed: %v", err)
	}

	p.DiscardReports(sum)
	if sum.Counts != nil {
		t.Error("Counts not cleared")
	}
	if _, err := os.Stat(seqs); !os.IsNotExist(err) {
		t.Errorf("genes_with_seqs still present: %v", err)
	}
}

func TestNew_BadUnitFilter(t *testing.T) {
	cfg := config.DefaultAssembleConfig()
	cfg.UnitFilter = "unit.name ==="
	_, err := New(cfg, Deps{}, quietLogger())
	var ve *config.ValidationError
	if !errors.As(err, &ve) || ve.Field != "unit_filter" {
		t.Fatalf("err = %v, want unit_filter ValidationError", err)
	}
}

func TestNilRecorder(t *testing.T) {
	var r *Recorder
	ctx := context.Background()
	r.Begin(ctx)
	r.Stage(ctx, stage.MapReads, model.StageActionRan)
	r.Units(ctx, nil)
	r.Finish(ctx, nil, nil)
	if r.RunID() != "" {
		t.Errorf("RunID = %q, want empty", r.RunID())
	}
}

func TestRunState(t *testing.T) {
	tests := []struct {
		sum  *Summary
		err  error
		want model.RunState
	}{
		{&Summary{}, nil, model.RunStateCompleted},
		{&Summary{StoppedAfter: stage.DistributeReads}, nil, model.RunStateStopped},
		{nil, ErrNoUnits, model.RunStateFailed},
		{nil, engine.ErrInterrupted, model.RunStateInterrupted},
	}
	for _, tt := range tests {
		if got := RunState(tt.sum, tt.err); got != tt.want {
			t.Errorf("RunState(%+v, %v) = %s, want %s", tt.sum, tt.err, got, tt.want)
		}
	}
}
