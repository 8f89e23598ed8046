package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"

	"github.com/me/hybpiper/internal/config"
	"github.com/me/hybpiper/internal/engine"
	"github.com/me/hybpiper/internal/layout"
	"github.com/me/hybpiper/internal/pipeline"
	"github.com/me/hybpiper/internal/store"
	"github.com/me/hybpiper/pkg/model"
)

func execute(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	root := NewRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err = root.Execute()
	return out.String(), errOut.String(), err
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

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, 0},
		{engine.ErrInterrupted, 130},
		{fmt.Errorf("exonerate_contigs: %w", engine.ErrInterrupted), 130},
		{pipeline.ErrNoUnits, 1},
		{&config.ValidationError{Field: "cpu", Message: "bad"}, 1},
		{errors.New("boom"), 1},
	}
	for _, tt := range tests {
		if got := ExitCode(tt.err); got != tt.want {
			t.Errorf("ExitCode(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestResolveAssembleConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "assemble.yaml")
	writeFile(t, path, "cpu: 4\nmapper: diamond\ntimeout_assemble: 10m\nkvals: [21, 33]\n")

	flagged := config.DefaultAssembleConfig()
	fs := pflag.NewFlagSet("assemble", pflag.ContinueOnError)
	fs.IntVar(&flagged.CPU, "cpu", 0, "")
	fs.StringVar(&flagged.Mapper, "mapper", flagged.Mapper, "")
	fs.IntSliceVar(&flagged.Kvals, "kvals", nil, "")
	if err := fs.Parse([]string{"--cpu", "8"}); err != nil {
		t.Fatal(err)
	}

	cfg, err := resolveAssembleConfig(fs, flagged, path)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.CPU != 8 {
		t.Errorf("CPU = %d, want 8 from the flag", cfg.CPU)
	}
	if cfg.Mapper != "diamond" {
		t.Errorf("Mapper = %q, want diamond from the file", cfg.Mapper)
	}
	if cfg.TimeoutAssemble != 10*time.Minute {
		t.Errorf("TimeoutAssemble = %v, want 10m", cfg.TimeoutAssemble)
	}
	if !reflect.DeepEqual(cfg.Kvals, []int{21, 33}) {
		t.Errorf("Kvals = %v", cfg.Kvals)
	}

	got, err := resolveAssembleConfig(fs, flagged, "")
	if err != nil || got.CPU != 8 || got.Mapper != flagged.Mapper {
		t.Errorf("without a file: %+v, %v", got, err)
	}
}

func TestRequiredTools(t *testing.T) {
	tests := []struct {
		name  string
		setup func(c *config.AssembleConfig)
		want  []string
	}{
		{
			name: "defaults",
			want: []string{"blastx", "makeblastdb", "spades.py", "exonerate", "exonerate_hits.py", "intronerate.py"},
		},
		{
			name: "bwa merged without intronerate",
			setup: func(c *config.AssembleConfig) {
				c.Mapper = "bwa"
				c.Merged = true
				c.NoIntronerate = true
			},
			want: []string{"bwa", "samtools", "spades.py", "bbmerge.sh", "exonerate", "exonerate_hits.py"},
		},
		{
			name: "diamond up to distribution",
			setup: func(c *config.AssembleConfig) {
				c.Mapper = "diamond"
				c.EndWith = "distribute_reads"
			},
			want: []string{"diamond"},
		},
		{
			name: "resume at exonerate",
			setup: func(c *config.AssembleConfig) {
				c.StartFrom = "exonerate_contigs"
			},
			want: []string{"exonerate", "exonerate_hits.py", "intronerate.py"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultAssembleConfig()
			if tt.setup != nil {
				tt.setup(&cfg)
			}
			if got := requiredTools(cfg); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("requiredTools = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCheckDependencies(t *testing.T) {
	bin := t.TempDir()
	for _, name := range []string{"blastx", "makeblastdb", "spades.py", "exonerate", "exonerate_hits.py"} {
		if err := os.WriteFile(filepath.Join(bin, name), []byte("#!/bin/sh\n"), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	t.Setenv("PATH", bin)

	out, _, err := execute(t, "check-dependencies")
	if err == nil || !strings.Contains(err.Error(), "intronerate.py") {
		t.Fatalf("err = %v, want intronerate.py missing", err)
	}
	if !strings.Contains(out, "MISSING") {
		t.Errorf("output lacks MISSING line:\n%s", out)
	}

	out, _, err = execute(t, "check-dependencies", "--no_intronerate")
	if err != nil {
		t.Fatalf("check-dependencies: %v", err)
	}
	if !strings.Contains(out, "Everything looks good!") {
		t.Errorf("output:\n%s", out)
	}
}

func TestAssemble_InvalidConfig(t *testing.T) {
	_, _, err := execute(t, "assemble", "--targetfile_aa", "missing.faa", "--no_history")
	var ve *config.ValidationError
	if !errors.As(err, &ve) || ve.Field != "readfiles" {
		t.Fatalf("err = %v, want readfiles ValidationError", err)
	}
	if ExitCode(err) != 1 {
		t.Errorf("ExitCode = %d, want 1", ExitCode(err))
	}
}

// TestAssemble_ExonerateStage resumes a sample at the last stage with a shell
// stitch command standing in for the hit/stitch program.
func TestAssemble_ExonerateStage(t *testing.T) {
	dir := t.TempDir()
	reads := filepath.Join(dir, "s1_R1.fastq")
	targets := filepath.Join(dir, "targets.faa")
	db := filepath.Join(dir, "history.db")
	writeFile(t, reads, "@r1\nACGT\n+\nIIII\n")
	writeFile(t, targets, ">Bra-gene001\nMKPGF\n")

	l := layout.New(filepath.Join(dir, "s1"), "s1", false)
	for _, u := range []string{"gene001", "gene002"} {
		writeFile(t, l.ContigsFile(u), ">NODE_1\nATGAAACCCGGGTTT\n")
		writeFile(t, l.TargetFile(u), ">Bra-"+u+"\nMKPGF\n")
	}

	stitch := `mkdir -p sequences/FNA && printf '>%s\nATGAAACCCGGGTTT\n' {unit} > sequences/FNA/{unit}.FNA`
	out, stderr, err := execute(t, "assemble",
		"-r", reads,
		"--targetfile_aa", targets,
		"-o", dir,
		"--start_from", "exonerate_contigs",
		"--no_intronerate",
		"--skip_dependency_check",
		"--stitch_command", stitch,
		"--history_db", db,
		"--cpu", "2",
	)
	if err != nil {
		t.Fatalf("assemble: %v\nstderr:\n%s", err, stderr)
	}
	if !strings.Contains(out, "Sample s1 finished") || !strings.Contains(out, "genes with sequences:    2") {
		t.Errorf("summary:\n%s", out)
	}
	data, err := os.ReadFile(l.Path(layout.GenesWithSeqs))
	if err != nil {
		t.Fatalf("genes_with_seqs: %v", err)
	}
	if string(data) != "gene001\t15\ngene002\t15\n" {
		t.Errorf("genes_with_seqs = %q", data)
	}
	logs, _ := filepath.Glob(filepath.Join(l.Dir, "s1_hybpiper_assemble_*.log"))
	if len(logs) != 1 {
		t.Errorf("sample logs = %v, want one", logs)
	}

	st, err := store.NewSQLiteStore(db, logger)
	if err != nil {
		t.Fatal(err)
	}
	runs, _, err := st.ListRuns(context.Background(), model.RunQuery{Limit: 10})
	st.Close()
	if err != nil || len(runs) != 1 {
		t.Fatalf("runs = %v, err %v", runs, err)
	}
	if runs[0].State != model.RunStateCompleted || runs[0].StartStage != "exonerate_contigs" {
		t.Errorf("run = %+v", runs[0])
	}

	out, _, err = execute(t, "runs", "list", "--history_db", db)
	if err != nil {
		t.Fatalf("runs list: %v", err)
	}
	if !strings.Contains(out, runs[0].ID) || !strings.Contains(out, "COMPLETED") {
		t.Errorf("runs list:\n%s", out)
	}

	out, _, err = execute(t, "runs", "show", runs[0].ID, "--units", "--history_db", db)
	if err != nil {
		t.Fatalf("runs show: %v", err)
	}
	for _, want := range []string{"skipped", "exonerate_contigs", "WITH_SEQ     2", "gene002"} {
		if !strings.Contains(out, want) {
			t.Errorf("runs show lacks %q:\n%s", want, out)
		}
	}
}

func TestAssemble_InterruptExits130(t *testing.T) {
	dir := t.TempDir()
	reads := filepath.Join(dir, "s1_R1.fastq")
	targets := filepath.Join(dir, "targets.faa")
	db := filepath.Join(dir, "history.db")
	writeFile(t, reads, "@r1\nACGT\n+\nIIII\n")
	writeFile(t, targets, ">Bra-gene001\nMKPGF\n")

	l := layout.New(filepath.Join(dir, "s1"), "s1", false)
	for _, u := range []string{"gene001", "gene002"} {
		writeFile(t, l.ContigsFile(u), ">NODE_1\nATGAAACCCGGGTTT\n")
		writeFile(t, l.TargetFile(u), ">Bra-"+u+"\nMKPGF\n")
	}

	// Each unit finishes its sequence, then interrupts this process the way
	// Ctrl-C would, and lingers until it is killed.
	stitch := `mkdir -p sequences/FNA && printf '>%s\nATGAAACCCGGGTTT\n' {unit} > sequences/FNA/{unit}.FNA && kill -INT $PPID; sleep 5`
	_, stderr, err := execute(t, "assemble",
		"-r", reads,
		"--targetfile_aa", targets,
		"-o", dir,
		"--start_from", "exonerate_contigs",
		"--no_intronerate",
		"--skip_dependency_check",
		"--stitch_command", stitch,
		"--history_db", db,
		"--cpu", "1",
	)
	if got := ExitCode(err); got != 130 {
		t.Fatalf("ExitCode = %d (err %v), want 130\nstderr:\n%s", got, err, stderr)
	}
	if _, err := os.Stat(l.Path(layout.GenesWithSeqs)); !os.IsNotExist(err) {
		t.Errorf("genes_with_seqs written after interrupt: %v", err)
	}

	st, err := store.NewSQLiteStore(db, logger)
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	runs, _, err := st.ListRuns(context.Background(), model.RunQuery{Limit: 10})
	if err != nil || len(runs) != 1 {
		t.Fatalf("runs = %v, err %v", runs, err)
	}
	if runs[0].State != model.RunStateInterrupted {
		t.Errorf("run state = %s, want INTERRUPTED", runs[0].State)
	}
}

func TestRunsShow_NotFound(t *testing.T) {
	db := filepath.Join(t.TempDir(), "history.db")
	_, _, err := execute(t, "runs", "show", "run_missing", "--history_db", db)
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestOutcomeCounts(t *testing.T) {
	got := outcomeCounts([]model.UnitOutcome{
		{Unit: "a", State: model.UnitStateCompleted, Result: model.UnitResult{Length: 10}},
		{Unit: "b", State: model.UnitStateCompleted},
		{Unit: "c", State: model.UnitStateTimedOut},
	})
	want := []string{"WITH_SEQ     1", "COMPLETED    2", "TIMED_OUT    1"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("outcomeCounts = %q, want %q", got, want)
	}
}
