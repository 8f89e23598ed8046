package report

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/me/hybpiper/internal/engine"
	"github.com/me/hybpiper/internal/layout"
	"github.com/me/hybpiper/pkg/model"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", filepath.Base(path), err)
	}
	return string(data)
}

func outcome(unit string, state model.UnitState, length int, stops bool, intron model.IntronOutcome) model.UnitOutcome {
	return model.UnitOutcome{
		Unit:   unit,
		State:  state,
		Result: model.UnitResult{Unit: unit, Length: length, StopCodons: stops, Intron: intron},
	}
}

func TestWrite(t *testing.T) {
	l := layout.New(t.TempDir(), "s1", true)
	agg := &engine.Aggregate{
		Outcomes: map[string]model.UnitOutcome{
			"gene003": outcome("gene003", model.UnitStateCompleted, 300, true, model.IntronSucceeded),
			"gene001": outcome("gene001", model.UnitStateCompleted, 120, false, model.IntronFailed),
			"gene002": outcome("gene002", model.UnitStateTimedOut, 0, false, model.IntronNotApplicable),
			"gene004": outcome("gene004", model.UnitStateCompleted, 0, false, model.IntronNotApplicable),
		},
		TimedOut:     []string{"gene002"},
		IntronFailed: []string{"gene001"},
	}

	sub := func(unit, name string) string { return filepath.Join(l.StitchDir(unit), name) }
	writeFile(t, sub("gene001", StitchedContigReport), "s1,gene001,3 contigs")
	writeFile(t, sub("gene003", StitchedContigReport), "s1,gene003,2 contigs\n")
	writeFile(t, sub("gene003", ChimeraReport), "s1,gene003,chimera\n")
	writeFile(t, sub("gene001", LongParalogWarning), "gene001 NODE_1 NODE_2\nother\n")
	writeFile(t, sub("gene001", DepthParalogWarning), "s1\tgene001\t12.0\tTrue\nsecond line\n")
	writeFile(t, sub("gene003", DepthParalogWarning), "s1\tgene003\t1.0\tFalse\n")

	c, err := Write(l, agg)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	want := Counts{WithSequence: 2, StopCodons: 1, IntronFailed: 1, StitchedContig: 2, Chimeric: 1, LongParalogs: 1, DepthParalogs: 1}
	if *c != want {
		t.Errorf("counts = %+v, want %+v", *c, want)
	}

	files := Files(l)
	checks := []struct {
		path, want string
	}{
		{files[0], "gene001\t120\ngene003\t300\n"},
		{files[1], "gene003\n"},
		{files[2], "gene001\n"},
		{files[3], "s1,gene001,3 contigs\ns1,gene003,2 contigs\n"},
		{files[4], "s1,gene003,chimera\n"},
		{files[5], "gene001\n"},
		{files[6], "s1\tgene001\t12.0\tTrue\ns1\tgene003\t1.0\tFalse\n"},
	}
	for _, ck := range checks {
		if got := readFile(t, ck.path); got != ck.want {
			t.Errorf("%s = %q, want %q", filepath.Base(ck.path), got, ck.want)
		}
	}
}

func TestWrite_EmptyBatch(t *testing.T) {
	l := layout.New(t.TempDir(), "s1", false)
	c, err := Write(l, &engine.Aggregate{Outcomes: map[string]model.UnitOutcome{}})
	if err != nil {
		t.Fatal(err)
	}
	if *c != (Counts{}) {
		t.Errorf("counts = %+v, want zero", *c)
	}
	for _, f := range Files(l) {
		if _, err := os.Stat(f); err != nil {
			t.Errorf("%s not written: %v", filepath.Base(f), err)
		}
	}
}

func TestRemove(t *testing.T) {
	l := layout.New(t.TempDir(), "s1", false)
	for _, f := range Files(l)[:3] {
		writeFile(t, f, "old")
	}
	if err := Remove(l); err != nil {
		t.Fatal(err)
	}
	for _, f := range Files(l) {
		if _, err := os.Stat(f); !os.IsNotExist(err) {
			t.Errorf("%s still present", filepath.Base(f))
		}
	}
	for _, f := range Files(l) {
		if !strings.HasPrefix(f, l.Dir) {
			t.Errorf("%s outside sample dir", f)
		}
	}
}
