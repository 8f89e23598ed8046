package stage

import (
	"errors"
	"testing"
)

type fakeProbe struct {
	found map[Stage][]string
	calls int
}

func (p *fakeProbe) Artifacts(s Stage) ([]string, string, error) {
	p.calls++
	return p.found[s], "artifact for " + string(s), nil
}

func TestNewController_RejectsBadOrder(t *testing.T) {
	probe := &fakeProbe{}
	_, err := NewController(ExonerateContigs, MapReads, probe)
	var oe *OrderError
	if !errors.As(err, &oe) {
		t.Fatalf("NewController error = %v, want *OrderError", err)
	}
	if probe.calls != 0 {
		t.Errorf("probe called %d times, want 0", probe.calls)
	}
}

func TestController_Range(t *testing.T) {
	c, err := NewController(DistributeReads, AssembleReads, &fakeProbe{})
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	want := map[Stage]bool{
		MapReads:         false,
		DistributeReads:  true,
		AssembleReads:    true,
		ExonerateContigs: false,
	}
	for s, w := range want {
		if got := c.ShouldRun(s); got != w {
			t.Errorf("ShouldRun(%s) = %v, want %v", s, got, w)
		}
	}
	if !c.ShouldStopAfter(AssembleReads) {
		t.Error("ShouldStopAfter(assemble_reads) = false, want true")
	}
	skipped := c.Skipped()
	if len(skipped) != 1 || skipped[0] != MapReads {
		t.Errorf("Skipped() = %v, want [map_reads]", skipped)
	}
	skipped[0] = ExonerateContigs
	_ = append(skipped, ExonerateContigs)
	if got := All(); got[0] != MapReads || got[1] != DistributeReads {
		t.Errorf("All() = %v after editing Skipped()", got)
	}
	if again := c.Skipped(); again[0] != MapReads {
		t.Errorf("Skipped() = %v after editing an earlier result", again)
	}
}

func TestCheckResumable(t *testing.T) {
	probe := &fakeProbe{found: map[Stage][]string{
		MapReads: {"s1/s1.bam"},
	}}

	if err := CheckResumable(MapReads, probe); err != nil {
		t.Errorf("CheckResumable(map_reads) = %v, want nil", err)
	}

	err := CheckResumable(DistributeReads, probe)
	var me *MissingArtifactError
	if !errors.As(err, &me) {
		t.Fatalf("CheckResumable(distribute_reads) = %v, want *MissingArtifactError", err)
	}
	if me.Producer != DistributeReads {
		t.Errorf("Producer = %s, want %s", me.Producer, DistributeReads)
	}
	if me.Artifact != "artifact for distribute_reads" {
		t.Errorf("Artifact = %q", me.Artifact)
	}

	if err := CheckResumable(ExonerateContigs, probe); err != nil {
		t.Errorf("CheckResumable(exonerate_contigs) = %v, want nil", err)
	}
}

func TestCheckResumable_ProbeError(t *testing.T) {
	err := CheckResumable(MapReads, errProbe{})
	if err == nil {
		t.Fatal("expected error")
	}
	var me *MissingArtifactError
	if errors.As(err, &me) {
		t.Error("probe failure should not be reported as a missing artifact")
	}
}

type errProbe struct{}

func (errProbe) Artifacts(Stage) ([]string, string, error) {
	return nil, "", errors.New("permission denied")
}
