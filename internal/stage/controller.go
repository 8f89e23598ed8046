package stage

import (
	"fmt"
	"slices"
)

// Probe reports which artifacts a stage left on disk.
type Probe interface {
	// Artifacts returns the existing outputs of s, and a description of what
	// was looked for, for diagnostics.
	Artifacts(s Stage) (found []string, want string, err error)
}

// Controller carries a validated stage range and decides, per stage, whether
// to run it, skip it or stop after it.
type Controller struct {
	start Stage
	end   Stage
	probe Probe
}

// NewController validates the range and returns a controller for it.
func NewController(start, end Stage, probe Probe) (*Controller, error) {
	if err := Validate(start, end); err != nil {
		return nil, err
	}
	return &Controller{start: start, end: end, probe: probe}, nil
}

func (c *Controller) Start() Stage { return c.start }
func (c *Controller) End() Stage   { return c.end }

// ShouldRun reports whether s is inside the selected range.
func (c *Controller) ShouldRun(s Stage) bool {
	return ShouldRun(s, c.start) && s.Order() <= c.end.Order()
}

// ShouldStopAfter reports whether the run halts after s.
func (c *Controller) ShouldStopAfter(s Stage) bool {
	return ShouldStopAfter(s, c.end)
}

// CheckResumable verifies that the outputs of skipped stage s exist.
func (c *Controller) CheckResumable(s Stage) error {
	return CheckResumable(s, c.probe)
}

// Skipped returns the stages before start, in order.
func (c *Controller) Skipped() []Stage {
	return slices.Clone(ordered[:c.start.Order()])
}

// CheckResumable verifies that skipped stage s left the artifacts a later
// stage depends on. The final stage produces nothing a later stage needs.
func CheckResumable(s Stage, probe Probe) error {
	if s == Last() {
		return nil
	}
	found, want, err := probe.Artifacts(s)
	if err != nil {
		return fmt.Errorf("probe %s artifacts: %w", s, err)
	}
	if len(found) == 0 {
		return &MissingArtifactError{Producer: s, Artifact: want}
	}
	return nil
}
