// Package stage defines the ordered pipeline stages and the rules for
// selecting, skipping and resuming them.
package stage

import (
	"fmt"
	"strings"
)

// Stage is one ordered phase of the assemble pipeline.
type Stage string

const (
	MapReads         Stage = "map_reads"
	DistributeReads  Stage = "distribute_reads"
	AssembleReads    Stage = "assemble_reads"
	ExonerateContigs Stage = "exonerate_contigs"
)

var ordered = []Stage{MapReads, DistributeReads, AssembleReads, ExonerateContigs}

// All returns every stage in execution order.
func All() []Stage {
	out := make([]Stage, len(ordered))
	copy(out, ordered)
	return out
}

// First and Last bound the default stage range.
func First() Stage { return ordered[0] }
func Last() Stage  { return ordered[len(ordered)-1] }

// Order returns the stage's integer index, or -1 for an unknown stage.
func (s Stage) Order() int {
	for i, st := range ordered {
		if st == s {
			return i
		}
	}
	return -1
}

// Valid reports whether s names a known stage.
func (s Stage) Valid() bool {
	return s.Order() >= 0
}

func (s Stage) String() string {
	return string(s)
}

// Parse converts a stage name to a Stage.
func Parse(name string) (Stage, error) {
	s := Stage(strings.TrimSpace(strings.ToLower(name)))
	if !s.Valid() {
		return "", fmt.Errorf("unknown stage %q (valid: %s)", name, strings.Join(names(), ", "))
	}
	return s, nil
}

func names() []string {
	out := make([]string, len(ordered))
	for i, s := range ordered {
		out[i] = string(s)
	}
	return out
}

// Validate checks that start does not come after end. It has no side effects
// and must be called before any stage work begins.
func Validate(start, end Stage) error {
	if !start.Valid() {
		return fmt.Errorf("invalid start stage %q", start)
	}
	if !end.Valid() {
		return fmt.Errorf("invalid end stage %q", end)
	}
	if start.Order() > end.Order() {
		return &OrderError{Start: start, End: end}
	}
	return nil
}

// ShouldRun reports whether s executes when the run begins at start. Stages
// strictly before start are skipped.
func ShouldRun(s, start Stage) bool {
	return s.Order() >= start.Order()
}

// ShouldStopAfter reports whether the run halts, successfully, once s has
// finished.
func ShouldStopAfter(s, end Stage) bool {
	return s == end
}
