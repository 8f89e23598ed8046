package engine

import (
	"sort"
	"time"

	"github.com/me/hybpiper/pkg/model"
)

// Aggregate is the per-batch result: one outcome per unit plus the warning
// buckets. Bucket membership does not exclude success; a unit whose intron
// recovery failed still counts as a success.
type Aggregate struct {
	Outcomes map[string]model.UnitOutcome

	TimedOut     []string
	Errored      []string
	Cancelled    []string
	IntronFailed []string
	MissingInput []string

	Summary *BatchSummary

	metrics []UnitMetrics
}

func newAggregate() *Aggregate {
	return &Aggregate{Outcomes: make(map[string]model.UnitOutcome)}
}

func (a *Aggregate) add(o model.UnitOutcome, elapsed time.Duration) {
	a.Outcomes[o.Unit] = o
	switch o.State {
	case model.UnitStateTimedOut:
		a.TimedOut = append(a.TimedOut, o.Unit)
	case model.UnitStateError:
		a.Errored = append(a.Errored, o.Unit)
	case model.UnitStateCancelled:
		a.Cancelled = append(a.Cancelled, o.Unit)
	case model.UnitStateCompleted:
		if o.Result.Intron == model.IntronFailed {
			a.IntronFailed = append(a.IntronFailed, o.Unit)
		}
		if o.Result.MissingInput {
			a.MissingInput = append(a.MissingInput, o.Unit)
		}
	}
	a.metrics = append(a.metrics, UnitMetrics{Unit: o.Unit, Duration: elapsed, State: o.State})
}

func (a *Aggregate) finalize(wall time.Duration) {
	for _, b := range [][]string{a.TimedOut, a.Errored, a.Cancelled, a.IntronFailed, a.MissingInput} {
		sort.Strings(b)
	}
	a.Summary = ComputeBatchSummary(a.metrics, wall)
}

// Total is the number of collected units.
func (a *Aggregate) Total() int {
	return len(a.Outcomes)
}

// Successes returns the results of units that completed with a sequence,
// sorted by unit name.
func (a *Aggregate) Successes() []model.UnitResult {
	var out []model.UnitResult
	for _, o := range a.Outcomes {
		if o.Succeeded() {
			out = append(out, o.Result)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Unit < out[j].Unit })
	return out
}

// StopCodonUnits returns the sorted names of successful units whose sequence
// contains internal stop codons.
func (a *Aggregate) StopCodonUnits() []string {
	var out []string
	for _, r := range a.Successes() {
		if r.StopCodons {
			out = append(out, r.Unit)
		}
	}
	return out
}

// SortedOutcomes returns every outcome sorted by unit name.
func (a *Aggregate) SortedOutcomes() []model.UnitOutcome {
	out := make([]model.UnitOutcome, 0, len(a.Outcomes))
	for _, o := range a.Outcomes {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Unit < out[j].Unit })
	return out
}
