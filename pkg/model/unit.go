package model

import "time"

// UnitResult is the structured outcome reported by the unit task runner.
type UnitResult struct {
	Unit string `json:"unit"`
	// Length is the length of the stitched result sequence; zero means no
	// sequence was produced.
	Length     int           `json:"length"`
	Elapsed    time.Duration `json:"elapsed"`
	StopCodons bool          `json:"stop_codons"`
	Intron     IntronOutcome `json:"intron"`

	// MissingInput is set when an expected per-unit input file was absent.
	// It is a terminal failure result, not an error.
	MissingInput bool   `json:"missing_input,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

// HasSequence reports whether the unit produced a result sequence.
func (r UnitResult) HasSequence() bool {
	return r.Length > 0
}

// UnitOutcome pairs a unit's terminal task state with its result.
type UnitOutcome struct {
	Unit   string     `json:"unit"`
	State  UnitState  `json:"state"`
	Result UnitResult `json:"result"`
	Error  string     `json:"error,omitempty"`
}

// Succeeded reports whether the unit completed and produced a sequence.
// Intron-recovery failure does not affect success.
func (o UnitOutcome) Succeeded() bool {
	return o.State == UnitStateCompleted && o.Result.HasSequence()
}
