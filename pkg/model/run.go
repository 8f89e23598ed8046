package model

import "time"

// Run is one recorded invocation of the assemble pipeline for a sample.
type Run struct {
	ID          string     `json:"id"`
	Sample      string     `json:"sample"`
	SampleDir   string     `json:"sample_dir"`
	StartStage  string     `json:"start_stage"`
	EndStage    string     `json:"end_stage"`
	State       RunState   `json:"state"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// StageAction records what the controller did with a stage.
type StageAction string

const (
	StageActionRan     StageAction = "ran"
	StageActionSkipped StageAction = "skipped"
	StageActionStopped StageAction = "stopped"
)

// StageEvent is one stage decision made during a run.
type StageEvent struct {
	RunID  string      `json:"run_id"`
	Stage  string      `json:"stage"`
	Action StageAction `json:"action"`
	At     time.Time   `json:"at"`
}
