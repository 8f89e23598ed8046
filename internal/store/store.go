package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/me/hybpiper/pkg/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Store defines the persistence layer for run history.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, run *model.Run) error
	GetRun(ctx context.Context, id string) (*model.Run, error)
	ListRuns(ctx context.Context, opts model.RunQuery) ([]*model.Run, int, error)
	UpdateRun(ctx context.Context, run *model.Run) error

	// Stage decisions and unit outcomes of a run
	AddStageEvent(ctx context.Context, ev model.StageEvent) error
	ListStageEvents(ctx context.Context, runID string) ([]model.StageEvent, error)
	SaveUnitOutcomes(ctx context.Context, runID string, outcomes []model.UnitOutcome) error
	ListUnitOutcomes(ctx context.Context, runID string) ([]model.UnitOutcome, error)

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return "run_" + uuid.New().String()
}
