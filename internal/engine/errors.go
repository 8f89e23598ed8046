package engine

import (
	"errors"
	"fmt"
)

// ErrInterrupted is returned when the batch context is cancelled by a user
// interrupt. No aggregate is produced.
var ErrInterrupted = errors.New("batch interrupted")

// ErrTimedOut is recorded on units that exceeded the per-unit timeout.
var ErrTimedOut = errors.New("unit timed out")

// PanicError wraps a panic recovered from a unit runner.
type PanicError struct {
	Unit  string
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("unit %s panicked: %v", e.Unit, e.Value)
}
