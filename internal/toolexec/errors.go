package toolexec

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors.
var (
	ErrNonZeroExit  = errors.New("command exited with non-zero status")
	ErrEmptyCommand = errors.New("empty command")
)

// ExecutionError wraps a failed external command with its exit status and
// the tail of its stderr.
type ExecutionError struct {
	Command  string
	Err      error
	ExitCode int
	Stderr   string
}

func (e *ExecutionError) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Command, e.Err)
	if e.ExitCode != 0 {
		msg = fmt.Sprintf("%s (exit code %d)", msg, e.ExitCode)
	}
	if tail := lastLine(e.Stderr); tail != "" {
		msg += ": " + tail
	}
	return msg
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
