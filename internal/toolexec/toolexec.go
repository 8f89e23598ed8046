// Package toolexec runs the external tools the pipeline delegates to: read
// mappers, assemblers and the per-unit stitching scripts.
package toolexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// Spec describes one external command.
type Spec struct {
	// Name labels the command in logs and errors, e.g. "bwa mem".
	Name string
	// Args is the argv to execute. Ignored when Shell is set.
	Args []string
	// Shell is a pipeline run through /bin/sh -c.
	Shell string
	// Pipefail runs Shell under bash with pipefail, so a failing stage
	// fails the pipeline.
	Pipefail bool
	Dir      string
	Env      map[string]string

	// Stdout, if set, redirects standard output to this file.
	Stdout       string
	AppendStdout bool

	// Logger overrides the runner's logger for this command.
	Logger *slog.Logger
	// OnStart overrides the runner's start hook for this command.
	OnStart func(pid int)
}

func (s Spec) display() string {
	if s.Shell != "" {
		return s.Shell
	}
	return strings.Join(s.Args, " ")
}

func (s Spec) label() string {
	if s.Name != "" {
		return s.Name
	}
	if s.Shell != "" {
		return strings.Fields(s.Shell)[0]
	}
	return s.Args[0]
}

// Result holds the result of a command execution including metrics.
type Result struct {
	PID          int
	ExitCode     int
	Stdout       string
	Stderr       string
	PeakMemoryKB int64
	StartTime    time.Time
	Duration     time.Duration
}

// CommandRunner executes external commands.
type CommandRunner interface {
	Run(ctx context.Context, spec Spec) (*Result, error)
}

// Runner executes commands as local processes. Each command gets its own
// process group so that cancelling it also kills anything it spawned.
type Runner struct {
	logger  *slog.Logger
	onStart func(pid int)
}

// NewRunner creates a runner. onStart, if non-nil, receives the pid of every
// started process.
func NewRunner(logger *slog.Logger, onStart func(pid int)) *Runner {
	return &Runner{logger: logger, onStart: onStart}
}

// Run executes spec and waits for it. A non-zero exit returns both the
// result and an *ExecutionError wrapping ErrNonZeroExit.
func (r *Runner) Run(ctx context.Context, spec Spec) (*Result, error) {
	if spec.Shell == "" && len(spec.Args) == 0 {
		return nil, ErrEmptyCommand
	}
	logger := r.logger
	if spec.Logger != nil {
		logger = spec.Logger
	}
	onStart := r.onStart
	if spec.OnStart != nil {
		onStart = spec.OnStart
	}

	var cmd *exec.Cmd
	switch {
	case spec.Shell != "" && spec.Pipefail:
		cmd = exec.CommandContext(ctx, "bash", "-o", "pipefail", "-c", spec.Shell)
	case spec.Shell != "":
		cmd = exec.CommandContext(ctx, "/bin/sh", "-c", spec.Shell)
	default:
		cmd = exec.CommandContext(ctx, spec.Args[0], spec.Args[1:]...)
	}
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range spec.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return killGroup(cmd.Process.Pid)
	}
	cmd.WaitDelay = 5 * time.Second

	var stdoutBuf, stderrBuf bytes.Buffer
	if spec.Stdout != "" {
		flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
		if spec.AppendStdout {
			flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
		}
		f, err := os.OpenFile(spec.Stdout, flags, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open stdout file: %w", err)
		}
		defer f.Close()
		cmd.Stdout = f
	} else {
		cmd.Stdout = &stdoutBuf
	}
	cmd.Stderr = &stderrBuf

	if logger != nil {
		logger.Info("[CMD]: " + spec.display())
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, &ExecutionError{Command: spec.label(), Err: err}
	}
	if onStart != nil {
		onStart(cmd.Process.Pid)
	}
	err := cmd.Wait()

	res := &Result{
		PID:          cmd.Process.Pid,
		Stdout:       stdoutBuf.String(),
		Stderr:       stderrBuf.String(),
		PeakMemoryKB: peakRSSKB(cmd.ProcessState),
		StartTime:    start,
		Duration:     time.Since(start),
	}
	if logger != nil {
		logOutput(logger, spec.label(), "stdout", res.Stdout)
		logOutput(logger, spec.label(), "stderr", res.Stderr)
	}

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, fmt.Errorf("%s: %w", spec.label(), ctxErr)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, &ExecutionError{Command: spec.label(), Err: ErrNonZeroExit, ExitCode: res.ExitCode, Stderr: res.Stderr}
		}
		return res, &ExecutionError{Command: spec.label(), Err: err, Stderr: res.Stderr}
	}
	return res, nil
}

func logOutput(logger *slog.Logger, name, stream, out string) {
	out = strings.TrimSpace(out)
	if out == "" {
		return
	}
	logger.Debug(name+" "+stream, "output", out)
}

// killGroup kills the process group led by pid.
func killGroup(pid int) error {
	err := unix.Kill(-pid, unix.SIGKILL)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}

// Dependency is the lookup result for one external executable.
type Dependency struct {
	Name  string
	Path  string
	Found bool
}

// CheckDependencies looks up each executable on PATH.
func CheckDependencies(names []string) []Dependency {
	out := make([]Dependency, 0, len(names))
	for _, n := range names {
		p, err := exec.LookPath(n)
		out = append(out, Dependency{Name: n, Path: p, Found: err == nil})
	}
	return out
}

// Missing returns the names of dependencies that were not found.
func Missing(deps []Dependency) []string {
	var out []string
	for _, d := range deps {
		if !d.Found {
			out = append(out, d.Name)
		}
	}
	return out
}

// Quote returns s quoted for safe use in a /bin/sh command line.
func Quote(s string) string {
	if s != "" && strings.IndexFunc(s, func(r rune) bool {
		return !(r == '/' || r == '.' || r == '_' || r == '-' || r == ':' || r == '+' || r == '=' ||
			(r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'))
	}) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// peakRSSKB reads the maximum resident set size of a finished process.
// Darwin reports ru_maxrss in bytes, Linux in kilobytes.
func peakRSSKB(ps *os.ProcessState) int64 {
	if ps == nil {
		return 0
	}
	ru, ok := ps.SysUsage().(*syscall.Rusage)
	if !ok || ru == nil {
		return 0
	}
	if runtime.GOOS == "darwin" {
		return int64(ru.Maxrss) / 1024
	}
	return int64(ru.Maxrss)
}
