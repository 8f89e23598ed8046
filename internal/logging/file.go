package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// TimestampLayout is the suffix format used for log file names.
const TimestampLayout = "2006-01-02-15_04_05"

// SampleLogPath returns the path of the per-sample debug log for a run
// started at t.
func SampleLogPath(sampleDir, sample string, t time.Time) string {
	return filepath.Join(sampleDir, fmt.Sprintf("%s_hybpiper_assemble_%s.log", sample, t.Format(TimestampLayout)))
}

// NewSampleLogger builds the main run logger: console output at level in the
// given format, plus a debug-level text copy in the file at path. The caller
// closes the returned file when the run ends.
func NewSampleLogger(level slog.Level, format string, console io.Writer, path string) (*slog.Logger, *os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	fileHandler := slog.NewTextHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug})
	return slog.New(NewTeeHandler(consoleHandler(console, level, format), fileHandler)), f, nil
}

// UnitLog is an isolated debug-level log owned by a single work unit.
type UnitLog struct {
	Path   string
	Logger *slog.Logger
	file   *os.File
}

// OpenUnitLog creates the isolated log file for unit inside dir. Lines
// written through the returned logger never interleave with other units.
func OpenUnitLog(dir, unit string, t time.Time) (*UnitLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create unit dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("%s_%s.log", unit, t.Format(TimestampLayout)))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open unit log: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug})).With("unit", unit)
	return &UnitLog{Path: path, Logger: logger, file: f}, nil
}

// Close flushes and closes the log file. Writes after Close are dropped.
func (u *UnitLog) Close() error {
	if u == nil || u.file == nil {
		return nil
	}
	return u.file.Close()
}

// ReadLines returns the non-empty lines of the log file at path, in order.
func ReadLines(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var lines []string
	for _, line := range strings.Split(string(data), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, nil
}
