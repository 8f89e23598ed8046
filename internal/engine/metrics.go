package engine

import (
	"fmt"
	"io"
	"math"
	"time"

	"github.com/me/hybpiper/pkg/model"
)

// UnitMetrics holds timing for a single unit of a batch.
type UnitMetrics struct {
	Unit     string          `json:"unit"`
	Duration time.Duration   `json:"duration_ns"`
	State    model.UnitState `json:"state"`
}

// BatchSummary holds aggregate statistics for a batch.
type BatchSummary struct {
	Count             int           `json:"count"`
	Wall              time.Duration `json:"wall_ns"`
	DurationAvg       time.Duration `json:"duration_avg_ns"`
	DurationAvgStr    string        `json:"duration_avg"`
	DurationStddev    time.Duration `json:"duration_stddev_ns"`
	DurationStddevStr string        `json:"duration_stddev"`
	Slowest           string        `json:"slowest"`
	SlowestDuration   time.Duration `json:"slowest_ns"`
	CompletedCount    int           `json:"completed_count"`
	TimedOutCount     int           `json:"timed_out_count"`
	ErrorCount        int           `json:"error_count"`
	CancelledCount    int           `json:"cancelled_count"`
}

// ComputeBatchSummary computes aggregate statistics from unit metrics.
func ComputeBatchSummary(units []UnitMetrics, wall time.Duration) *BatchSummary {
	summary := &BatchSummary{Count: len(units), Wall: wall}
	if len(units) == 0 {
		return summary
	}

	var total time.Duration
	for _, u := range units {
		total += u.Duration
		if u.Duration > summary.SlowestDuration {
			summary.SlowestDuration = u.Duration
			summary.Slowest = u.Unit
		}
		switch u.State {
		case model.UnitStateCompleted:
			summary.CompletedCount++
		case model.UnitStateTimedOut:
			summary.TimedOutCount++
		case model.UnitStateError:
			summary.ErrorCount++
		case model.UnitStateCancelled:
			summary.CancelledCount++
		}
	}

	n := len(units)
	summary.DurationAvg = total / time.Duration(n)
	summary.DurationAvgStr = formatDuration(summary.DurationAvg)

	if n > 1 {
		var sumSquaredDiff float64
		avgNs := float64(summary.DurationAvg.Nanoseconds())
		for _, u := range units {
			diff := float64(u.Duration.Nanoseconds()) - avgNs
			sumSquaredDiff += diff * diff
		}
		summary.DurationStddev = time.Duration(int64(math.Sqrt(sumSquaredDiff / float64(n))))
		summary.DurationStddevStr = formatDuration(summary.DurationStddev)
	}

	return summary
}

// PrintBatchSummary prints a short timing summary of a batch.
func PrintBatchSummary(w io.Writer, label string, s *BatchSummary) {
	if s == nil || s.Count == 0 {
		return
	}
	duration := s.DurationAvgStr
	if s.DurationStddev > 0 {
		duration = fmt.Sprintf("%s ± %s", s.DurationAvgStr, s.DurationStddevStr)
	}
	fmt.Fprintf(w, "=== %s batch: %d genes in %s ===\n", label, s.Count, formatDuration(s.Wall))
	fmt.Fprintf(w, "Per gene: %s (slowest %s, %s)\n", duration, s.Slowest, formatDuration(s.SlowestDuration))
	fmt.Fprintf(w, "Completed: %d", s.CompletedCount)
	if s.TimedOutCount > 0 {
		fmt.Fprintf(w, ", %d timed out", s.TimedOutCount)
	}
	if s.ErrorCount > 0 {
		fmt.Fprintf(w, ", %d failed", s.ErrorCount)
	}
	if s.CancelledCount > 0 {
		fmt.Fprintf(w, ", %d cancelled", s.CancelledCount)
	}
	fmt.Fprintln(w)
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %02ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %02dm %02ds", h, m, s)
}
