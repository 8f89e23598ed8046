// Package assembly implements the assemble_reads stage with SPAdes.
package assembly

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/me/hybpiper/internal/layout"
	"github.com/me/hybpiper/internal/toolexec"
)

// DefaultRetryKvals is used for the retry pass when no k values were given.
// SPAdes picks 21,33,55,77 for short reads; the retry drops the largest.
var DefaultRetryKvals = []int{21, 33, 55}

// Request is the input of one assembly run.
type Request struct {
	Layout layout.Layout
	Units  []string

	// Paired means the main reads of each unit are interleaved pairs.
	Paired bool
	// Unpaired means an extra unpaired reads file may exist per unit.
	Unpaired bool
	// Merged merges overlapping pairs with bbmerge.sh before assembly.
	Merged bool

	CPU              int
	CovCutoff        int
	Kvals            []int
	SingleCell       bool
	Timeout          time.Duration
	KeepIntermediate bool
}

// Result lists which units produced contigs.
type Result struct {
	Assembled []string
	Failed    []string
}

// Backend assembles distributed reads into per-unit contigs.
type Backend interface {
	Assemble(ctx context.Context, req Request) (*Result, error)
}

// SPAdes runs one spades.py process per unit.
type SPAdes struct {
	exec   toolexec.CommandRunner
	logger *slog.Logger
}

// NewSPAdes creates a SPAdes backend.
func NewSPAdes(exec toolexec.CommandRunner, logger *slog.Logger) *SPAdes {
	return &SPAdes{exec: exec, logger: logger.With("component", "assembly")}
}

func (s *SPAdes) Assemble(ctx context.Context, req Request) (*Result, error) {
	l := req.Layout
	for _, name := range []string{layout.SpadesGeneList, layout.FailedSpades, layout.SpadesDuds, layout.ExonerateGeneList} {
		if err := os.Remove(l.Path(name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}
	if err := writeList(l.Path(layout.SpadesGeneList), req.Units); err != nil {
		return nil, err
	}

	if req.Merged && req.Paired {
		if err := s.merge(ctx, req); err != nil {
			return nil, err
		}
	}

	s.logger.Info("running SPAdes", "units", len(req.Units), "cpu", req.CPU)
	failed := s.runAll(ctx, req, req.Units, req.Kvals)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.logger.Info("finished initial SPAdes assemblies", "failed", len(failed))

	var duds []string
	if len(failed) > 0 {
		if err := writeList(l.Path(layout.FailedSpades), failed); err != nil {
			return nil, err
		}
		retryK := retryKvals(req.Kvals)
		s.logger.Info("re-running failed SPAdes assemblies", "units", len(failed), "k", joinInts(retryK))
		duds = s.runAll(ctx, req, failed, retryK)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(duds) == 0 {
			s.logger.Info("all SPAdes re-runs completed successfully")
		} else {
			if err := writeList(l.Path(layout.SpadesDuds), duds); err != nil {
				return nil, err
			}
			s.logger.Warn("SPAdes assemblies failed", "units", len(duds))
		}
	}

	res := &Result{Failed: duds}
	for _, u := range req.Units {
		if !slices.Contains(duds, u) {
			res.Assembled = append(res.Assembled, u)
		}
		if !req.KeepIntermediate {
			if err := os.RemoveAll(l.SpadesDir(u)); err != nil {
				s.logger.Warn("removing SPAdes folder", "unit", u, "error", err)
			}
		}
	}
	if err := writeList(l.Path(layout.ExonerateGeneList), res.Assembled); err != nil {
		return nil, err
	}
	return res, nil
}

// runAll assembles units with at most CPU concurrent spades.py processes and
// returns the units that failed, in input order.
func (s *SPAdes) runAll(ctx context.Context, req Request, units []string, kvals []int) []string {
	ok := make([]bool, len(units))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(req.CPU, 1))
	for i, u := range units {
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			if err := s.runOne(gctx, req, u, kvals); err != nil {
				s.logger.Debug("SPAdes assembly failed", "unit", u, "error", err)
				return nil
			}
			ok[i] = true
			return nil
		})
	}
	_ = g.Wait()

	var failed []string
	for i, u := range units {
		if !ok[i] {
			failed = append(failed, u)
		}
	}
	return failed
}

func (s *SPAdes) runOne(ctx context.Context, req Request, unit string, kvals []int) error {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}
	l := req.Layout
	out := l.SpadesDir(unit)
	if err := os.RemoveAll(out); err != nil {
		return err
	}

	if _, err := s.exec.Run(ctx, toolexec.Spec{
		Name: "spades.py",
		Args: spadesArgs(req, unit, kvals),
		Dir:  l.Dir,
	}); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("timed out after %s", req.Timeout)
		}
		return err
	}

	contigs, err := os.ReadFile(filepath.Join(out, "contigs.fasta"))
	if err != nil {
		return fmt.Errorf("no contigs: %w", err)
	}
	if len(contigs) == 0 {
		return errors.New("empty contigs file")
	}
	return os.WriteFile(l.ContigsFile(unit), contigs, 0o644)
}

func spadesArgs(req Request, unit string, kvals []int) []string {
	l := req.Layout
	args := []string{"spades.py", "--only-assembler", "--threads", "1",
		"--cov-cutoff", strconv.Itoa(req.CovCutoff)}
	if req.SingleCell {
		args = append(args, "--sc")
	}
	if len(kvals) > 0 {
		args = append(args, "-k", joinInts(kvals))
	}
	switch {
	case req.Paired && req.Merged:
		args = append(args, "--merged", mergedFile(l, unit), "--12", unmergedFile(l, unit))
	case req.Paired:
		args = append(args, "--12", l.InterleavedFile(unit))
	}
	if (!req.Paired || req.Unpaired) && layout.NonEmpty(l.UnpairedFile(unit)) {
		args = append(args, "-s", l.UnpairedFile(unit))
	}
	return append(args, "-o", l.SpadesDir(unit))
}

// merge runs bbmerge.sh on each unit's interleaved reads. A merge failure is
// fatal for the stage.
func (s *SPAdes) merge(ctx context.Context, req Request) error {
	s.logger.Info("merging reads for SPAdes assembly", "units", len(req.Units))
	l := req.Layout
	var mu sync.Mutex
	var errs []error
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(req.CPU, 1))
	for _, u := range req.Units {
		g.Go(func() error {
			_, err := s.exec.Run(gctx, toolexec.Spec{
				Name: "bbmerge.sh",
				Args: []string{"bbmerge.sh", "interleaved=true",
					"in=" + l.InterleavedFile(u),
					"out=" + mergedFile(l, u),
					"outu=" + unmergedFile(l, u)},
				Dir: l.Dir,
			})
			if err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("merge reads for %s: %w", u, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return err
	}
	return errors.Join(errs...)
}

func mergedFile(l layout.Layout, unit string) string {
	return filepath.Join(l.UnitDir(unit), unit+"_merged.fasta")
}

func unmergedFile(l layout.Layout, unit string) string {
	return filepath.Join(l.UnitDir(unit), unit+"_unmerged.fasta")
}

func retryKvals(kvals []int) []int {
	if len(kvals) == 0 {
		return DefaultRetryKvals
	}
	k := slices.Clone(kvals)
	slices.Sort(k)
	if len(k) > 1 {
		k = k[:len(k)-1]
	}
	return k
}

func joinInts(v []int) string {
	s := make([]string, len(v))
	for i, n := range v {
		s[i] = strconv.Itoa(n)
	}
	return strings.Join(s, ",")
}

func writeList(path string, items []string) error {
	var b strings.Builder
	for _, it := range items {
		b.WriteString(it)
		b.WriteByte('\n')
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

// ReadList reads a one-name-per-line list such as exonerate_genelist.txt.
func ReadList(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, line := range strings.Split(string(data), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out, nil
}
