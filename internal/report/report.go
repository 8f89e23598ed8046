// Package report writes the sample-level report files once the
// exonerate_contigs batch has completed.
package report

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/me/hybpiper/internal/engine"
	"github.com/me/hybpiper/internal/layout"
)

// Per-unit files written by the stitching collaborator into <unit>/<sample>/.
const (
	StitchedContigReport = "genes_with_stitched_contig.csv"
	ChimeraReport        = "putative_chimeric_stitched_contig.csv"
	LongParalogWarning   = "paralog_warning_long.txt"
	DepthParalogWarning  = "paralog_warning_by_contig_depth.txt"
)

// Counts summarises what was written.
type Counts struct {
	WithSequence   int
	StopCodons     int
	IntronFailed   int
	StitchedContig int
	Chimeric       int
	LongParalogs   int
	DepthParalogs  int
}

// Files returns the sample-level report paths, in the order Write creates
// them.
func Files(l layout.Layout) []string {
	s := l.Sample
	return []string{
		l.Path(layout.GenesWithSeqs),
		l.Path(s + "_genes_with_non_terminal_stop_codons.txt"),
		l.Path(s + "_genes_with_failed_intronerate.txt"),
		l.Path(s + "_genes_with_stitched_contig.csv"),
		l.Path(s + "_genes_derived_from_putative_chimeric_stitched_contig.csv"),
		l.Path(s + "_genes_with_long_paralog_warnings.txt"),
		l.Path(s + "_genes_with_paralog_warnings_by_contig_depth.csv"),
	}
}

// Write produces the report set for a completed batch.
func Write(l layout.Layout, agg *engine.Aggregate) (*Counts, error) {
	files := Files(l)
	c := &Counts{}

	var seqs bytes.Buffer
	for _, r := range agg.Successes() {
		fmt.Fprintf(&seqs, "%s\t%d\n", r.Unit, r.Length)
		c.WithSequence++
	}
	if err := os.WriteFile(files[0], seqs.Bytes(), 0o644); err != nil {
		return nil, err
	}

	stops := agg.StopCodonUnits()
	c.StopCodons = len(stops)
	if err := writeLines(files[1], stops); err != nil {
		return nil, err
	}
	c.IntronFailed = len(agg.IntronFailed)
	if err := writeLines(files[2], agg.IntronFailed); err != nil {
		return nil, err
	}

	var err error
	if c.StitchedContig, err = concat(l, StitchedContigReport, files[3]); err != nil {
		return nil, err
	}
	if c.Chimeric, err = concat(l, ChimeraReport, files[4]); err != nil {
		return nil, err
	}
	if c.LongParalogs, err = longParalogs(l, files[5]); err != nil {
		return nil, err
	}
	if c.DepthParalogs, err = depthParalogs(l, files[6]); err != nil {
		return nil, err
	}
	return c, nil
}

// Remove deletes any report files left by a previous run.
func Remove(l layout.Layout) error {
	for _, f := range Files(l) {
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// unitReports returns <unit>/<sample>/<name> for every unit that has it.
func unitReports(l layout.Layout, name string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(l.Dir, "*", l.Sample, name))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}

// concat joins every per-unit copy of name into out and returns how many
// units had one.
func concat(l layout.Layout, name, out string) (int, error) {
	reports, err := unitReports(l, name)
	if err != nil {
		return 0, err
	}
	var buf bytes.Buffer
	for _, r := range reports {
		data, err := os.ReadFile(r)
		if err != nil {
			return 0, err
		}
		buf.Write(data)
		if len(data) > 0 && data[len(data)-1] != '\n' {
			buf.WriteByte('\n')
		}
	}
	return len(reports), os.WriteFile(out, buf.Bytes(), 0o644)
}

// longParalogs lists the gene named on the first line of each long-paralog
// warning.
func longParalogs(l layout.Layout, out string) (int, error) {
	reports, err := unitReports(l, LongParalogWarning)
	if err != nil {
		return 0, err
	}
	var genes []string
	for _, r := range reports {
		line, err := firstLine(r)
		if err != nil {
			return 0, err
		}
		if f := strings.Fields(line); len(f) > 0 {
			genes = append(genes, f[0])
		}
	}
	return len(genes), writeLines(out, genes)
}

// depthParalogs collects the first line of each depth warning and counts the
// ones flagged True.
func depthParalogs(l layout.Layout, out string) (int, error) {
	reports, err := unitReports(l, DepthParalogWarning)
	if err != nil {
		return 0, err
	}
	var lines []string
	flagged := 0
	for _, r := range reports {
		line, err := firstLine(r)
		if err != nil {
			return 0, err
		}
		if line == "" {
			continue
		}
		if f := strings.Fields(line); f[len(f)-1] == "True" {
			flagged++
		}
		lines = append(lines, line)
	}
	return flagged, writeLines(out, lines)
}

func firstLine(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	if sc.Scan() {
		return strings.TrimSpace(sc.Text()), nil
	}
	return "", sc.Err()
}

func writeLines(path string, lines []string) error {
	var b strings.Builder
	for _, l := range lines {
		b.WriteString(l)
		b.WriteByte('\n')
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}
