// Package distribute implements the distribute_reads stage: it assigns every
// mapped read to the genes it hit and picks each gene's best target.
package distribute

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/dustin/go-humanize"

	"github.com/me/hybpiper/internal/fasta"
	"github.com/me/hybpiper/internal/layout"
	"github.com/me/hybpiper/internal/toolexec"
)

// Request is the input of one distribution run.
type Request struct {
	Layout          layout.Layout
	Mapping         string
	UnpairedMapping string
	ReadFiles       []string
	Unpaired        string
	Target          string

	// PreferredTaxon, if present for a gene, is used as its target.
	PreferredTaxon string
	// Exclude drops a taxon from target selection.
	Exclude string
}

// Result reports what was distributed.
type Result struct {
	Reads int
	Units []string
}

// Backend distributes mapped reads into per-unit directories.
type Backend interface {
	Distribute(ctx context.Context, req Request) (*Result, error)
}

// Distributor is the native Backend. BAM input is read through samtools.
type Distributor struct {
	exec   toolexec.CommandRunner
	logger *slog.Logger
}

// New creates a Distributor.
func New(exec toolexec.CommandRunner, logger *slog.Logger) *Distributor {
	return &Distributor{exec: exec, logger: logger.With("component", "distribute")}
}

func (d *Distributor) Distribute(ctx context.Context, req Request) (*Result, error) {
	old, err := req.Layout.DistributedFiles()
	if err != nil {
		return nil, err
	}
	for _, f := range old {
		if err := os.Remove(f); err != nil {
			return nil, fmt.Errorf("remove previously distributed reads: %w", err)
		}
	}
	if len(old) > 0 {
		d.logger.Debug("removed previously distributed reads", "files", len(old))
	}

	hits := newHitTable()
	if err := d.loadHits(ctx, req, req.Mapping, hits); err != nil {
		return nil, err
	}
	if req.UnpairedMapping != "" {
		if err := d.loadHits(ctx, req, req.UnpairedMapping, hits); err != nil {
			return nil, err
		}
	}

	out := newGeneBuffers()
	paired := len(req.ReadFiles) == 2
	var n int
	if paired {
		n, err = distributePairs(ctx, req.ReadFiles[0], req.ReadFiles[1], hits, out)
	} else {
		n, err = distributeSingles(ctx, req.ReadFiles[0], hits, out, false)
	}
	if err != nil {
		return nil, err
	}
	if req.Unpaired != "" {
		m, err := distributeSingles(ctx, req.Unpaired, hits, out, true)
		if err != nil {
			return nil, err
		}
		n += m
	}

	units := out.genes()
	for _, g := range units {
		if err := out.flush(req.Layout, g, paired); err != nil {
			return nil, err
		}
	}
	if err := d.writeTargets(req, units, hits); err != nil {
		return nil, err
	}

	d.logger.Info("distributed reads", "reads", humanize.Comma(int64(n)), "genes", len(units))
	return &Result{Reads: n, Units: units}, nil
}

func (d *Distributor) loadHits(ctx context.Context, req Request, path string, hits *hitTable) error {
	if filepath.Ext(path) != ".bam" {
		if err := hits.parseBlastTab(path); err != nil {
			return fmt.Errorf("parse hits: %w", err)
		}
		return nil
	}
	sam := path[:len(path)-len(".bam")] + ".sam"
	defer os.Remove(sam)
	if _, err := d.exec.Run(ctx, toolexec.Spec{
		Name:   "samtools view",
		Args:   []string{"samtools", "view", "-F", "4", path},
		Dir:    req.Layout.Dir,
		Stdout: sam,
	}); err != nil {
		return fmt.Errorf("read alignments: %w", err)
	}
	if err := hits.parseSAM(sam); err != nil {
		return fmt.Errorf("parse alignments: %w", err)
	}
	return nil
}

// geneBuffers accumulates reads per gene before they are written.
type geneBuffers struct {
	main     map[string]*bytes.Buffer
	unpaired map[string]*bytes.Buffer
}

func newGeneBuffers() *geneBuffers {
	return &geneBuffers{main: map[string]*bytes.Buffer{}, unpaired: map[string]*bytes.Buffer{}}
}

func (g *geneBuffers) write(gene string, unpaired bool, recs ...fasta.Record) {
	m := g.main
	if unpaired {
		m = g.unpaired
	}
	buf := m[gene]
	if buf == nil {
		buf = &bytes.Buffer{}
		m[gene] = buf
	}
	for _, r := range recs {
		fasta.Write(buf, r)
	}
}

func (g *geneBuffers) genes() []string {
	seen := map[string]bool{}
	for k := range g.main {
		seen[k] = true
	}
	for k := range g.unpaired {
		seen[k] = true
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// flush writes a gene's reads. With paired input, pairs go to the
// interleaved file and unpaired reads to the unpaired file; single-end reads
// go to the unpaired file.
func (g *geneBuffers) flush(l layout.Layout, gene string, paired bool) error {
	if err := os.MkdirAll(l.UnitDir(gene), 0o755); err != nil {
		return err
	}
	if buf := g.main[gene]; buf != nil {
		if err := os.WriteFile(l.ReadsFile(gene, paired), buf.Bytes(), 0o644); err != nil {
			return err
		}
	}
	if buf := g.unpaired[gene]; buf != nil {
		f, err := os.OpenFile(l.UnpairedFile(gene), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return err
		}
		if _, err := f.Write(buf.Bytes()); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	}
	return nil
}

func distributePairs(ctx context.Context, r1, r2 string, hits *hitTable, out *geneBuffers) (int, error) {
	f1, err := fasta.Open(r1)
	if err != nil {
		return 0, fmt.Errorf("open reads: %w", err)
	}
	defer f1.Close()
	f2, err := fasta.Open(r2)
	if err != nil {
		return 0, fmt.Errorf("open reads: %w", err)
	}
	defer f2.Close()

	q1, q2 := fasta.NewFastqReader(f1), fasta.NewFastqReader(f2)
	n := 0
	for i := 0; ; i++ {
		if i%100000 == 0 && ctx.Err() != nil {
			return n, ctx.Err()
		}
		a, errA := q1.Next()
		b, errB := q2.Next()
		if errA == io.EOF && errB == io.EOF {
			return n, nil
		}
		if errA == io.EOF || errB == io.EOF {
			return n, fmt.Errorf("read files %s and %s have different numbers of reads", r1, r2)
		}
		if errA != nil {
			return n, fmt.Errorf("%s: %w", r1, errA)
		}
		if errB != nil {
			return n, fmt.Errorf("%s: %w", r2, errB)
		}
		genes := hits.genes(a.ID)
		if len(genes) == 0 {
			genes = hits.genes(b.ID)
		}
		if len(genes) == 0 {
			continue
		}
		a.ID, b.ID = a.ID+"/1", b.ID+"/2"
		for g := range genes {
			out.write(g, false, a, b)
		}
		n += 2
	}
}

func distributeSingles(ctx context.Context, path string, hits *hitTable, out *geneBuffers, unpaired bool) (int, error) {
	f, err := fasta.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open reads: %w", err)
	}
	defer f.Close()
	q := fasta.NewFastqReader(f)
	n := 0
	for i := 0; ; i++ {
		if i%100000 == 0 && ctx.Err() != nil {
			return n, ctx.Err()
		}
		rec, err := q.Next()
		if err == io.EOF {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("%s: %w", path, err)
		}
		genes := hits.genes(rec.ID)
		if len(genes) == 0 {
			continue
		}
		for g := range genes {
			out.write(g, unpaired, rec)
		}
		n++
	}
}
