package mapping

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/me/hybpiper/internal/fasta"
	"github.com/me/hybpiper/internal/layout"
	"github.com/me/hybpiper/internal/toolexec"
)

// BLASTX maps reads against protein targets with NCBI blastx or, when
// diamond is set, with diamond blastx. Hits are written as tabular outfmt 6.
type BLASTX struct {
	exec    toolexec.CommandRunner
	logger  *slog.Logger
	diamond bool
}

// NewBLASTX creates the NCBI blastx backend.
func NewBLASTX(exec toolexec.CommandRunner, logger *slog.Logger) *BLASTX {
	return &BLASTX{exec: exec, logger: logger.With("component", "blastx")}
}

// NewDIAMOND creates the diamond backend.
func NewDIAMOND(exec toolexec.CommandRunner, logger *slog.Logger) *BLASTX {
	return &BLASTX{exec: exec, logger: logger.With("component", "diamond"), diamond: true}
}

func (b *BLASTX) Method() Method {
	if b.diamond {
		return MethodDIAMOND
	}
	return MethodBLASTX
}

// IndexExists reports whether a protein database for db is present.
func (b *BLASTX) IndexExists(db string) bool {
	if b.diamond {
		return layout.NonEmpty(db + ".dmnd")
	}
	return layout.NonEmpty(db + ".psq")
}

func (b *BLASTX) Map(ctx context.Context, req Request) (*Result, error) {
	db, err := stageTarget(req)
	if err != nil {
		return nil, err
	}
	if b.IndexExists(db) {
		b.logger.Info("using existing protein database", "db", db)
	} else if err := b.buildIndex(ctx, req, db); err != nil {
		return nil, err
	}

	res := &Result{Mapping: req.Layout.MappingFile()}
	if err := b.search(ctx, req, db, req.ReadFiles, res.Mapping); err != nil {
		return nil, err
	}
	if req.Unpaired != "" {
		res.UnpairedMapping = req.Layout.UnpairedMappingFile()
		if err := b.search(ctx, req, db, []string{req.Unpaired}, res.UnpairedMapping); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (b *BLASTX) buildIndex(ctx context.Context, req Request, db string) error {
	spec := toolexec.Spec{Name: "makeblastdb", Args: []string{"makeblastdb", "-dbtype", "prot", "-in", db}, Dir: req.Layout.Dir}
	if b.diamond {
		spec = toolexec.Spec{Name: "diamond makedb", Args: []string{"diamond", "makedb", "--in", db, "--db", db}, Dir: req.Layout.Dir}
	}
	b.logger.Info("building protein database", "db", db)
	if _, err := b.exec.Run(ctx, spec); err != nil {
		return fmt.Errorf("build protein database: %w", err)
	}
	return nil
}

// search converts each read file to FASTA and appends its hits to out.
func (b *BLASTX) search(ctx context.Context, req Request, db string, reads []string, out string) error {
	if err := os.Remove(out); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove old hits: %w", err)
	}
	for _, rf := range reads {
		query, err := fastqToFasta(rf, req.Layout.Dir)
		if err != nil {
			return err
		}
		spec := b.searchSpec(req, db, query)
		spec.Stdout = out
		spec.AppendStdout = true
		_, err = b.exec.Run(ctx, spec)
		os.Remove(query)
		if err != nil {
			return fmt.Errorf("%s: %w", spec.Name, err)
		}
	}
	return requireOutput(out)
}

func (b *BLASTX) searchSpec(req Request, db, query string) toolexec.Spec {
	threads := req.Threads
	if threads <= 0 {
		threads = 1
	}
	evalue := strconv.FormatFloat(req.Evalue, 'g', -1, 64)
	maxTargets := strconv.Itoa(req.MaxTargetSeqs)
	if b.diamond {
		args := []string{"diamond", "blastx", "--db", db, "--query", query, "--evalue", evalue,
			"--outfmt", "6", "--max-target-seqs", maxTargets, "--threads", strconv.Itoa(threads)}
		if req.DiamondSensitivity != "" {
			args = append(args, "--"+req.DiamondSensitivity)
		}
		return toolexec.Spec{Name: "diamond blastx", Args: args, Dir: req.Layout.Dir}
	}
	return toolexec.Spec{Name: "blastx", Dir: req.Layout.Dir, Args: []string{
		"blastx", "-db", db, "-query", query, "-evalue", evalue, "-outfmt", "6",
		"-max_target_seqs", maxTargets, "-num_threads", strconv.Itoa(threads),
	}}
}

// fastqToFasta writes a FASTA copy of a FASTQ read file into dir.
func fastqToFasta(path, dir string) (string, error) {
	in, err := fasta.Open(path)
	if err != nil {
		return "", fmt.Errorf("open reads: %w", err)
	}
	defer in.Close()

	base := filepath.Base(path)
	for _, sfx := range []string{".gz", ".fastq", ".fq"} {
		base = strings.TrimSuffix(base, sfx)
	}
	dst := filepath.Join(dir, base+".fasta")
	f, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("create query fasta: %w", err)
	}
	w := bufio.NewWriter(f)
	r := fasta.NewFastqReader(in)
	for {
		rec, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			f.Close()
			return "", fmt.Errorf("convert %s: %w", path, err)
		}
		if err := fasta.Write(w, rec); err != nil {
			f.Close()
			return "", err
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return "", err
	}
	return dst, f.Close()
}
