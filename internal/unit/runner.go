// Package unit is the per-unit task run by the engine during the
// exonerate_contigs stage: hit search and stitching against the unit's target,
// then optional intron recovery.
package unit

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/me/hybpiper/internal/engine"
	"github.com/me/hybpiper/internal/fasta"
	"github.com/me/hybpiper/internal/layout"
	"github.com/me/hybpiper/pkg/model"
)

// Config holds the settings shared by every unit of a batch.
type Config struct {
	Layout          layout.Layout
	Paired          bool
	Thresh          int
	DepthMultiplier int
}

// Runner implements engine.Runner.
type Runner struct {
	cfg      Config
	stitcher HitStitcher
	intron   IntronRecoverer
	now      func() time.Time
}

// NewRunner creates a unit runner. intron may be nil to disable intron
// recovery.
func NewRunner(cfg Config, stitcher HitStitcher, intron IntronRecoverer) *Runner {
	return &Runner{cfg: cfg, stitcher: stitcher, intron: intron, now: time.Now}
}

var _ engine.Runner = (*Runner)(nil)

func (r *Runner) RunUnit(ctx context.Context, job engine.Job) (model.UnitResult, error) {
	start := r.now()
	res, err := r.run(ctx, job)
	res.Unit = job.Unit
	res.Elapsed = r.now().Sub(start)
	return res, err
}

func (r *Runner) run(ctx context.Context, job engine.Job) (model.UnitResult, error) {
	l := r.cfg.Layout
	log := job.Logger
	res := model.UnitResult{Intron: model.IntronNotApplicable}

	req := Request{
		Unit:            job.Unit,
		Sample:          l.Sample,
		Contigs:         l.ContigsFile(job.Unit),
		Target:          l.TargetFile(job.Unit),
		Reads:           l.ReadsFile(job.Unit, r.cfg.Paired),
		OutDir:          l.StitchDir(job.Unit),
		Thresh:          r.cfg.Thresh,
		DepthMultiplier: r.cfg.DepthMultiplier,
		Logger:          log,
	}
	if job.Procs != nil {
		req.OnStart = job.Procs.RegisterPID
	}

	for _, p := range []string{req.Contigs, req.Target} {
		if !layout.NonEmpty(p) {
			log.Error("could not find an expected input file", "unit", job.Unit, "file", p)
			res.MissingInput = true
			res.Reason = "missing " + filepath.Base(p)
			return res, nil
		}
	}

	if err := os.RemoveAll(req.OutDir); err != nil {
		return res, err
	}
	if err := os.MkdirAll(req.OutDir, 0o755); err != nil {
		return res, err
	}

	log.Debug("running hit search and stitching", "unit", job.Unit, "out", req.OutDir)
	if err := r.stitcher.Stitch(ctx, req); err != nil {
		if ctx.Err() == nil {
			log.Debug("hit stitching failed", "unit", job.Unit, "error", err)
		}
		return res, fmt.Errorf("stitch %s: %w", job.Unit, err)
	}

	fna, err := fasta.ReadFile(l.FNAFile(job.Unit))
	switch {
	case errors.Is(err, os.ErrNotExist):
		log.Info("no stitched sequence recovered", "unit", job.Unit)
		res.Reason = "no sequence"
		return res, nil
	case err != nil:
		return res, fmt.Errorf("read stitched sequence: %w", err)
	case len(fna) == 0 || len(fna[0].Seq) == 0:
		res.Reason = "no sequence"
		return res, nil
	}
	res.Length = len(fna[0].Seq)
	res.StopCodons = hasInternalStop(l.FAAFile(job.Unit), fna[0].Seq)
	if res.StopCodons {
		log.Warn("stitched sequence contains internal stop codons", "unit", job.Unit)
	}

	if r.intron != nil {
		if err := r.intron.Recover(ctx, req); err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			log.Debug("intron recovery failed", "unit", job.Unit, "error", err)
			res.Intron = model.IntronFailed
		} else {
			res.Intron = model.IntronSucceeded
		}
	}
	return res, nil
}

// hasInternalStop checks the collaborator's protein file, translating the
// nucleotide sequence when there is none.
func hasInternalStop(faaPath string, nuc []byte) bool {
	if faa, err := fasta.ReadFile(faaPath); err == nil && len(faa) > 0 {
		return fasta.HasInternalStop(faa[0].Seq)
	}
	return fasta.HasInternalStop(fasta.Translate(nuc))
}
