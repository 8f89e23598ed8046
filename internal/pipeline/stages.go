package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/me/hybpiper/internal/assembly"
	"github.com/me/hybpiper/internal/distribute"
	"github.com/me/hybpiper/internal/engine"
	"github.com/me/hybpiper/internal/layout"
	"github.com/me/hybpiper/internal/mapping"
	"github.com/me/hybpiper/internal/report"
	"github.com/me/hybpiper/internal/unit"
)

func (p *Pipeline) mapReads(ctx context.Context) error {
	backend, err := p.deps.Mappers.Get(p.method)
	if err != nil {
		return err
	}
	target, _ := p.cfg.TargetFile()
	res, err := backend.Map(ctx, mapping.Request{
		Layout:             p.layout,
		ReadFiles:          p.cfg.ReadFiles,
		Unpaired:           p.cfg.Unpaired,
		Target:             target,
		Threads:            p.cpu,
		Evalue:             p.cfg.Evalue,
		MaxTargetSeqs:      p.cfg.MaxTargetSeqs,
		DiamondSensitivity: p.cfg.DiamondSensitivity,
	})
	if err != nil {
		return err
	}
	p.logger.Info("reads mapped", "method", p.method, "output", res.Mapping)
	return nil
}

func (p *Pipeline) distributeReads(ctx context.Context, sum *Summary) error {
	target, _ := p.cfg.TargetFile()
	req := distribute.Request{
		Layout:         p.layout,
		Mapping:        p.layout.MappingFile(),
		ReadFiles:      p.cfg.ReadFiles,
		Unpaired:       p.cfg.Unpaired,
		Target:         target,
		PreferredTaxon: p.cfg.Target,
		Exclude:        p.cfg.Exclude,
	}
	if p.cfg.Unpaired != "" && layout.NonEmpty(p.layout.UnpairedMappingFile()) {
		req.UnpairedMapping = p.layout.UnpairedMappingFile()
	}
	res, err := p.deps.Distributor.Distribute(ctx, req)
	if err != nil {
		return err
	}
	sum.Reads = res.Reads
	sum.Distributed = res.Units
	if len(res.Units) == 0 {
		return fmt.Errorf("no reads mapped to any target: %w", ErrNoUnits)
	}
	return nil
}

func (p *Pipeline) assembleReads(ctx context.Context, sum *Summary) error {
	units, err := p.layout.DistributedUnits()
	if err != nil {
		return err
	}
	if units, err = p.selectUnits(units); err != nil {
		return err
	}
	if len(units) == 0 {
		return fmt.Errorf("no genes with distributed reads: %w", ErrNoUnits)
	}

	res, err := p.deps.Assembler.Assemble(ctx, assembly.Request{
		Layout:           p.layout,
		Units:            units,
		Paired:           p.cfg.Paired(),
		Unpaired:         p.cfg.Unpaired != "",
		Merged:           p.cfg.Merged,
		CPU:              p.cpu,
		CovCutoff:        p.cfg.CovCutoff,
		Kvals:            p.cfg.Kvals,
		SingleCell:       p.cfg.SingleCellAssembly,
		Timeout:          p.cfg.TimeoutAssemble,
		KeepIntermediate: p.cfg.KeepIntermediate,
	})
	if err != nil {
		return err
	}
	sum.Assembled = res.Assembled
	sum.AssemblyFailed = res.Failed
	if len(res.Failed) > 0 {
		p.logger.Warn("genes failed to assemble", "count", len(res.Failed), "genes", res.Failed)
	}
	if len(res.Assembled) == 0 {
		return fmt.Errorf("no genes assembled: %w", ErrNoUnits)
	}
	return nil
}

// exonerateUnits lists the genes with contigs: the assembly stage's gene list,
// or the contig files on disk when assembly did not run here.
func (p *Pipeline) exonerateUnits() ([]string, error) {
	units, err := assembly.ReadList(p.layout.Path(layout.ExonerateGeneList))
	if errors.Is(err, os.ErrNotExist) {
		units, err = p.layout.ContigUnits()
	}
	if err != nil {
		return nil, err
	}
	return p.selectUnits(units)
}

func (p *Pipeline) exonerateContigs(ctx context.Context, sum *Summary) error {
	l := p.layout
	units, err := p.exonerateUnits()
	if err != nil {
		return err
	}
	if len(units) == 0 {
		return fmt.Errorf("no genes with contigs: %w", ErrNoUnits)
	}

	for _, u := range units {
		if err := os.RemoveAll(l.StitchDir(u)); err != nil {
			return fmt.Errorf("remove previous output of %s: %w", u, err)
		}
	}
	if err := report.Remove(l); err != nil {
		return fmt.Errorf("remove previous reports: %w", err)
	}

	runner := unit.NewRunner(unit.Config{
		Layout:          l,
		Paired:          p.cfg.Paired(),
		Thresh:          p.cfg.ThreshPercent,
		DepthMultiplier: p.cfg.DepthMultiplier,
	}, p.deps.Stitcher, p.deps.Intron)
	eng := engine.New(engine.Config{
		Workers:          p.cpu,
		Timeout:          p.cfg.TimeoutExonerate,
		WorkDir:          l.Dir,
		KeepIntermediate: p.cfg.KeepIntermediate,
		Label:            "exonerate",
		Progress:         p.deps.Progress,
	}, runner, p.deps.State, p.logger)

	agg, err := eng.Run(ctx, units)
	if err != nil {
		return err
	}
	// An interrupt that lands after the last unit settles still discards
	// the batch.
	if ctx.Err() != nil {
		return engine.ErrInterrupted
	}
	sum.Aggregate = agg
	p.deps.Recorder.Units(ctx, agg.SortedOutcomes())
	if ctx.Err() != nil {
		return engine.ErrInterrupted
	}

	counts, err := report.Write(l, agg)
	if err != nil {
		return fmt.Errorf("write reports: %w", err)
	}
	sum.Counts = counts
	p.logger.Info("sample summary",
		"genes_with_sequences", counts.WithSequence,
		"stop_codons", counts.StopCodons,
		"intronerate_failed", counts.IntronFailed,
		"stitched_contigs", counts.StitchedContig,
		"chimeric", counts.Chimeric,
		"long_paralog_warnings", counts.LongParalogs,
		"depth_paralog_warnings", counts.DepthParalogs,
	)
	if counts.WithSequence == 0 {
		return fmt.Errorf("no genes with sequences recovered: %w", ErrNoUnits)
	}
	return nil
}
