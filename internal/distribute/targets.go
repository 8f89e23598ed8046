package distribute

import (
	"fmt"
	"os"

	"github.com/me/hybpiper/internal/fasta"
)

// writeTargets writes, for every unit, the single target sequence its reads
// matched best. Nucleotide targets are translated for the protein-level
// stitching step.
func (d *Distributor) writeTargets(req Request, units []string, hits *hitTable) error {
	recs, err := fasta.ReadFile(req.Target)
	if err != nil {
		return fmt.Errorf("read target file: %w", err)
	}
	byGene := make(map[string][]fasta.Record)
	for _, r := range recs {
		if req.Exclude != "" && TaxonName(r.ID) == req.Exclude {
			continue
		}
		g := GeneName(r.ID)
		byGene[g] = append(byGene[g], r)
	}

	for _, u := range units {
		best, ok := bestTarget(byGene[u], hits.scores[u], req.PreferredTaxon)
		if !ok {
			d.logger.Warn("no target sequence available for gene", "gene", u)
			continue
		}
		if fasta.IsNucleotide(best.Seq) {
			best.Seq = fasta.Translate(best.Seq)
		}
		if err := os.MkdirAll(req.Layout.UnitDir(u), 0o755); err != nil {
			return err
		}
		if err := fasta.WriteFile(req.Layout.TargetFile(u), best); err != nil {
			return fmt.Errorf("write target for %s: %w", u, err)
		}
		d.logger.Debug("selected target", "gene", u, "target", best.ID)
	}
	return nil
}

// bestTarget picks the preferred taxon's sequence if present, otherwise the
// target with the highest cumulative hit score. Ties go to the earliest
// sequence in the target file.
func bestTarget(cands []fasta.Record, scores map[string]float64, preferred string) (fasta.Record, bool) {
	if len(cands) == 0 {
		return fasta.Record{}, false
	}
	if preferred != "" {
		for _, c := range cands {
			if TaxonName(c.ID) == preferred {
				return c, true
			}
		}
	}
	best := cands[0]
	for _, c := range cands[1:] {
		if scores[c.ID] > scores[best.ID] {
			best = c
		}
	}
	return best, true
}
