// Package layout names the files a sample run reads and writes under its
// sample directory.
package layout

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/me/hybpiper/internal/stage"
)

// Gene list files written by the assembly stage.
const (
	SpadesGeneList    = "spades_genelist.txt"
	FailedSpades      = "failed_spades.txt"
	SpadesDuds        = "spades_duds.txt"
	ExonerateGeneList = "exonerate_genelist.txt"
	GenesWithSeqs     = "genes_with_seqs.txt"
)

// Layout resolves paths inside one sample directory.
type Layout struct {
	Dir    string
	Sample string
	// BAM is true when reads were mapped with bwa (nucleotide targets) and
	// false for blastx or diamond.
	BAM bool
}

// New returns the layout for sample rooted at dir.
func New(dir, sample string, bam bool) Layout {
	return Layout{Dir: dir, Sample: sample, BAM: bam}
}

// Path joins name onto the sample directory.
func (l Layout) Path(name string) string {
	return filepath.Join(l.Dir, name)
}

// MappingFile is the output of map_reads for the main read files.
func (l Layout) MappingFile() string {
	if l.BAM {
		return l.Path(l.Sample + ".bam")
	}
	return l.Path(l.Sample + ".blastx")
}

// UnpairedMappingFile is the output of map_reads for the unpaired read file.
func (l Layout) UnpairedMappingFile() string {
	if l.BAM {
		return l.Path(l.Sample + "_unpaired.bam")
	}
	return l.Path(l.Sample + "_unpaired.blastx")
}

func (l Layout) UnitDir(unit string) string { return l.Path(unit) }

func (l Layout) TargetFile(unit string) string {
	return filepath.Join(l.Dir, unit, unit+"_target.fasta")
}

func (l Layout) InterleavedFile(unit string) string {
	return filepath.Join(l.Dir, unit, unit+"_interleaved.fasta")
}

func (l Layout) UnpairedFile(unit string) string {
	return filepath.Join(l.Dir, unit, unit+"_unpaired.fasta")
}

// ReadsFile is the main distributed reads file of unit.
func (l Layout) ReadsFile(unit string, paired bool) string {
	if paired {
		return l.InterleavedFile(unit)
	}
	return l.UnpairedFile(unit)
}

func (l Layout) ContigsFile(unit string) string {
	return filepath.Join(l.Dir, unit, unit+"_contigs.fasta")
}

func (l Layout) SpadesDir(unit string) string {
	return filepath.Join(l.Dir, unit, unit+"_spades")
}

// StitchDir is where the hit/stitch collaborator writes its per-unit output.
func (l Layout) StitchDir(unit string) string {
	return filepath.Join(l.Dir, unit, l.Sample)
}

func (l Layout) FNAFile(unit string) string {
	return filepath.Join(l.StitchDir(unit), "sequences", "FNA", unit+".FNA")
}

func (l Layout) FAAFile(unit string) string {
	return filepath.Join(l.StitchDir(unit), "sequences", "FAA", unit+".FAA")
}

// DistributedFiles returns every distributed reads file currently on disk.
func (l Layout) DistributedFiles() ([]string, error) {
	return l.glob("*_interleaved.fasta", "*_unpaired.fasta")
}

// ContigFiles returns every assembled contigs file currently on disk.
func (l Layout) ContigFiles() ([]string, error) {
	return l.glob("*_contigs.fasta")
}

// DistributedUnits returns the sorted names of units with distributed reads.
func (l Layout) DistributedUnits() ([]string, error) {
	files, err := l.DistributedFiles()
	if err != nil {
		return nil, err
	}
	return unitsOf(files), nil
}

// ContigUnits returns the sorted names of units with assembled contigs.
func (l Layout) ContigUnits() ([]string, error) {
	files, err := l.ContigFiles()
	if err != nil {
		return nil, err
	}
	return unitsOf(files), nil
}

// Artifacts implements stage.Probe.
func (l Layout) Artifacts(s stage.Stage) ([]string, string, error) {
	switch s {
	case stage.MapReads:
		want := l.MappingFile()
		if NonEmpty(want) {
			return []string{want}, want, nil
		}
		return nil, want, nil
	case stage.DistributeReads:
		files, err := l.DistributedFiles()
		return files, "distributed reads files " + l.Path("*/*_interleaved.fasta") + " or " + l.Path("*/*_unpaired.fasta"), err
	case stage.AssembleReads:
		files, err := l.ContigFiles()
		return files, "assembled contigs files " + l.Path("*/*_contigs.fasta"), err
	}
	return nil, "", nil
}

func (l Layout) glob(suffixes ...string) ([]string, error) {
	var out []string
	for _, sfx := range suffixes {
		matches, err := filepath.Glob(filepath.Join(l.Dir, "*", sfx))
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			// only <unit>/<unit>_suffix counts
			unit := filepath.Base(filepath.Dir(m))
			if filepath.Base(m) == unit+strings.TrimPrefix(sfx, "*") {
				out = append(out, m)
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

func unitsOf(files []string) []string {
	seen := make(map[string]bool)
	var units []string
	for _, f := range files {
		u := filepath.Base(filepath.Dir(f))
		if !seen[u] {
			seen[u] = true
			units = append(units, u)
		}
	}
	sort.Strings(units)
	return units
}

// NonEmpty reports whether path is a regular file with content.
func NonEmpty(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}
