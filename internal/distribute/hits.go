package distribute

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/me/hybpiper/internal/fasta"
)

// hitTable records, for every mapped read, the genes it hit, and for every
// gene, the cumulative score of each target sequence.
type hitTable struct {
	reads  map[string]map[string]bool
	scores map[string]map[string]float64
}

func newHitTable() *hitTable {
	return &hitTable{
		reads:  make(map[string]map[string]bool),
		scores: make(map[string]map[string]float64),
	}
}

func (h *hitTable) add(read, target string, score float64) {
	gene := GeneName(target)
	read = fasta.ReadID(read)
	if h.reads[read] == nil {
		h.reads[read] = make(map[string]bool)
	}
	h.reads[read][gene] = true
	if h.scores[gene] == nil {
		h.scores[gene] = make(map[string]float64)
	}
	h.scores[gene][target] += score
}

func (h *hitTable) genes(read string) map[string]bool {
	return h.reads[read]
}

// GeneName returns the gene part of a target name of the form
// <taxon>-<gene>.
func GeneName(target string) string {
	if i := strings.LastIndex(target, "-"); i >= 0 {
		return target[i+1:]
	}
	return target
}

// TaxonName returns the taxon part of a target name, or "" if it has none.
func TaxonName(target string) string {
	if i := strings.LastIndex(target, "-"); i >= 0 {
		return target[:i]
	}
	return ""
}

// parseBlastTab reads tabular (outfmt 6) hits: query, subject, ..., bitscore.
func (h *hitTable) parseBlastTab(path string) error {
	return eachLine(path, func(n int, line string) error {
		fields := strings.Split(line, "\t")
		if len(fields) < 12 {
			return fmt.Errorf("%s line %d: want 12 columns, got %d", path, n, len(fields))
		}
		score, err := strconv.ParseFloat(fields[11], 64)
		if err != nil {
			return fmt.Errorf("%s line %d: bad bitscore %q", path, n, fields[11])
		}
		h.add(fields[0], fields[1], score)
		return nil
	})
}

// parseSAM reads mapped alignments from SAM text, scoring each by its AS tag.
func (h *hitTable) parseSAM(path string) error {
	return eachLine(path, func(n int, line string) error {
		if strings.HasPrefix(line, "@") {
			return nil
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 11 {
			return fmt.Errorf("%s line %d: want 11 columns, got %d", path, n, len(fields))
		}
		if fields[2] == "*" {
			return nil
		}
		score := 1.0
		for _, tag := range fields[11:] {
			if v, ok := strings.CutPrefix(tag, "AS:i:"); ok {
				if s, err := strconv.ParseFloat(v, 64); err == nil {
					score = s
				}
			}
		}
		h.add(fields[0], fields[2], score)
		return nil
	})
}

func eachLine(path string, fn func(n int, line string) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	br := bufio.NewReaderSize(f, 1<<20)
	n := 0
	for {
		line, err := br.ReadString('\n')
		if len(line) > 0 {
			n++
			if line = strings.TrimRight(line, "\r\n"); line != "" {
				if ferr := fn(n, line); ferr != nil {
					return ferr
				}
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
