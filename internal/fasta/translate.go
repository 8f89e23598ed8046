package fasta

import "bytes"

const bases = "TCAG"

// standardCode is the standard genetic code indexed by TCAG order.
const standardCode = "FFLLSSSSYY**CC*WLLLLPPPPHHQQRRRRIIIMTTTTNNKKSSRRVVVVAAAADDEEGGGG"

func baseIndex(b byte) int {
	switch b {
	case 'T', 't', 'U', 'u':
		return 0
	case 'C', 'c':
		return 1
	case 'A', 'a':
		return 2
	case 'G', 'g':
		return 3
	}
	return -1
}

// Translate translates a nucleotide sequence in frame 1 with the standard
// genetic code. Codons with ambiguous bases become 'X'; a trailing partial
// codon is dropped.
func Translate(nuc []byte) []byte {
	out := make([]byte, 0, len(nuc)/3)
	for i := 0; i+3 <= len(nuc); i += 3 {
		a, b, c := baseIndex(nuc[i]), baseIndex(nuc[i+1]), baseIndex(nuc[i+2])
		if a < 0 || b < 0 || c < 0 {
			out = append(out, 'X')
			continue
		}
		out = append(out, standardCode[a*16+b*4+c])
	}
	return out
}

// HasInternalStop reports whether a protein sequence contains a stop codon
// anywhere but the final position.
func HasInternalStop(protein []byte) bool {
	p := bytes.TrimRight(protein, "*")
	return bytes.IndexByte(p, '*') >= 0
}

// IsNucleotide reports whether seq looks like DNA: at least 90% of its
// residues are A, C, G, T, U or N.
func IsNucleotide(seq []byte) bool {
	if len(seq) == 0 {
		return false
	}
	n := 0
	for _, b := range seq {
		switch b | 0x20 {
		case 'a', 'c', 'g', 't', 'u', 'n':
			n++
		}
	}
	return n*10 >= len(seq)*9
}
