package fasta

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// FastqReader streams FASTQ records. Quality strings are discarded.
type FastqReader struct {
	sc   *bufio.Scanner
	line int
}

// NewFastqReader returns a FASTQ reader over r.
func NewFastqReader(r io.Reader) *FastqReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLine)
	return &FastqReader{sc: sc}
}

// Next returns the next record, or io.EOF.
func (r *FastqReader) Next() (Record, error) {
	var header string
	for header == "" {
		if !r.sc.Scan() {
			if err := r.sc.Err(); err != nil {
				return Record{}, err
			}
			return Record{}, io.EOF
		}
		r.line++
		header = strings.TrimSpace(r.sc.Text())
	}
	if !strings.HasPrefix(header, "@") {
		return Record{}, fmt.Errorf("fastq line %d: expected '@' header, got %q", r.line, truncate(header))
	}
	lines := make([]string, 0, 3)
	for len(lines) < 3 && r.sc.Scan() {
		r.line++
		lines = append(lines, r.sc.Text())
	}
	if len(lines) < 3 {
		if err := r.sc.Err(); err != nil {
			return Record{}, err
		}
		return Record{}, fmt.Errorf("fastq line %d: truncated record %q", r.line, truncate(header))
	}
	if !strings.HasPrefix(lines[1], "+") {
		return Record{}, fmt.Errorf("fastq line %d: expected '+' separator", r.line-1)
	}
	return Record{ID: ReadID(header[1:]), Seq: []byte(strings.TrimSpace(lines[0]))}, nil
}

// ReadID normalises a read name so that mates and mapper output agree: the
// first whitespace token, without a trailing /1 or /2.
func ReadID(name string) string {
	name = headerID(strings.TrimSpace(name))
	if strings.HasSuffix(name, "/1") || strings.HasSuffix(name, "/2") {
		name = name[:len(name)-2]
	}
	return name
}
