// Package fasta reads and writes the FASTA and FASTQ files exchanged with
// the external tools.
package fasta

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
)

const maxLine = 16 << 20

// Record is one sequence.
type Record struct {
	ID  string
	Seq []byte
}

// Reader streams FASTA records.
type Reader struct {
	sc      *bufio.Scanner
	pending string
	done    bool
}

// NewReader returns a FASTA reader over r.
func NewReader(r io.Reader) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLine)
	return &Reader{sc: sc}
}

// Next returns the next record, or io.EOF.
func (r *Reader) Next() (Record, error) {
	if r.done {
		return Record{}, io.EOF
	}
	header := r.pending
	r.pending = ""
	for header == "" {
		if !r.sc.Scan() {
			r.done = true
			if err := r.sc.Err(); err != nil {
				return Record{}, err
			}
			return Record{}, io.EOF
		}
		line := strings.TrimSpace(r.sc.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, ">") {
			return Record{}, fmt.Errorf("fasta: expected header, got %q", truncate(line))
		}
		header = line
	}

	rec := Record{ID: headerID(header[1:])}
	var seq bytes.Buffer
	for r.sc.Scan() {
		line := bytes.TrimSpace(r.sc.Bytes())
		if len(line) == 0 {
			continue
		}
		if line[0] == '>' {
			r.pending = string(line)
			break
		}
		seq.Write(line)
	}
	if err := r.sc.Err(); err != nil {
		return Record{}, err
	}
	if r.pending == "" {
		r.done = true
	}
	rec.Seq = seq.Bytes()
	return rec, nil
}

// ReadFile reads every record of a (possibly gzipped) FASTA file.
func ReadFile(path string) ([]Record, error) {
	rc, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	r := NewReader(rc)
	var out []Record
	for {
		rec, err := r.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		out = append(out, rec)
	}
}

// Write writes rec in FASTA format with the sequence on one line.
func Write(w io.Writer, rec Record) error {
	_, err := fmt.Fprintf(w, ">%s\n%s\n", rec.ID, rec.Seq)
	return err
}

// WriteFile writes recs to path, replacing any existing file.
func WriteFile(path string, recs ...Record) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(f)
	for _, rec := range recs {
		if err := Write(bw, rec); err != nil {
			f.Close()
			return err
		}
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// headerID returns the first whitespace-delimited token of a header.
func headerID(h string) string {
	if i := strings.IndexAny(h, " \t"); i >= 0 {
		return h[:i]
	}
	return h
}

func truncate(s string) string {
	if len(s) > 40 {
		return s[:40] + "..."
	}
	return s
}
