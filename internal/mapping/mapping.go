// Package mapping implements the map_reads stage: aligning the sample's reads
// against the target file with bwa, blastx or diamond.
package mapping

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/me/hybpiper/internal/layout"
)

// Method identifies a mapping backend.
type Method string

const (
	MethodBWA     Method = "bwa"
	MethodBLASTX  Method = "blastx"
	MethodDIAMOND Method = "diamond"
)

// ParseMethod validates a method name.
func ParseMethod(s string) (Method, error) {
	switch m := Method(strings.ToLower(strings.TrimSpace(s))); m {
	case MethodBWA, MethodBLASTX, MethodDIAMOND:
		return m, nil
	}
	return "", fmt.Errorf("unknown mapping method %q (valid: bwa, blastx, diamond)", s)
}

// Nucleotide reports whether the method maps against nucleotide targets.
func (m Method) Nucleotide() bool {
	return m == MethodBWA
}

// Request is the input of one mapping run.
type Request struct {
	Layout    layout.Layout
	ReadFiles []string
	Unpaired  string
	Target    string
	Threads   int

	Evalue             float64
	MaxTargetSeqs      int
	DiamondSensitivity string
}

// Result names the mapping output files.
type Result struct {
	Mapping         string
	UnpairedMapping string
}

// Backend maps reads against a target file.
type Backend interface {
	Method() Method
	Map(ctx context.Context, req Request) (*Result, error)
}

// stageTarget copies the target file into the sample directory, where its
// index is built, and returns the copy's path.
func stageTarget(req Request) (string, error) {
	dst := req.Layout.Path(filepath.Base(req.Target))
	if abs, _ := filepath.Abs(req.Target); abs == dst {
		return dst, nil
	}
	if layout.NonEmpty(dst) {
		return dst, nil
	}
	src, err := os.Open(req.Target)
	if err != nil {
		return "", fmt.Errorf("open target file: %w", err)
	}
	defer src.Close()
	out, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("stage target file: %w", err)
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return "", fmt.Errorf("stage target file: %w", err)
	}
	return dst, out.Close()
}

func requireOutput(path string) error {
	if !layout.NonEmpty(path) {
		return fmt.Errorf("mapping produced no output: %s is missing or empty", path)
	}
	return nil
}
