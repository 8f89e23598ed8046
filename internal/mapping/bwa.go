package mapping

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/me/hybpiper/internal/layout"
	"github.com/me/hybpiper/internal/toolexec"
)

// BWA maps nucleotide reads with bwa mem and stores them as BAM.
type BWA struct {
	exec   toolexec.CommandRunner
	logger *slog.Logger
}

// NewBWA creates the bwa backend.
func NewBWA(exec toolexec.CommandRunner, logger *slog.Logger) *BWA {
	return &BWA{exec: exec, logger: logger.With("component", "bwa")}
}

func (b *BWA) Method() Method { return MethodBWA }

// IndexExists reports whether a bwa index for db is present.
func (b *BWA) IndexExists(db string) bool {
	return layout.NonEmpty(db + ".amb")
}

func (b *BWA) Map(ctx context.Context, req Request) (*Result, error) {
	db, err := stageTarget(req)
	if err != nil {
		return nil, err
	}
	if b.IndexExists(db) {
		b.logger.Info("using existing bwa index", "db", db)
	} else {
		b.logger.Info("building bwa index", "db", db)
		if _, err := b.exec.Run(ctx, toolexec.Spec{Name: "bwa index", Args: []string{"bwa", "index", db}, Dir: req.Layout.Dir}); err != nil {
			return nil, fmt.Errorf("build bwa index: %w", err)
		}
	}

	res := &Result{Mapping: req.Layout.MappingFile()}
	if err := b.mem(ctx, req, db, req.ReadFiles, res.Mapping); err != nil {
		return nil, err
	}
	if req.Unpaired != "" {
		res.UnpairedMapping = req.Layout.UnpairedMappingFile()
		if err := b.mem(ctx, req, db, []string{req.Unpaired}, res.UnpairedMapping); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (b *BWA) mem(ctx context.Context, req Request, db string, reads []string, bam string) error {
	quoted := make([]string, len(reads))
	for i, r := range reads {
		quoted[i] = toolexec.Quote(r)
	}
	threads := req.Threads
	if threads <= 0 {
		threads = 1
	}
	shell := fmt.Sprintf("bwa mem -t %d %s %s | samtools view -h -b -S - > %s",
		threads, toolexec.Quote(db), strings.Join(quoted, " "), toolexec.Quote(bam))
	if _, err := b.exec.Run(ctx, toolexec.Spec{Name: "bwa mem", Shell: shell, Pipefail: true, Dir: req.Layout.Dir}); err != nil {
		return fmt.Errorf("bwa mem: %w", err)
	}
	return requireOutput(bam)
}
