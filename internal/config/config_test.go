package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/me/hybpiper/internal/stage"
)

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

type inputs struct {
	r1, r2, empty, dna, aa string
}

func fixture(t *testing.T) inputs {
	dir := t.TempDir()
	return inputs{
		r1:    writeFile(t, filepath.Join(dir, "NZ281_R1.fastq"), "@r\nA\n+\nI\n"),
		r2:    writeFile(t, filepath.Join(dir, "NZ281_R2.fastq"), "@r\nA\n+\nI\n"),
		empty: writeFile(t, filepath.Join(dir, "empty.fastq"), ""),
		dna:   writeFile(t, filepath.Join(dir, "targets_dna.fasta"), ">A-g\nATG\n"),
		aa:    writeFile(t, filepath.Join(dir, "targets_aa.fasta"), ">A-g\nM\n"),
	}
}

func TestDefaultAssembleConfig(t *testing.T) {
	cfg := DefaultAssembleConfig()
	if cfg.StartFrom != string(stage.MapReads) || cfg.EndWith != string(stage.ExonerateContigs) {
		t.Errorf("stage range = %s..%s", cfg.StartFrom, cfg.EndWith)
	}
	if cfg.Mapper != "blastx" || cfg.CovCutoff != 8 || cfg.ThreshPercent != 55 || cfg.DepthMultiplier != 10 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.StitchCommand == "" || cfg.HistoryDB == "" {
		t.Error("stitch command and history db must have defaults")
	}
}

func TestValidate(t *testing.T) {
	in := fixture(t)
	valid := func() AssembleConfig {
		cfg := DefaultAssembleConfig()
		cfg.ReadFiles = []string{in.r1, in.r2}
		cfg.TargetAA = in.aa
		return cfg
	}

	tests := []struct {
		name      string
		mutate    func(*AssembleConfig)
		wantField string
	}{
		{name: "valid paired"},
		{name: "valid single", mutate: func(c *AssembleConfig) { c.ReadFiles = c.ReadFiles[:1] }},
		{name: "valid bwa", mutate: func(c *AssembleConfig) { c.TargetAA, c.TargetDNA, c.Mapper = "", in.dna, "bwa" }},
		{name: "no reads", mutate: func(c *AssembleConfig) { c.ReadFiles = nil }, wantField: "readfiles"},
		{name: "three reads", mutate: func(c *AssembleConfig) { c.ReadFiles = append(c.ReadFiles, in.r1) }, wantField: "readfiles"},
		{name: "missing read file", mutate: func(c *AssembleConfig) { c.ReadFiles[1] = in.r2 + ".nope" }, wantField: "readfiles"},
		{name: "empty read file", mutate: func(c *AssembleConfig) { c.ReadFiles[1] = in.empty }, wantField: "readfiles"},
		{name: "prefix with slash", mutate: func(c *AssembleConfig) { c.Prefix = "a/b" }, wantField: "prefix"},
		{name: "unpaired with single", mutate: func(c *AssembleConfig) { c.ReadFiles = c.ReadFiles[:1]; c.Unpaired = in.r2 }, wantField: "unpaired"},
		{name: "both targets", mutate: func(c *AssembleConfig) { c.TargetDNA = in.dna }, wantField: "targetfile"},
		{name: "no target", mutate: func(c *AssembleConfig) { c.TargetAA = "" }, wantField: "targetfile"},
		{name: "bwa with protein", mutate: func(c *AssembleConfig) { c.Mapper = "bwa" }, wantField: "mapper"},
		{name: "unknown mapper", mutate: func(c *AssembleConfig) { c.Mapper = "bowtie" }, wantField: "mapper"},
		{name: "negative cpu", mutate: func(c *AssembleConfig) { c.CPU = -1 }, wantField: "cpu"},
		{name: "even k", mutate: func(c *AssembleConfig) { c.Kvals = []int{21, 32} }, wantField: "kvals"},
		{name: "unknown stage", mutate: func(c *AssembleConfig) { c.StartFrom = "polish" }, wantField: "start_from"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			if tt.mutate != nil {
				tt.mutate(&cfg)
			}
			err := cfg.Validate()
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("err = %v, want *ValidationError", err)
			}
			if ve.Field != tt.wantField {
				t.Errorf("field = %q, want %q (%v)", ve.Field, tt.wantField, err)
			}
		})
	}
}

func TestValidate_StageOrder(t *testing.T) {
	cfg := DefaultAssembleConfig()
	cfg.StartFrom = "assemble_reads"
	cfg.EndWith = "map_reads"
	var oe *stage.OrderError
	if err := cfg.Validate(); !errors.As(err, &oe) {
		t.Fatalf("err = %v, want *stage.OrderError", err)
	}
}

func TestValidate_MergedSingleEnd(t *testing.T) {
	in := fixture(t)
	cfg := DefaultAssembleConfig()
	cfg.ReadFiles = []string{in.r1}
	cfg.TargetAA = in.aa
	cfg.Merged = true
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	if cfg.Merged {
		t.Error("Merged should be disabled for a single read file")
	}
}

func TestSampleName(t *testing.T) {
	tests := []struct {
		prefix string
		reads  []string
		want   string
	}{
		{"", []string{"/data/NZ281_R1.fastq.gz"}, "NZ281"},
		{"", []string{"/data/sample.fastq.gz"}, "sample"},
		{"custom", []string{"/data/NZ281_R1.fastq"}, "custom"},
	}
	for _, tt := range tests {
		cfg := AssembleConfig{Prefix: tt.prefix, ReadFiles: tt.reads, OutputFolder: "/out"}
		if got := cfg.SampleName(); got != tt.want {
			t.Errorf("SampleName() = %q, want %q", got, tt.want)
		}
		if got := cfg.SampleDir(); got != filepath.Join("/out", tt.want) {
			t.Errorf("SampleDir() = %q", got)
		}
	}
}

func TestLoadAssembleConfig(t *testing.T) {
	path := writeFile(t, filepath.Join(t.TempDir(), "assemble.yaml"), `
readfiles: [a_R1.fastq, a_R2.fastq]
targetfile_aa: targets.fasta
cpu: 4
timeout_exonerate_contigs: 90s
kvals: [21, 33]
unit_filter: "unit.has_contigs"
`)
	cfg, err := LoadAssembleConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.ReadFiles) != 2 || cfg.CPU != 4 || cfg.TimeoutExonerate != 90*time.Second {
		t.Errorf("loaded %+v", cfg)
	}
	if len(cfg.Kvals) != 2 || cfg.UnitFilter != "unit.has_contigs" {
		t.Errorf("kvals/filter = %v %q", cfg.Kvals, cfg.UnitFilter)
	}
	if cfg.CovCutoff != 8 || cfg.Mapper != "blastx" {
		t.Error("defaults not preserved for unset keys")
	}

	if _, err := LoadAssembleConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
	bad := writeFile(t, filepath.Join(t.TempDir(), "bad.yaml"), "cpu: [1,\n")
	if _, err := LoadAssembleConfig(bad); err == nil {
		t.Error("expected parse error")
	}
}
