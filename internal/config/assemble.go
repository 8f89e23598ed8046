package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/me/hybpiper/internal/mapping"
	"github.com/me/hybpiper/internal/stage"
	"github.com/me/hybpiper/internal/unit"
)

// AssembleConfig holds every setting of one assemble run.
type AssembleConfig struct {
	ReadFiles    []string `yaml:"readfiles"`
	Unpaired     string   `yaml:"unpaired"`
	Prefix       string   `yaml:"prefix"`
	OutputFolder string   `yaml:"output_folder"`
	TargetDNA    string   `yaml:"targetfile_dna"`
	TargetAA     string   `yaml:"targetfile_aa"`

	Mapper             string  `yaml:"mapper"`
	DiamondSensitivity string  `yaml:"diamond_sensitivity"`
	Evalue             float64 `yaml:"evalue"`
	MaxTargetSeqs      int     `yaml:"max_target_seqs"`

	CPU              int           `yaml:"cpu"`
	StartFrom        string        `yaml:"start_from"`
	EndWith          string        `yaml:"end_with"`
	TimeoutAssemble  time.Duration `yaml:"timeout_assemble"`
	TimeoutExonerate time.Duration `yaml:"timeout_exonerate_contigs"`
	KeepIntermediate bool          `yaml:"keep_intermediate_files"`

	Merged             bool  `yaml:"merged"`
	CovCutoff          int   `yaml:"cov_cutoff"`
	Kvals              []int `yaml:"kvals"`
	SingleCellAssembly bool  `yaml:"spades_single_cell"`

	Target     string `yaml:"target"`
	Exclude    string `yaml:"exclude"`
	UnitFilter string `yaml:"unit_filter"`

	NoIntronerate   bool   `yaml:"no_intronerate"`
	ThreshPercent   int    `yaml:"thresh"`
	DepthMultiplier int    `yaml:"depth_multiplier"`
	StitchCommand   string `yaml:"stitch_command"`
	IntronCommand   string `yaml:"intron_command"`

	HistoryDB           string `yaml:"history_db"`
	NoHistory           bool   `yaml:"no_history"`
	SkipDependencyCheck bool   `yaml:"skip_dependency_check"`
	LogLevel            string `yaml:"log_level"`
	LogFormat           string `yaml:"log_format"`
}

// DefaultAssembleConfig returns the defaults of the assemble command.
func DefaultAssembleConfig() AssembleConfig {
	return AssembleConfig{
		OutputFolder:    ".",
		Mapper:          string(mapping.MethodBLASTX),
		Evalue:          1e-4,
		MaxTargetSeqs:   10,
		StartFrom:       stage.First().String(),
		EndWith:         stage.Last().String(),
		CovCutoff:       8,
		ThreshPercent:   55,
		DepthMultiplier: 10,
		StitchCommand:   unit.DefaultStitchCommand,
		IntronCommand:   unit.DefaultIntronCommand,
		HistoryDB:       DefaultHistoryDB(),
		LogLevel:        "info",
		LogFormat:       "text",
	}
}

// LoadAssembleConfig overlays the YAML file at path onto the defaults.
func LoadAssembleConfig(path string) (AssembleConfig, error) {
	cfg := DefaultAssembleConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ValidationError reports an invalid setting.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Validate checks the configuration before any work starts. It also turns
// off Merged when only one read file is given.
func (c *AssembleConfig) Validate() error {
	if err := c.validateStages(); err != nil {
		return err
	}
	switch n := len(c.ReadFiles); {
	case n == 0:
		return invalid("readfiles", "at least one read file is required")
	case n > 2:
		return invalid("readfiles", "one (single-end) or two (paired-end) read files are allowed, got %d", n)
	}
	if strings.Contains(c.Prefix, "/") {
		return invalid("prefix", "%q must not contain '/'", c.Prefix)
	}
	files := append([]string{}, c.ReadFiles...)
	if c.Unpaired != "" {
		if len(c.ReadFiles) != 2 {
			return invalid("unpaired", "an unpaired read file can only be combined with two paired read files")
		}
		files = append(files, c.Unpaired)
	}
	for _, f := range files {
		info, err := os.Stat(f)
		if err != nil {
			return invalid("readfiles", "read file %s not found", f)
		}
		if info.Size() == 0 {
			return invalid("readfiles", "read file %s is empty", f)
		}
	}

	if (c.TargetDNA == "") == (c.TargetAA == "") {
		return invalid("targetfile", "exactly one of a nucleotide or a protein target file is required")
	}
	target, _ := c.TargetFile()
	if _, err := os.Stat(target); err != nil {
		return invalid("targetfile", "target file %s not found", target)
	}

	m, err := mapping.ParseMethod(c.Mapper)
	if err != nil {
		return invalid("mapper", "%v", err)
	}
	if m.Nucleotide() && c.TargetAA != "" {
		return invalid("mapper", "bwa requires a nucleotide target file")
	}
	if !m.Nucleotide() && c.TargetDNA != "" {
		return invalid("mapper", "%s requires a protein target file", m)
	}

	if c.CPU < 0 {
		return invalid("cpu", "must not be negative, got %d", c.CPU)
	}
	if c.CovCutoff < 0 {
		return invalid("cov_cutoff", "must not be negative")
	}
	for _, k := range c.Kvals {
		if k <= 0 || k%2 == 0 {
			return invalid("kvals", "k values must be positive odd numbers, got %d", k)
		}
	}
	if c.TimeoutAssemble < 0 || c.TimeoutExonerate < 0 {
		return invalid("timeout", "timeouts must not be negative")
	}

	if c.Merged && len(c.ReadFiles) == 1 {
		c.Merged = false
	}
	return nil
}

func (c *AssembleConfig) validateStages() error {
	start, err := stage.Parse(c.StartFrom)
	if err != nil {
		return invalid("start_from", "%v", err)
	}
	end, err := stage.Parse(c.EndWith)
	if err != nil {
		return invalid("end_with", "%v", err)
	}
	// an order error is returned as is so callers can report both stages
	return stage.Validate(start, end)
}

// TargetFile returns the configured target file and whether it is protein.
func (c *AssembleConfig) TargetFile() (path string, protein bool) {
	if c.TargetAA != "" {
		return c.TargetAA, true
	}
	return c.TargetDNA, false
}

// SampleName is the prefix, or the first read file's name up to its first
// underscore.
func (c *AssembleConfig) SampleName() string {
	if c.Prefix != "" {
		return c.Prefix
	}
	if len(c.ReadFiles) == 0 {
		return ""
	}
	base := filepath.Base(c.ReadFiles[0])
	if i := strings.IndexByte(base, '_'); i > 0 {
		return base[:i]
	}
	for _, ext := range []string{".gz", ".fastq", ".fq"} {
		base = strings.TrimSuffix(base, ext)
	}
	return base
}

// SampleDir is the directory all of the sample's outputs go to.
func (c *AssembleConfig) SampleDir() string {
	return filepath.Join(c.OutputFolder, c.SampleName())
}

// Paired reports whether two read files were given.
func (c *AssembleConfig) Paired() bool {
	return len(c.ReadFiles) == 2
}
