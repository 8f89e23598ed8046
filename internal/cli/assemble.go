package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/me/hybpiper/internal/assembly"
	"github.com/me/hybpiper/internal/config"
	"github.com/me/hybpiper/internal/distribute"
	"github.com/me/hybpiper/internal/engine"
	"github.com/me/hybpiper/internal/logging"
	"github.com/me/hybpiper/internal/mapping"
	"github.com/me/hybpiper/internal/pipeline"
	"github.com/me/hybpiper/internal/stage"
	"github.com/me/hybpiper/internal/store"
	"github.com/me/hybpiper/internal/supervisor"
	"github.com/me/hybpiper/internal/toolexec"
	"github.com/me/hybpiper/internal/unit"
)

func newAssembleCmd() *cobra.Command {
	opts := config.DefaultAssembleConfig()
	var configPath string

	cmd := &cobra.Command{
		Use:   "assemble -r R1.fastq[,R2.fastq] (--targetfile_dna FILE | --targetfile_aa FILE)",
		Short: "Recover gene sequences for one sample",
		Long: `Runs the assemble pipeline for one sample:

  map_reads          map reads to the targets (bwa, blastx or diamond)
  distribute_reads   split mapped reads into one directory per gene
  assemble_reads     assemble each gene's reads with SPAdes
  exonerate_contigs  extract the coding sequence of each gene from its contigs

--start_from and --end_with select a contiguous range of stages. Stages before
the start must have left their outputs in the sample directory.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveAssembleConfig(cmd.Flags(), opts, configPath)
			if err != nil {
				return err
			}
			// The global logging flags win over the config file only when given.
			if configPath == "" || flagDebug || cmd.Flags().Changed("log-level") {
				cfg.LogLevel = flagLogLevel
			}
			if configPath == "" || cmd.Flags().Changed("log-format") {
				cfg.LogFormat = flagLogFormat
			}
			return runAssemble(contextOf(cmd), cfg, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	f := cmd.Flags()
	f.StringVar(&configPath, "config", "", "YAML file with assemble settings; flags given on the command line win")

	f.StringSliceVarP(&opts.ReadFiles, "readfiles", "r", nil, "One or two FASTQ read files (may be gzipped)")
	f.StringVar(&opts.Unpaired, "unpaired", "", "Unpaired reads file used alongside paired reads")
	f.StringVar(&opts.Prefix, "prefix", "", "Sample name; defaults to the first read file name up to '_'")
	f.StringVarP(&opts.OutputFolder, "output_folder", "o", opts.OutputFolder, "Directory the sample directory is created in")
	f.StringVar(&opts.TargetDNA, "targetfile_dna", "", "Nucleotide target file")
	f.StringVar(&opts.TargetAA, "targetfile_aa", "", "Protein target file")

	f.StringVar(&opts.Mapper, "mapper", opts.Mapper, "Read mapper: bwa (nucleotide targets), blastx or diamond (protein targets)")
	f.StringVar(&opts.DiamondSensitivity, "diamond_sensitivity", "", "DIAMOND sensitivity flag, e.g. sensitive or very-sensitive")
	f.Float64Var(&opts.Evalue, "evalue", opts.Evalue, "blastx/diamond e-value threshold")
	f.IntVar(&opts.MaxTargetSeqs, "max_target_seqs", opts.MaxTargetSeqs, "blastx/diamond max target sequences per read")

	f.IntVar(&opts.CPU, "cpu", 0, "Worker pool size; 0 uses all CPUs")
	f.StringVar(&opts.StartFrom, "start_from", opts.StartFrom, "First stage to run")
	f.StringVar(&opts.EndWith, "end_with", opts.EndWith, "Last stage to run")
	f.DurationVar(&opts.TimeoutAssemble, "timeout_assemble", 0, "Per-gene SPAdes timeout; 0 disables it")
	f.DurationVar(&opts.TimeoutExonerate, "timeout_exonerate_contigs", 0, "Per-gene exonerate timeout; 0 disables it")
	f.BoolVar(&opts.KeepIntermediate, "keep_intermediate_files", false, "Keep per-gene logs and SPAdes directories")

	f.BoolVar(&opts.Merged, "merged", false, "Merge overlapping read pairs with bbmerge.sh before assembly")
	f.IntVar(&opts.CovCutoff, "cov_cutoff", opts.CovCutoff, "SPAdes coverage cutoff")
	f.IntSliceVar(&opts.Kvals, "kvals", nil, "SPAdes k-mer sizes; SPAdes chooses when unset")
	f.BoolVar(&opts.SingleCellAssembly, "spades_single_cell", false, "Run SPAdes in single-cell mode")

	f.StringVar(&opts.Target, "target", "", "Preferred target taxon for every gene")
	f.StringVar(&opts.Exclude, "exclude", "", "Target taxon never used as a gene's target")
	f.StringVar(&opts.UnitFilter, "unit_filter", "", "JavaScript expression over unit.name, unit.has_reads and unit.has_contigs selecting genes to assemble and extract")

	f.BoolVar(&opts.NoIntronerate, "no_intronerate", false, "Skip intron recovery")
	f.IntVar(&opts.ThreshPercent, "thresh", opts.ThreshPercent, "Minimum percent identity of exonerate hits")
	f.IntVar(&opts.DepthMultiplier, "depth_multiplier", opts.DepthMultiplier, "Contig depth ratio flagging a paralog")
	f.StringVar(&opts.StitchCommand, "stitch_command", opts.StitchCommand, "Hit/stitch command template")
	f.StringVar(&opts.IntronCommand, "intron_command", opts.IntronCommand, "Intron recovery command template")

	f.StringVar(&opts.HistoryDB, "history_db", opts.HistoryDB, "Run history database")
	f.BoolVar(&opts.NoHistory, "no_history", false, "Do not record the run in the history database")
	f.BoolVar(&opts.SkipDependencyCheck, "skip_dependency_check", false, "Do not look for external programs before running")

	return cmd
}

// resolveAssembleConfig returns the flag values, or, with a config file, the
// file's settings overridden by the flags set on the command line. Flag names
// match the file's keys.
func resolveAssembleConfig(fs *pflag.FlagSet, flagged config.AssembleConfig, path string) (config.AssembleConfig, error) {
	if path == "" {
		return flagged, nil
	}
	cfg, err := config.LoadAssembleConfig(path)
	if err != nil {
		return cfg, err
	}

	data, err := yaml.Marshal(flagged)
	if err != nil {
		return cfg, err
	}
	var all map[string]any
	if err := yaml.Unmarshal(data, &all); err != nil {
		return cfg, err
	}
	set := map[string]any{}
	fs.Visit(func(f *pflag.Flag) {
		if v, ok := all[f.Name]; ok {
			set[f.Name] = v
		}
	})
	if len(set) == 0 {
		return cfg, nil
	}
	if data, err = yaml.Marshal(set); err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("apply flags: %w", err)
	}
	return cfg, nil
}

func runAssemble(ctx context.Context, cfg config.AssembleConfig, stdout, stderr io.Writer) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if !cfg.SkipDependencyCheck {
		if missing := toolexec.Missing(toolexec.CheckDependencies(requiredTools(cfg))); len(missing) > 0 {
			return fmt.Errorf("missing dependencies: %s (see hybpiper check-dependencies)", strings.Join(missing, ", "))
		}
	}

	sample, sampleDir := cfg.SampleName(), cfg.SampleDir()
	started := time.Now()
	log, logFile, err := logging.NewSampleLogger(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat, stderr,
		logging.SampleLogPath(sampleDir, sample, started))
	if err != nil {
		return err
	}
	defer logFile.Close()
	log = log.With("sample", sample)
	log.Info("starting assemble", "sample_dir", sampleDir, "start_from", cfg.StartFrom, "end_with", cfg.EndWith,
		"mapper", cfg.Mapper, "cpu", cfg.CPU)
	log.Debug("assemble settings", "config", fmt.Sprintf("%+v", cfg))

	start, _ := stage.Parse(cfg.StartFrom)
	end, _ := stage.Parse(cfg.EndWith)
	var rec *pipeline.Recorder
	if !cfg.NoHistory {
		st, err := openHistory(ctx, cfg.HistoryDB, log)
		if err != nil {
			log.Warn("run history disabled", "db", cfg.HistoryDB, "error", err)
		} else {
			defer st.Close()
			rec = pipeline.NewRecorder(st, sample, sampleDir, start, end, log)
		}
	}

	state := engine.NewBatchState()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	sup := supervisor.New(state, nil, log)
	reports, stopWatch := sup.Watch(cancel)

	runner := toolexec.NewRunner(log, state.RegisterPID)
	deps, err := buildDeps(cfg, runner, log)
	if err != nil {
		stopWatch()
		return err
	}
	deps.State = state
	deps.Recorder = rec
	deps.Progress = stderr

	p, err := pipeline.New(cfg, deps, log)
	if err != nil {
		stopWatch()
		return err
	}
	sum, err := p.Run(ctx)
	stopWatch()
	// Blocks until a signal that arrived before stop has been cleaned up.
	rep, fired := <-reports
	if fired && !errors.Is(err, engine.ErrInterrupted) {
		err = engine.ErrInterrupted
		p.DiscardReports(sum)
		rec.Finish(ctx, sum, err)
	}

	if errors.Is(err, engine.ErrInterrupted) {
		if !fired {
			rep = sup.Cleanup(context.Background())
		}
		log.Error("run interrupted; no results were collected", "killed", rep.Killed, "passes", rep.Passes)
		return err
	}
	if err != nil {
		log.Error("assemble failed", "error", err, "log", logFile.Name())
		return err
	}
	printSummary(stdout, sample, sum, time.Since(started))
	if rec != nil {
		log.Info("run recorded", "run_id", rec.RunID())
	}
	return nil
}

func buildDeps(cfg config.AssembleConfig, runner toolexec.CommandRunner, log *slog.Logger) (pipeline.Deps, error) {
	reg := mapping.NewRegistry(log)
	reg.Register(mapping.NewBWA(runner, log))
	reg.Register(mapping.NewBLASTX(runner, log))
	reg.Register(mapping.NewDIAMOND(runner, log))

	stitcher, err := unit.NewCommandStitcher(runner, "exonerate", cfg.StitchCommand)
	if err != nil {
		return pipeline.Deps{}, &config.ValidationError{Field: "stitch_command", Message: err.Error()}
	}
	deps := pipeline.Deps{
		Mappers:     reg,
		Distributor: distribute.New(runner, log),
		Assembler:   assembly.NewSPAdes(runner, log),
		Stitcher:    stitcher,
	}
	if !cfg.NoIntronerate {
		intron, err := unit.NewCommandStitcher(runner, "intronerate", cfg.IntronCommand)
		if err != nil {
			return pipeline.Deps{}, &config.ValidationError{Field: "intron_command", Message: err.Error()}
		}
		deps.Intron = intron
	}
	return deps, nil
}

func openHistory(ctx context.Context, path string, log *slog.Logger) (*store.SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}
	st, err := store.NewSQLiteStore(path, log)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}

func printSummary(w io.Writer, sample string, sum *pipeline.Summary, took time.Duration) {
	if sum.StoppedAfter != "" {
		fmt.Fprintf(w, "Sample %s: stopped after %s as requested (%s)\n", sample, sum.StoppedAfter, took.Round(time.Second))
		return
	}
	fmt.Fprintf(w, "Sample %s finished in %s\n", sample, took.Round(time.Second))
	if sum.Reads > 0 {
		fmt.Fprintf(w, "  reads distributed:       %s to %d genes\n", humanize.Comma(int64(sum.Reads)), len(sum.Distributed))
	}
	if len(sum.Assembled)+len(sum.AssemblyFailed) > 0 {
		fmt.Fprintf(w, "  genes assembled:         %d (%d failed)\n", len(sum.Assembled), len(sum.AssemblyFailed))
	}
	if c := sum.Counts; c != nil {
		fmt.Fprintf(w, "  genes with sequences:    %d\n", c.WithSequence)
		fmt.Fprintf(w, "  internal stop codons:    %d\n", c.StopCodons)
		fmt.Fprintf(w, "  intronerate failed:      %d\n", c.IntronFailed)
		fmt.Fprintf(w, "  stitched contigs:        %d\n", c.StitchedContig)
		fmt.Fprintf(w, "  putative chimeras:       %d\n", c.Chimeric)
		fmt.Fprintf(w, "  paralog warnings (long): %d\n", c.LongParalogs)
		fmt.Fprintf(w, "  paralog warnings (depth): %d\n", c.DepthParalogs)
	}
}
