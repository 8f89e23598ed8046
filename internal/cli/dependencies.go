package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/me/hybpiper/internal/config"
	"github.com/me/hybpiper/internal/mapping"
	"github.com/me/hybpiper/internal/stage"
	"github.com/me/hybpiper/internal/toolexec"
	"github.com/me/hybpiper/internal/unit"
)

// requiredTools lists the executables the stages selected by cfg call.
func requiredTools(cfg config.AssembleConfig) []string {
	start, _ := stage.Parse(cfg.StartFrom)
	end, _ := stage.Parse(cfg.EndWith)
	runs := func(s stage.Stage) bool { return s.Order() >= start.Order() && s.Order() <= end.Order() }

	var tools []string
	seen := map[string]bool{}
	add := func(names ...string) {
		for _, n := range names {
			if n != "" && !seen[n] {
				seen[n] = true
				tools = append(tools, n)
			}
		}
	}

	bam := cfg.Mapper == string(mapping.MethodBWA)
	if runs(stage.MapReads) {
		switch mapping.Method(cfg.Mapper) {
		case mapping.MethodBWA:
			add("bwa", "samtools")
		case mapping.MethodDIAMOND:
			add("diamond")
		default:
			add("blastx", "makeblastdb")
		}
	}
	if runs(stage.DistributeReads) && bam {
		add("samtools")
	}
	if runs(stage.AssembleReads) {
		add("spades.py")
		if cfg.Merged {
			add("bbmerge.sh")
		}
	}
	if runs(stage.ExonerateContigs) {
		add("exonerate", unit.Program(cfg.StitchCommand))
		if !cfg.NoIntronerate {
			add(unit.Program(cfg.IntronCommand))
		}
	}
	return tools
}

// printDependencies writes one line per tool and returns the missing ones.
func printDependencies(w io.Writer, tools []string) []string {
	deps := toolexec.CheckDependencies(tools)
	for _, d := range deps {
		if d.Found {
			fmt.Fprintf(w, "  %-20s found     %s\n", d.Name, d.Path)
		} else {
			fmt.Fprintf(w, "  %-20s MISSING\n", d.Name)
		}
	}
	return toolexec.Missing(deps)
}

func newCheckDependenciesCmd() *cobra.Command {
	cfg := config.DefaultAssembleConfig()
	cmd := &cobra.Command{
		Use:   "check-dependencies",
		Short: "Check that the external programs HybPiper calls are on PATH",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Checking for external dependencies:")
			missing := printDependencies(out, requiredTools(cfg))
			if len(missing) > 0 {
				return fmt.Errorf("missing dependencies: %s", strings.Join(missing, ", "))
			}
			fmt.Fprintln(out, "Everything looks good!")
			return nil
		},
	}
	cmd.Flags().StringVar(&cfg.Mapper, "mapper", cfg.Mapper, "Read mapper to check for (bwa, blastx, diamond)")
	cmd.Flags().BoolVar(&cfg.Merged, "merged", cfg.Merged, "Also check for bbmerge.sh")
	cmd.Flags().BoolVar(&cfg.NoIntronerate, "no_intronerate", cfg.NoIntronerate, "Skip the intron recovery program")
	cmd.Flags().StringVar(&cfg.StitchCommand, "stitch_command", cfg.StitchCommand, "Hit/stitch command template")
	cmd.Flags().StringVar(&cfg.IntronCommand, "intron_command", cfg.IntronCommand, "Intron recovery command template")
	return cmd
}
