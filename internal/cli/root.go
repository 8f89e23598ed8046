// Package cli implements the hybpiper command tree.
package cli

import (
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/me/hybpiper/internal/engine"
	"github.com/me/hybpiper/internal/logging"
)

var (
	flagDebug     bool
	flagLogLevel  string
	flagLogFormat string

	logger *slog.Logger
)

// NewRootCmd creates the root cobra command for the hybpiper CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "hybpiper",
		Short: "HybPiper: recover gene sequences from target enrichment reads",
		Long: `HybPiper maps reads to target genes, distributes them per gene, assembles
each gene with SPAdes and extracts the coding sequence from the contigs.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if flagDebug {
				flagLogLevel = "debug"
			}
			logger = logging.NewConsole(cmd.ErrOrStderr(), logging.ParseLevel(flagLogLevel), flagLogFormat)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "Log format (text, json)")

	root.AddCommand(
		newAssembleCmd(),
		newCheckDependenciesCmd(),
		newRunsCmd(),
		newServeCmd(),
	)
	return root
}

// ExitCode maps the error returned by a command to the process exit status:
// 0 on success or a requested early stop, 130 after an interrupt, 1 for
// anything else.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, engine.ErrInterrupted):
		return 130
	default:
		return 1
	}
}
