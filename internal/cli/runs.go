package cli

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/me/hybpiper/internal/config"
	"github.com/me/hybpiper/pkg/model"
)

func newRunsCmd() *cobra.Command {
	var dbPath string
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect the history of assemble runs",
	}
	cmd.PersistentFlags().StringVar(&dbPath, "history_db", config.DefaultHistoryDB(), "Run history database")
	cmd.AddCommand(newRunsListCmd(&dbPath), newRunsShowCmd(&dbPath))
	return cmd
}

func newRunsListCmd(dbPath *string) *cobra.Command {
	opts := model.NewRunQuery()
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := contextOf(cmd)
			st, err := openHistory(ctx, *dbPath, logger)
			if err != nil {
				return fmt.Errorf("open history: %w", err)
			}
			defer st.Close()

			runs, total, err := st.ListRuns(ctx, opts)
			if err != nil {
				return fmt.Errorf("list runs: %w", err)
			}
			out := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs found.")
				return nil
			}

			fmt.Fprintf(out, "%-40s  %-12s  %-16s  %-40s  %s\n", "ID", "STATE", "SAMPLE", "STAGES", "STARTED")
			fmt.Fprintf(out, "%-40s  %-12s  %-16s  %-40s  %s\n", "--", "-----", "------", "------", "-------")
			for _, r := range runs {
				fmt.Fprintf(out, "%-40s  %-12s  %-16s  %-40s  %s\n",
					r.ID, r.State, r.Sample, r.StartStage+" -> "+r.EndStage, humanize.Time(r.CreatedAt))
			}
			if opts.Offset+len(runs) < total {
				fmt.Fprintf(out, "\n(%d of %d shown)\n", len(runs), total)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&opts.Limit, "limit", opts.Limit, "Maximum number of runs to show")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "Number of runs to skip")
	cmd.Flags().StringVar(&opts.State, "state", "", "Only runs in this state (running, completed, stopped, failed, interrupted)")
	cmd.Flags().StringVar(&opts.Sample, "sample", "", "Only runs of this sample")
	return cmd
}

func newRunsShowCmd(dbPath *string) *cobra.Command {
	var showUnits bool
	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a run's stage decisions and gene outcomes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := contextOf(cmd)
			st, err := openHistory(ctx, *dbPath, logger)
			if err != nil {
				return fmt.Errorf("open history: %w", err)
			}
			defer st.Close()

			run, err := st.GetRun(ctx, args[0])
			if err != nil {
				return err
			}
			events, err := st.ListStageEvents(ctx, run.ID)
			if err != nil {
				return fmt.Errorf("list stage events: %w", err)
			}
			outcomes, err := st.ListUnitOutcomes(ctx, run.ID)
			if err != nil {
				return fmt.Errorf("list unit outcomes: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Run:        %s\n", run.ID)
			fmt.Fprintf(out, "Sample:     %s (%s)\n", run.Sample, run.SampleDir)
			fmt.Fprintf(out, "State:      %s\n", run.State)
			fmt.Fprintf(out, "Stages:     %s -> %s\n", run.StartStage, run.EndStage)
			fmt.Fprintf(out, "Started:    %s\n", run.CreatedAt.Local().Format(time.DateTime))
			if run.CompletedAt != nil {
				fmt.Fprintf(out, "Finished:   %s (%s)\n", run.CompletedAt.Local().Format(time.DateTime),
					run.CompletedAt.Sub(run.CreatedAt).Round(time.Second))
			}
			if run.Error != "" {
				fmt.Fprintf(out, "Error:      %s\n", run.Error)
			}

			if len(events) > 0 {
				fmt.Fprintln(out, "\nStages:")
				for _, ev := range events {
					fmt.Fprintf(out, "  %-20s %s\n", ev.Stage, ev.Action)
				}
			}
			if len(outcomes) > 0 {
				fmt.Fprintln(out, "\nGenes:")
				for _, line := range outcomeCounts(outcomes) {
					fmt.Fprintf(out, "  %s\n", line)
				}
			}
			if showUnits {
				fmt.Fprintf(out, "\n%-20s  %-10s  %8s  %-6s  %-10s  %s\n", "GENE", "STATE", "LENGTH", "STOPS", "INTRON", "NOTE")
				for _, o := range outcomes {
					note := o.Result.Reason
					if o.Error != "" {
						note = o.Error
					}
					fmt.Fprintf(out, "%-20s  %-10s  %8d  %-6t  %-10s  %s\n",
						o.Unit, o.State, o.Result.Length, o.Result.StopCodons, o.Result.Intron, note)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&showUnits, "units", false, "List every gene outcome")
	return cmd
}

// outcomeCounts summarises outcomes by state, with genes that produced a
// sequence counted separately.
func outcomeCounts(outcomes []model.UnitOutcome) []string {
	byState := map[model.UnitState]int{}
	withSeq := 0
	for _, o := range outcomes {
		byState[o.State]++
		if o.Succeeded() {
			withSeq++
		}
	}
	states := make([]string, 0, len(byState))
	for s := range byState {
		states = append(states, string(s))
	}
	sort.Strings(states)

	lines := []string{fmt.Sprintf("%-12s %d", "WITH_SEQ", withSeq)}
	for _, s := range states {
		lines = append(lines, fmt.Sprintf("%-12s %d", s, byState[model.UnitState(s)]))
	}
	return lines
}

func contextOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
