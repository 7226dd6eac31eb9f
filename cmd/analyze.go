package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mailbradsimmscom/maintenance-agent-sub000/internal/engine"
	"github.com/mailbradsimmscom/maintenance-agent-sub000/internal/grouper"
)

var (
	analyzeSystem string
	analyzeGroups bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Run a full pairwise duplicate analysis",
	Long:  "Compares every active task against every other task in the same system and queues detected duplicate pairs for review. Offline operation; not for hot paths.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()
		if err := env.Ledger.Migrate(ctx); err != nil {
			return err
		}

		run, pairs, err := env.Engine.Analyze(ctx, analyzeSystem, engine.NewFingerprintCache())
		if err != nil {
			return err
		}

		fmt.Printf("Analysis %s complete: %d tasks compared, %d pairs queued for review.\n",
			run.ID, run.TasksCompared, run.PairsFound)

		if !analyzeGroups || len(pairs) == 0 {
			return nil
		}

		groups := grouper.Group(pairs)
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "PRIMARY\tSYSTEM\tDUPLICATES")
		for _, g := range groups {
			fmt.Fprintf(w, "%s\t%s\t%d\n", g.Primary.Description, g.Primary.SystemID, len(g.Duplicates))
		}
		return w.Flush()
	},
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeSystem, "system", "", "restrict analysis to one system")
	analyzeCmd.Flags().BoolVar(&analyzeGroups, "groups", false, "print duplicate groups after analysis")
	rootCmd.AddCommand(analyzeCmd)
}
