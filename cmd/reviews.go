package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/mailbradsimmscom/maintenance-agent-sub000/internal/model"
)

var reviewsCmd = &cobra.Command{
	Use:   "reviews",
	Short: "Inspect and resolve pending duplicate reviews",
}

// -- reviews list --

var reviewsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending duplicate pairs",
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

		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")
		system, _ := cmd.Flags().GetString("system")

		pairs, err := env.Ledger.GetPendingReviews(ctx, limit, offset, system)
		if err != nil {
			return eris.Wrap(err, "reviews list")
		}

		if len(pairs) == 0 {
			fmt.Fprintln(os.Stderr, "No pending reviews.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "PAIR\tSYSTEM\tSIMILARITY\tREASON\tTASK A\tTASK B")
		for _, p := range pairs {
			fmt.Fprintf(w, "%s\t%s\t%.3f\t%s\t%s\t%s\n",
				p.ID, p.TaskA.SystemID, p.Similarity, p.MatchReason,
				truncate(p.TaskA.Description, 40), truncate(p.TaskB.Description, 40))
		}
		return w.Flush()
	},
}

// -- reviews stats --

var reviewsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show review queue statistics",
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

		stats, err := env.Ledger.GetReviewStats(ctx)
		if err != nil {
			return eris.Wrap(err, "reviews stats")
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "STATUS\tCOUNT")
		for _, status := range []model.PairStatus{
			model.PairPending, model.PairKeepBoth, model.PairMerge,
			model.PairDeleteTask1, model.PairDeleteTask2, model.PairDeleteBoth,
		} {
			if n := stats.ByStatus[status]; n > 0 {
				fmt.Fprintf(w, "%s\t%d\n", status, n)
			}
		}
		fmt.Fprintf(w, "executed\t%d\n", stats.Executed)
		fmt.Fprintf(w, "awaiting execution\t%d\n", stats.Unexecuted)
		fmt.Fprintf(w, "total\t%d\n", stats.Total)
		return w.Flush()
	},
}

// -- reviews resolve --

var reviewsResolveCmd = &cobra.Command{
	Use:   "resolve <pair-id> <status>",
	Short: "Resolve one pending pair",
	Long:  "Statuses: keep_both, merge, delete_task1, delete_task2, delete_both. Resolution records intent; run `execute` to apply it.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()
		if err := env.Ledger.Migrate(ctx); err != nil {
			return err
		}

		notes, _ := cmd.Flags().GetString("notes")
		reviewer, _ := cmd.Flags().GetString("reviewer")

		status := model.PairStatus(args[1])
		if err := env.Ledger.UpdateReviewStatus(ctx, args[0], status, notes, reviewer); err != nil {
			return eris.Wrap(err, "reviews resolve")
		}

		fmt.Printf("Pair %s resolved as %s.\n", args[0], status)
		return nil
	},
}

// -- reviews bulk-resolve --

var reviewsBulkResolveCmd = &cobra.Command{
	Use:   "bulk-resolve <status> <pair-id>...",
	Short: "Apply one resolution to many pairs",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()
		if err := env.Ledger.Migrate(ctx); err != nil {
			return err
		}

		reviewer, _ := cmd.Flags().GetString("reviewer")

		res, err := env.Ledger.BulkUpdateStatus(ctx, args[1:], model.PairStatus(args[0]), reviewer)
		if err != nil {
			return eris.Wrap(err, "reviews bulk-resolve")
		}

		fmt.Printf("Resolved %d, failed %d.\n", res.Successful, res.Failed)
		for id, msg := range res.Errors {
			fmt.Fprintf(os.Stderr, "  %s: %s\n", id, msg)
		}
		return nil
	},
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func init() {
	reviewsListCmd.Flags().Int("limit", 50, "maximum pairs to list")
	reviewsListCmd.Flags().Int("offset", 0, "pagination offset")
	reviewsListCmd.Flags().String("system", "", "filter by system label (substring, case-insensitive)")

	reviewsResolveCmd.Flags().String("notes", "", "reviewer notes")
	reviewsResolveCmd.Flags().String("reviewer", "", "reviewer name")
	reviewsBulkResolveCmd.Flags().String("reviewer", "", "reviewer name")

	reviewsCmd.AddCommand(reviewsListCmd, reviewsStatsCmd, reviewsResolveCmd, reviewsBulkResolveCmd)
	rootCmd.AddCommand(reviewsCmd)
}
