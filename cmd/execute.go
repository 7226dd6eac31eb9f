package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var executeCmd = &cobra.Command{
	Use:   "execute",
	Short: "Apply resolved review decisions to the vector store",
	Long:  "Drains the queue of resolved-but-unexecuted pairs. Failures are recorded per pair and retried on the next run.",
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

		report, err := env.Engine.ExecuteAll(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("Executed %d pairs, %d failed.\n", report.Successful, report.Failed)
		for id, msg := range report.Errors {
			fmt.Fprintf(os.Stderr, "  %s: %s\n", id, msg)
		}
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the review ledger schema",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		led, err := initLedger(ctx)
		if err != nil {
			return err
		}
		defer led.Close()

		if err := led.Migrate(ctx); err != nil {
			return err
		}
		fmt.Println("Ledger schema up to date.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(executeCmd, migrateCmd)
}
