package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var retryCmd = &cobra.Command{
	Use:   "retry [operation-id]",
	Short: "List or requeue operations the server rejected",
	Long: `Operations that fail permanently or run out of retries are parked
instead of being retried forever. Without arguments, retry lists them; with
an operation ID (or --all) it returns them to the queue with a fresh retry
budget.`,
	Example: `  brewsync retry
  brewsync retry 6a1f...
  brewsync retry --all`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRetry,
}

var retryAll bool

func init() {
	rootCmd.AddCommand(retryCmd)

	retryCmd.Flags().BoolVar(&retryAll, "all", false,
		"Requeue every parked operation")
}

func runRetry(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	failed, err := a.records.FailedOperations()
	if err != nil {
		return err
	}

	switch {
	case retryAll:
		for _, op := range failed {
			if err := a.records.RetryFailed(op.ID); err != nil {
				return fmt.Errorf("requeue %s: %w", op.ID, err)
			}
		}
		printSuccess("Requeued %d operations", len(failed))
		return nil

	case len(args) == 1:
		if err := a.records.RetryFailed(args[0]); err != nil {
			return err
		}
		printSuccess("Requeued %s", args[0])
		return nil

	default:
		if jsonOutput {
			printJSON(failed)
			return nil
		}
		if len(failed) == 0 {
			printSuccess("No failed operations")
			return nil
		}
		for _, op := range failed {
			fmt.Printf("%s  %s %s (%s)\n", op.ID, op.Type, op.EntityID, op.EntityType)
			if op.LastError != "" {
				fmt.Printf("    %s\n", op.LastError)
			}
		}
		printInfo("\nRequeue with: brewsync retry <operation-id> or --all")
		return nil
	}
}
