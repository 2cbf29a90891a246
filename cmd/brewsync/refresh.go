package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Revalidate reference data and run a sync cycle",
	Long: `Refresh is the pull-to-refresh path: it checks the ingredient and
beer style datasets for new versions, then runs a full sync cycle. When the
version check fails, the cached data keeps serving.`,
	RunE: runRefresh,
}

func init() {
	rootCmd.AddCommand(refreshCmd)
}

func runRefresh(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	result, err := a.sync.Refresh(ctx)
	if jsonOutput {
		out := map[string]interface{}{"success": err == nil}
		if result != nil {
			out["result"] = result
		}
		if err != nil {
			out["error"] = err.Error()
		}
		printJSON(out)
		return err
	}
	if err != nil {
		return fmt.Errorf("refresh: %w", err)
	}

	stats, statsErr := a.static.Stats()
	if statsErr == nil {
		for _, entry := range stats.Entries {
			printInfo("%s: version %s, %d records", entry.DataType, entry.Version, entry.TotalRecords)
		}
	}
	printSuccess("Refreshed")
	return nil
}
