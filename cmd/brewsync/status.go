package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pending changes, conflicts, and the last sync time",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	counts, err := a.records.Counts()
	if err != nil {
		return err
	}
	lastSync, err := a.sync.LastSync()
	if err != nil {
		return err
	}
	cacheStats, err := a.static.Stats()
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(map[string]interface{}{
			"pending":   counts.Pending,
			"conflicts": counts.Conflicts,
			"failed":    counts.Failed,
			"last_sync": lastSync,
			"static":    cacheStats,
		})
		return nil
	}

	fmt.Printf("Pending changes: %d\n", counts.Pending)
	if counts.Conflicts > 0 {
		printWarning("Conflicts:       %d (run 'brewsync resolve')", counts.Conflicts)
	} else {
		fmt.Printf("Conflicts:       0\n")
	}
	if counts.Failed > 0 {
		printWarning("Failed ops:      %d (run 'brewsync retry')", counts.Failed)
	} else {
		fmt.Printf("Failed ops:      0\n")
	}

	if lastSync.IsZero() {
		fmt.Printf("Last sync:       never\n")
	} else {
		fmt.Printf("Last sync:       %s (%s ago)\n",
			lastSync.Local().Format(time.RFC822),
			time.Since(lastSync).Round(time.Second))
	}

	for _, entry := range cacheStats.Entries {
		fmt.Printf("Static %-12s v%s, %d records\n",
			string(entry.DataType)+":", entry.Version, entry.TotalRecords)
	}
	return nil
}
