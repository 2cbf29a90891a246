package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/brewvault/brewsync/internal/models"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve [record-id]",
	Short: "List or settle sync conflicts",
	Long: `Without arguments, resolve lists records held in conflict with both
the local and the server version. With a record ID and a strategy it settles
the conflict:

  --keep local    keep the local version and push it
  --keep remote   take the server version, dropping local edits
  --merged FILE   push a hand-merged payload read from FILE`,
	Example: `  brewsync resolve
  brewsync resolve r-42 --keep local
  brewsync resolve r-42 --merged fixed.json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runResolve,
}

var (
	resolveKeep   string
	resolveMerged string
)

func init() {
	rootCmd.AddCommand(resolveCmd)

	resolveCmd.Flags().StringVar(&resolveKeep, "keep", "",
		"Which side wins: local or remote")
	resolveCmd.Flags().StringVar(&resolveMerged, "merged", "",
		"File with a hand-merged payload to push")
}

func runResolve(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if len(args) == 0 {
		return listConflicts(a)
	}
	return settleConflict(a, args[0])
}

func listConflicts(a *app) error {
	conflicts, err := a.records.Conflicts()
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(conflicts)
		return nil
	}

	if len(conflicts) == 0 {
		printSuccess("No conflicts")
		return nil
	}

	for _, item := range conflicts {
		fmt.Printf("%s (%s)\n", item.Key(), item.EntityType)
		fmt.Printf("  local:  %s\n", compactJSON(item.Data))
		fmt.Printf("  remote: %s\n", compactJSON(item.RemoteData))
	}
	printInfo("\nSettle with: brewsync resolve <id> --keep local|remote")
	return nil
}

func settleConflict(a *app, id string) error {
	var resolution models.ConflictResolution

	switch {
	case resolveMerged != "":
		data, err := os.ReadFile(resolveMerged)
		if err != nil {
			return fmt.Errorf("read merged payload: %w", err)
		}
		resolution = models.ConflictResolution{
			Strategy:     models.ResolveManual,
			ResolvedData: data,
		}
	case resolveKeep == "local":
		resolution = models.ConflictResolution{Strategy: models.ResolveLocalWins}
	case resolveKeep == "remote":
		resolution = models.ConflictResolution{Strategy: models.ResolveRemoteWins}
	default:
		return fmt.Errorf("pass --keep local, --keep remote, or --merged FILE")
	}

	if err := a.records.ResolveConflict(id, resolution); err != nil {
		return err
	}

	printSuccess("Resolved %s", id)
	if resolution.Strategy != models.ResolveRemoteWins {
		printInfo("Run 'brewsync sync' to push the resolution")
	}
	return nil
}

func compactJSON(data json.RawMessage) string {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return string(data)
	}
	out, err := json.Marshal(v)
	if err != nil {
		return string(data)
	}
	if len(out) > 120 {
		return string(out[:117]) + "..."
	}
	return string(out)
}
