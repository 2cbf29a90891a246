package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	syncsvc "github.com/brewvault/brewsync/internal/services/sync"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Synchronize local changes with the server",
	Long: `Sync pushes queued local changes to the server, pulls remote
changes, and reconciles divergence.

With --watch the process stays running and syncs on reconnect, on server
change pushes, and on a periodic interval.`,
	Example: `  brewsync sync
  brewsync sync --watch`,
	RunE: runSyncCmd,
}

var syncWatch bool

func init() {
	rootCmd.AddCommand(syncCmd)

	syncCmd.Flags().BoolVarP(&syncWatch, "watch", "w", false,
		"Keep running and sync on network signals")
}

func runSyncCmd(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	go func() {
		<-sigChan
		printWarning("\nInterrupted, cancelling...")
		a.sync.Cancel()
		cancel()
	}()

	if syncWatch {
		a.transport.Start(ctx)
		printInfo("Watching for changes, Ctrl-C to stop")
		if err := a.sync.Run(ctx); err != nil && err != context.Canceled {
			return err
		}
		return nil
	}

	return runOneCycle(ctx, a)
}

func runOneCycle(ctx context.Context, a *app) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for event := range a.sync.Events() {
			if jsonOutput {
				continue
			}
			switch event.Type {
			case syncsvc.EventOpPushed:
				logger.WithField("entity", event.EntityID).Debug("Pushed")
			case syncsvc.EventOpFailed:
				printWarning("Failed to push %s: %v", event.EntityID, event.Error)
			case syncsvc.EventConflict:
				printWarning("Conflict on %s, run 'brewsync resolve' to settle it", event.EntityID)
			}
		}
	}()

	result, err := a.sync.Sync(ctx)
	<-done

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
		return fmt.Errorf("sync: %w", err)
	}

	fmt.Printf("Pushed:    %d\n", result.Processed)
	fmt.Printf("Failed:    %d\n", result.Failed)
	fmt.Printf("Conflicts: %d\n", result.Conflicts)
	fmt.Printf("Duration:  %s\n", result.Duration.Round(time.Millisecond))
	printSuccess("Sync completed")
	return nil
}
