// brewsync is the command-line client for the BrewVault service: an
// offline-first local store for brewing records with background
// synchronization.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
