package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Clear the session and local user data",
	Long: `Logout removes the session token and this user's local record
database. The shared static-data cache (ingredients, beer styles) is kept;
it is not user data.`,
	RunE: runLogout,
}

var logoutKeepData bool

func init() {
	rootCmd.AddCommand(logoutCmd)

	logoutCmd.Flags().BoolVar(&logoutKeepData, "keep-data", false,
		"Keep the local record database, clear only the session")
}

func runLogout(cmd *cobra.Command, args []string) error {
	session, err := loadToken()
	if err != nil {
		printInfo("Not logged in")
		return nil
	}

	if err := os.Remove(tokenPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove token: %w", err)
	}

	if !logoutKeepData {
		dataDir := cfg.Storage.DataDir
		if !filepath.IsAbs(dataDir) {
			if home, err := os.UserHomeDir(); err == nil {
				dataDir = filepath.Join(home, dataDir)
			}
		}
		storageCfg := cfg.Storage
		storageCfg.DataDir = dataDir

		dbPath := storageCfg.UserDataPath(userID(session.Email))
		for _, path := range []string{dbPath, dbPath + "-wal", dbPath + "-shm"} {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("remove user data: %w", err)
			}
		}
	}

	printSuccess("Logged out %s", session.Email)
	return nil
}
