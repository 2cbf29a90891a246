package main

import (
	"context"
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/brewvault/brewsync/internal/remote"
	"github.com/brewvault/brewsync/internal/transport"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authenticate with the BrewVault service",
	Long:  `Login stores a session token for future sync operations.`,
	Example: `  brewsync login --email brewer@example.com
  brewsync login --email brewer@example.com --password secret`,
	RunE: runLogin,
}

var (
	loginEmail    string
	loginPassword string
)

func init() {
	rootCmd.AddCommand(loginCmd)

	loginCmd.Flags().StringVarP(&loginEmail, "email", "e", "",
		"Email address (required)")
	loginCmd.Flags().StringVarP(&loginPassword, "password", "p", "",
		"Password (will prompt if not provided)")

	_ = loginCmd.MarkFlagRequired("email")
}

func runLogin(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if loginPassword == "" {
		var err error
		loginPassword, err = promptPassword("Password: ")
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
	}

	t := transport.New(&cfg.API, logger)
	defer t.Close()
	client := remote.NewClient(t, logger)

	if err := client.Login(ctx, loginEmail, loginPassword); err != nil {
		if jsonOutput {
			printJSON(map[string]interface{}{
				"success": false,
				"error":   err.Error(),
			})
		} else {
			printError("Login failed: %v", err)
		}
		return err
	}

	if err := saveToken(&tokenInfo{Token: t.GetToken(), Email: loginEmail}); err != nil {
		return fmt.Errorf("save token: %w", err)
	}

	if jsonOutput {
		printJSON(map[string]interface{}{
			"success": true,
			"email":   loginEmail,
		})
	} else {
		printSuccess("Logged in as %s", loginEmail)
	}
	return nil
}

func promptPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)

	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)

	if err != nil {
		return "", err
	}
	return string(password), nil
}
