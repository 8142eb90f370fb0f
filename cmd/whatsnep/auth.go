package main

import (
	"context"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func init() {
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(statusCmd)
}

func readPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	pw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("cannot read password: %w", err)
	}
	return string(pw), nil
}

var registerCmd = &cobra.Command{
	Use:   "register <username>",
	Short: "Create an account",
	Long:  "Create a WhatsNep account and store the returned session token locally.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		username := args[0]
		client, cfg := getAnonClient()

		password, err := readPassword("Password: ")
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		creds, err := client.Register(ctx, username, password)
		if err != nil {
			return fmt.Errorf("registration failed: %w", err)
		}

		cfg.Auth.Token = creds.Token
		cfg.Auth.UserID = creds.User.ID
		cfg.Auth.Username = creds.User.Username
		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		fmt.Printf("Registered as %s (%s)\n", creds.User.Username, creds.User.ID)
		return nil
	},
}

var loginCmd = &cobra.Command{
	Use:   "login <username>",
	Short: "Sign in to an existing account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		username := args[0]
		client, cfg := getAnonClient()

		password, err := readPassword("Password: ")
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		creds, err := client.Login(ctx, username, password)
		if err != nil {
			return fmt.Errorf("login failed: %w", err)
		}

		cfg.Auth.Token = creds.Token
		cfg.Auth.UserID = creds.User.ID
		cfg.Auth.Username = creds.User.Username
		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		fmt.Printf("Signed in as %s\n", creds.User.Username)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and go offline",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if cfg.Auth.Token == "" {
			fmt.Println("Not signed in.")
			return nil
		}

		// Best effort: the session ends locally even if the presence write
		// never lands.
		client, _ := getClient()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.UpdatePresence(ctx, cfg.Auth.UserID, false); err != nil {
			fmt.Fprintf(os.Stderr, "warning: could not update presence: %v\n", err)
		}

		cfg.Auth = ConfigAuth{}
		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}
		fmt.Println("Signed out.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current configuration and session",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		fmt.Println("Configuration:")
		baseURL := cfg.Default.BaseURL
		if baseURL == "" {
			baseURL = "(default)"
		}
		fmt.Printf("  Base URL: %s\n", baseURL)

		fmt.Println()
		fmt.Println("Session:")
		if cfg.Auth.Username == "" {
			fmt.Println("  (not signed in)")
			return nil
		}
		fmt.Printf("  Username: %s\n", cfg.Auth.Username)
		fmt.Printf("  User ID:  %s\n", cfg.Auth.UserID)
		fmt.Printf("  Token:    %s\n", maskToken(cfg.Auth.Token))
		return nil
	},
}

// maskToken shows the first 8 and last 4 characters of a token.
func maskToken(token string) string {
	if len(token) <= 12 {
		return "****"
	}
	return token[:8] + "..." + token[len(token)-4:]
}
