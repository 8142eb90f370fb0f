package main

import (
	"fmt"
	"os"

	whatsnep "github.com/whatsnep/whatsnep-go"
)

// getClient creates an API client authenticated with the stored token.
func getClient() (*whatsnep.Client, *Config) {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Auth.Token == "" {
		fmt.Fprintln(os.Stderr, "Not signed in. Run 'whatsnep login <username>' first.")
		os.Exit(1)
	}

	var opts []whatsnep.ClientOption
	opts = append(opts, whatsnep.WithToken(cfg.Auth.Token))
	baseURL := cfg.Default.BaseURL
	if baseURL == "" {
		baseURL = whatsnep.DefaultBaseURL
	}

	return whatsnep.NewClient(baseURL, opts...), cfg
}

// getAnonClient creates an unauthenticated API client for register/login.
func getAnonClient() (*whatsnep.Client, *Config) {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	baseURL := cfg.Default.BaseURL
	if baseURL == "" {
		baseURL = whatsnep.DefaultBaseURL
	}
	return whatsnep.NewClient(baseURL), cfg
}
