// Package main provides the matchhub binary: the real-time channel and match
// server, plus its schema migration command.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	var configPath string
	rootCmd := &cobra.Command{
		Use:           "matchhub",
		Short:         "Real-time presence, chat channels and paired matches over WebSocket",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "configs/dev.yaml", "path to configuration file")

	rootCmd.AddCommand(
		serveCmd(&configPath),
		migrateCmd(&configPath),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "matchhub: %v\n", err)
		os.Exit(1)
	}
}
