// Package main provides the trio-odds command line.
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/yourusername/trio-odds/internal/config"
	"github.com/yourusername/trio-odds/internal/database"
	"github.com/yourusername/trio-odds/internal/logger"
	"github.com/yourusername/trio-odds/internal/repository"
)

// Build information - set via ldflags
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

var (
	configFile string
	envFile    string
)

var rootCmd = &cobra.Command{
	Use:   "trio-odds",
	Short: "Synthetic win odds from combination odds pools",
	Long: `trio-odds converts quinella, trio and trifecta odds pools into synthetic win
odds per horse. It serves them over HTTP and WebSocket, stores snapshots and
imports race cards.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// A missing .env file is fine
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to load %s: %w", envFile, err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", config.DefaultPath, "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to a .env file loaded before configuration")

	rootCmd.AddCommand(serveCmd, calcCmd, snapshotCmd, importCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "trio-odds %s (commit %s, built %s)\n", Version, GitCommit, BuildDate)
	},
}

// loadConfig reads configuration, applies the Secrets Manager overlay and validates the result
func loadConfig(ctx context.Context) (*config.Config, error) {
	cfg, err := config.LoadWithDefaults(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.LoadSecretsFromAWS(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to load secrets: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *logrus.Logger {
	appLog := logger.NewLogger(cfg.App.LogLevel, cfg.App.LogFormat)
	appLog.WithFields(logrus.Fields{
		"environment": cfg.App.Environment,
		"log_level":   cfg.App.LogLevel,
		"version":     Version,
	}).Debug("Configuration loaded")
	return appLog
}

// openStorage opens the configured database and builds its repositories.
// The returned close function logs instead of failing.
func openStorage(ctx context.Context, cfg *config.Config, appLog *logrus.Logger) (database.Conn, *repository.Repositories, func(), error) {
	conn, err := database.Initialize(ctx, cfg, appLog)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	closeFn := func() {
		if err := conn.Close(); err != nil {
			appLog.WithError(err).Error("Failed to close database connection")
		}
	}

	repos, err := repository.NewRepositories(conn)
	if err != nil {
		closeFn()
		return nil, nil, nil, fmt.Errorf("failed to initialize repositories: %w", err)
	}
	return conn, repos, closeFn, nil
}
