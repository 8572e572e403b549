// Package cmd contains the tallyctl commands
package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/spf13/cobra"

	"github.com/tallyhq/tally/internal/accounts"
	"github.com/tallyhq/tally/internal/config"
	"github.com/tallyhq/tally/internal/logging"
	"github.com/tallyhq/tally/internal/tracker"
)

var (
	verbose bool
	version = "dev"
	logger  *slog.Logger
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "tallyctl",
	Short: "Tally admin CLI",
	Long: `tallyctl runs maintenance tasks against a Tally deployment.

Example usage:
  tallyctl gen-secret                 # Write a signing key to .secret
  tallyctl seed alice                 # 3 fake actions, 30 days of logs
  tallyctl seed alice 5 90            # 5 actions, 90 days`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := "info"
		if verbose {
			level = "debug"
		}
		logger = logging.NewWithWriter(cmd.ErrOrStderr(), level, "text")
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version string for the CLI
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// backend is what commands that touch stored data need.
type backend struct {
	users   accounts.Store
	tracker *tracker.Service
	close   func() error
}

// openBackend connects to DATABASE_URL. Tests replace it.
var openBackend = func(ctx context.Context) (*backend, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	return &backend{
		users:   accounts.NewPostgresStore(db),
		tracker: tracker.NewService(tracker.NewPostgresStore(db)),
		close:   db.Close,
	}, nil
}
