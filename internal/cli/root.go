// Package cli provides the command-line interface for numiscrawl.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/rsommer/numiscrawl/internal/config"
	"github.com/rsommer/numiscrawl/internal/db"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose bool

	// Global config, logger and db client
	cfg        config.Config
	logger     *slog.Logger
	logCleanup func() error
	dbClient   *db.Client

	// runID correlates all log lines of one invocation.
	runID string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "numiscrawl",
	Short: "Resumable auction-lot crawler",
	Long: `Numiscrawl crawls numismatic auction listings into PostgreSQL with
pgvector embeddings for semantic search.

Every crawled lot is checkpointed to disk before it touches the database,
so interrupted runs resume where they left off. Running jobs can be
paused, resumed, and stopped through the shared job row.`,
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip DB connection for version and help commands
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		cfg = config.Load()

		level := cfg.LogLevel
		if verbose {
			level = slog.LevelDebug
		}
		logger, logCleanup = config.SetupLogger(cfg.LogFile, level)
		runID = uuid.NewString()
		logger = logger.With("run_id", runID)
		slog.SetDefault(logger)

		ctx := context.Background()
		var err error
		dbClient, err = db.NewClient(ctx, db.Config{
			URL:      cfg.DatabaseURL,
			MaxConns: cfg.MaxConns,
			EmbedDim: cfg.EmbedDim,
		}, logger)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}

		if err := dbClient.InitSchema(ctx); err != nil {
			return fmt.Errorf("initialize schema: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if dbClient != nil {
			dbClient.Close()
		}
		if logCleanup != nil {
			if err := logCleanup(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close log file: %v\n", err)
			}
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(crawlCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(resolveCmd)
}
