// Zapito admin CLI - staff pools, counters and sessions on the local database
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ashureev/zapito/internal/store"
)

const defaultDBPath = "./data/zapito.db"

var (
	// Global flags
	dbPath  string
	verbose bool

	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
)

var rootCmd = &cobra.Command{
	Use:   "zapito-admin",
	Short: "Operate the zapito bot database",
	Long: `zapito-admin manages the staff rotation pools, reads event counters and
resets customer sessions directly on the bot's SQLite database.

The database path defaults to DB_PATH (read from .env when present).`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database path (default: $DB_PATH or "+defaultDBPath+")")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(staffCmd, statsCmd, sessionCmd, cleanupCmd)
}

func main() {
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}

func resolveDBPath() string {
	if dbPath != "" {
		return dbPath
	}
	if env := os.Getenv("DB_PATH"); env != "" {
		return env
	}
	return defaultDBPath
}

func openStore() (*store.SQLiteStore, error) {
	path := resolveDBPath()
	logger.Debug("opening database", "path", path)
	repo, err := store.NewSQLite(path)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	return repo, nil
}

func closeStore(repo *store.SQLiteStore) {
	if err := repo.Close(); err != nil {
		logger.Warn("failed to close database", "error", err)
	}
}
