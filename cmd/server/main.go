// Studio - Socratic tutoring server
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/teecode611-cmyk/studio/internal/config"
	"github.com/teecode611-cmyk/studio/internal/store"
)

var (
	Version   = "dev"
	GitCommit = "unknown"
)

var (
	envFile      string
	historyLimit int
	tokenName    string
	tokenSecret  string
	tokenTTL     string
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "studio",
		Short:   "Studio - Socratic AI tutor",
		Long:    `Studio serves a tutoring API that guides learners through problems with questions and hints instead of answers.`,
		Version: fmt.Sprintf("%s (commit: %s)", Version, GitCommit),
		RunE:    runServe,
	}
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to environment file")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API (and the gRPC health service when GRPC_HEALTH_PORT is set)",
		RunE:  runServe,
	}

	historyCmd := &cobra.Command{
		Use:   "history <user-id>",
		Short: "Print the learning context a learner's next session would see",
		Args:  cobra.ExactArgs(1),
		RunE:  runHistory,
	}
	historyCmd.Flags().IntVar(&historyLimit, "limit", 5, "Number of completed sessions to include")

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the document store schema",
		Args:  cobra.NoArgs,
		RunE:  runMigrate,
	}

	tokenCmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Issue a bearer token for a learner",
		Args:  cobra.ExactArgs(1),
		RunE:  runToken,
	}
	tokenCmd.Flags().StringVar(&tokenName, "name", "", "Display name carried in the token")
	tokenCmd.Flags().StringVar(&tokenSecret, "secret", "", "HS256 signing secret (defaults to JWT_SECRET)")
	tokenCmd.Flags().StringVar(&tokenTTL, "ttl", "24h", "Token lifetime")

	rootCmd.AddCommand(serveCmd, historyCmd, migrateCmd, tokenCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadEnv() {
	if envFile == "" {
		return
	}
	if err := godotenv.Load(envFile); err != nil {
		slog.Info("No .env file found, using environment variables", "path", envFile)
	}
}

// openStore opens the configured document store. Both drivers create their
// schema on open.
func openStore(ctx context.Context, db config.DBConfig) (store.Repository, error) {
	switch db.Driver {
	case config.DriverPostgres:
		return store.NewPostgres(ctx, db.URL)
	default:
		return store.NewSQLite(db.Path)
	}
}
