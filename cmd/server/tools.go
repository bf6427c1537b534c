package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/teecode611-cmyk/studio/internal/config"
	"github.com/teecode611-cmyk/studio/internal/flows"
	"github.com/teecode611-cmyk/studio/internal/identity"
	"github.com/teecode611-cmyk/studio/internal/store"
)

func runHistory(cmd *cobra.Command, args []string) error {
	loadEnv()
	if historyLimit <= 0 {
		return fmt.Errorf("--limit must be > 0")
	}

	db, err := config.LoadDB()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	repo, err := openStore(ctx, db)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer repo.Close()

	sessions, err := repo.ListSessions(ctx, args[0], store.SessionQuery{Limit: historyLimit, CompletedOnly: true})
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(sessions) == 0 {
		fmt.Fprintln(out, "No completed sessions.")
		return nil
	}
	fmt.Fprintln(out, flows.LearningContext(sessions, historyLimit))
	return nil
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	loadEnv()

	db, err := config.LoadDB()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	repo, err := openStore(ctx, db)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer repo.Close()

	if err := repo.Ping(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Schema ready (%s)\n", db.Driver)
	return nil
}

func runToken(cmd *cobra.Command, args []string) error {
	loadEnv()

	secret := tokenSecret
	if secret == "" {
		secret = os.Getenv("JWT_SECRET")
	}
	if secret == "" {
		return fmt.Errorf("no signing secret: pass --secret or set JWT_SECRET")
	}
	ttl, err := time.ParseDuration(tokenTTL)
	if err != nil || ttl <= 0 {
		return fmt.Errorf("invalid --ttl %q", tokenTTL)
	}

	token, err := identity.IssueToken(secret, args[0], tokenName, ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
