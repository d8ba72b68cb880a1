package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"inshop.app/internal/config"
)

var (
	dsn     string
	timeout time.Duration
)

var rootCmd = &cobra.Command{
	Use:           "authctl",
	Short:         "Operator tooling for the auth service",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	config.LoadDotEnv()
	rootCmd.PersistentFlags().StringVar(&dsn, "dsn", os.Getenv("AUTH_PG_DSN"), "PostgreSQL DSN (env: AUTH_PG_DSN)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Overall command timeout")

	rootCmd.AddCommand(migrateCmd, seedCmd)
}

// openDB opens the database named by --dsn and verifies the connection.
func openDB(ctx context.Context) (*sql.DB, error) {
	if dsn == "" {
		return nil, errors.New("missing DSN: provide via --dsn or AUTH_PG_DSN")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), timeout)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "authctl:", err)
		os.Exit(1)
	}
}
