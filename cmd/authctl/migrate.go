package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"inshop.app/internal/migrate"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the auth schema (users, user_roles, refresh_tokens)",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		db, err := openDB(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		applied, err := migrate.NewManager(db).Up(ctx)
		for _, name := range applied {
			fmt.Fprintln(cmd.OutOrStdout(), "applied", name)
		}
		if err != nil {
			return err
		}
		if len(applied) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
		}
		return nil
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the most recent migration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		db, err := openDB(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		name, err := migrate.NewManager(db).Down(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "reverted", name)
		return nil
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "List applied and pending migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		db, err := openDB(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		mgr := migrate.NewManager(db)
		applied, err := mgr.Status(ctx)
		if err != nil {
			return err
		}
		pending, err := mgr.Pending(ctx)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, name := range applied {
			fmt.Fprintln(out, "applied ", name)
		}
		for _, name := range pending {
			fmt.Fprintln(out, "pending ", name)
		}
		return nil
	},
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateStatusCmd)
}
