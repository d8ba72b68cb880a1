package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"inshop.app/internal/auth"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed bootstrap data",
}

var adminSeed = auth.AdminSeed{Cost: auth.DefaultBcryptCost}

var seedAdminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Create a verified super_admin unless the email is already registered",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		db, err := openDB(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		store := auth.NewPGStore(db)
		created, err := auth.EnsureSuperAdmin(ctx, store.Users(ctx), adminSeed)
		if err != nil {
			return err
		}
		if created {
			fmt.Fprintln(cmd.OutOrStdout(), "created super_admin", adminSeed.Email)
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), adminSeed.Email, "already exists")
		}
		return nil
	},
}

func init() {
	f := seedAdminCmd.Flags()
	f.StringVar(&adminSeed.Email, "email", "", "Administrator email")
	f.StringVar(&adminSeed.Password, "password", "", "Administrator password (8-50 characters)")
	f.StringVar(&adminSeed.FirstName, "first-name", "", "Administrator first name")
	f.StringVar(&adminSeed.LastName, "last-name", "", "Administrator last name")
	f.IntVar(&adminSeed.Cost, "cost", auth.DefaultBcryptCost, "bcrypt cost")
	_ = seedAdminCmd.MarkFlagRequired("email")
	_ = seedAdminCmd.MarkFlagRequired("password")

	seedCmd.AddCommand(seedAdminCmd)
}
