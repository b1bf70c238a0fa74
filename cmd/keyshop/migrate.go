package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tbourn/keyshop-fulfillment/internal/repo"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the schema and seed default feature flags",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, cleanup, err := wire()
			if err != nil {
				return err
			}
			defer cleanup()

			if err := repo.AutoMigrate(a.DB); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			if err := a.Start(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema up to date (%s), %d flags loaded\n", a.Config.DBDriver, len(a.Flags.Snapshot()))
			return nil
		},
	}
}
