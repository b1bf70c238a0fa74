package main

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one sweeper pass and print what it did",
		Long: `Release reservations past their deadline, retire keys whose validity
ended and expire orders left unpaid beyond PAYMENT_WINDOW. Prints the
counts as JSON.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, cleanup, err := wire()
			if err != nil {
				return err
			}
			defer cleanup()

			rep, err := a.Sweep(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(rep)
		},
	}
}
