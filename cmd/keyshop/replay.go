package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func replayCmd() *cobra.Command {
	var drain bool

	cmd := &cobra.Command{
		Use:   "replay <log-id>...",
		Short: "Re-enqueue verified webhook log entries",
		Long: `Replay webhook log entries by id. Only entries whose signature verified
are replayed; already processed ones return their cached result.

With --drain the queued jobs are processed in this process before exiting,
which is useful when no server is running.

Examples:
  keyshop replay 0b6f7c8e-0a51-4a52-9a8e-0a9f1c3f1b11
  keyshop replay --drain id-1 id-2`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, cleanup, err := wire()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx := cmd.Context()
			if err := a.Start(ctx); err != nil {
				return err
			}
			results := a.Webhooks.BulkReplay(ctx, args)
			failed := 0
			for _, r := range results {
				if !r.OK {
					failed++
				}
			}
			if drain {
				n, err := a.Queue.Drain(ctx)
				if err != nil {
					return fmt.Errorf("drain: %w", err)
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "processed %d job(s)\n", n)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(results); err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d replays failed", failed, len(results))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&drain, "drain", false, "process the replayed jobs before exiting")
	return cmd
}
