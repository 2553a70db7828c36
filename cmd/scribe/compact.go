package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newCompactCmd(appFn appProvider) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "compact",
		Short: "Run one memory compaction pass",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := appFn(cmd)
			if err != nil {
				return err
			}
			res, err := a.engine.Compact(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, res)
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "raw → summary:     %d consumed, %d created, %d skipped\n", res.Summaries.Consumed, res.Summaries.Created, res.Summaries.Skipped)
			fmt.Fprintf(w, "summary → pattern: %d consumed, %d created, %d skipped\n", res.Patterns.Consumed, res.Patterns.Created, res.Patterns.Skipped)
			fmt.Fprintf(w, "pattern → essence: %d consumed, %d created, %d skipped\n", res.Essences.Consumed, res.Essences.Created, res.Essences.Skipped)
			fmt.Fprintf(w, "\n⏱ %s\n", res.Duration.Round(time.Millisecond))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}
