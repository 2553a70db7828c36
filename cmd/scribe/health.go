package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/quantumflow/scribe/internal/models"
)

func newHealthCmd(appFn appProvider) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Show agent health, memory statistics and the migration strategy",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := appFn(cmd)
			if err != nil {
				return err
			}
			health := a.orchestrator.GetSystemHealth()
			if asJSON {
				return writeJSON(cmd, health)
			}

			w := cmd.OutOrStdout()
			ids := make([]string, 0, len(health.Agents))
			for id := range health.Agents {
				ids = append(ids, id)
			}
			sort.Strings(ids)

			fmt.Fprintf(w, "Agents (%d):\n", len(ids))
			for _, id := range ids {
				h := health.Agents[id]
				fmt.Fprintf(w, "  • %-45s %-9s errors=%d runs=%d success=%.0f%%\n", id, h.Status, h.ErrorCount, h.TotalExecutions, h.SuccessRate*100)
			}
			m := health.Memory
			fmt.Fprintf(w, "\nMemory: %d/%d actions (%.0f%%), summaries=%d patterns=%d essences=%d\n",
				m.TotalActions, m.Capacity, m.MemoryUsage*100,
				m.Compressed[models.LevelSummary], m.Compressed[models.LevelPattern], m.Compressed[models.LevelEssence])
			fmt.Fprintf(w, "Strategy: default %s (threshold %.1f, fallback %t), %d overrides\n",
				health.Strategy.Default.Status, health.Strategy.Default.QualityThreshold, health.Strategy.Default.FallbackEnabled, len(health.Strategy.Agents))
			if len(health.Insights) > 0 {
				fmt.Fprintln(w, "\nInsights:")
				for _, insight := range health.Insights {
					fmt.Fprintf(w, "  • %s\n", insight)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}
