package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/quantumflow/scribe/internal/models"
)

func newStrategyCmd(appFn appProvider) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "strategy",
		Short: "Show or change the legacy/enhanced migration strategy",
	}
	cmd.AddCommand(newStrategyShowCmd(appFn), newStrategySetCmd(appFn))
	return cmd
}

func newStrategyShowCmd(appFn appProvider) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the active migration strategy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := appFn(cmd)
			if err != nil {
				return err
			}
			s := a.orchestrator.GetMigrationStrategy()
			if asJSON {
				return writeJSON(cmd, s)
			}
			printStrategy(cmd, s)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func newStrategySetCmd(appFn appProvider) *cobra.Command {
	var (
		agentType string
		status    string
		threshold float64
		fallback  bool
	)
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Update the default policy, or one agent type's policy with --agent-type",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var u models.AgentMigrationUpdate
			flags := cmd.Flags()
			if flags.Changed("status") {
				s := models.MigrationStatus(status)
				u.Status = &s
			}
			if flags.Changed("threshold") {
				u.QualityThreshold = &threshold
			}
			if flags.Changed("fallback") {
				u.FallbackEnabled = &fallback
			}
			if u.Status == nil && u.QualityThreshold == nil && u.FallbackEnabled == nil {
				return fmt.Errorf("nothing to change: pass --status, --threshold or --fallback")
			}

			var update models.MigrationUpdate
			if agentType != "" {
				t, err := models.ParseAgentType(agentType)
				if err != nil {
					return err
				}
				update.Agents = map[models.AgentType]models.AgentMigrationUpdate{t: u}
			} else {
				update.Default = &u
			}

			a, err := appFn(cmd)
			if err != nil {
				return err
			}
			s, err := a.orchestrator.UpdateMigrationStrategy(update)
			if err != nil {
				return err
			}
			if err := a.saveStrategy(s); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Strategy saved to %s\n\n", a.strategyPath)
			printStrategy(cmd, s)
			return nil
		},
	}
	cmd.Flags().StringVar(&agentType, "agent-type", "", "agent type to override (default policy when empty)")
	cmd.Flags().StringVar(&status, "status", "", "old, new or hybrid")
	cmd.Flags().Float64Var(&threshold, "threshold", 7, "hybrid quality threshold (0-10)")
	cmd.Flags().BoolVar(&fallback, "fallback", true, "fall back to legacy when enhanced fails")
	return cmd
}

func printStrategy(cmd *cobra.Command, s models.MigrationStrategy) {
	w := cmd.OutOrStdout()
	row := func(name string, m models.AgentMigration) {
		fmt.Fprintf(w, "  %-22s %-7s threshold=%.1f fallback=%t\n", name, m.Status, m.QualityThreshold, m.FallbackEnabled)
	}
	row("default", s.Default)

	types := make([]string, 0, len(s.Agents))
	for t := range s.Agents {
		types = append(types, string(t))
	}
	sort.Strings(types)
	for _, t := range types {
		row(t, s.Agents[models.AgentType(t)])
	}
}
