package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/quantumflow/scribe/internal/audit"
	"github.com/quantumflow/scribe/internal/doctor"
	"github.com/quantumflow/scribe/internal/models"
)

func newDoctorCmd(appFn appProvider) *cobra.Command {
	var (
		agentType string
		priority  string
		reason    string
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "doctor <task>",
		Short: "Run a Doctor task",
		Long:  "Run a Doctor task: health-check, spawn-agent, emergency-response, system-optimization or predictive-analysis.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := doctor.ParseTaskKind(args[0])
			if err != nil {
				return err
			}
			a, err := appFn(cmd)
			if err != nil {
				return err
			}

			task := doctor.Task{Kind: kind}
			if kind == doctor.TaskSpawnAgent {
				if agentType == "" {
					return errors.New("spawn-agent requires --agent-type")
				}
				task.Spawn = &doctor.SpawnRequest{
					AgentType: models.AgentType(agentType),
					Priority:  priority,
					Reason:    reason,
				}
			}

			res, err := a.doctor.Execute(cmd.Context(), task)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, res)
			}
			printTaskResult(cmd.OutOrStdout(), res)
			return nil
		},
	}
	cmd.Flags().StringVar(&agentType, "agent-type", "", "agent type to spawn")
	cmd.Flags().StringVar(&priority, "priority", "normal", "spawn priority")
	cmd.Flags().StringVar(&reason, "reason", "manual spawn", "why the agent is needed")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")

	cmd.AddCommand(newDoctorHistoryCmd(appFn))
	return cmd
}

func printTaskResult(w io.Writer, res *doctor.TaskResult) {
	switch {
	case res.Health != nil:
		v := res.Health.Vitals
		fmt.Fprintf(w, "Status: %s\n", res.Health.Status)
		fmt.Fprintf(w, "Agents: %d total, %d healthy, %d degraded, %d failed\n", v.TotalAgents, v.HealthyAgents, v.DegradedAgents, v.FailedAgents)
		fmt.Fprintf(w, "Load: %.2f | Memory: %.2f | Errors: %.0f%% | Avg response: %s\n", v.SystemLoad, v.MemoryUsage, v.ErrorRate*100, v.AverageResponseTime.Round(time.Millisecond))
		for _, issue := range res.Health.Issues {
			fmt.Fprintf(w, "  ⚠️  [%s] %s\n", issue.Severity, issue.Description)
		}
	case res.Spawn != nil:
		fmt.Fprintf(w, "✓ Spawned %s (%s %s)\n", res.Spawn.AgentID, res.Spawn.Generation, res.Spawn.AgentType)
	case res.Emergency != nil:
		if len(res.Emergency.Actions) == 0 {
			fmt.Fprintln(w, "✓ Nothing to repair")
		}
		for _, resolved := range res.Emergency.ResolvedIssues {
			fmt.Fprintf(w, "  ✓ %s\n", resolved)
		}
		for _, e := range res.Emergency.Errors {
			fmt.Fprintf(w, "  ❌ %s\n", e)
		}
	case res.Optimization != nil:
		if len(res.Optimization.Recommendations) == 0 {
			fmt.Fprintln(w, "✓ No optimization needed")
		}
		for _, r := range res.Optimization.Recommendations {
			fmt.Fprintf(w, "  • %-9s %s: %s\n", r.Kind, r.AgentID, r.Reason)
		}
	case res.Prediction != nil:
		if len(res.Prediction.Predictions) == 0 {
			fmt.Fprintln(w, "✓ No problems forecast")
		}
		for _, p := range res.Prediction.Predictions {
			fmt.Fprintf(w, "  • [%s] %s\n", p.Severity, p.Description)
		}
	}
	fmt.Fprintf(w, "\n⏱ %s\n", res.Duration.Round(time.Millisecond))
}

func newDoctorHistoryCmd(appFn appProvider) *cobra.Command {
	var (
		task   string
		since  time.Duration
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show corrective actions recorded in the audit log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := appFn(cmd)
			if err != nil {
				return err
			}
			if a.audit == nil {
				return errors.New("audit log disabled; set audit.path or SCRIBE_AUDIT_PATH")
			}

			filter := audit.Filter{Component: "doctor", Task: task, Limit: limit}
			if since > 0 {
				from := time.Now().Add(-since)
				filter.Since = &from
			}
			entries, err := a.audit.Query(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, entries)
			}

			w := cmd.OutOrStdout()
			for _, e := range entries {
				mark := "✓"
				if !e.Success {
					mark = "✗"
				}
				target := e.AgentID
				if target == "" {
					target = e.AgentType
				}
				fmt.Fprintf(w, "%s %s %-19s %-12s %s %s\n", e.Timestamp.Format(time.RFC3339), mark, e.Task, e.Action, target, e.Error)
			}

			stats, err := a.audit.Stats(cmd.Context(), task, time.Time{})
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "\n%d entries, %.0f%% errors\n", stats.Total, stats.ErrorRate*100)
			return nil
		},
	}
	cmd.Flags().StringVar(&task, "task", "", "only this doctor task")
	cmd.Flags().DurationVar(&since, "since", 0, "only entries newer than this")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum entries")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}
