package doctor

import (
	"context"
	"fmt"
	"time"

	"github.com/quantumflow/scribe/internal/audit"
	"github.com/quantumflow/scribe/internal/models"
)

// EmergencyAction is one corrective step taken during an emergency response
type EmergencyAction struct {
	Action    string           `json:"action"` // restart, spawn or compact
	AgentID   string           `json:"agent_id,omitempty"`
	AgentType models.AgentType `json:"agent_type,omitempty"`
	Success   bool             `json:"success"`
	Error     string           `json:"error,omitempty"`
}

// EmergencyReport lists what an emergency response did
type EmergencyReport struct {
	Actions        []EmergencyAction `json:"actions"`
	ResolvedIssues []string          `json:"resolved_issues"`
	Errors         []string          `json:"errors,omitempty"`
}

// EmergencyResponse restarts failed containers, spawns a replacement for each
// critical type left without a healthy container and compacts memory when
// load is high. A failing step is recorded and the rest still run.
func (d *Doctor) EmergencyResponse(ctx context.Context) *EmergencyReport {
	report := &EmergencyReport{}
	d.logger.Warn("emergency response started")

	for _, c := range d.registry.All() {
		if c.Health().Status != models.HealthFailed {
			continue
		}
		c.Restart()
		report.Actions = append(report.Actions, EmergencyAction{Action: "restart", AgentID: c.ID(), AgentType: c.Type(), Success: true})
		report.ResolvedIssues = append(report.ResolvedIssues, fmt.Sprintf("restarted failed agent %s", c.ID()))
		d.logger.Info("restarted failed agent", "agent_id", c.ID(), "agent_type", string(c.Type()))
		d.record(ctx, audit.Entry{
			Task:      string(TaskEmergencyResponse),
			Action:    "restart",
			AgentID:   c.ID(),
			AgentType: string(c.Type()),
			Success:   true,
		})
	}

	for _, t := range d.cfg.CriticalTypes {
		if d.hasHealthy(t) {
			continue
		}
		spawned, err := d.SpawnAgent(ctx, SpawnRequest{
			AgentType: t,
			Priority:  "critical",
			Reason:    fmt.Sprintf("emergency replacement: no healthy %s agent", t),
		})
		if err != nil {
			report.Actions = append(report.Actions, EmergencyAction{Action: "spawn", AgentType: t, Error: err.Error()})
			report.Errors = append(report.Errors, err.Error())
			continue
		}
		report.Actions = append(report.Actions, EmergencyAction{Action: "spawn", AgentID: spawned.AgentID, AgentType: t, Success: true})
		report.ResolvedIssues = append(report.ResolvedIssues, fmt.Sprintf("spawned emergency %s agent %s", t, spawned.AgentID))
	}

	if vitals, _ := d.vitals(d.registry.All(), d.now()); vitals.SystemLoad > d.cfg.LoadThreshold {
		d.compact(ctx, vitals.SystemLoad, report)
	}

	d.logger.Info("emergency response complete",
		"actions", len(report.Actions),
		"resolved", len(report.ResolvedIssues),
		"errors", len(report.Errors))
	return report
}

func (d *Doctor) hasHealthy(t models.AgentType) bool {
	for _, c := range d.registry.ByType(t) {
		if c.Health().Status == models.HealthHealthy {
			return true
		}
	}
	return false
}

func (d *Doctor) compact(ctx context.Context, load float64, report *EmergencyReport) {
	if d.compactor == nil {
		d.logger.Warn("system load high but no compactor configured", "load", load)
		return
	}

	start := time.Now()
	res, err := d.compactor.Compact(ctx)
	entry := audit.Entry{
		Task:     string(TaskEmergencyResponse),
		Action:   "compact",
		Duration: time.Since(start),
		Details:  map[string]any{"load": load},
	}
	if err != nil {
		entry.Error = err.Error()
		d.record(ctx, entry)
		d.logger.Error("emergency compaction failed", "load", load, "error", err)
		report.Actions = append(report.Actions, EmergencyAction{Action: "compact", Error: err.Error()})
		report.Errors = append(report.Errors, err.Error())
		return
	}

	consumed := res.Summaries.Consumed + res.Patterns.Consumed + res.Essences.Consumed
	entry.Success = true
	entry.Details["consumed"] = consumed
	d.record(ctx, entry)
	d.logger.Info("emergency compaction complete", "load", load, "consumed", consumed)
	report.Actions = append(report.Actions, EmergencyAction{Action: "compact", Success: true})
	report.ResolvedIssues = append(report.ResolvedIssues, fmt.Sprintf("compacted memory at load %.2f (%d entries consumed)", load, consumed))
}
