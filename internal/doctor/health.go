package doctor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/quantumflow/scribe/internal/agent"
	"github.com/quantumflow/scribe/internal/audit"
	"github.com/quantumflow/scribe/internal/models"
)

// Status is the overall system verdict of a health check
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
)

// Severity ranks a SystemIssue
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Issue types
const (
	IssueAgentFailure = "agent-failure"
	IssuePerformance  = "performance"
)

// SystemIssue is a problem found by a health check
type SystemIssue struct {
	ID             string           `json:"id"`
	Type           string           `json:"type"`
	Severity       Severity         `json:"severity"`
	Description    string           `json:"description"`
	AgentID        string           `json:"agent_id,omitempty"`
	AgentType      models.AgentType `json:"agent_type,omitempty"`
	AutoResolvable bool             `json:"auto_resolvable"`
	DetectedAt     time.Time        `json:"detected_at"`
}

// HealthReport is the result of a health check
type HealthReport struct {
	Status Status                        `json:"status"`
	Vitals models.SystemVitals           `json:"vitals"`
	Issues []SystemIssue                 `json:"issues"`
	Agents map[string]models.AgentHealth `json:"agents"`
}

// HealthCheck polls every container, computes vitals and derives issues
func (d *Doctor) HealthCheck(ctx context.Context) *HealthReport {
	now := d.now()
	containers := d.registry.All()
	vitals, agents := d.vitals(containers, now)

	report := &HealthReport{Vitals: vitals, Agents: agents}
	for _, c := range containers {
		if agents[c.ID()].Status != models.HealthFailed {
			continue
		}
		report.Issues = append(report.Issues, SystemIssue{
			ID:             uuid.NewString(),
			Type:           IssueAgentFailure,
			Severity:       SeverityHigh,
			Description:    fmt.Sprintf("agent %s has failed (%d consecutive errors)", c.ID(), agents[c.ID()].ErrorCount),
			AgentID:        c.ID(),
			AgentType:      c.Type(),
			AutoResolvable: true,
			DetectedAt:     now,
		})
	}
	if vitals.AverageResponseTime > d.cfg.ResponseTimeCeiling {
		report.Issues = append(report.Issues, SystemIssue{
			ID:          uuid.NewString(),
			Type:        IssuePerformance,
			Severity:    SeverityMedium,
			Description: fmt.Sprintf("average response time %s exceeds %s", vitals.AverageResponseTime.Round(time.Millisecond), d.cfg.ResponseTimeCeiling),
			DetectedAt:  now,
		})
	}

	switch {
	case vitals.FailedAgents > 0:
		report.Status = StatusCritical
	case vitals.TotalAgents > 0 && float64(vitals.DegradedAgents)/float64(vitals.TotalAgents) > d.cfg.DegradedFraction:
		report.Status = StatusWarning
	default:
		report.Status = StatusHealthy
	}

	d.logger.Info("health check complete",
		"status", string(report.Status),
		"agents", vitals.TotalAgents,
		"failed", vitals.FailedAgents,
		"degraded", vitals.DegradedAgents,
		"issues", len(report.Issues),
		"load", vitals.SystemLoad)
	d.record(ctx, audit.Entry{
		Timestamp: now,
		Task:      string(TaskHealthCheck),
		Action:    "health-check",
		Success:   report.Status != StatusCritical,
		Details: map[string]any{
			"status": string(report.Status),
			"issues": len(report.Issues),
			"failed": vitals.FailedAgents,
		},
	})
	return report
}

// vitals derives SystemVitals from container health and pool usage.
// SystemLoad is the larger of the busy-container share and memory usage.
func (d *Doctor) vitals(containers []*agent.Container, now time.Time) (models.SystemVitals, map[string]models.AgentHealth) {
	v := models.SystemVitals{
		TotalAgents:     len(containers),
		MemoryUsage:     models.Clamp01(d.pool.MemoryUsage()),
		LastHealthCheck: now,
	}
	agents := make(map[string]models.AgentHealth, len(containers))

	var (
		busy       int
		timed      int
		totalTime  time.Duration
		executions int
		failures   float64
	)
	for _, c := range containers {
		h := c.Health()
		agents[c.ID()] = h
		switch h.Status {
		case models.HealthHealthy:
			v.HealthyAgents++
		case models.HealthDegraded:
			v.DegradedAgents++
		case models.HealthFailed:
			v.FailedAgents++
		}
		if c.Busy() {
			busy++
		}
		if h.TotalExecutions > 0 {
			timed++
			totalTime += h.AverageResponseTime
			executions += h.TotalExecutions
			failures += (1 - h.SuccessRate) * float64(h.TotalExecutions)
		}
	}

	if timed > 0 {
		v.AverageResponseTime = totalTime / time.Duration(timed)
	}
	if executions > 0 {
		v.ErrorRate = models.Clamp01(failures / float64(executions))
	}
	var busyFraction float64
	if v.TotalAgents > 0 {
		busyFraction = float64(busy) / float64(v.TotalAgents)
	}
	v.SystemLoad = max(busyFraction, v.MemoryUsage)
	return v, agents
}
