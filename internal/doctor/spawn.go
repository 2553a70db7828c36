package doctor

import (
	"context"
	"fmt"
	"time"

	"github.com/quantumflow/scribe/internal/audit"
	"github.com/quantumflow/scribe/internal/memory"
	"github.com/quantumflow/scribe/internal/models"
)

// SpawnRequest describes a container to create
type SpawnRequest struct {
	AgentType   models.AgentType  `json:"agent_type"`
	Generation  models.Generation `json:"generation,omitempty"` // defaults to enhanced
	Priority    string            `json:"priority,omitempty"`
	Reason      string            `json:"reason,omitempty"`
	Timeout     time.Duration     `json:"timeout,omitempty"` // zero keeps the default budget
	AutoRestart *bool             `json:"auto_restart,omitempty"`
}

// SpawnResult identifies a spawned container
type SpawnResult struct {
	AgentID    string            `json:"agent_id"`
	AgentType  models.AgentType  `json:"agent_type"`
	Generation models.Generation `json:"generation"`
}

// SpawnAgent builds a container with default budgets, registers it with the
// registry and the pool's agent directory, and logs the justification
func (d *Doctor) SpawnAgent(ctx context.Context, req SpawnRequest) (*SpawnResult, error) {
	start := time.Now()
	if !req.AgentType.Valid() {
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownAgentType, req.AgentType)
	}
	if req.Generation == "" {
		req.Generation = models.GenerationEnhanced
	}
	if req.Priority == "" {
		req.Priority = "normal"
	}

	cfg := d.spawner.ContainerConfig()
	if req.Timeout > 0 {
		cfg.MaxDuration = req.Timeout
	}
	if req.AutoRestart != nil {
		cfg.AutoRestart = *req.AutoRestart
	}

	c, err := d.spawner.NewContainer(req.AgentType, req.Generation, &cfg)
	if err == nil {
		err = d.registry.Register(c)
	}
	if err != nil {
		d.logger.Error("failed to spawn agent", "agent_type", string(req.AgentType), "reason", req.Reason, "error", err)
		d.record(ctx, audit.Entry{
			Task:      string(TaskSpawnAgent),
			Action:    "spawn",
			AgentType: string(req.AgentType),
			Error:     err.Error(),
			Duration:  time.Since(start),
			Details:   map[string]any{"reason": req.Reason, "priority": req.Priority},
		})
		return nil, fmt.Errorf("failed to spawn %s agent: %w", req.AgentType, err)
	}

	now := d.now()
	d.pool.RegisterAgent(memory.AgentProfile{
		ID:           c.ID(),
		AgentType:    req.AgentType,
		Generation:   req.Generation,
		Priority:     req.Priority,
		Reason:       req.Reason,
		RegisteredAt: now,
	})
	d.pool.LogAgentAction(ctx, models.AgentAction{
		AgentID:    c.ID(),
		AgentType:  req.AgentType,
		Action:     models.ActionSpawn,
		Input:      req.Reason,
		Reasoning:  fmt.Sprintf("spawned with %s priority", req.Priority),
		Confidence: 1,
		Success:    true,
		Timestamp:  now,
	})

	d.logger.Info("agent spawned",
		"agent_id", c.ID(),
		"agent_type", string(req.AgentType),
		"generation", string(req.Generation),
		"priority", req.Priority,
		"reason", req.Reason)
	d.record(ctx, audit.Entry{
		Task:      string(TaskSpawnAgent),
		Action:    "spawn",
		AgentID:   c.ID(),
		AgentType: string(req.AgentType),
		Success:   true,
		Duration:  time.Since(start),
		Details:   map[string]any{"reason": req.Reason, "priority": req.Priority, "generation": string(req.Generation)},
	})

	return &SpawnResult{AgentID: c.ID(), AgentType: req.AgentType, Generation: req.Generation}, nil
}
