package mcpserver

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/quantumflow/scribe/internal/agent"
	"github.com/quantumflow/scribe/internal/doctor"
	"github.com/quantumflow/scribe/internal/logging"
	"github.com/quantumflow/scribe/internal/models"
	"github.com/quantumflow/scribe/internal/orchestrator"
)

// ExecuteTool handles the execute_agent MCP tool
type ExecuteTool struct {
	orch   *orchestrator.Orchestrator
	router *agent.Router
}

// NewExecuteTool creates an ExecuteTool. With a router, agent_type "auto"
// picks the agent from the request text.
func NewExecuteTool(orch *orchestrator.Orchestrator, router *agent.Router) *ExecuteTool {
	return &ExecuteTool{orch: orch, router: router}
}

// Definition returns the MCP tool definition for execute_agent
func (t *ExecuteTool) Definition() mcp.Tool {
	names := agentTypeNames()
	if t.router != nil {
		names = append(names, agent.AutoAgentType)
	}
	return mcp.NewTool("execute_agent",
		mcp.WithDescription("Run a creative-writing agent. Routing between legacy and enhanced implementations follows the migration strategy."),
		mcp.WithString("agent_type",
			mcp.Required(),
			mcp.Enum(names...),
			mcp.Description("Agent to run"),
		),
		mcp.WithString("input",
			mcp.Required(),
			mcp.Description("The writer's request"),
		),
		mcp.WithString("document", mcp.Description("Current document text")),
		mcp.WithString("selection", mcp.Description("Selected text, if any")),
		mcp.WithNumber("cursor_position", mcp.Description("Cursor offset in the document")),
		mcp.WithString("user_id", mcp.Description("Writer identifier")),
		mcp.WithString("implementation",
			mcp.Enum(models.PreferEnhanced, models.PreferLegacy),
			mcp.Description("Force an implementation (hybrid routing only)"),
		),
		mcp.WithString("tone", mcp.Description("Preferred tone")),
		mcp.WithString("style", mcp.Description("Preferred style")),
	)
}

// Handle processes the execute_agent tool call
func (t *ExecuteTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input := req.GetString("input", "")
	agentType := models.AgentType(req.GetString("agent_type", ""))
	if t.router != nil && string(agentType) == agent.AutoAgentType {
		agentType = t.router.Route(ctx, input).AgentType
	}

	request := &models.AgentRequest{
		AgentType: agentType,
		Input:     input,
		Context: models.RequestContext{
			Document:       req.GetString("document", ""),
			Selection:      req.GetString("selection", ""),
			CursorPosition: req.GetInt("cursor_position", 0),
			UserID:         req.GetString("user_id", ""),
		},
		Preferences: models.Preferences{
			Implementation: req.GetString("implementation", ""),
			Tone:           req.GetString("tone", ""),
			Style:          req.GetString("style", ""),
		},
	}

	resp := t.orch.ExecuteAgent(ctx, request)
	if !resp.Success && resp.ErrorKind == models.ErrorKindConfiguration {
		return mcp.NewToolResultError(resp.Error), nil
	}
	return jsonResult(resp)
}

// HealthTool handles the system_health MCP tool
type HealthTool struct {
	orch *orchestrator.Orchestrator
}

// NewHealthTool creates a HealthTool
func NewHealthTool(orch *orchestrator.Orchestrator) *HealthTool {
	return &HealthTool{orch: orch}
}

// Definition returns the MCP tool definition for system_health
func (t *HealthTool) Definition() mcp.Tool {
	return mcp.NewTool("system_health",
		mcp.WithDescription("Show per-agent health, memory pool statistics, insights and the active migration strategy."),
	)
}

// Handle processes the system_health tool call
func (t *HealthTool) Handle(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(t.orch.GetSystemHealth())
}

// DoctorTool handles the doctor MCP tool
type DoctorTool struct {
	doctor *doctor.Doctor
}

// NewDoctorTool creates a DoctorTool
func NewDoctorTool(d *doctor.Doctor) *DoctorTool {
	return &DoctorTool{doctor: d}
}

// Definition returns the MCP tool definition for doctor
func (t *DoctorTool) Definition() mcp.Tool {
	kinds := doctor.AllTaskKinds()
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	return mcp.NewTool("doctor",
		mcp.WithDescription("Run a Doctor task: health-check, spawn-agent, emergency-response, system-optimization or predictive-analysis."),
		mcp.WithString("task",
			mcp.Required(),
			mcp.Enum(names...),
			mcp.Description("Task to run"),
		),
		mcp.WithString("agent_type",
			mcp.Enum(agentTypeNames()...),
			mcp.Description("Agent type to spawn (spawn-agent only)"),
		),
		mcp.WithString("priority", mcp.Description("Spawn priority (spawn-agent only)")),
		mcp.WithString("reason", mcp.Description("Why the agent is needed (spawn-agent only)")),
	)
}

// Handle processes the doctor tool call
func (t *DoctorTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	kind, err := doctor.ParseTaskKind(req.GetString("task", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	task := doctor.Task{Kind: kind}
	if kind == doctor.TaskSpawnAgent {
		task.Spawn = &doctor.SpawnRequest{
			AgentType: models.AgentType(req.GetString("agent_type", "")),
			Priority:  req.GetString("priority", ""),
			Reason:    req.GetString("reason", "requested via MCP"),
		}
	}

	res, err := t.doctor.Execute(ctx, task)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("doctor task failed: %v", err)), nil
	}
	return jsonResult(res)
}

// StrategyTool handles the migration_strategy MCP tool
type StrategyTool struct {
	orch   *orchestrator.Orchestrator
	save   func(models.MigrationStrategy) error
	logger logging.Logger
}

// NewStrategyTool creates a StrategyTool; save persists accepted updates and may be nil
func NewStrategyTool(orch *orchestrator.Orchestrator, save func(models.MigrationStrategy) error, logger logging.Logger) *StrategyTool {
	return &StrategyTool{orch: orch, save: save, logger: logging.OrNoOp(logger)}
}

// Definition returns the MCP tool definition for migration_strategy
func (t *StrategyTool) Definition() mcp.Tool {
	return mcp.NewTool("migration_strategy",
		mcp.WithDescription("Show the migration strategy, or update the default policy or one agent type's policy when any field is given."),
		mcp.WithString("agent_type",
			mcp.Enum(agentTypeNames()...),
			mcp.Description("Agent type to update (default policy when omitted)"),
		),
		mcp.WithString("status",
			mcp.Enum(string(models.MigrationOld), string(models.MigrationNew), string(models.MigrationHybrid)),
			mcp.Description("Routing status"),
		),
		mcp.WithNumber("quality_threshold", mcp.Description("Hybrid escalation threshold, 0-10")),
		mcp.WithBoolean("fallback_enabled", mcp.Description("Fall back to legacy when enhanced fails")),
	)
}

// Handle processes the migration_strategy tool call
func (t *StrategyTool) Handle(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()

	var u models.AgentMigrationUpdate
	changed := false
	if s, ok := args["status"].(string); ok && s != "" {
		status := models.MigrationStatus(s)
		u.Status = &status
		changed = true
	}
	if q, ok := args["quality_threshold"].(float64); ok {
		u.QualityThreshold = &q
		changed = true
	}
	if f, ok := args["fallback_enabled"].(bool); ok {
		u.FallbackEnabled = &f
		changed = true
	}
	if !changed {
		return jsonResult(t.orch.GetMigrationStrategy())
	}

	var update models.MigrationUpdate
	if at := req.GetString("agent_type", ""); at != "" {
		update.Agents = map[models.AgentType]models.AgentMigrationUpdate{models.AgentType(at): u}
	} else {
		update.Default = &u
	}

	strategy, err := t.orch.UpdateMigrationStrategy(update)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("strategy rejected: %v", err)), nil
	}
	if t.save != nil {
		if err := t.save(strategy); err != nil {
			t.logger.Warn("failed to persist migration strategy", "error", err)
		}
	}
	return jsonResult(strategy)
}
