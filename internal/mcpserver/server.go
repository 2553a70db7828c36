// Package mcpserver exposes the orchestrator, Doctor and compression engine
// as MCP tools over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/quantumflow/scribe/internal/agent"
	"github.com/quantumflow/scribe/internal/doctor"
	"github.com/quantumflow/scribe/internal/logging"
	"github.com/quantumflow/scribe/internal/memory"
	"github.com/quantumflow/scribe/internal/models"
	"github.com/quantumflow/scribe/internal/orchestrator"
)

// Deps are the services the tools call into. Router, Compactor and
// SaveStrategy may be nil.
type Deps struct {
	Orchestrator *orchestrator.Orchestrator
	Router       *agent.Router
	Doctor       *doctor.Doctor
	Compactor    doctor.Compactor
	SaveStrategy func(models.MigrationStrategy) error
	Logger       logging.Logger
}

// New creates the MCP server with every tool registered
func New(version string, deps Deps) *server.MCPServer {
	deps.Logger = logging.OrNoOp(deps.Logger)

	s := server.NewMCPServer(
		"scribe",
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(instructions),
	)

	execTool := NewExecuteTool(deps.Orchestrator, deps.Router)
	s.AddTool(execTool.Definition(), execTool.Handle)

	healthTool := NewHealthTool(deps.Orchestrator)
	s.AddTool(healthTool.Definition(), healthTool.Handle)

	doctorTool := NewDoctorTool(deps.Doctor)
	s.AddTool(doctorTool.Definition(), doctorTool.Handle)

	strategyTool := NewStrategyTool(deps.Orchestrator, deps.SaveStrategy, deps.Logger)
	s.AddTool(strategyTool.Definition(), strategyTool.Handle)

	if deps.Compactor != nil {
		compactTool := NewCompactTool(deps.Compactor)
		s.AddTool(compactTool.Definition(), compactTool.Handle)
	}
	return s
}

// Serve runs the server on stdin/stdout until the client disconnects
func Serve(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

const instructions = `scribe supervises creative-writing agents (writing-assistant, character-development,
plot-structure, style-analysis, dialogue, world-building). Use execute_agent for writing help,
system_health and doctor to inspect or repair the agent fleet, compact to fold memory and
migration_strategy to route agent types between legacy and enhanced implementations.`

// jsonResult renders v as an indented JSON text result
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func agentTypeNames() []string {
	types := models.AllAgentTypes()
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}

// CompactTool handles the compact MCP tool
type CompactTool struct {
	compactor doctor.Compactor
}

// NewCompactTool creates a CompactTool
func NewCompactTool(c doctor.Compactor) *CompactTool {
	return &CompactTool{compactor: c}
}

// Definition returns the MCP tool definition for compact
func (t *CompactTool) Definition() mcp.Tool {
	return mcp.NewTool("compact",
		mcp.WithDescription("Run one memory compaction pass: raw actions to summaries, summaries to patterns, patterns to essences."),
	)
}

// Handle processes the compact tool call
func (t *CompactTool) Handle(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := t.compactor.Compact(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("compaction failed: %v", err)), nil
	}
	return jsonResult(res)
}

var _ doctor.Compactor = (*memory.Engine)(nil)
