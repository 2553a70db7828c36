package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantumflow/scribe/internal/agent"
	"github.com/quantumflow/scribe/internal/doctor"
	"github.com/quantumflow/scribe/internal/inference"
	"github.com/quantumflow/scribe/internal/memory"
	"github.com/quantumflow/scribe/internal/models"
	"github.com/quantumflow/scribe/internal/orchestrator"
)

func makeReq(args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func resultText(r *mcp.CallToolResult) string {
	if r == nil {
		return ""
	}
	for _, c := range r.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

type stack struct {
	deps  Deps
	saved []models.MigrationStrategy
}

func newStack(t *testing.T) *stack {
	t.Helper()
	pool := memory.NewPool(memory.DefaultConfig(), nil)
	registry := agent.NewRegistry(nil)

	cfg := agent.DefaultContainerConfig()
	cfg.MaxRetries = 0
	cfg.AutoRestart = false
	factory := agent.NewFactory(inference.NewMockProvider("The innkeeper leaned closer. \"You didn't hear it from me.\""), nil, pool, nil, cfg)
	_, err := factory.Populate(registry, models.AgentTypeDialogue)
	require.NoError(t, err)
	t.Cleanup(func() {
		for _, c := range registry.All() {
			c.Close()
		}
	})

	orch, err := orchestrator.New(registry, pool, models.DefaultMigrationStrategy(), orchestrator.DefaultConfig(), nil)
	require.NoError(t, err)

	s := &stack{}
	s.deps = Deps{
		Orchestrator: orch,
		Doctor:       doctor.New(registry, pool, factory),
		Compactor:    memory.NewEngine(pool, memory.DefaultCompressionConfig()),
		SaveStrategy: func(m models.MigrationStrategy) error {
			s.saved = append(s.saved, m)
			return nil
		},
	}
	return s
}

func TestNewRegistersTools(t *testing.T) {
	t.Parallel()
	s := New("test", newStack(t).deps)
	require.NotNil(t, s)

	tools := s.ListTools()
	for _, name := range []string{"execute_agent", "system_health", "doctor", "migration_strategy", "compact"} {
		assert.Contains(t, tools, name)
	}
}

func TestExecuteTool(t *testing.T) {
	t.Parallel()
	st := newStack(t)
	tool := NewExecuteTool(st.deps.Orchestrator, nil)

	def := tool.Definition()
	assert.Equal(t, "execute_agent", def.Name)
	assert.ElementsMatch(t, []string{"agent_type", "input"}, def.InputSchema.Required)

	res, err := tool.Handle(context.Background(), makeReq(map[string]any{
		"agent_type":      "dialogue",
		"input":           "Make the innkeeper sound nervous",
		"document":        "The inn was empty.",
		"cursor_position": float64(4),
	}))
	require.NoError(t, err)
	require.False(t, res.IsError, resultText(res))

	var resp models.AgentResponse
	require.NoError(t, json.Unmarshal([]byte(resultText(res)), &resp))
	assert.True(t, resp.Success)
	assert.Contains(t, resp.Data, "innkeeper")

	res, err = tool.Handle(context.Background(), makeReq(map[string]any{"agent_type": "poetry", "input": "x"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestExecuteToolAutoRouting(t *testing.T) {
	t.Parallel()
	st := newStack(t)
	tool := NewExecuteTool(st.deps.Orchestrator, agent.NewRouter(nil, time.Minute, nil))

	res, err := tool.Handle(context.Background(), makeReq(map[string]any{
		"agent_type": "auto",
		"input":      "a tense conversation where they argue and banter",
	}))
	require.NoError(t, err)
	require.False(t, res.IsError, resultText(res))

	var resp models.AgentResponse
	require.NoError(t, json.Unmarshal([]byte(resultText(res)), &resp))
	assert.True(t, resp.Success)
	assert.Contains(t, resp.AgentUsed, "dialogue")
}

func TestHealthTool(t *testing.T) {
	t.Parallel()
	st := newStack(t)
	res, err := NewHealthTool(st.deps.Orchestrator).Handle(context.Background(), makeReq(nil))
	require.NoError(t, err)

	var health orchestrator.SystemHealth
	require.NoError(t, json.Unmarshal([]byte(resultText(res)), &health))
	assert.Len(t, health.Agents, 2)
	assert.Equal(t, models.MigrationHybrid, health.Strategy.Default.Status)
}

// enumOf returns the enum advertised for one tool parameter
func enumOf(t *testing.T, tool mcp.Tool, param string) []string {
	t.Helper()
	data, err := json.Marshal(tool.InputSchema)
	require.NoError(t, err)

	var schema struct {
		Properties map[string]struct {
			Enum []string `json:"enum"`
		} `json:"properties"`
	}
	require.NoError(t, json.Unmarshal(data, &schema))
	return schema.Properties[param].Enum
}

func TestToolSchemasAdvertiseAgentTypes(t *testing.T) {
	t.Parallel()
	st := newStack(t)
	types := agentTypeNames()

	doctorDef := NewDoctorTool(st.deps.Doctor).Definition()
	assert.ElementsMatch(t, types, enumOf(t, doctorDef, "agent_type"))
	assert.Contains(t, enumOf(t, doctorDef, "task"), "spawn-agent")

	strategyDef := NewStrategyTool(st.deps.Orchestrator, nil, nil).Definition()
	assert.ElementsMatch(t, types, enumOf(t, strategyDef, "agent_type"))

	assert.ElementsMatch(t, types, enumOf(t, NewExecuteTool(st.deps.Orchestrator, nil).Definition(), "agent_type"))
	routed := NewExecuteTool(st.deps.Orchestrator, agent.NewRouter(nil, time.Minute, nil)).Definition()
	assert.Contains(t, enumOf(t, routed, "agent_type"), agent.AutoAgentType)
}

func TestDoctorTool(t *testing.T) {
	t.Parallel()
	st := newStack(t)
	tool := NewDoctorTool(st.deps.Doctor)

	res, err := tool.Handle(context.Background(), makeReq(map[string]any{"task": "health-check"}))
	require.NoError(t, err)
	assert.Contains(t, resultText(res), `"status": "healthy"`)

	res, err = tool.Handle(context.Background(), makeReq(map[string]any{"task": "spawn-agent", "agent_type": "world-building", "reason": "new chapter"}))
	require.NoError(t, err)
	require.False(t, res.IsError, resultText(res))
	assert.Contains(t, resultText(res), "world-building")

	res, err = tool.Handle(context.Background(), makeReq(map[string]any{"task": "surgery"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestStrategyTool(t *testing.T) {
	t.Parallel()
	st := newStack(t)
	tool := NewStrategyTool(st.deps.Orchestrator, st.deps.SaveStrategy, nil)
	ctx := context.Background()

	res, err := tool.Handle(ctx, makeReq(nil))
	require.NoError(t, err)
	assert.Contains(t, resultText(res), `"status": "hybrid"`)
	assert.Empty(t, st.saved)

	res, err = tool.Handle(ctx, makeReq(map[string]any{"agent_type": "dialogue", "status": "old"}))
	require.NoError(t, err)
	require.False(t, res.IsError, resultText(res))
	assert.Equal(t, models.MigrationOld, st.deps.Orchestrator.GetMigrationStrategy().For(models.AgentTypeDialogue).Status)
	require.Len(t, st.saved, 1)

	res, err = tool.Handle(ctx, makeReq(map[string]any{"quality_threshold": float64(11)}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Len(t, st.saved, 1)
	assert.Equal(t, 7.0, st.deps.Orchestrator.GetMigrationStrategy().Default.QualityThreshold)
}

type brokenCompactor struct{}

func (brokenCompactor) Compact(context.Context) (*memory.CompactionResult, error) {
	return nil, errors.New("store offline")
}

func TestCompactTool(t *testing.T) {
	t.Parallel()
	st := newStack(t)

	res, err := NewCompactTool(st.deps.Compactor).Handle(context.Background(), makeReq(nil))
	require.NoError(t, err)
	assert.False(t, res.IsError)

	res, err = NewCompactTool(brokenCompactor{}).Handle(context.Background(), makeReq(nil))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(res), "store offline")
}
