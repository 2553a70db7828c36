package doctor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantumflow/scribe/internal/agent"
	"github.com/quantumflow/scribe/internal/audit"
	"github.com/quantumflow/scribe/internal/inference"
	"github.com/quantumflow/scribe/internal/memory"
	"github.com/quantumflow/scribe/internal/models"
)

type stubAgent struct {
	agentType models.AgentType
	delay     time.Duration
	err       error
}

func (s *stubAgent) Type() models.AgentType        { return s.agentType }
func (s *stubAgent) Generation() models.Generation { return models.GenerationEnhanced }
func (s *stubAgent) Handle(ctx context.Context, task *agent.Task) (*agent.Output, error) {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.err != nil {
		return nil, s.err
	}
	return &agent.Output{Content: "ok", QualityScore: 8, Confidence: 0.8}, nil
}

type auditLog struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (a *auditLog) Record(_ context.Context, e *audit.Entry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, *e)
	return nil
}

func (a *auditLog) actions(action string) []audit.Entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []audit.Entry
	for _, e := range a.entries {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

type countingCompactor struct {
	calls atomic.Int32
	err   error
}

func (c *countingCompactor) Compact(context.Context) (*memory.CompactionResult, error) {
	c.calls.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return &memory.CompactionResult{Summaries: memory.StageResult{Consumed: 4, Created: 1}}, nil
}

type env struct {
	doctor   *Doctor
	registry *agent.Registry
	pool     *memory.Pool
	audit    *auditLog
}

func containerConfig(threshold int) agent.ContainerConfig {
	return agent.ContainerConfig{
		MaxDuration:      time.Second,
		FailureThreshold: threshold,
		RestartCooldown:  time.Hour,
	}
}

func newEnv(t *testing.T, poolCfg memory.Config, opts ...Option) *env {
	t.Helper()
	pool := memory.NewPool(poolCfg, nil)
	registry := agent.NewRegistry(nil)
	factory := agent.NewFactory(inference.NewMockProvider("Sure. Here is a vivid revision of the scene."), nil, pool, nil, containerConfig(3))
	log := &auditLog{}

	opts = append([]Option{WithAudit(log)}, opts...)
	e := &env{
		doctor:   New(registry, pool, factory, opts...),
		registry: registry,
		pool:     pool,
		audit:    log,
	}
	t.Cleanup(func() {
		for _, c := range registry.All() {
			c.Close()
		}
	})
	return e
}

// add registers a container that has failed `failures` times
func (e *env) add(t *testing.T, at models.AgentType, threshold, failures int) *agent.Container {
	t.Helper()
	c := agent.NewContainer(&stubAgent{agentType: at, err: fmt.Errorf("%w: boom", models.ErrProvider)}, containerConfig(threshold))
	for i := 0; i < failures; i++ {
		c.Execute(context.Background(), &agent.Task{Input: "go"})
	}
	require.NoError(t, e.registry.Register(c))
	return c
}

func TestParseTaskKind(t *testing.T) {
	t.Parallel()
	k, err := ParseTaskKind(" Health-Check ")
	require.NoError(t, err)
	assert.Equal(t, TaskHealthCheck, k)

	_, err = ParseTaskKind("surgery")
	assert.ErrorIs(t, err, models.ErrConfiguration)
}

func TestHealthCheckStatus(t *testing.T) {
	t.Parallel()

	t.Run("healthy", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t, memory.DefaultConfig())
		e.add(t, models.AgentTypeDialogue, 3, 0)
		e.add(t, models.AgentTypeDialogue, 3, 0)

		report := e.doctor.HealthCheck(context.Background())
		assert.Equal(t, StatusHealthy, report.Status)
		assert.Empty(t, report.Issues)
		assert.Equal(t, 2, report.Vitals.TotalAgents)
		assert.Equal(t, 2, report.Vitals.HealthyAgents)
		assert.Len(t, report.Agents, 2)
	})

	t.Run("warning when too many degraded", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t, memory.DefaultConfig())
		e.add(t, models.AgentTypeDialogue, 3, 1)
		e.add(t, models.AgentTypeDialogue, 3, 0)

		report := e.doctor.HealthCheck(context.Background())
		assert.Equal(t, StatusWarning, report.Status)
		assert.Equal(t, 1, report.Vitals.DegradedAgents)
		assert.InDelta(t, 1.0, report.Vitals.ErrorRate, 1e-9)
	})

	t.Run("critical on failed container", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t, memory.DefaultConfig())
		failed := e.add(t, models.AgentTypeStyleAnalysis, 1, 1)
		for i := 0; i < 3; i++ {
			e.add(t, models.AgentTypeDialogue, 3, 0)
		}

		report := e.doctor.HealthCheck(context.Background())
		assert.Equal(t, StatusCritical, report.Status)
		require.Len(t, report.Issues, 1)
		issue := report.Issues[0]
		assert.Equal(t, IssueAgentFailure, issue.Type)
		assert.Equal(t, SeverityHigh, issue.Severity)
		assert.True(t, issue.AutoResolvable)
		assert.Equal(t, failed.ID(), issue.AgentID)

		entries := e.audit.actions("health-check")
		require.Len(t, entries, 1)
		assert.False(t, entries[0].Success)
		assert.Equal(t, "doctor", entries[0].Component)
	})
}

func TestHealthCheckSlowResponses(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.ResponseTimeCeiling = time.Millisecond
	e := newEnv(t, memory.DefaultConfig(), WithConfig(cfg))

	c := agent.NewContainer(&stubAgent{agentType: models.AgentTypeDialogue, delay: 5 * time.Millisecond}, containerConfig(3))
	c.Execute(context.Background(), &agent.Task{Input: "go"})
	require.NoError(t, e.registry.Register(c))

	report := e.doctor.HealthCheck(context.Background())
	assert.Equal(t, StatusHealthy, report.Status)
	require.Len(t, report.Issues, 1)
	assert.Equal(t, IssuePerformance, report.Issues[0].Type)
	assert.Equal(t, SeverityMedium, report.Issues[0].Severity)
	assert.False(t, report.Issues[0].AutoResolvable)
}

func TestSystemLoadUsesMemoryPressure(t *testing.T) {
	t.Parallel()
	e := newEnv(t, memory.Config{Capacity: 10})
	for i := 0; i < 9; i++ {
		e.pool.LogAgentAction(context.Background(), models.AgentAction{AgentID: "x", AgentType: models.AgentTypeDialogue, Action: models.ActionExecute, Success: true})
	}
	e.add(t, models.AgentTypeDialogue, 3, 0)

	report := e.doctor.HealthCheck(context.Background())
	assert.InDelta(t, 0.9, report.Vitals.MemoryUsage, 1e-9)
	assert.InDelta(t, 0.9, report.Vitals.SystemLoad, 1e-9)
}

func TestSpawnAgent(t *testing.T) {
	t.Parallel()
	e := newEnv(t, memory.DefaultConfig())
	ctx := context.Background()

	noRestart := false
	res, err := e.doctor.SpawnAgent(ctx, SpawnRequest{
		AgentType:   models.AgentTypeWorldBuilding,
		Priority:    "high",
		Reason:      "load spike",
		Timeout:     2 * time.Second,
		AutoRestart: &noRestart,
	})
	require.NoError(t, err)
	assert.Equal(t, models.GenerationEnhanced, res.Generation)

	c, ok := e.registry.Get(res.AgentID)
	require.True(t, ok)
	assert.Equal(t, 2*time.Second, c.Config().MaxDuration)
	assert.False(t, c.Config().AutoRestart)

	agents := e.pool.Agents()
	require.Len(t, agents, 1)
	assert.Equal(t, res.AgentID, agents[0].ID)
	assert.Equal(t, "load spike", agents[0].Reason)
	assert.Equal(t, "high", agents[0].Priority)

	actions := e.pool.Actions()
	require.Len(t, actions, 1)
	assert.Equal(t, models.ActionSpawn, actions[0].Action)

	spawns := e.audit.actions("spawn")
	require.Len(t, spawns, 1)
	assert.True(t, spawns[0].Success)
	assert.Equal(t, "load spike", spawns[0].Details["reason"])

	_, err = e.doctor.SpawnAgent(ctx, SpawnRequest{AgentType: "poetry"})
	assert.ErrorIs(t, err, models.ErrUnknownAgentType)
	assert.Equal(t, 1, e.registry.Len())
}

func TestEmergencyResponseConverges(t *testing.T) {
	t.Parallel()
	e := newEnv(t, memory.DefaultConfig())
	ctx := context.Background()

	failed := e.add(t, models.AgentTypeWritingAssistant, 1, 1)
	require.Equal(t, models.HealthFailed, failed.Health().Status)

	report := e.doctor.EmergencyResponse(ctx)
	assert.Empty(t, report.Errors)
	assert.Equal(t, models.HealthHealthy, failed.Health().Status)

	var restarts, spawns []EmergencyAction
	for _, a := range report.Actions {
		switch a.Action {
		case "restart":
			restarts = append(restarts, a)
		case "spawn":
			spawns = append(spawns, a)
		}
	}
	require.Len(t, restarts, 1)
	assert.Equal(t, failed.ID(), restarts[0].AgentID)
	require.Len(t, spawns, 2)
	assert.Equal(t, models.AgentTypeCharacterDevelopment, spawns[0].AgentType)
	assert.Equal(t, models.AgentTypePlotStructure, spawns[1].AgentType)
	assert.Len(t, report.ResolvedIssues, 3)
	assert.Equal(t, 3, e.registry.Len())

	again := e.doctor.EmergencyResponse(ctx)
	assert.Empty(t, again.Actions)
	assert.Equal(t, 3, e.registry.Len())
	assert.Len(t, e.audit.actions("restart"), 1)
}

func TestEmergencyResponseCompactsUnderLoad(t *testing.T) {
	t.Parallel()
	compactor := &countingCompactor{}
	e := newEnv(t, memory.Config{Capacity: 10}, WithCompactor(compactor))
	for _, at := range DefaultConfig().CriticalTypes {
		e.add(t, at, 3, 0)
	}
	for i := 0; i < 10; i++ {
		e.pool.LogAgentAction(context.Background(), models.AgentAction{AgentID: "x", AgentType: models.AgentTypeDialogue, Action: models.ActionExecute, Success: true})
	}

	report := e.doctor.EmergencyResponse(context.Background())
	assert.Equal(t, int32(1), compactor.calls.Load())
	require.Len(t, report.Actions, 1)
	assert.Equal(t, "compact", report.Actions[0].Action)
	assert.True(t, report.Actions[0].Success)

	compactor.err = errors.New("disk full")
	report = e.doctor.EmergencyResponse(context.Background())
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "disk full")
	assert.Len(t, e.audit.actions("compact"), 2)
}

func logPerformance(pool *memory.Pool, agentID string, qualities ...float64) {
	for _, q := range qualities {
		pool.LogAgentAction(context.Background(), models.AgentAction{
			AgentID:    agentID,
			AgentType:  models.AgentTypeDialogue,
			Action:     models.ActionPerformance,
			Confidence: q / 10,
			Success:    q >= 7,
		})
		pool.LogAgentAction(context.Background(), models.AgentAction{
			AgentID:    agentID,
			AgentType:  models.AgentTypeDialogue,
			Action:     models.ActionExecute,
			Confidence: q / 10,
			Success:    true,
		})
	}
}

func TestSystemOptimization(t *testing.T) {
	t.Parallel()
	e := newEnv(t, memory.DefaultConfig())

	weak := e.add(t, models.AgentTypeDialogue, 3, 0)
	star := e.add(t, models.AgentTypeDialogue, 3, 0)
	sparse := e.add(t, models.AgentTypeDialogue, 3, 0)
	logPerformance(e.pool, weak.ID(), 5, 5, 5, 5, 5)
	logPerformance(e.pool, star.ID(), 9, 9, 9, 9, 9)
	logPerformance(e.pool, sparse.ID(), 2, 2)

	report := e.doctor.SystemOptimization(context.Background())
	require.Len(t, report.Recommendations, 2)

	byAgent := map[string]Recommendation{}
	for _, r := range report.Recommendations {
		byAgent[r.AgentID] = r
	}
	assert.Equal(t, RecommendReplace, byAgent[weak.ID()].Kind)
	assert.InDelta(t, 5.0, byAgent[weak.ID()].Quality, 1e-9)
	assert.Equal(t, RecommendScaleUp, byAgent[star.ID()].Kind)
	assert.NotContains(t, byAgent, sparse.ID())
}

func TestSystemOptimizationScaleOut(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.ResponseTimeCeiling = time.Millisecond
	e := newEnv(t, memory.DefaultConfig(), WithConfig(cfg))

	c := agent.NewContainer(&stubAgent{agentType: models.AgentTypeDialogue, delay: 5 * time.Millisecond}, containerConfig(3))
	c.Execute(context.Background(), &agent.Task{Input: "go"})
	require.NoError(t, e.registry.Register(c))

	report := e.doctor.SystemOptimization(context.Background())
	require.Len(t, report.Recommendations, 1)
	assert.Equal(t, RecommendScaleOut, report.Recommendations[0].Kind)
}

func TestPredictiveAnalysis(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.HourlyVolumeThreshold = 15
	e := newEnv(t, memory.Config{Capacity: 20}, WithConfig(cfg))

	declining := e.add(t, models.AgentTypeDialogue, 3, 0)
	steady := e.add(t, models.AgentTypeDialogue, 3, 0)
	logPerformance(e.pool, declining.ID(), 9, 8, 7, 6, 5)
	logPerformance(e.pool, steady.ID(), 8, 8, 8, 8, 8)

	report := e.doctor.PredictiveAnalysis(context.Background())

	kinds := map[string]Prediction{}
	for _, p := range report.Predictions {
		kinds[p.Kind] = p
	}
	require.Len(t, report.Predictions, 3)
	assert.Equal(t, declining.ID(), kinds[PredictDecliningQuality].AgentID)
	assert.InDelta(t, -1.0, kinds[PredictDecliningQuality].Value, 1e-9)
	assert.InDelta(t, 1.0, kinds[PredictMemoryCapacity].Value, 1e-9)
	assert.Equal(t, 20.0, kinds[PredictHighVolume].Value)
}

func TestTrendSlope(t *testing.T) {
	t.Parallel()
	assert.Zero(t, trendSlope(nil))
	assert.Zero(t, trendSlope([]float64{4}))
	assert.InDelta(t, 0.5, trendSlope([]float64{1, 1.5, 2, 2.5}), 1e-9)
	assert.InDelta(t, 0.0, trendSlope([]float64{3, 3, 3}), 1e-9)
}

func TestExecuteDispatch(t *testing.T) {
	t.Parallel()
	e := newEnv(t, memory.DefaultConfig())
	ctx := context.Background()

	for _, kind := range []TaskKind{TaskHealthCheck, TaskEmergencyResponse, TaskSystemOptimization, TaskPredictiveAnalysis} {
		res, err := e.doctor.Execute(ctx, Task{Kind: kind})
		require.NoError(t, err, kind)
		assert.Equal(t, kind, res.Kind)
	}

	_, err := e.doctor.Execute(ctx, Task{Kind: TaskSpawnAgent})
	assert.ErrorIs(t, err, models.ErrConfiguration)

	res, err := e.doctor.Execute(ctx, Task{Kind: TaskSpawnAgent, Spawn: &SpawnRequest{AgentType: models.AgentTypeDialogue}})
	require.NoError(t, err)
	require.NotNil(t, res.Spawn)

	_, err = e.doctor.Execute(ctx, Task{Kind: "surgery"})
	assert.ErrorIs(t, err, models.ErrConfiguration)
}

func TestStartAutoHeals(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.Interval = 10 * time.Millisecond
	cfg.CriticalTypes = nil
	e := newEnv(t, memory.DefaultConfig(), WithConfig(cfg))
	failed := e.add(t, models.AgentTypeDialogue, 1, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.doctor.Start(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		return failed.Health().Status == models.HealthHealthy
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("doctor did not stop")
	}
}

func TestDoctorWithSQLiteAudit(t *testing.T) {
	t.Parallel()
	logger, err := audit.NewSQLiteLogger(":memory:")
	require.NoError(t, err)
	defer logger.Close()

	pool := memory.NewPool(memory.DefaultConfig(), nil)
	registry := agent.NewRegistry(nil)
	factory := agent.NewFactory(inference.NewMockProvider(), nil, pool, nil, containerConfig(3))
	d := New(registry, pool, factory, WithAudit(logger))
	t.Cleanup(func() {
		for _, c := range registry.All() {
			c.Close()
		}
	})

	_, err = d.SpawnAgent(context.Background(), SpawnRequest{AgentType: models.AgentTypeDialogue, Reason: "manual"})
	require.NoError(t, err)

	entries, err := logger.Query(context.Background(), audit.Filter{Component: "doctor", Task: string(TaskSpawnAgent)})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "manual", entries[0].Details["reason"])
}
