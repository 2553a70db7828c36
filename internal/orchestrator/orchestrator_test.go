package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantumflow/scribe/internal/agent"
	"github.com/quantumflow/scribe/internal/memory"
	"github.com/quantumflow/scribe/internal/models"
)

type scriptedAgent struct {
	agentType models.AgentType
	gen       models.Generation
	quality   float64
	err       error
	calls     atomic.Int32
	lastTask  atomic.Pointer[agent.Task]
}

func (a *scriptedAgent) Type() models.AgentType        { return a.agentType }
func (a *scriptedAgent) Generation() models.Generation { return a.gen }
func (a *scriptedAgent) Handle(_ context.Context, task *agent.Task) (*agent.Output, error) {
	a.calls.Add(1)
	a.lastTask.Store(task)
	if a.err != nil {
		return nil, a.err
	}
	return &agent.Output{
		Content:      fmt.Sprintf("%s answer", a.gen),
		QualityScore: a.quality,
		Confidence:   a.quality / 10,
		Reasoning:    "scripted",
	}, nil
}

type fixture struct {
	orch     *Orchestrator
	pool     *memory.Pool
	registry *agent.Registry
	legacy   *scriptedAgent
	enhanced *scriptedAgent
}

func newFixture(t *testing.T, strategy models.MigrationStrategy, legacyQuality, enhancedQuality float64, enhancedErr error) *fixture {
	t.Helper()
	pool := memory.NewPool(memory.DefaultConfig(), nil)
	registry := agent.NewRegistry(nil)

	cfg := agent.DefaultContainerConfig()
	cfg.MaxRetries = 0
	cfg.MaxDuration = time.Second
	cfg.AutoRestart = false

	f := &fixture{
		pool:     pool,
		registry: registry,
		legacy:   &scriptedAgent{agentType: models.AgentTypeDialogue, gen: models.GenerationLegacy, quality: legacyQuality},
		enhanced: &scriptedAgent{agentType: models.AgentTypeDialogue, gen: models.GenerationEnhanced, quality: enhancedQuality, err: enhancedErr},
	}
	for _, a := range []agent.Agent{f.legacy, f.enhanced} {
		c := agent.NewContainer(a, cfg, agent.WithRecorder(pool))
		t.Cleanup(c.Close)
		require.NoError(t, registry.Register(c))
	}

	orch, err := New(registry, pool, strategy, DefaultConfig(), nil)
	require.NoError(t, err)
	f.orch = orch
	return f
}

func strategyWith(status models.MigrationStatus, threshold float64, fallback bool) models.MigrationStrategy {
	s := models.DefaultMigrationStrategy()
	s.Default = models.AgentMigration{Status: status, QualityThreshold: threshold, FallbackEnabled: fallback}
	return s
}

// seedHistory makes one generation look better than the other
func seedHistory(pool *memory.Pool, winner, loser models.Generation, n int) {
	for i := 0; i < n; i++ {
		for _, g := range []struct {
			gen models.Generation
			ok  bool
		}{{winner, true}, {loser, false}} {
			pool.LogAgentAction(context.Background(), models.AgentAction{
				AgentID:    fmt.Sprintf("%s-dialogue-seed%04d", g.gen, i),
				AgentType:  models.AgentTypeDialogue,
				Action:     models.ActionPerformance,
				Confidence: 0.5,
				Success:    g.ok,
			})
		}
	}
}

func request(input string) *models.AgentRequest {
	return &models.AgentRequest{
		AgentType: models.AgentTypeDialogue,
		Input:     input,
		Context: models.RequestContext{
			Document:       "The tavern was quiet.",
			Selection:      "quiet",
			CursorPosition: 12,
			UserID:         "writer-1",
			Collaborators:  []string{"editor"},
		},
	}
}

func performanceEntries(pool *memory.Pool, gen models.Generation) []models.AgentAction {
	var out []models.AgentAction
	for _, a := range pool.Actions() {
		if a.Action == models.ActionPerformance && strings.HasPrefix(a.AgentID, string(gen)+"-") && !strings.Contains(a.AgentID, "seed") {
			out = append(out, a)
		}
	}
	return out
}

func TestOldStrategyAlwaysUsesLegacy(t *testing.T) {
	t.Parallel()
	f := newFixture(t, strategyWith(models.MigrationOld, 7, true), 6, 9, nil)
	seedHistory(f.pool, models.GenerationEnhanced, models.GenerationLegacy, 10)

	for i := 0; i < 5; i++ {
		resp := f.orch.ExecuteAgent(context.Background(), request("give the innkeeper a line"))
		require.True(t, resp.Success)
		assert.True(t, strings.HasPrefix(resp.AgentUsed, "legacy-dialogue-"))
		assert.False(t, resp.FallbackUsed)
		assert.Equal(t, 6.0, resp.QualityScore)
	}
	assert.Zero(t, f.enhanced.calls.Load())
	assert.Equal(t, int32(5), f.legacy.calls.Load())
}

func TestLegacyTaskIsNarrow(t *testing.T) {
	t.Parallel()
	f := newFixture(t, strategyWith(models.MigrationOld, 7, true), 6, 9, nil)

	f.orch.ExecuteAgent(context.Background(), request("line"))
	task := f.legacy.lastTask.Load()
	require.NotNil(t, task)
	assert.Equal(t, "The tavern was quiet.", task.Document)
	assert.Empty(t, task.Selection)
	assert.Empty(t, task.Collaborators)
	assert.Empty(t, task.SuccessfulPatterns)
}

func TestNewStrategyEnhancedTaskIsRich(t *testing.T) {
	t.Parallel()
	f := newFixture(t, strategyWith(models.MigrationNew, 7, true), 6, 9, nil)
	f.pool.LogAgentAction(context.Background(), models.AgentAction{
		AgentID: "enhanced-dialogue-past", AgentType: models.AgentTypeDialogue, Action: models.ActionExecute,
		Reasoning: "short clipped sentences", Confidence: 0.9, Success: true,
	})

	resp := f.orch.ExecuteAgent(context.Background(), request("line"))
	require.True(t, resp.Success)
	assert.True(t, strings.HasPrefix(resp.AgentUsed, "enhanced-dialogue-"))

	task := f.enhanced.lastTask.Load()
	require.NotNil(t, task)
	assert.Equal(t, "quiet", task.Selection)
	assert.Equal(t, 12, task.CursorPosition)
	assert.Equal(t, []string{"editor"}, task.Collaborators)
	assert.Contains(t, task.SuccessfulPatterns, "short clipped sentences")
}

func TestNewStrategyFallback(t *testing.T) {
	t.Parallel()
	boom := fmt.Errorf("%w: 503", models.ErrProvider)

	t.Run("enabled", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, strategyWith(models.MigrationNew, 7, true), 6, 9, boom)
		resp := f.orch.ExecuteAgent(context.Background(), request("line"))
		assert.True(t, resp.Success)
		assert.True(t, resp.FallbackUsed)
		assert.True(t, strings.HasPrefix(resp.AgentUsed, "legacy-"))
	})

	t.Run("disabled", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, strategyWith(models.MigrationNew, 7, false), 6, 9, boom)
		resp := f.orch.ExecuteAgent(context.Background(), request("line"))
		assert.False(t, resp.Success)
		assert.False(t, resp.FallbackUsed)
		assert.Equal(t, models.ErrorKindProvider, resp.ErrorKind)
		assert.Zero(t, f.legacy.calls.Load())
	})
}

func TestHybridRoutesByHistory(t *testing.T) {
	t.Parallel()

	t.Run("no history prefers legacy", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, strategyWith(models.MigrationHybrid, 7, true), 8, 9, nil)
		resp := f.orch.ExecuteAgent(context.Background(), request("line"))
		assert.True(t, strings.HasPrefix(resp.AgentUsed, "legacy-"))
		assert.Zero(t, f.enhanced.calls.Load())
	})

	t.Run("enhanced ahead", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, strategyWith(models.MigrationHybrid, 7, true), 8, 9, nil)
		seedHistory(f.pool, models.GenerationEnhanced, models.GenerationLegacy, 3)
		resp := f.orch.ExecuteAgent(context.Background(), request("line"))
		assert.True(t, strings.HasPrefix(resp.AgentUsed, "enhanced-"))
		assert.Equal(t, 9.0, resp.QualityScore)
		assert.Zero(t, f.legacy.calls.Load())
	})

	t.Run("preference overrides history", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, strategyWith(models.MigrationHybrid, 7, true), 8, 9, nil)
		seedHistory(f.pool, models.GenerationEnhanced, models.GenerationLegacy, 3)
		req := request("line")
		req.Preferences.Implementation = models.PreferLegacy
		resp := f.orch.ExecuteAgent(context.Background(), req)
		assert.True(t, strings.HasPrefix(resp.AgentUsed, "legacy-"))
		assert.Zero(t, f.enhanced.calls.Load())
	})
}

func TestHybridQualityEscalation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name         string
		legacy       float64
		enhanced     float64
		wantGen      string
		wantQuality  float64
		wantFallback bool
	}{
		{"legacy better", 8, 5, "legacy-", 8, true},
		{"tie keeps enhanced", 5, 5, "enhanced-", 5, false},
		{"enhanced better", 4, 6, "enhanced-", 6, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, strategyWith(models.MigrationHybrid, 7, true), tc.legacy, tc.enhanced, nil)
			req := request("line")
			req.Preferences.Implementation = models.PreferEnhanced

			resp := f.orch.ExecuteAgent(context.Background(), req)
			require.True(t, resp.Success)
			assert.True(t, strings.HasPrefix(resp.AgentUsed, tc.wantGen), resp.AgentUsed)
			assert.Equal(t, tc.wantQuality, resp.QualityScore)
			assert.GreaterOrEqual(t, resp.QualityScore, max(tc.legacy, tc.enhanced))
			assert.Equal(t, tc.wantFallback, resp.FallbackUsed)

			// both outcomes are fed back, including the discarded one
			assert.Equal(t, int32(1), f.enhanced.calls.Load())
			assert.Equal(t, int32(1), f.legacy.calls.Load())
			require.Len(t, performanceEntries(f.pool, models.GenerationEnhanced), 1)
			require.Len(t, performanceEntries(f.pool, models.GenerationLegacy), 1)
			assert.False(t, performanceEntries(f.pool, models.GenerationEnhanced)[0].Success)
		})
	}
}

func TestHybridFallsBackOnEnhancedFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t, strategyWith(models.MigrationHybrid, 7, false), 6, 9, fmt.Errorf("%w: down", models.ErrProvider))
	req := request("line")
	req.Preferences.Implementation = models.PreferEnhanced

	resp := f.orch.ExecuteAgent(context.Background(), req)
	assert.True(t, resp.Success)
	assert.True(t, resp.FallbackUsed)
	assert.True(t, strings.HasPrefix(resp.AgentUsed, "legacy-"))
	assert.Less(t, f.pool.SuccessRatio(models.AgentTypeDialogue, models.GenerationEnhanced, 20), 0.5)
}

func TestAbandonedRequestSkipsFallback(t *testing.T) {
	t.Parallel()

	for _, status := range []models.MigrationStatus{models.MigrationNew, models.MigrationHybrid} {
		t.Run(string(status), func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, strategyWith(status, 7, true), 6, 9, context.Canceled)
			req := request("line")
			req.Preferences.Implementation = models.PreferEnhanced

			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			resp := f.orch.ExecuteAgent(ctx, req)

			assert.False(t, resp.Success)
			assert.False(t, resp.FallbackUsed)
			assert.Equal(t, models.ErrorKindCanceled, resp.ErrorKind)
			assert.Zero(t, f.legacy.calls.Load())
			for _, h := range f.registry.SystemHealth() {
				assert.Equal(t, models.HealthHealthy, h.Status)
			}
		})
	}
}

func TestPerformanceFeedbackShiftsRouting(t *testing.T) {
	t.Parallel()
	f := newFixture(t, strategyWith(models.MigrationHybrid, 7, true), 8, 9, nil)
	req := request("line")
	req.Preferences.Implementation = models.PreferEnhanced
	f.orch.ExecuteAgent(context.Background(), req)

	perf := performanceEntries(f.pool, models.GenerationEnhanced)
	require.Len(t, perf, 1)
	assert.InDelta(t, 0.9, perf[0].Confidence, 1e-9)
	assert.True(t, perf[0].Success)
	assert.Equal(t, "writer-1", perf[0].UserID)

	// enhanced now has 1/1 against legacy's default 0.5
	resp := f.orch.ExecuteAgent(context.Background(), request("another line"))
	assert.True(t, strings.HasPrefix(resp.AgentUsed, "enhanced-"))
}

func TestInvalidRequests(t *testing.T) {
	t.Parallel()
	f := newFixture(t, models.DefaultMigrationStrategy(), 6, 9, nil)

	cases := map[string]*models.AgentRequest{
		"nil":          nil,
		"unknown type": {AgentType: "poetry", Input: "x"},
		"empty input":  {AgentType: models.AgentTypeDialogue, Input: "   "},
		"bad pref":     {AgentType: models.AgentTypeDialogue, Input: "x", Preferences: models.Preferences{Implementation: "quantum"}},
	}
	for name, req := range cases {
		resp := f.orch.ExecuteAgent(context.Background(), req)
		assert.False(t, resp.Success, name)
		assert.Equal(t, models.ErrorKindConfiguration, resp.ErrorKind, name)
		assert.NotEmpty(t, resp.Error, name)
	}
	assert.Zero(t, f.legacy.calls.Load()+f.enhanced.calls.Load())
}

func TestNoContainerIsConfigurationFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t, strategyWith(models.MigrationOld, 7, true), 6, 9, nil)
	req := request("line")
	req.AgentType = models.AgentTypeWorldBuilding

	resp := f.orch.ExecuteAgent(context.Background(), req)
	assert.False(t, resp.Success)
	assert.Equal(t, models.ErrorKindConfiguration, resp.ErrorKind)
	assert.Equal(t, "legacy-world-building", resp.AgentUsed)
}

func TestUpdateMigrationStrategy(t *testing.T) {
	t.Parallel()
	f := newFixture(t, models.DefaultMigrationStrategy(), 6, 9, nil)

	old := models.MigrationOld
	updated, err := f.orch.UpdateMigrationStrategy(models.MigrationUpdate{
		Agents: map[models.AgentType]models.AgentMigrationUpdate{models.AgentTypeDialogue: {Status: &old}},
	})
	require.NoError(t, err)
	assert.Equal(t, models.MigrationOld, updated.For(models.AgentTypeDialogue).Status)
	assert.Equal(t, 7.0, updated.For(models.AgentTypeDialogue).QualityThreshold, "unset fields inherit the default")

	bad := 11.0
	_, err = f.orch.UpdateMigrationStrategy(models.MigrationUpdate{Default: &models.AgentMigrationUpdate{QualityThreshold: &bad}})
	require.ErrorIs(t, err, models.ErrConfiguration)
	assert.Equal(t, 7.0, f.orch.GetMigrationStrategy().Default.QualityThreshold)

	// returned copies are detached from the live strategy
	got := f.orch.GetMigrationStrategy()
	got.Agents[models.AgentTypePlotStructure] = models.AgentMigration{Status: models.MigrationNew}
	_, exists := f.orch.GetMigrationStrategy().Agents[models.AgentTypePlotStructure]
	assert.False(t, exists)
}

func TestConcurrentStrategyUpdatesAreNotLost(t *testing.T) {
	t.Parallel()
	f := newFixture(t, models.DefaultMigrationStrategy(), 6, 9, nil)

	var wg sync.WaitGroup
	for i, at := range models.AllAgentTypes() {
		wg.Add(1)
		go func(i int, at models.AgentType) {
			defer wg.Done()
			threshold := float64(i + 1)
			_, err := f.orch.UpdateMigrationStrategy(models.MigrationUpdate{
				Agents: map[models.AgentType]models.AgentMigrationUpdate{at: {QualityThreshold: &threshold}},
			})
			assert.NoError(t, err)
		}(i, at)
	}
	wg.Wait()

	s := f.orch.GetMigrationStrategy()
	require.Len(t, s.Agents, len(models.AllAgentTypes()))
	for i, at := range models.AllAgentTypes() {
		assert.Equal(t, float64(i+1), s.Agents[at].QualityThreshold)
	}
}

func TestGetSystemHealth(t *testing.T) {
	t.Parallel()
	f := newFixture(t, models.DefaultMigrationStrategy(), 6, 9, nil)
	f.orch.ExecuteAgent(context.Background(), request("line"))

	h := f.orch.GetSystemHealth()
	assert.Len(t, h.Agents, 2)
	assert.Equal(t, models.MigrationHybrid, h.Strategy.Default.Status)
	assert.Positive(t, h.Memory.TotalActions)
	assert.False(t, h.CheckedAt.IsZero())
}

func TestNewRejectsInvalidStrategy(t *testing.T) {
	t.Parallel()
	_, err := New(agent.NewRegistry(nil), memory.NewPool(memory.DefaultConfig(), nil),
		strategyWith("sideways", 7, true), DefaultConfig(), nil)
	require.ErrorIs(t, err, models.ErrConfiguration)
}
