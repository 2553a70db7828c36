package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantumflow/scribe/internal/inference"
	"github.com/quantumflow/scribe/internal/models"
)

func tavernAction(i int) models.AgentAction {
	a := action("enhanced-dialogue-1a2b3c4d", models.AgentTypeDialogue, true, 0.8)
	a.Input = fmt.Sprintf("tavern dialogue mara innkeeper ale %d", i)
	a.Output = "mara asks the innkeeper for ale"
	return a
}

func spaceAction(i int) models.AgentAction {
	a := action("enhanced-dialogue-5e6f7a8b", models.AgentTypeDialogue, true, 0.8)
	a.Input = fmt.Sprintf("spaceship battle captain orders laser %d", i)
	a.Output = "captain fires lasers at the cruiser"
	return a
}

func rawEngine(p *Pool, opts ...EngineOption) *Engine {
	cfg := DefaultCompressionConfig()
	cfg.KeepRecentRaw = 0
	return NewEngine(p, cfg, opts...)
}

func counts(memories []models.CompressedMemory) []int {
	out := make([]int, len(memories))
	for i, m := range memories {
		out[i] = m.OriginalCount
	}
	sort.Ints(out)
	return out
}

func TestCompressRawClustersBySimilarity(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p := NewPool(DefaultConfig(), nil)
	for i := 0; i < 7; i++ {
		p.LogAgentAction(ctx, tavernAction(i))
	}
	for i := 0; i < 5; i++ {
		p.LogAgentAction(ctx, spaceAction(i))
	}

	res, err := rawEngine(p).CompressRaw(ctx)
	require.NoError(t, err)

	assert.Equal(t, StageResult{Consumed: 12, Created: 2}, res)
	summaries := p.Compressed(models.LevelSummary)
	require.Len(t, summaries, 2)
	assert.Equal(t, []int{5, 7}, counts(summaries))
	assert.Empty(t, p.Actions())

	for _, s := range summaries {
		assert.Equal(t, "user-1", s.UserID)
		assert.Equal(t, models.AgentTypeDialogue, s.AgentType)
		require.NotNil(t, s.ExpiresAt)
		assert.Equal(t, s.CreatedAt.Add(30*24*time.Hour), *s.ExpiresAt)
		assert.Contains(t, s.Patterns, "high acceptance rate for dialogue")
		assert.Contains(t, s.Patterns, "prefers agent enhanced-dialogue")
		assert.Contains(t, s.Patterns, "frequent action execute")
	}
}

func TestCompressRawConfidence(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p := NewPool(DefaultConfig(), nil)
	for i := 0; i < 7; i++ {
		p.LogAgentAction(ctx, tavernAction(i))
	}

	_, err := rawEngine(p).CompressRaw(ctx)
	require.NoError(t, err)

	summaries := p.Compressed(models.LevelSummary)
	require.Len(t, summaries, 1)
	// identical ratings: 0.5*0.7 + 0.5/(1+0)
	assert.InDelta(t, 0.85, summaries[0].Confidence, 1e-9)
}

func TestCompressRawLowAcceptance(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p := NewPool(DefaultConfig(), nil)
	for i := 0; i < 4; i++ {
		a := tavernAction(i)
		a.Success = false
		p.LogAgentAction(ctx, a)
	}

	_, err := rawEngine(p).CompressRaw(ctx)
	require.NoError(t, err)

	summaries := p.Compressed(models.LevelSummary)
	require.Len(t, summaries, 1)
	assert.Contains(t, summaries[0].Patterns, "low acceptance rate for dialogue")
	for _, pat := range summaries[0].Patterns {
		assert.NotContains(t, pat, "prefers agent")
	}
}

func TestCompressRawPartitionsByUserAndType(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p := NewPool(DefaultConfig(), nil)
	for i := 0; i < 3; i++ {
		a := tavernAction(i)
		a.UserID = "alice"
		p.LogAgentAction(ctx, a)
		b := tavernAction(i)
		b.UserID = "bob"
		p.LogAgentAction(ctx, b)
	}
	lone := tavernAction(9)
	lone.AgentType = models.AgentTypeStyleAnalysis
	p.LogAgentAction(ctx, lone)

	res, err := rawEngine(p).CompressRaw(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Created)
	users := map[string]int{}
	for _, s := range p.Compressed(models.LevelSummary) {
		users[s.UserID] = s.OriginalCount
	}
	assert.Equal(t, map[string]int{"alice": 3, "bob": 3}, users)
	require.Len(t, p.Actions(), 1, "singleton clusters stay raw")
	assert.Equal(t, models.AgentTypeStyleAnalysis, p.Actions()[0].AgentType)
}

func TestCompressRawKeepsRecent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p := NewPool(DefaultConfig(), nil)
	for i := 0; i < 10; i++ {
		p.LogAgentAction(ctx, tavernAction(i))
	}

	cfg := DefaultCompressionConfig()
	cfg.KeepRecentRaw = 4
	_, err := NewEngine(p, cfg).CompressRaw(ctx)
	require.NoError(t, err)

	assert.Equal(t, []int{6}, counts(p.Compressed(models.LevelSummary)))
	remaining := p.Actions()
	require.Len(t, remaining, 4)
	assert.Equal(t, "tavern dialogue mara innkeeper ale 6", remaining[0].Input)
}

func TestCompactConservesCountsAndIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p := NewPool(DefaultConfig(), nil)
	for i := 0; i < 7; i++ {
		p.LogAgentAction(ctx, tavernAction(i))
	}
	for i := 0; i < 5; i++ {
		p.LogAgentAction(ctx, spaceAction(i))
	}
	e := rawEngine(p)

	res, err := e.Compact(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Summaries.Created)
	assert.Equal(t, StageResult{Consumed: 2, Created: 1}, res.Patterns)
	assert.Zero(t, res.Essences.Created)

	patterns := p.Compressed(models.LevelPattern)
	require.Len(t, patterns, 1)
	assert.Equal(t, 12, patterns[0].OriginalCount)
	assert.Len(t, patterns[0].Patterns, 3)
	assert.InDelta(t, 0.5*(0.85+0.75), patterns[0].Confidence, 1e-9)
	require.NotNil(t, patterns[0].ExpiresAt)
	assert.Equal(t, patterns[0].CreatedAt.Add(90*24*time.Hour), *patterns[0].ExpiresAt)
	assert.Empty(t, p.Compressed(models.LevelSummary))

	before := p.ExportMemory().Compressed
	res, err = e.Compact(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Summaries.Created+res.Patterns.Created+res.Essences.Created)
	assert.Equal(t, before, p.ExportMemory().Compressed)
}

func TestCompressSummariesPromotesExpiredSingleton(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	expired := now.Add(-time.Hour)
	fresh := now.Add(time.Hour)

	p := NewPool(DefaultConfig(), nil)
	p.SeedCompressed([]models.CompressedMemory{
		{ID: "old", AgentType: models.AgentTypeDialogue, Level: models.LevelSummary, OriginalCount: 4, Confidence: 0.6, Patterns: []string{"frequent action execute"}, ExpiresAt: &expired},
		{ID: "new", AgentType: models.AgentTypeWorldBuilding, Level: models.LevelSummary, OriginalCount: 3, Confidence: 0.6, Patterns: []string{"frequent action execute"}, ExpiresAt: &fresh},
	})

	e := rawEngine(p, WithClock(func() time.Time { return now }))
	res, err := e.CompressSummaries(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StageResult{Consumed: 1, Created: 1}, res)
	patterns := p.Compressed(models.LevelPattern)
	require.Len(t, patterns, 1)
	assert.Equal(t, 4, patterns[0].OriginalCount)
	assert.Equal(t, []string{"frequent action execute"}, patterns[0].Patterns)
	summaries := p.Compressed(models.LevelSummary)
	require.Len(t, summaries, 1)
	assert.Equal(t, "new", summaries[0].ID)
}

func TestCompressPatternsBuildsEssence(t *testing.T) {
	t.Parallel()
	p := NewPool(DefaultConfig(), nil)
	shared := []string{"high acceptance rate for dialogue", "prefers agent enhanced-dialogue"}
	p.SeedCompressed([]models.CompressedMemory{
		{ID: "p1", UserID: "alice", AgentType: models.AgentTypeDialogue, Level: models.LevelPattern, OriginalCount: 4, Confidence: 0.5, Patterns: shared},
		{ID: "p2", UserID: "bob", AgentType: models.AgentTypeDialogue, Level: models.LevelPattern, OriginalCount: 6, Confidence: 1.0, Patterns: append(append([]string(nil), shared...), "frequent action execute")},
		{ID: "p3", UserID: "bob", AgentType: models.AgentTypeWorldBuilding, Level: models.LevelPattern, OriginalCount: 2, Confidence: 1.0, Patterns: shared},
	})

	store := &recordingEssenceStore{}
	res, err := rawEngine(p, WithEssenceStore(store)).CompressPatterns(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StageResult{Consumed: 2, Created: 1}, res)
	essences := p.Compressed(models.LevelEssence)
	require.Len(t, essences, 1)
	e := essences[0]
	assert.Equal(t, 10, e.OriginalCount)
	assert.InDelta(t, 0.8, e.Confidence, 1e-9)
	assert.Nil(t, e.ExpiresAt)
	assert.Empty(t, e.UserID)
	assert.ElementsMatch(t, shared, e.Patterns)
	assert.Len(t, p.Compressed(models.LevelPattern), 1)
	require.Len(t, store.saved, 1)
	assert.Equal(t, e.ID, store.saved[0].ID)
}

type recordingEssenceStore struct {
	saved []models.CompressedMemory
}

func (s *recordingEssenceStore) SaveEssences(_ context.Context, essences []models.CompressedMemory) error {
	s.saved = append(s.saved, essences...)
	return nil
}

func (s *recordingEssenceStore) QueryEssences(context.Context, models.AgentType) ([]models.CompressedMemory, error) {
	return s.saved, nil
}

type brokenStore struct{ saves int }

func (s *brokenStore) SaveCompressed(context.Context, []models.CompressedMemory) error {
	s.saves++
	return errors.New("disk full")
}
func (s *brokenStore) DeleteCompressed(context.Context, []string) error { return nil }
func (s *brokenStore) LoadCompressed(context.Context) ([]models.CompressedMemory, error) {
	return nil, nil
}

func TestCompactPersistenceFailureDoesNotFail(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p := NewPool(DefaultConfig(), nil)
	for i := 0; i < 3; i++ {
		p.LogAgentAction(ctx, tavernAction(i))
	}
	store := &brokenStore{}

	_, err := rawEngine(p, WithCompressedStore(store)).Compact(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, store.saves)
	assert.Len(t, p.Compressed(models.LevelSummary), 1)
}

func TestCompactHonoursCancellation(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	p := NewPool(DefaultConfig(), nil)
	for i := 0; i < 3; i++ {
		p.LogAgentAction(ctx, tavernAction(i))
	}
	cancel()

	_, err := rawEngine(p).Compact(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Len(t, p.Actions(), 3)
}

func TestProviderSummarizerFallsBack(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p := NewPool(DefaultConfig(), nil)
	for i := 0; i < 3; i++ {
		p.LogAgentAction(ctx, tavernAction(i))
	}

	mock := inference.NewMockProvider().WithErrors(errors.New("offline"))
	_, err := rawEngine(p, WithSummarizer(NewProviderSummarizer(mock))).CompressRaw(ctx)
	require.NoError(t, err)

	summaries := p.Compressed(models.LevelSummary)
	require.Len(t, summaries, 1)
	assert.Contains(t, summaries[0].Content, "3 dialogue actions")
	assert.Equal(t, 1, mock.Calls())
}

func TestProviderSummarizerUsesModelText(t *testing.T) {
	t.Parallel()
	mock := inference.NewMockProvider("```\nThe writer favours terse tavern banter.\n```")
	s := NewProviderSummarizer(mock)

	out, err := s.SummarizeActions(context.Background(), models.AgentTypeDialogue, []models.AgentAction{tavernAction(1)}, nil)
	require.NoError(t, err)
	assert.Equal(t, "The writer favours terse tavern banter.", out)
	assert.Contains(t, mock.Prompts()[0], "tavern dialogue mara")
}

func TestSimilarityStrategies(t *testing.T) {
	t.Parallel()
	a, b := tavernAction(1), tavernAction(2)
	ta := a.Input + " " + a.Output
	tb := b.Input + " " + b.Output
	sa := spaceAction(1)
	ts := sa.Input + " " + sa.Output

	overlap := TokenOverlap{}
	assert.Greater(t, overlap.Similarity(ta, tb), 0.3)
	assert.Less(t, overlap.Similarity(ta, ts), 0.3)
	assert.Zero(t, overlap.Similarity("", ""))

	emb := NewEmbeddingSimilarity(0)
	assert.InDelta(t, 1.0, emb.Similarity(ta, ta), 1e-4)
	assert.Greater(t, emb.Similarity(ta, tb), emb.Similarity(ta, ts))
}
