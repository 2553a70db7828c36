package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quantumflow/scribe/internal/logging"
	"github.com/quantumflow/scribe/internal/models"
)

// CompressionConfig tunes the three compression stages
type CompressionConfig struct {
	SimilarityThreshold     float64       // raw clustering
	PatternOverlapThreshold float64       // summary grouping
	MinClusterSize          int           // smallest raw cluster worth summarising
	KeepRecentRaw           int           // newest actions never compressed
	SummaryTTL              time.Duration // summary promotion horizon
	PatternTTL              time.Duration // pattern promotion horizon
	MaxPatterns             int           // patterns kept on a pattern entry
	EssencePatterns         int           // patterns kept on an essence entry
	HighAcceptance          float64
	LowAcceptance           float64
	Interval                time.Duration // background pass period
}

// DefaultCompressionConfig returns the default compression settings
func DefaultCompressionConfig() CompressionConfig {
	return CompressionConfig{
		SimilarityThreshold:     0.3,
		PatternOverlapThreshold: 0.4,
		MinClusterSize:          2,
		KeepRecentRaw:           100,
		SummaryTTL:              30 * 24 * time.Hour,
		PatternTTL:              90 * 24 * time.Hour,
		MaxPatterns:             3,
		EssencePatterns:         2,
		HighAcceptance:          0.8,
		LowAcceptance:           0.4,
		Interval:                time.Hour,
	}
}

// StageResult counts the effect of one compression stage
type StageResult struct {
	Consumed int // input entries replaced
	Created  int // output entries written
	Skipped  int // batches dropped because inputs changed meanwhile
}

// CompactionResult reports a full raw→summary→pattern→essence pass
type CompactionResult struct {
	Summaries StageResult
	Patterns  StageResult
	Essences  StageResult
	Duration  time.Duration
}

// Engine rewrites pool contents into progressively coarser entries.
// Each stage reads a closed snapshot, computes outside the pool lock and
// commits validated batches, so readers never see half-applied merges.
type Engine struct {
	pool       *Pool
	cfg        CompressionConfig
	similarity Similarity
	summarizer Summarizer
	store      CompressedStore
	essences   EssenceStore
	logger     logging.Logger
	now        func() time.Time

	mu sync.Mutex // one pass at a time
}

// EngineOption customises an Engine
type EngineOption func(*Engine)

// WithSimilarity replaces the raw clustering similarity
func WithSimilarity(s Similarity) EngineOption { return func(e *Engine) { e.similarity = s } }

// WithSummarizer replaces the content renderer
func WithSummarizer(s Summarizer) EngineOption { return func(e *Engine) { e.summarizer = s } }

// WithCompressedStore persists compressed entries after each commit
func WithCompressedStore(s CompressedStore) EngineOption { return func(e *Engine) { e.store = s } }

// WithEssenceStore mirrors essence entries to a graph store
func WithEssenceStore(s EssenceStore) EngineOption { return func(e *Engine) { e.essences = s } }

// WithEngineLogger sets the engine logger
func WithEngineLogger(l logging.Logger) EngineOption { return func(e *Engine) { e.logger = l } }

// WithClock overrides time.Now
func WithClock(now func() time.Time) EngineOption { return func(e *Engine) { e.now = now } }

// NewEngine creates a compression engine over pool
func NewEngine(pool *Pool, cfg CompressionConfig, opts ...EngineOption) *Engine {
	def := DefaultCompressionConfig()
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = def.SimilarityThreshold
	}
	if cfg.PatternOverlapThreshold <= 0 {
		cfg.PatternOverlapThreshold = def.PatternOverlapThreshold
	}
	if cfg.MinClusterSize < 2 {
		cfg.MinClusterSize = def.MinClusterSize
	}
	if cfg.KeepRecentRaw < 0 {
		cfg.KeepRecentRaw = 0
	}
	if cfg.SummaryTTL <= 0 {
		cfg.SummaryTTL = def.SummaryTTL
	}
	if cfg.PatternTTL <= 0 {
		cfg.PatternTTL = def.PatternTTL
	}
	if cfg.MaxPatterns <= 0 {
		cfg.MaxPatterns = def.MaxPatterns
	}
	if cfg.EssencePatterns <= 0 {
		cfg.EssencePatterns = def.EssencePatterns
	}
	if cfg.HighAcceptance <= 0 {
		cfg.HighAcceptance = def.HighAcceptance
	}
	if cfg.LowAcceptance <= 0 {
		cfg.LowAcceptance = def.LowAcceptance
	}
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}

	e := &Engine{
		pool:       pool,
		cfg:        cfg,
		similarity: TokenOverlap{},
		summarizer: TemplateSummarizer{},
		logger:     logging.NoOpLogger{},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = logging.OrNoOp(e.logger)
	return e
}

// Compact runs all three stages in order
func (e *Engine) Compact(ctx context.Context) (*CompactionResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	result := &CompactionResult{}

	var err error
	if result.Summaries, err = e.compressRaw(ctx); err != nil {
		return result, fmt.Errorf("raw compression failed: %w", err)
	}
	if result.Patterns, err = e.compressSummaries(ctx); err != nil {
		return result, fmt.Errorf("summary compression failed: %w", err)
	}
	if result.Essences, err = e.compressPatterns(ctx); err != nil {
		return result, fmt.Errorf("pattern compression failed: %w", err)
	}

	result.Duration = time.Since(start)
	e.logger.Info("memory compaction complete",
		"summaries", result.Summaries.Created,
		"patterns", result.Patterns.Created,
		"essences", result.Essences.Created,
		"duration", result.Duration)
	return result, nil
}

// CompressRaw runs only the raw → summary stage
func (e *Engine) CompressRaw(ctx context.Context) (StageResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.compressRaw(ctx)
}

// CompressSummaries runs only the summary → pattern stage
func (e *Engine) CompressSummaries(ctx context.Context) (StageResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.compressSummaries(ctx)
}

// CompressPatterns runs only the pattern → essence stage
func (e *Engine) CompressPatterns(ctx context.Context) (StageResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.compressPatterns(ctx)
}

// Run compacts every interval until ctx is done
func (e *Engine) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = e.cfg.Interval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.logger.Info("memory compaction loop started", "interval", interval)
	for {
		select {
		case <-ticker.C:
			if _, err := e.Compact(ctx); err != nil {
				e.logger.Error("memory compaction failed", "error", err)
			}
		case <-ctx.Done():
			e.logger.Info("memory compaction loop stopped")
			return
		}
	}
}

type partitionKey struct {
	userID    string
	agentType models.AgentType
}

func (e *Engine) compressRaw(ctx context.Context) (StageResult, error) {
	snapshot := e.pool.rawSnapshot(e.cfg.KeepRecentRaw)
	if len(snapshot) == 0 {
		return StageResult{}, nil
	}

	var keys []partitionKey
	parts := map[partitionKey][]models.AgentAction{}
	for _, a := range snapshot {
		k := partitionKey{a.UserID, a.AgentType}
		if _, ok := parts[k]; !ok {
			keys = append(keys, k)
		}
		parts[k] = append(parts[k], a)
	}

	var batches []RawBatch
	for _, k := range keys {
		for _, cluster := range e.clusterActions(parts[k]) {
			if len(cluster) < e.cfg.MinClusterSize {
				continue
			}
			if err := ctx.Err(); err != nil {
				return StageResult{}, err
			}
			batches = append(batches, e.buildSummary(ctx, k, cluster))
		}
	}
	if len(batches) == 0 {
		return StageResult{}, nil
	}

	committed := e.pool.CommitRawBatches(batches)
	res := StageResult{Created: len(committed), Skipped: len(batches) - len(committed)}
	outputs := make([]models.CompressedMemory, 0, len(committed))
	for _, b := range committed {
		res.Consumed += len(b.ActionIDs)
		outputs = append(outputs, b.Output)
	}
	e.persist(ctx, outputs, nil)
	return res, nil
}

// clusterActions groups actions greedily around seeds: each unassigned
// action starts a cluster and absorbs every later unassigned action whose
// input+output text is similar enough to the seed
func (e *Engine) clusterActions(actions []models.AgentAction) [][]models.AgentAction {
	texts := make([]string, len(actions))
	for i, a := range actions {
		texts[i] = a.Input + " " + a.Output
	}

	assigned := make([]bool, len(actions))
	var clusters [][]models.AgentAction
	for i := range actions {
		if assigned[i] {
			continue
		}
		assigned[i] = true
		cluster := []models.AgentAction{actions[i]}
		for j := i + 1; j < len(actions); j++ {
			if assigned[j] {
				continue
			}
			if e.similarity.Similarity(texts[i], texts[j]) >= e.cfg.SimilarityThreshold {
				assigned[j] = true
				cluster = append(cluster, actions[j])
			}
		}
		clusters = append(clusters, cluster)
	}
	return clusters
}

func (e *Engine) buildSummary(ctx context.Context, k partitionKey, cluster []models.AgentAction) RawBatch {
	now := e.now()
	patterns := e.extractPatterns(k.agentType, cluster)

	ids := make([]string, len(cluster))
	ratings := make([]float64, len(cluster))
	for i, a := range cluster {
		ids[i] = a.ID
		ratings[i] = a.Confidence * 10
	}

	n := float64(len(cluster))
	confidence := 0.5*min(n/10, 1) + 0.5/(1+variance(ratings))

	content, err := e.summarizer.SummarizeActions(ctx, k.agentType, cluster, patterns)
	if err != nil || content == "" {
		content, _ = TemplateSummarizer{}.SummarizeActions(ctx, k.agentType, cluster, patterns)
	}

	expires := now.Add(e.cfg.SummaryTTL)
	return RawBatch{
		ActionIDs: ids,
		Output: models.CompressedMemory{
			ID:             uuid.NewString(),
			UserID:         k.userID,
			AgentType:      k.agentType,
			Level:          models.LevelSummary,
			OriginalCount:  len(cluster),
			Content:        content,
			Patterns:       patterns,
			Confidence:     models.Clamp01(confidence),
			CreatedAt:      now,
			LastCompressed: now,
			ExpiresAt:      &expires,
		},
	}
}

// extractPatterns derives the behavioural patterns of a raw cluster
func (e *Engine) extractPatterns(agentType models.AgentType, cluster []models.AgentAction) []string {
	var patterns []string

	ok := 0
	agentWins := map[string]int{}
	actionCounts := map[string]int{}
	for _, a := range cluster {
		actionCounts[a.Action]++
		if a.Success {
			ok++
			agentWins[agentFamily(a.AgentID)]++
		}
	}

	rate := float64(ok) / float64(len(cluster))
	switch {
	case rate >= e.cfg.HighAcceptance:
		patterns = append(patterns, fmt.Sprintf("high acceptance rate for %s", agentType))
	case rate <= e.cfg.LowAcceptance:
		patterns = append(patterns, fmt.Sprintf("low acceptance rate for %s", agentType))
	}

	if family, wins := topKey(agentWins); family != "" && wins*2 > ok {
		patterns = append(patterns, fmt.Sprintf("prefers agent %s", family))
	}
	if action, count := topKey(actionCounts); action != "" && count*2 >= len(cluster) {
		patterns = append(patterns, fmt.Sprintf("frequent action %s", action))
	}
	return patterns
}

// agentFamily strips the instance suffix from a container ID:
// "enhanced-dialogue-1a2b3c4d" → "enhanced-dialogue"
func agentFamily(agentID string) string {
	if i := strings.LastIndex(agentID, "-"); i > 0 {
		return agentID[:i]
	}
	return agentID
}

func topKey(counts map[string]int) (string, int) {
	best, bestN := "", 0
	for k, n := range counts {
		if n > bestN || (n == bestN && k < best) {
			best, bestN = k, n
		}
	}
	return best, bestN
}

func (e *Engine) compressSummaries(ctx context.Context) (StageResult, error) {
	now := e.now()
	entries := e.pool.Compressed(models.LevelSummary)
	if len(entries) == 0 {
		return StageResult{}, nil
	}

	var keys []partitionKey
	parts := map[partitionKey][]models.CompressedMemory{}
	for _, m := range entries {
		k := partitionKey{m.UserID, m.AgentType}
		if _, ok := parts[k]; !ok {
			keys = append(keys, k)
		}
		parts[k] = append(parts[k], m)
	}

	var batches []CompressedBatch
	for _, k := range keys {
		for _, group := range e.groupByPatterns(parts[k]) {
			if len(group) < 2 && !expired(group[0], now) {
				continue
			}
			if err := ctx.Err(); err != nil {
				return StageResult{}, err
			}
			patterns := rankPatterns(group, e.cfg.MaxPatterns, len(group) > 1)
			var confSum float64
			for _, m := range group {
				confSum += m.Confidence
			}
			out := e.merge(ctx, models.LevelPattern, group, patterns, confSum/float64(len(group)), now)
			out.UserID = k.userID
			out.AgentType = k.agentType
			expires := now.Add(e.cfg.PatternTTL)
			out.ExpiresAt = &expires
			batches = append(batches, CompressedBatch{InputIDs: memoryIDs(group), Output: out})
		}
	}

	return e.commitCompressed(ctx, models.LevelSummary, batches), nil
}

// groupByPatterns clusters entries whose pattern sets overlap enough with a seed
func (e *Engine) groupByPatterns(entries []models.CompressedMemory) [][]models.CompressedMemory {
	sets := make([]map[string]struct{}, len(entries))
	for i, m := range entries {
		sets[i] = stringSet(m.Patterns)
	}

	assigned := make([]bool, len(entries))
	var groups [][]models.CompressedMemory
	for i := range entries {
		if assigned[i] {
			continue
		}
		assigned[i] = true
		group := []models.CompressedMemory{entries[i]}
		for j := i + 1; j < len(entries); j++ {
			if !assigned[j] && jaccard(sets[i], sets[j]) >= e.cfg.PatternOverlapThreshold {
				assigned[j] = true
				group = append(group, entries[j])
			}
		}
		groups = append(groups, group)
	}
	return groups
}

func (e *Engine) compressPatterns(ctx context.Context) (StageResult, error) {
	now := e.now()
	entries := e.pool.Compressed(models.LevelPattern)
	if len(entries) == 0 {
		return StageResult{}, nil
	}

	var keys []string
	groups := map[string][]models.CompressedMemory{}
	for _, m := range entries {
		core := append([]string(nil), m.Patterns[:min(len(m.Patterns), e.cfg.EssencePatterns)]...)
		sort.Strings(core)
		key := string(m.AgentType) + "|" + strings.Join(core, "|")
		if _, ok := groups[key]; !ok {
			keys = append(keys, key)
		}
		groups[key] = append(groups[key], m)
	}

	var batches []CompressedBatch
	for _, key := range keys {
		group := groups[key]
		if len(group) < 2 && !expired(group[0], now) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return StageResult{}, err
		}

		var weighted float64
		total := 0
		userID := group[0].UserID
		for _, m := range group {
			weighted += m.Confidence * float64(m.Weight())
			total += m.Weight()
			if m.UserID != userID {
				userID = ""
			}
		}
		patterns := rankPatterns(group, e.cfg.EssencePatterns, false)
		out := e.merge(ctx, models.LevelEssence, group, patterns, weighted/float64(total), now)
		out.UserID = userID
		out.AgentType = group[0].AgentType
		batches = append(batches, CompressedBatch{InputIDs: memoryIDs(group), Output: out})
	}

	return e.commitCompressed(ctx, models.LevelPattern, batches), nil
}

func (e *Engine) merge(ctx context.Context, level models.CompressionLevel, group []models.CompressedMemory, patterns []string, confidence float64, now time.Time) models.CompressedMemory {
	total := 0
	for _, m := range group {
		total += m.Weight()
	}
	content, err := e.summarizer.SummarizeMemories(ctx, level, group, patterns)
	if err != nil || content == "" {
		content, _ = TemplateSummarizer{}.SummarizeMemories(ctx, level, group, patterns)
	}
	return models.CompressedMemory{
		ID:             uuid.NewString(),
		Level:          level,
		OriginalCount:  total,
		Content:        content,
		Patterns:       patterns,
		Confidence:     models.Clamp01(confidence),
		CreatedAt:      now,
		LastCompressed: now,
	}
}

func (e *Engine) commitCompressed(ctx context.Context, source models.CompressionLevel, batches []CompressedBatch) StageResult {
	if len(batches) == 0 {
		return StageResult{}
	}
	committed := e.pool.CommitCompressedBatches(source, batches)
	res := StageResult{Created: len(committed), Skipped: len(batches) - len(committed)}

	var (
		outputs []models.CompressedMemory
		removed []string
	)
	for _, b := range committed {
		res.Consumed += len(b.InputIDs)
		outputs = append(outputs, b.Output)
		removed = append(removed, b.InputIDs...)
	}
	e.persist(ctx, outputs, removed)
	return res
}

// persist mirrors a committed stage to the optional stores; failures are logged
func (e *Engine) persist(ctx context.Context, outputs []models.CompressedMemory, removed []string) {
	if len(outputs) == 0 {
		return
	}
	if e.store != nil {
		if err := e.store.SaveCompressed(ctx, outputs); err != nil {
			e.logger.Warn("failed to persist compressed memories", "count", len(outputs), "error", err)
		}
		if len(removed) > 0 {
			if err := e.store.DeleteCompressed(ctx, removed); err != nil {
				e.logger.Warn("failed to delete merged memories", "count", len(removed), "error", err)
			}
		}
	}
	if e.essences != nil && outputs[0].Level == models.LevelEssence {
		if err := e.essences.SaveEssences(ctx, outputs); err != nil {
			e.logger.Warn("failed to store essences", "count", len(outputs), "error", err)
		}
	}
}

// rankPatterns orders patterns by how many entries carry them, then
// alphabetically. With sharedOnly, patterns seen once are dropped.
func rankPatterns(group []models.CompressedMemory, limit int, sharedOnly bool) []string {
	freq := map[string]int{}
	for _, m := range group {
		for p := range stringSet(m.Patterns) {
			freq[p]++
		}
	}
	var out []string
	for p, n := range freq {
		if sharedOnly && n < 2 {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if freq[out[i]] != freq[out[j]] {
			return freq[out[i]] > freq[out[j]]
		}
		return out[i] < out[j]
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func expired(m models.CompressedMemory, now time.Time) bool {
	return m.ExpiresAt != nil && !now.Before(*m.ExpiresAt)
}

func memoryIDs(group []models.CompressedMemory) []string {
	ids := make([]string, len(group))
	for i, m := range group {
		ids[i] = m.ID
	}
	return ids
}

func variance(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var mean float64
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	var v float64
	for _, x := range xs {
		v += (x - mean) * (x - mean)
	}
	return v / float64(len(xs))
}
