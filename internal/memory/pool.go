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

// Pool is the community memory shared by all agents: a bounded FIFO log of
// actions plus the compressed entries derived from it. All mutation happens
// under one write lock, so readers only ever see fully applied changes.
type Pool struct {
	cfg    Config
	logger logging.Logger

	mu          sync.RWMutex
	actions     []models.AgentAction
	compressed  []models.CompressedMemory
	patterns    map[string]int
	insights    []string
	agents      map[string]AgentProfile
	totalLogged int64
	sink        ActionSink
}

// NewPool creates an empty memory pool
func NewPool(cfg Config, logger logging.Logger) *Pool {
	def := DefaultConfig()
	if cfg.Capacity <= 0 {
		cfg.Capacity = def.Capacity
	}
	if cfg.PatternWindow <= 0 {
		cfg.PatternWindow = def.PatternWindow
	}
	if cfg.InsightLimit <= 0 {
		cfg.InsightLimit = def.InsightLimit
	}
	if cfg.SuccessPatternLimit <= 0 {
		cfg.SuccessPatternLimit = def.SuccessPatternLimit
	}
	if cfg.HighConfidence <= 0 {
		cfg.HighConfidence = def.HighConfidence
	}
	if cfg.ExcellentRate <= 0 {
		cfg.ExcellentRate = def.ExcellentRate
	}
	if cfg.OptimizeRate <= 0 {
		cfg.OptimizeRate = def.OptimizeRate
	}
	if cfg.FailureRecurrence <= 0 {
		cfg.FailureRecurrence = def.FailureRecurrence
	}

	return &Pool{
		cfg:      cfg,
		logger:   logging.OrNoOp(logger),
		patterns: map[string]int{},
		agents:   map[string]AgentProfile{},
	}
}

// SetSink attaches a best-effort mirror for new actions
func (p *Pool) SetSink(sink ActionSink) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sink = sink
}

// Capacity returns the maximum number of retained actions
func (p *Pool) Capacity() int { return p.cfg.Capacity }

// LogAgentAction appends an action, evicting the oldest beyond capacity.
// It never fails: sink errors are logged and dropped.
func (p *Pool) LogAgentAction(ctx context.Context, action models.AgentAction) {
	if action.ID == "" {
		action.ID = uuid.NewString()
	}
	if action.Timestamp.IsZero() {
		action.Timestamp = time.Now()
	}
	action.Confidence = models.Clamp01(action.Confidence)

	p.mu.Lock()
	p.appendLocked(action)
	p.totalLogged++
	p.recomputeLocked()
	sink := p.sink
	p.mu.Unlock()

	if sink != nil {
		p.mirror(ctx, sink, action)
	}
}

func (p *Pool) mirror(ctx context.Context, sink ActionSink, action models.AgentAction) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("action sink panicked", "panic", r)
		}
	}()
	if err := sink.Append(context.WithoutCancel(ctx), action); err != nil {
		p.logger.Warn("failed to mirror agent action", "agent_id", action.AgentID, "error", err)
	}
}

func (p *Pool) appendLocked(action models.AgentAction) {
	p.actions = append(p.actions, action)
	if over := len(p.actions) - p.cfg.Capacity; over > 0 {
		// Copy so the evicted prefix can be collected
		trimmed := make([]models.AgentAction, p.cfg.Capacity, p.cfg.Capacity+p.cfg.Capacity/4)
		copy(trimmed, p.actions[over:])
		p.actions = trimmed
	}
}

// Seed appends previously persisted actions without mirroring them again
func (p *Pool) Seed(actions []models.AgentAction) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, a := range actions {
		if a.ID == "" {
			a.ID = uuid.NewString()
		}
		p.appendLocked(a)
	}
	p.recomputeLocked()
}

// WarmStart seeds the pool from src; failures are logged, not returned
func (p *Pool) WarmStart(ctx context.Context, src ActionSource) int {
	actions, err := src.LoadRecent(ctx, p.cfg.Capacity)
	if err != nil {
		p.logger.Warn("memory warm start failed", "error", err)
		return 0
	}
	p.Seed(actions)
	p.logger.Info("memory warm start complete", "actions", len(actions))
	return len(actions)
}

// SeedCompressed loads persisted compressed entries, skipping known IDs
func (p *Pool) SeedCompressed(memories []models.CompressedMemory) {
	p.mu.Lock()
	defer p.mu.Unlock()
	known := make(map[string]struct{}, len(p.compressed))
	for _, m := range p.compressed {
		known[m.ID] = struct{}{}
	}
	for _, m := range memories {
		if _, ok := known[m.ID]; ok || m.Level == models.LevelRaw {
			continue
		}
		p.compressed = append(p.compressed, m)
	}
}

// recomputeLocked rebuilds patterns and insights from the current log
func (p *Pool) recomputeLocked() {
	p.patterns = p.computePatterns()
	p.insights = p.computeInsights()
}

func (p *Pool) computePatterns() map[string]int {
	out := map[string]int{}
	seen := 0
	for i := len(p.actions) - 1; i >= 0 && seen < p.cfg.PatternWindow; i-- {
		a := p.actions[i]
		if !a.Success || a.Confidence <= p.cfg.HighConfidence {
			continue
		}
		seen++
		out[fmt.Sprintf("%s:%s", a.AgentType, a.Action)]++
	}
	return out
}

type agentTally struct {
	total, ok int
	last      time.Time
}

func (p *Pool) computeInsights() []string {
	tallies := map[string]*agentTally{}
	failures := map[string]int{}
	var failureOrder []string

	for _, a := range p.actions {
		if a.Action == models.ActionSpawn {
			continue
		}
		t, ok := tallies[a.AgentID]
		if !ok {
			t = &agentTally{}
			tallies[a.AgentID] = t
		}
		t.total++
		if a.Success {
			t.ok++
		} else if a.Reasoning != "" {
			key := fmt.Sprintf("%s|%s", a.AgentType, a.Reasoning)
			if failures[key] == 0 {
				failureOrder = append(failureOrder, key)
			}
			failures[key]++
		}
		t.last = a.Timestamp
	}

	type dated struct {
		text string
		at   time.Time
	}
	var all []dated

	for id, t := range tallies {
		rate := float64(t.ok) / float64(t.total)
		switch {
		case rate > p.cfg.ExcellentRate:
			all = append(all, dated{fmt.Sprintf("Agent %s is performing excellently (%.0f%% success rate)", id, rate*100), t.last})
		case rate < p.cfg.OptimizeRate:
			all = append(all, dated{fmt.Sprintf("Agent %s needs optimization (%.0f%% success rate)", id, rate*100), t.last})
		}
	}

	// Failure insights rank as most recent
	var newest time.Time
	if n := len(p.actions); n > 0 {
		newest = p.actions[n-1].Timestamp
	}
	for _, key := range failureOrder {
		if n := failures[key]; n > p.cfg.FailureRecurrence {
			agentType, reason, _ := strings.Cut(key, "|")
			all = append(all, dated{fmt.Sprintf("Common failure for %s: %s (%d occurrences)", agentType, reason, n), newest})
		}
	}

	sort.SliceStable(all, func(i, j int) bool {
		if all[i].at.Equal(all[j].at) {
			return all[i].text < all[j].text
		}
		return all[i].at.Before(all[j].at)
	})
	if len(all) > p.cfg.InsightLimit {
		all = all[len(all)-p.cfg.InsightLimit:]
	}

	out := make([]string, len(all))
	for i, d := range all {
		out[i] = d.text
	}
	return out
}

// GetSuccessfulPatterns returns up to SuccessPatternLimit recent reasoning
// strings of high-confidence successes for agentType, newest first
func (p *Pool) GetSuccessfulPatterns(agentType models.AgentType) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var out []string
	for i := len(p.actions) - 1; i >= 0 && len(out) < p.cfg.SuccessPatternLimit; i-- {
		a := p.actions[i]
		if a.AgentType == agentType && a.Success && a.Confidence > p.cfg.HighConfidence && a.Reasoning != "" {
			out = append(out, a.Reasoning)
		}
	}
	return out
}

// GetAgentMetrics aggregates the execution history of one agent.
// Performance entries are excluded so each execution counts once.
func (p *Pool) GetAgentMetrics(agentID string) AgentMetrics {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var (
		m         AgentMetrics
		ok        int
		confSum   float64
		totalTime time.Duration
	)
	for _, a := range p.actions {
		if a.AgentID != agentID || a.Action == models.ActionPerformance || a.Action == models.ActionSpawn {
			continue
		}
		m.TotalActions++
		if a.Success {
			ok++
		}
		confSum += a.Confidence
		totalTime += a.Duration
	}
	if m.TotalActions == 0 {
		return m
	}
	m.SuccessRate = float64(ok) / float64(m.TotalActions)
	m.AverageConfidence = confSum / float64(m.TotalActions)
	m.AverageDuration = totalTime / time.Duration(m.TotalActions)
	return m
}

// SuccessRatio is the recent success ratio of one generation of agentType,
// over the last window outcomes. Each execution is represented by its
// performance entry when it succeeded, or its failed execute entry.
// With no history the result is 0.5.
func (p *Pool) SuccessRatio(agentType models.AgentType, gen models.Generation, window int) float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()

	prefix := string(gen) + "-"
	total, ok := 0, 0
	for i := len(p.actions) - 1; i >= 0 && (window <= 0 || total < window); i-- {
		a := p.actions[i]
		if a.AgentType != agentType || !strings.HasPrefix(a.AgentID, prefix) {
			continue
		}
		counted := a.Action == models.ActionPerformance || (a.Action == models.ActionExecute && !a.Success)
		if !counted {
			continue
		}
		total++
		if a.Success {
			ok++
		}
	}
	if total == 0 {
		return 0.5
	}
	return float64(ok) / float64(total)
}

// QualitySeries returns the agent's quality scores (0-10), oldest first.
// Performance entries are used when present, otherwise successful executions.
func (p *Pool) QualitySeries(agentID string) []float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var perf, exec []float64
	for _, a := range p.actions {
		if a.AgentID != agentID {
			continue
		}
		switch {
		case a.Action == models.ActionPerformance:
			perf = append(perf, a.Confidence*10)
		case a.Action == models.ActionExecute && a.Success:
			exec = append(exec, a.Confidence*10)
		}
	}
	if len(perf) > 0 {
		return perf
	}
	return exec
}

// ActionsSince returns actions logged at or after t
func (p *Pool) ActionsSince(t time.Time) []models.AgentAction {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var out []models.AgentAction
	for _, a := range p.actions {
		if !a.Timestamp.Before(t) {
			out = append(out, a)
		}
	}
	return out
}

// Actions returns a copy of the retained log, oldest first
func (p *Pool) Actions() []models.AgentAction {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]models.AgentAction, len(p.actions))
	copy(out, p.actions)
	return out
}

// Patterns returns a copy of the agentType:action frequency table
func (p *Pool) Patterns() map[string]int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]int, len(p.patterns))
	for k, v := range p.patterns {
		out[k] = v
	}
	return out
}

// Insights returns the current insights, oldest first
func (p *Pool) Insights() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]string(nil), p.insights...)
}

// Compressed returns the compressed entries at level
func (p *Pool) Compressed(level models.CompressionLevel) []models.CompressedMemory {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []models.CompressedMemory
	for _, m := range p.compressed {
		if m.Level == level {
			out = append(out, m)
		}
	}
	return out
}

// RegisterAgent adds or replaces an entry in the agent directory
func (p *Pool) RegisterAgent(profile AgentProfile) {
	if profile.RegisteredAt.IsZero() {
		profile.RegisteredAt = time.Now()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.agents[profile.ID] = profile
}

// Agents returns the agent directory ordered by ID
func (p *Pool) Agents() []AgentProfile {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]AgentProfile, 0, len(p.agents))
	for _, a := range p.agents {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// MemoryUsage is the fill ratio of the action log, in [0,1]
func (p *Pool) MemoryUsage() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return float64(len(p.actions)) / float64(p.cfg.Capacity)
}

// Stats summarises the pool
func (p *Pool) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	s := Stats{
		TotalActions: len(p.actions),
		Capacity:     p.cfg.Capacity,
		TotalLogged:  p.totalLogged,
		MemoryUsage:  float64(len(p.actions)) / float64(p.cfg.Capacity),
		Compressed:   map[models.CompressionLevel]int{},
		PatternCount: len(p.patterns),
		InsightCount: len(p.insights),
		AgentCount:   len(p.agents),
	}
	ok := 0
	var conf float64
	for _, a := range p.actions {
		if a.Success {
			ok++
		}
		conf += a.Confidence
	}
	if n := len(p.actions); n > 0 {
		s.SuccessRate = float64(ok) / float64(n)
		s.AverageConfidence = conf / float64(n)
	}
	for _, m := range p.compressed {
		s.Compressed[m.Level]++
	}
	return s
}

// ExportMemory returns a full copy of pool state
func (p *Pool) ExportMemory() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	snap := Snapshot{
		Actions:    append([]models.AgentAction(nil), p.actions...),
		Compressed: append([]models.CompressedMemory(nil), p.compressed...),
		Patterns:   make(map[string]int, len(p.patterns)),
		Insights:   append([]string(nil), p.insights...),
		ExportedAt: time.Now(),
	}
	for k, v := range p.patterns {
		snap.Patterns[k] = v
	}
	for _, a := range p.agents {
		snap.Agents = append(snap.Agents, a)
	}
	sort.Slice(snap.Agents, func(i, j int) bool { return snap.Agents[i].ID < snap.Agents[j].ID })
	return snap
}

// ClearMemory resets all pool state; the sink stays attached
func (p *Pool) ClearMemory() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.actions = nil
	p.compressed = nil
	p.patterns = map[string]int{}
	p.insights = nil
	p.agents = map[string]AgentProfile{}
	p.totalLogged = 0
	p.logger.Info("memory cleared")
}

// RawBatch replaces the actions in ActionIDs with Output
type RawBatch struct {
	ActionIDs []string
	Output    models.CompressedMemory
}

// CompressedBatch replaces the compressed entries in InputIDs with Output
type CompressedBatch struct {
	InputIDs []string
	Output   models.CompressedMemory
}

// rawSnapshot returns the actions eligible for compression: all but the newest keep
func (p *Pool) rawSnapshot(keep int) []models.AgentAction {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n := len(p.actions) - keep
	if n <= 0 {
		return nil
	}
	out := make([]models.AgentAction, n)
	copy(out, p.actions[:n])
	return out
}

// CommitRawBatches applies batches atomically. A batch whose inputs are no
// longer all present is skipped whole. Returns the committed batches.
func (p *Pool) CommitRawBatches(batches []RawBatch) []RawBatch {
	p.mu.Lock()
	defer p.mu.Unlock()

	present := make(map[string]bool, len(p.actions))
	for _, a := range p.actions {
		present[a.ID] = true
	}

	var committed []RawBatch
	for _, b := range batches {
		if !allPresent(present, b.ActionIDs) {
			continue
		}
		for _, id := range b.ActionIDs {
			present[id] = false
		}
		p.compressed = append(p.compressed, b.Output)
		committed = append(committed, b)
	}
	if len(committed) == 0 {
		return nil
	}

	kept := make([]models.AgentAction, 0, len(p.actions))
	for _, a := range p.actions {
		if present[a.ID] {
			kept = append(kept, a)
		}
	}
	p.actions = kept
	p.recomputeLocked()
	return committed
}

// CommitCompressedBatches applies batches of compressed-entry merges
// atomically, with the same skip rule as CommitRawBatches
func (p *Pool) CommitCompressedBatches(source models.CompressionLevel, batches []CompressedBatch) []CompressedBatch {
	p.mu.Lock()
	defer p.mu.Unlock()

	present := map[string]bool{}
	for _, m := range p.compressed {
		if m.Level == source {
			present[m.ID] = true
		}
	}

	var (
		committed []CompressedBatch
		outputs   []models.CompressedMemory
	)
	for _, b := range batches {
		if !allPresent(present, b.InputIDs) {
			continue
		}
		for _, id := range b.InputIDs {
			present[id] = false
		}
		outputs = append(outputs, b.Output)
		committed = append(committed, b)
	}
	if len(committed) == 0 {
		return nil
	}

	kept := make([]models.CompressedMemory, 0, len(p.compressed)+len(outputs))
	for _, m := range p.compressed {
		if m.Level != source || present[m.ID] {
			kept = append(kept, m)
		}
	}
	p.compressed = append(kept, outputs...)
	return committed
}

func allPresent(present map[string]bool, ids []string) bool {
	if len(ids) == 0 {
		return false
	}
	for _, id := range ids {
		if !present[id] {
			return false
		}
	}
	return true
}
