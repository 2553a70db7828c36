package models

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// AgentType identifies a kind of creative-writing agent
type AgentType string

const (
	AgentTypeWritingAssistant     AgentType = "writing-assistant"
	AgentTypeCharacterDevelopment AgentType = "character-development"
	AgentTypePlotStructure        AgentType = "plot-structure"
	AgentTypeStyleAnalysis        AgentType = "style-analysis"
	AgentTypeDialogue             AgentType = "dialogue"
	AgentTypeWorldBuilding        AgentType = "world-building"
)

// AllAgentTypes lists every supported agent type in a stable order
func AllAgentTypes() []AgentType {
	return []AgentType{
		AgentTypeWritingAssistant,
		AgentTypeCharacterDevelopment,
		AgentTypePlotStructure,
		AgentTypeStyleAnalysis,
		AgentTypeDialogue,
		AgentTypeWorldBuilding,
	}
}

// Valid reports whether t is one of the known agent types
func (t AgentType) Valid() bool {
	for _, known := range AllAgentTypes() {
		if t == known {
			return true
		}
	}
	return false
}

// ParseAgentType converts user input to an AgentType
func ParseAgentType(s string) (AgentType, error) {
	t := AgentType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownAgentType, s)
	}
	return t, nil
}

// Generation distinguishes the original implementation of an agent from its successor
type Generation string

const (
	GenerationLegacy   Generation = "legacy"
	GenerationEnhanced Generation = "enhanced"
)

// HealthStatus is the supervisory state of a container
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthFailed   HealthStatus = "failed"
)

// Action names written to the memory pool
const (
	ActionExecute     = "execute"
	ActionPerformance = "performance"
	ActionSpawn       = "spawn"
)

// AgentAction is one immutable entry in the community memory log
type AgentAction struct {
	ID         string        `json:"id"`
	AgentID    string        `json:"agent_id"`
	AgentType  AgentType     `json:"agent_type"`
	UserID     string        `json:"user_id,omitempty"`
	Action     string        `json:"action"`
	Input      string        `json:"input"`
	Output     string        `json:"output"`
	Reasoning  string        `json:"reasoning"`
	Confidence float64       `json:"confidence"` // 0-1
	Duration   time.Duration `json:"duration"`
	Success    bool          `json:"success"`
	Timestamp  time.Time     `json:"timestamp"`
}

// AgentHealth is a point-in-time health snapshot of one container
type AgentHealth struct {
	Status              HealthStatus  `json:"status"`
	ErrorCount          int           `json:"error_count"`
	LastHealthCheck     time.Time     `json:"last_health_check"`
	SuccessRate         float64       `json:"success_rate"`
	AverageResponseTime time.Duration `json:"average_response_time"`
	TotalExecutions     int           `json:"total_executions"`
}

// CompressionLevel orders compressed memories from finest to coarsest
type CompressionLevel string

const (
	LevelRaw     CompressionLevel = "raw"
	LevelSummary CompressionLevel = "summary"
	LevelPattern CompressionLevel = "pattern"
	LevelEssence CompressionLevel = "essence"
)

// Rank returns the position of the level in the compression order
func (l CompressionLevel) Rank() int {
	switch l {
	case LevelRaw:
		return 0
	case LevelSummary:
		return 1
	case LevelPattern:
		return 2
	case LevelEssence:
		return 3
	default:
		return -1
	}
}

// CompressedMemory is a coarse restatement of several lower-level entries
type CompressedMemory struct {
	ID             string           `json:"id"`
	UserID         string           `json:"user_id,omitempty"`
	AgentType      AgentType        `json:"agent_type"`
	Level          CompressionLevel `json:"level"`
	OriginalCount  int              `json:"original_count"`
	Content        string           `json:"content"`
	Patterns       []string         `json:"patterns"`
	Confidence     float64          `json:"confidence"`
	CreatedAt      time.Time        `json:"created_at"`
	LastCompressed time.Time        `json:"last_compressed"`
	ExpiresAt      *time.Time       `json:"expires_at,omitempty"` // nil for essence
}

// Weight is the number of raw actions this entry stands for
func (m CompressedMemory) Weight() int {
	if m.OriginalCount <= 0 {
		return 1
	}
	return m.OriginalCount
}

// MigrationStatus selects which implementation serves an agent type
type MigrationStatus string

const (
	MigrationOld    MigrationStatus = "old"
	MigrationNew    MigrationStatus = "new"
	MigrationHybrid MigrationStatus = "hybrid"
)

// Valid reports whether s is a known migration status
func (s MigrationStatus) Valid() bool {
	return s == MigrationOld || s == MigrationNew || s == MigrationHybrid
}

// AgentMigration is the routing policy for a single agent type
type AgentMigration struct {
	Status           MigrationStatus `json:"status" toml:"status"`
	QualityThreshold float64         `json:"quality_threshold" toml:"quality_threshold"` // 0-10
	FallbackEnabled  bool            `json:"fallback_enabled" toml:"fallback_enabled"`
}

// MigrationStrategy is the process-wide routing configuration.
// Values are never mutated after publication; updates build a new value.
type MigrationStrategy struct {
	Default AgentMigration               `json:"default" toml:"default"`
	Agents  map[AgentType]AgentMigration `json:"agents" toml:"agents"`
}

// DefaultMigrationStrategy routes everything through the hybrid executor
func DefaultMigrationStrategy() MigrationStrategy {
	return MigrationStrategy{
		Default: AgentMigration{
			Status:           MigrationHybrid,
			QualityThreshold: 7.0,
			FallbackEnabled:  true,
		},
		Agents: map[AgentType]AgentMigration{},
	}
}

// For returns the effective policy for an agent type
func (s MigrationStrategy) For(t AgentType) AgentMigration {
	if m, ok := s.Agents[t]; ok {
		return m
	}
	return s.Default
}

// Clone returns a deep copy
func (s MigrationStrategy) Clone() MigrationStrategy {
	out := MigrationStrategy{Default: s.Default, Agents: make(map[AgentType]AgentMigration, len(s.Agents))}
	for k, v := range s.Agents {
		out.Agents[k] = v
	}
	return out
}

// Validate checks every policy in the strategy
func (s MigrationStrategy) Validate() error {
	if err := s.Default.validate(); err != nil {
		return fmt.Errorf("default: %w", err)
	}
	keys := make([]string, 0, len(s.Agents))
	for k := range s.Agents {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)
	for _, k := range keys {
		t := AgentType(k)
		if !t.Valid() {
			return fmt.Errorf("%w: %q", ErrUnknownAgentType, k)
		}
		if err := s.Agents[t].validate(); err != nil {
			return fmt.Errorf("%s: %w", k, err)
		}
	}
	return nil
}

func (m AgentMigration) validate() error {
	if !m.Status.Valid() {
		return fmt.Errorf("%w: invalid migration status %q", ErrConfiguration, m.Status)
	}
	if m.QualityThreshold < 0 || m.QualityThreshold > 10 {
		return fmt.Errorf("%w: quality threshold %.2f outside 0-10", ErrConfiguration, m.QualityThreshold)
	}
	return nil
}

// MigrationUpdate is a partial change to a MigrationStrategy.
// Nil fields are left unchanged.
type MigrationUpdate struct {
	Default *AgentMigrationUpdate
	Agents  map[AgentType]AgentMigrationUpdate
}

// AgentMigrationUpdate is a partial change to one AgentMigration
type AgentMigrationUpdate struct {
	Status           *MigrationStatus
	QualityThreshold *float64
	FallbackEnabled  *bool
}

// Apply returns a new strategy with the update merged in; s is not modified
func (s MigrationStrategy) Apply(u MigrationUpdate) MigrationStrategy {
	out := s.Clone()
	if u.Default != nil {
		out.Default = u.Default.merge(out.Default)
	}
	for t, mu := range u.Agents {
		out.Agents[t] = mu.merge(out.For(t))
	}
	return out
}

func (u AgentMigrationUpdate) merge(base AgentMigration) AgentMigration {
	if u.Status != nil {
		base.Status = *u.Status
	}
	if u.QualityThreshold != nil {
		base.QualityThreshold = *u.QualityThreshold
	}
	if u.FallbackEnabled != nil {
		base.FallbackEnabled = *u.FallbackEnabled
	}
	return base
}

// Implementation preferences a caller can express on a request
const (
	PreferNone     = ""
	PreferEnhanced = "enhanced"
	PreferLegacy   = "legacy"
)

// RequestContext carries editor and session state for a request
type RequestContext struct {
	Selection      string   `json:"selection,omitempty"`
	CursorPosition int      `json:"cursor_position,omitempty"`
	Document       string   `json:"document,omitempty"`
	DocumentID     string   `json:"document_id,omitempty"`
	UserID         string   `json:"user_id,omitempty"`
	SessionID      string   `json:"session_id,omitempty"`
	Collaborators  []string `json:"collaborators,omitempty"`
}

// Preferences are caller hints for a request
type Preferences struct {
	Implementation string `json:"implementation,omitempty"` // "", "enhanced", "legacy"
	Tone           string `json:"tone,omitempty"`
	Style          string `json:"style,omitempty"`
	Length         string `json:"length,omitempty"`
}

// AgentRequest is the unified request accepted by the orchestrator
type AgentRequest struct {
	AgentType   AgentType      `json:"agent_type"`
	Input       string         `json:"input"`
	Context     RequestContext `json:"context"`
	Preferences Preferences    `json:"preferences"`
}

// AgentResponse is the standardized result of every orchestrated request
type AgentResponse struct {
	Success         bool          `json:"success"`
	Data            string        `json:"data,omitempty"`
	Error           string        `json:"error,omitempty"`
	ErrorKind       ErrorKind     `json:"error_kind,omitempty"`
	AgentUsed       string        `json:"agent_used"`
	QualityScore    float64       `json:"quality_score"` // 0-10
	ExecutionTime   time.Duration `json:"execution_time"`
	FallbackUsed    bool          `json:"fallback_used"`
	Insights        []string      `json:"insights,omitempty"`
	Recommendations []string      `json:"recommendations,omitempty"`
}

// SystemVitals is a derived view over the registry and memory pool
type SystemVitals struct {
	TotalAgents         int           `json:"total_agents"`
	HealthyAgents       int           `json:"healthy_agents"`
	DegradedAgents      int           `json:"degraded_agents"`
	FailedAgents        int           `json:"failed_agents"`
	AverageResponseTime time.Duration `json:"average_response_time"`
	SystemLoad          float64       `json:"system_load"`
	MemoryUsage         float64       `json:"memory_usage"`
	ErrorRate           float64       `json:"error_rate"`
	LastHealthCheck     time.Time     `json:"last_health_check"`
}

// Clamp01 limits v to the closed interval [0, 1]
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
