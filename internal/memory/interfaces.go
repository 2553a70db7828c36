package memory

import (
	"context"
	"time"

	"github.com/quantumflow/scribe/internal/models"
)

// ActionSink mirrors logged actions to durable storage
type ActionSink interface {
	Append(ctx context.Context, action models.AgentAction) error
}

// ActionSource replays previously mirrored actions, oldest first
type ActionSource interface {
	LoadRecent(ctx context.Context, n int) ([]models.AgentAction, error)
}

// CompressedStore persists summary, pattern and essence entries
type CompressedStore interface {
	SaveCompressed(ctx context.Context, memories []models.CompressedMemory) error
	DeleteCompressed(ctx context.Context, ids []string) error
	LoadCompressed(ctx context.Context) ([]models.CompressedMemory, error)
}

// EssenceStore keeps terminal essence entries in a queryable graph
type EssenceStore interface {
	SaveEssences(ctx context.Context, essences []models.CompressedMemory) error
	QueryEssences(ctx context.Context, agentType models.AgentType) ([]models.CompressedMemory, error)
}

// Similarity scores two texts in [0,1]
type Similarity interface {
	Similarity(a, b string) float64
}

// Summarizer renders the textual content of compressed entries
type Summarizer interface {
	SummarizeActions(ctx context.Context, agentType models.AgentType, actions []models.AgentAction, patterns []string) (string, error)
	SummarizeMemories(ctx context.Context, level models.CompressionLevel, memories []models.CompressedMemory, patterns []string) (string, error)
}

// AgentProfile is an entry in the pool's agent directory
type AgentProfile struct {
	ID           string            `json:"id"`
	AgentType    models.AgentType  `json:"agent_type"`
	Generation   models.Generation `json:"generation"`
	Priority     string            `json:"priority,omitempty"`
	Reason       string            `json:"reason,omitempty"`
	RegisteredAt time.Time         `json:"registered_at"`
}

// AgentMetrics aggregates one agent's execution history
type AgentMetrics struct {
	TotalActions      int           `json:"total_actions"`
	SuccessRate       float64       `json:"success_rate"`
	AverageConfidence float64       `json:"average_confidence"`
	AverageDuration   time.Duration `json:"average_duration"`
}

// Stats summarises pool contents
type Stats struct {
	TotalActions      int                             `json:"total_actions"`
	Capacity          int                             `json:"capacity"`
	TotalLogged       int64                           `json:"total_logged"`
	MemoryUsage       float64                         `json:"memory_usage"`
	SuccessRate       float64                         `json:"success_rate"`
	AverageConfidence float64                         `json:"average_confidence"`
	Compressed        map[models.CompressionLevel]int `json:"compressed"`
	PatternCount      int                             `json:"pattern_count"`
	InsightCount      int                             `json:"insight_count"`
	AgentCount        int                             `json:"agent_count"`
}

// Snapshot is a full export of pool state
type Snapshot struct {
	Actions    []models.AgentAction      `json:"actions"`
	Compressed []models.CompressedMemory `json:"compressed"`
	Patterns   map[string]int            `json:"patterns"`
	Insights   []string                  `json:"insights"`
	Agents     []AgentProfile            `json:"agents"`
	ExportedAt time.Time                 `json:"exported_at"`
}

// Config holds memory pool configuration
type Config struct {
	Capacity            int     // Maximum retained actions
	PatternWindow       int     // Recent high-confidence successes scanned for patterns
	InsightLimit        int     // Maximum retained insights
	SuccessPatternLimit int     // Reasoning strings returned by GetSuccessfulPatterns
	HighConfidence      float64 // Strictly above this counts as high confidence
	ExcellentRate       float64
	OptimizeRate        float64
	FailureRecurrence   int // A failure reason seen more than this many times is flagged
}

// DefaultConfig returns default memory pool configuration
func DefaultConfig() Config {
	return Config{
		Capacity:            1000,
		PatternWindow:       50,
		InsightLimit:        20,
		SuccessPatternLimit: 10,
		HighConfidence:      0.8,
		ExcellentRate:       0.9,
		OptimizeRate:        0.7,
		FailureRecurrence:   2,
	}
}
