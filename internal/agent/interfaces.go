package agent

import (
	"context"
	"time"

	"github.com/quantumflow/scribe/internal/memory"
	"github.com/quantumflow/scribe/internal/models"
)

// Agent is one creative-writing handler. Legacy and enhanced agents of the
// same type are interchangeable behind this interface.
type Agent interface {
	Type() models.AgentType
	Generation() models.Generation
	Handle(ctx context.Context, task *Task) (*Output, error)
}

// Task is the input handed to an agent. Legacy agents read only Input,
// Document and Preferences; enhanced agents use every field.
type Task struct {
	ID          string
	Input       string
	Document    string
	UserID      string
	SessionID   string
	Preferences models.Preferences

	// Enhanced context
	Selection          string
	CursorPosition     int
	Collaborators      []string
	Trends             []string
	SuccessfulPatterns []string
}

// Output is what an agent produced for a task
type Output struct {
	Content         string
	QualityScore    float64 // 0-10
	Confidence      float64 // 0-1
	Reasoning       string
	Insights        []string
	Recommendations []string
}

// Result is the structured outcome of Container.Execute. It always carries
// an explicit Success flag; failures never surface as Go errors.
type Result struct {
	Success    bool
	Output     *Output
	Err        error
	ErrorKind  models.ErrorKind
	AgentID    string
	AgentType  models.AgentType
	Generation models.Generation
	Attempts   int
	Duration   time.Duration
}

// ErrorMessage returns the failure text, or "" on success
func (r *Result) ErrorMessage() string {
	if r == nil || r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// Quality returns the output quality score, or 0 when there is none
func (r *Result) Quality() float64 {
	if r == nil || r.Output == nil {
		return 0
	}
	return r.Output.QualityScore
}

// ActionRecorder receives execution outcomes. Implementations must not block
// for long and must swallow their own failures.
type ActionRecorder interface {
	LogAgentAction(ctx context.Context, action models.AgentAction)
}

// AgentDirectory is told about every container the factory populates.
// The memory pool implements it alongside ActionRecorder.
type AgentDirectory interface {
	RegisterAgent(profile memory.AgentProfile)
}

// QualityScorer rates generated content on a 0-10 scale
type QualityScorer interface {
	Score(ctx context.Context, task *Task, content string) (float64, error)
}
