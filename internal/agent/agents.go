package agent

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/quantumflow/scribe/internal/inference"
	"github.com/quantumflow/scribe/internal/models"
)

// profile holds the per-type prompt material shared by both generations
type profile struct {
	role        string
	focus       string
	temperature float64
	maxTokens   int
}

var profiles = map[models.AgentType]profile{
	models.AgentTypeWritingAssistant: {
		role:        "a skilled writing assistant who continues and improves prose",
		focus:       "clarity, flow and voice consistency",
		temperature: 0.7,
		maxTokens:   800,
	},
	models.AgentTypeCharacterDevelopment: {
		role:        "a character development coach",
		focus:       "motivation, backstory and believable arcs",
		temperature: 0.8,
		maxTokens:   700,
	},
	models.AgentTypePlotStructure: {
		role:        "a story structure editor",
		focus:       "pacing, stakes and causal plot beats",
		temperature: 0.6,
		maxTokens:   700,
	},
	models.AgentTypeStyleAnalysis: {
		role:        "a prose style analyst",
		focus:       "diction, rhythm and tonal consistency",
		temperature: 0.4,
		maxTokens:   600,
	},
	models.AgentTypeDialogue: {
		role:        "a dialogue specialist",
		focus:       "distinct voices, subtext and natural rhythm",
		temperature: 0.8,
		maxTokens:   600,
	},
	models.AgentTypeWorldBuilding: {
		role:        "a world-building consultant",
		focus:       "internal consistency, sensory detail and history",
		temperature: 0.75,
		maxTokens:   800,
	},
}

// LegacyAgent is the original single-prompt implementation of an agent type
type LegacyAgent struct {
	agentType models.AgentType
	provider  inference.Provider
	scorer    QualityScorer
	profile   profile
}

// NewLegacyAgent creates the legacy implementation for agentType
func NewLegacyAgent(agentType models.AgentType, provider inference.Provider, scorer QualityScorer) (*LegacyAgent, error) {
	p, ok := profiles[agentType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownAgentType, agentType)
	}
	if scorer == nil {
		scorer = HeuristicScorer{}
	}
	return &LegacyAgent{agentType: agentType, provider: provider, scorer: scorer, profile: p}, nil
}

func (a *LegacyAgent) Type() models.AgentType        { return a.agentType }
func (a *LegacyAgent) Generation() models.Generation { return models.GenerationLegacy }

// Handle implements Agent
func (a *LegacyAgent) Handle(ctx context.Context, task *Task) (*Output, error) {
	if strings.TrimSpace(task.Input) == "" {
		return nil, fmt.Errorf("%w: empty input", models.ErrConfiguration)
	}

	gen, err := a.provider.Generate(ctx, a.buildPrompt(task), inference.GenerateOptions{
		SystemPrompt: fmt.Sprintf("You are %s.", a.profile.role),
		Temperature:  a.profile.temperature,
		MaxTokens:    a.profile.maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("%s generation failed: %w", a.agentType, err)
	}

	content := strings.TrimSpace(gen.Content)
	if content == "" {
		return nil, fmt.Errorf("%w: empty generation", models.ErrProvider)
	}

	score := scoreOrFallback(ctx, a.scorer, task, content)
	return &Output{
		Content:      content,
		QualityScore: score,
		Confidence:   score / 10,
		Reasoning:    fmt.Sprintf("%s focusing on %s", a.agentType, a.profile.focus),
	}, nil
}

func (a *LegacyAgent) buildPrompt(task *Task) string {
	var prompt strings.Builder
	if task.Document != "" {
		prompt.WriteString("Document:\n")
		prompt.WriteString(truncate(task.Document, 2000))
		prompt.WriteString("\n\n")
	}
	prompt.WriteString(fmt.Sprintf("Request: %s\n", task.Input))
	if tone := task.Preferences.Tone; tone != "" {
		prompt.WriteString(fmt.Sprintf("Tone: %s\n", tone))
	}
	prompt.WriteString("\nResponse:")
	return prompt.String()
}

// EnhancedAgent is the context-rich successor of a legacy agent. It sees the
// editor selection, cursor neighbourhood, collaborators, recent trends and
// reasoning that succeeded before.
type EnhancedAgent struct {
	agentType models.AgentType
	provider  inference.Provider
	scorer    QualityScorer
	profile   profile
}

// NewEnhancedAgent creates the enhanced implementation for agentType
func NewEnhancedAgent(agentType models.AgentType, provider inference.Provider, scorer QualityScorer) (*EnhancedAgent, error) {
	p, ok := profiles[agentType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownAgentType, agentType)
	}
	if scorer == nil {
		scorer = HeuristicScorer{}
	}
	return &EnhancedAgent{agentType: agentType, provider: provider, scorer: scorer, profile: p}, nil
}

func (a *EnhancedAgent) Type() models.AgentType        { return a.agentType }
func (a *EnhancedAgent) Generation() models.Generation { return models.GenerationEnhanced }

// Handle implements Agent
func (a *EnhancedAgent) Handle(ctx context.Context, task *Task) (*Output, error) {
	if strings.TrimSpace(task.Input) == "" {
		return nil, fmt.Errorf("%w: empty input", models.ErrConfiguration)
	}

	gen, err := a.provider.Generate(ctx, a.buildPrompt(task), inference.GenerateOptions{
		SystemPrompt: a.systemPrompt(task),
		Temperature:  a.profile.temperature,
		MaxTokens:    a.profile.maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("%s generation failed: %w", a.agentType, err)
	}

	content := strings.TrimSpace(gen.Content)
	if content == "" {
		return nil, fmt.Errorf("%w: empty generation", models.ErrProvider)
	}

	score := scoreOrFallback(ctx, a.scorer, task, content)
	return &Output{
		Content:         content,
		QualityScore:    score,
		Confidence:      score / 10,
		Reasoning:       a.reasoning(task),
		Insights:        a.insights(task),
		Recommendations: recommendations(score, task),
	}, nil
}

func (a *EnhancedAgent) systemPrompt(task *Task) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("You are %s. Prioritise %s.", a.profile.role, a.profile.focus))
	if p := task.Preferences; p.Tone != "" || p.Style != "" || p.Length != "" {
		sb.WriteString(" Honour the writer's preferences:")
		if p.Tone != "" {
			sb.WriteString(" tone=" + p.Tone)
		}
		if p.Style != "" {
			sb.WriteString(" style=" + p.Style)
		}
		if p.Length != "" {
			sb.WriteString(" length=" + p.Length)
		}
		sb.WriteString(".")
	}
	return sb.String()
}

func (a *EnhancedAgent) buildPrompt(task *Task) string {
	var prompt strings.Builder

	if len(task.SuccessfulPatterns) > 0 {
		prompt.WriteString("Approaches that worked well before:\n")
		for _, p := range task.SuccessfulPatterns {
			prompt.WriteString(fmt.Sprintf("- %s\n", truncate(p, 160)))
		}
		prompt.WriteString("\n")
	}
	if len(task.Trends) > 0 {
		prompt.WriteString("Recent trends for this writer:\n")
		for _, tr := range task.Trends {
			prompt.WriteString(fmt.Sprintf("- %s\n", tr))
		}
		prompt.WriteString("\n")
	}
	if len(task.Collaborators) > 0 {
		prompt.WriteString(fmt.Sprintf("Collaborators on this document: %s\n\n", strings.Join(task.Collaborators, ", ")))
	}
	if task.Document != "" {
		prompt.WriteString("Text around the cursor:\n")
		prompt.WriteString(cursorWindow(task.Document, task.CursorPosition, 800))
		prompt.WriteString("\n\n")
	}
	if task.Selection != "" {
		prompt.WriteString(fmt.Sprintf("Selected passage:\n%s\n\n", truncate(task.Selection, 1200)))
	}

	prompt.WriteString(fmt.Sprintf("Request: %s\n\nResponse:", task.Input))
	return prompt.String()
}

func (a *EnhancedAgent) reasoning(task *Task) string {
	parts := []string{fmt.Sprintf("%s focusing on %s", a.agentType, a.profile.focus)}
	if task.Selection != "" {
		parts = append(parts, "grounded in the selected passage")
	}
	if tone := task.Preferences.Tone; tone != "" {
		parts = append(parts, "kept a "+tone+" tone")
	}
	if n := len(task.SuccessfulPatterns); n > 0 {
		parts = append(parts, fmt.Sprintf("reused %d proven approaches", n))
	}
	return strings.Join(parts, "; ")
}

func (a *EnhancedAgent) insights(task *Task) []string {
	var out []string
	if n := len(task.SuccessfulPatterns); n > 0 {
		out = append(out, fmt.Sprintf("Applied %d strategies that previously scored well", n))
	}
	if len(task.Collaborators) > 0 {
		out = append(out, fmt.Sprintf("Shared document with %d collaborators", len(task.Collaborators)))
	}
	out = append(out, task.Trends...)
	return out
}

func recommendations(score float64, task *Task) []string {
	var out []string
	switch {
	case score < 5:
		out = append(out, "Rephrase the request with more specific goals")
	case score < 7:
		out = append(out, "Review the suggestion against the surrounding text before accepting")
	}
	if task.Selection == "" && task.Document != "" {
		out = append(out, "Select a passage to get more targeted help")
	}
	return out
}

func scoreOrFallback(ctx context.Context, scorer QualityScorer, task *Task, content string) float64 {
	score, err := scorer.Score(ctx, task, content)
	if err != nil {
		score, _ = HeuristicScorer{}.Score(ctx, task, content)
	}
	return clampScore(score)
}

func cursorWindow(doc string, cursor, width int) string {
	runes := []rune(doc)
	if len(runes) <= width {
		return doc
	}
	if cursor < 0 {
		cursor = 0
	}
	if cursor > len(runes) {
		cursor = len(runes)
	}
	start := max(0, cursor-width/2)
	end := min(len(runes), start+width)
	start = max(0, end-width)
	return string(runes[start:end])
}

// truncate cuts s to at most maxLen bytes without splitting a rune
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
