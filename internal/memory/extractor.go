package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/quantumflow/scribe/internal/inference"
	"github.com/quantumflow/scribe/internal/models"
)

// TemplateSummarizer renders compressed content from fixed templates
type TemplateSummarizer struct{}

// SummarizeActions implements Summarizer
func (TemplateSummarizer) SummarizeActions(_ context.Context, agentType models.AgentType, actions []models.AgentAction, patterns []string) (string, error) {
	counts := map[string]int{}
	ok := 0
	var ratingSum float64
	for _, a := range actions {
		counts[a.Action]++
		if a.Success {
			ok++
		}
		ratingSum += a.Confidence * 10
	}

	n := len(actions)
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d %s actions (%s); %.0f%% accepted; average rating %.1f/10",
		n, agentType, dominantActions(counts), 100*float64(ok)/float64(max(n, 1)), ratingSum/float64(max(n, 1))))
	if len(patterns) > 0 {
		sb.WriteString(". Patterns: ")
		sb.WriteString(strings.Join(patterns, "; "))
	}
	return sb.String(), nil
}

// SummarizeMemories implements Summarizer
func (TemplateSummarizer) SummarizeMemories(_ context.Context, level models.CompressionLevel, memories []models.CompressedMemory, patterns []string) (string, error) {
	total := 0
	for _, m := range memories {
		total += m.Weight()
	}
	label := "Pattern"
	if level == models.LevelEssence {
		label = "Essence"
	}
	s := fmt.Sprintf("%s distilled from %d entries covering %d actions", label, len(memories), total)
	if len(patterns) > 0 {
		s += ": " + strings.Join(patterns, "; ")
	}
	return s, nil
}

// dominantActions lists action kinds by frequency, e.g. "execute×5, performance×2"
func dominantActions(counts map[string]int) string {
	type kv struct {
		k string
		v int
	}
	var list []kv
	for k, v := range counts {
		list = append(list, kv{k, v})
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].v != list[j].v {
			return list[i].v > list[j].v
		}
		return list[i].k < list[j].k
	})
	parts := make([]string, len(list))
	for i, e := range list {
		parts[i] = fmt.Sprintf("%s×%d", e.k, e.v)
	}
	return strings.Join(parts, ", ")
}

// ProviderSummarizer asks an LLM to phrase summaries and falls back to
// templates when the provider fails
type ProviderSummarizer struct {
	provider  inference.Provider
	fallback  TemplateSummarizer
	maxTokens int
}

// NewProviderSummarizer creates an LLM-backed summarizer
func NewProviderSummarizer(provider inference.Provider) *ProviderSummarizer {
	return &ProviderSummarizer{provider: provider, maxTokens: 160}
}

// SummarizeActions implements Summarizer
func (s *ProviderSummarizer) SummarizeActions(ctx context.Context, agentType models.AgentType, actions []models.AgentAction, patterns []string) (string, error) {
	base, _ := s.fallback.SummarizeActions(ctx, agentType, actions, patterns)

	var sample strings.Builder
	for i, a := range actions {
		if i == 5 {
			break
		}
		sample.WriteString(fmt.Sprintf("- [%s, success=%t] %s => %s\n", a.Action, a.Success, truncateText(a.Input, 120), truncateText(a.Output, 160)))
	}

	prompt := fmt.Sprintf(`Summarize what these writing-assistant interactions reveal about the writer's preferences in at most two sentences.

Statistics: %s

Examples:
%s
Summary:`, base, sample.String())

	return s.generate(ctx, prompt, base)
}

// SummarizeMemories implements Summarizer
func (s *ProviderSummarizer) SummarizeMemories(ctx context.Context, level models.CompressionLevel, memories []models.CompressedMemory, patterns []string) (string, error) {
	base, _ := s.fallback.SummarizeMemories(ctx, level, memories, patterns)

	var parts strings.Builder
	for _, m := range memories {
		parts.WriteString("- " + truncateText(m.Content, 200) + "\n")
	}
	prompt := fmt.Sprintf(`Condense these observations about a writer into one durable guideline for future assistance.

%s
Key patterns: %s

Guideline:`, parts.String(), strings.Join(patterns, "; "))

	return s.generate(ctx, prompt, base)
}

func (s *ProviderSummarizer) generate(ctx context.Context, prompt, fallback string) (string, error) {
	gen, err := s.provider.Generate(ctx, prompt, inference.GenerateOptions{Temperature: 0.2, MaxTokens: s.maxTokens})
	if err != nil {
		return fallback, nil
	}
	out := cleanResponse(gen.Content)
	if out == "" {
		return fallback, nil
	}
	return out, nil
}

// cleanResponse strips markdown fences the model may wrap around its answer
func cleanResponse(response string) string {
	response = strings.TrimSpace(response)
	response = strings.TrimPrefix(response, "```text")
	response = strings.TrimPrefix(response, "```")
	response = strings.TrimSuffix(response, "```")
	return strings.TrimSpace(response)
}

func truncateText(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
