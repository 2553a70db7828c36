package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"unicode"

	"github.com/quantumflow/scribe/internal/inference"
)

// Heuristic scoring weights. Together they span 0-10.
const (
	heuristicBase         = 3.0
	heuristicLengthWeight = 2.5
	heuristicVarietyMax   = 2.5
	heuristicFinishBonus  = 1.0
	heuristicRelevanceMax = 1.0
)

// HeuristicScorer is a deterministic stand-in for real prose-quality
// judgement. It rewards adequate length, lexical variety, finished
// sentences and overlap with the request.
type HeuristicScorer struct{}

// Score implements QualityScorer
func (HeuristicScorer) Score(_ context.Context, task *Task, content string) (float64, error) {
	words := strings.Fields(strings.ToLower(content))
	if len(words) == 0 {
		return 0, nil
	}

	score := heuristicBase

	// Length: saturates at 40 words
	score += heuristicLengthWeight * math.Min(float64(len(words))/40.0, 1)

	unique := make(map[string]struct{}, len(words))
	for _, w := range words {
		unique[strings.TrimFunc(w, unicode.IsPunct)] = struct{}{}
	}
	score += heuristicVarietyMax * float64(len(unique)) / float64(len(words))

	trimmed := strings.TrimRightFunc(content, unicode.IsSpace)
	if strings.HasSuffix(trimmed, ".") || strings.HasSuffix(trimmed, "!") || strings.HasSuffix(trimmed, "?") || strings.HasSuffix(trimmed, "\"") {
		score += heuristicFinishBonus
	}

	if task != nil {
		score += heuristicRelevanceMax * keywordOverlap(task.Input, unique)
	}

	return clampScore(score), nil
}

func keywordOverlap(input string, content map[string]struct{}) float64 {
	var keywords []string
	for _, w := range strings.Fields(strings.ToLower(input)) {
		w = strings.TrimFunc(w, unicode.IsPunct)
		if len(w) > 3 {
			keywords = append(keywords, w)
		}
	}
	if len(keywords) == 0 {
		return 1
	}
	hits := 0
	for _, k := range keywords {
		if _, ok := content[k]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(keywords))
}

// ProviderScorer asks a generation provider to judge the content and falls
// back to the heuristic when the judge fails or answers unparseably.
type ProviderScorer struct {
	provider inference.Provider
	fallback QualityScorer
}

// NewProviderScorer creates an LLM-judge scorer
func NewProviderScorer(provider inference.Provider) *ProviderScorer {
	return &ProviderScorer{provider: provider, fallback: HeuristicScorer{}}
}

type judgement struct {
	Score     float64 `json:"score"`
	Reasoning string  `json:"reasoning"`
}

// Score implements QualityScorer
func (s *ProviderScorer) Score(ctx context.Context, task *Task, content string) (float64, error) {
	request := ""
	if task != nil {
		request = task.Input
	}
	gen, err := s.provider.Generate(ctx, buildJudgePrompt(request, content), inference.GenerateOptions{
		SystemPrompt: "You are a strict fiction editor grading writing assistance.",
		Temperature:  0.1,
		MaxTokens:    120,
	})
	if err != nil {
		return s.fallback.Score(ctx, task, content)
	}

	var j judgement
	if err := parseJSONObject(gen.Content, &j); err != nil {
		return s.fallback.Score(ctx, task, content)
	}
	return clampScore(j.Score), nil
}

func buildJudgePrompt(request, content string) string {
	return fmt.Sprintf(`Rate how well the response fulfils the writer's request on a scale of 0 to 10.

Request: %s

Response:
%s

Respond with ONLY a JSON object:
{"score": 0-10, "reasoning": "brief explanation"}

JSON Response:`, request, truncate(content, 3000))
}

// parseJSONObject extracts the first JSON object from free-form model output
func parseJSONObject(response string, v any) error {
	response = strings.TrimSpace(response)
	response = strings.TrimPrefix(response, "```json")
	response = strings.TrimPrefix(response, "```")
	response = strings.TrimSuffix(response, "```")

	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start == -1 || end < start {
		return fmt.Errorf("no JSON object found in response")
	}

	if err := json.Unmarshal([]byte(response[start:end+1]), v); err != nil {
		return fmt.Errorf("JSON parse error: %w", err)
	}
	return nil
}

func clampScore(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 10 {
		return 10
	}
	return v
}
