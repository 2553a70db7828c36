package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/quantumflow/scribe/internal/inference"
	"github.com/quantumflow/scribe/internal/logging"
	"github.com/quantumflow/scribe/internal/models"
)

// AutoAgentType asks the Router to pick the agent type
const AutoAgentType = "auto"

// keyword routing is trusted without asking the provider at or above this confidence
const keywordConfidence = 0.6

var routeKeywords = map[models.AgentType][]string{
	models.AgentTypeCharacterDevelopment: {"character", "protagonist", "antagonist", "villain", "hero", "backstory", "motivation", "personality", "arc"},
	models.AgentTypePlotStructure:        {"plot", "outline", "structure", "twist", "pacing", "chapter", "climax", "conflict", "scene", "beat"},
	models.AgentTypeStyleAnalysis:        {"style", "tone", "voice", "prose", "critique", "analyze", "analyse", "grammar", "readability"},
	models.AgentTypeDialogue:             {"dialogue", "conversation", "talk", "argue", "banter", "speech", "says", "reply", "greets"},
	models.AgentTypeWorldBuilding:        {"world", "magic", "kingdom", "city", "culture", "religion", "lore", "setting", "history", "map"},
}

// Route is a routing decision
type Route struct {
	AgentType  models.AgentType `json:"agent_type"`
	Confidence float64          `json:"confidence"`
	Reasoning  string           `json:"reasoning"`
	Cached     bool             `json:"cached,omitempty"`
}

// Router picks an agent type for a free-form writing request. Keyword
// matching answers confident cases; the provider, when set, settles the
// rest. Decisions are cached for ttl.
type Router struct {
	provider inference.Provider
	cache    *routeCache
	logger   logging.Logger
}

// NewRouter creates a router; a nil provider routes on keywords alone
func NewRouter(provider inference.Provider, ttl time.Duration, logger logging.Logger) *Router {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Router{
		provider: provider,
		cache:    newRouteCache(ttl, time.Now),
		logger:   logging.OrNoOp(logger),
	}
}

// Route classifies input. It never fails: unroutable input goes to the
// writing assistant with low confidence.
func (r *Router) Route(ctx context.Context, input string) Route {
	if cached, ok := r.cache.get(input); ok {
		cached.Cached = true
		return cached
	}

	route := keywordRoute(input)
	if route.Confidence < keywordConfidence && r.provider != nil {
		if llm, err := r.classify(ctx, input); err != nil {
			r.logger.Warn("provider routing failed, using keyword route", "error", err)
		} else {
			route = llm
		}
	}

	r.cache.set(input, route)
	return route
}

func keywordRoute(input string) Route {
	hits := make(map[models.AgentType]int, len(routeKeywords))
	total := 0
	for _, w := range strings.Fields(strings.ToLower(input)) {
		w = strings.TrimFunc(w, unicode.IsPunct)
		for t, keywords := range routeKeywords {
			for _, k := range keywords {
				if w == k || strings.TrimSuffix(w, "s") == k {
					hits[t]++
					total++
					break
				}
			}
		}
	}

	if total == 0 {
		return Route{
			AgentType:  models.AgentTypeWritingAssistant,
			Confidence: 0.3,
			Reasoning:  "no topic keywords, using the general writing assistant",
		}
	}

	// iterate in declaration order so ties are stable
	var best models.AgentType
	for _, t := range models.AllAgentTypes() {
		if hits[t] > hits[best] {
			best = t
		}
	}
	share := float64(hits[best]) / float64(total)
	depth := min(1, 0.4+0.2*float64(hits[best]))
	return Route{
		AgentType:  best,
		Confidence: share * depth,
		Reasoning:  fmt.Sprintf("matched %d %s keywords", hits[best], best),
	}
}

type routingDecision struct {
	AgentType  string  `json:"agent_type"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

func (r *Router) classify(ctx context.Context, input string) (Route, error) {
	gen, err := r.provider.Generate(ctx, buildRoutingPrompt(input), inference.GenerateOptions{
		Temperature: 0.1,
		MaxTokens:   120,
	})
	if err != nil {
		return Route{}, fmt.Errorf("routing failed: %w", err)
	}

	var d routingDecision
	if err := parseJSONObject(gen.Content, &d); err != nil {
		return Route{}, fmt.Errorf("failed to parse routing decision: %w", err)
	}
	t, err := models.ParseAgentType(d.AgentType)
	if err != nil {
		return Route{}, err
	}
	return Route{
		AgentType:  t,
		Confidence: min(max(d.Confidence, 0), 1),
		Reasoning:  d.Reasoning,
	}, nil
}

func buildRoutingPrompt(input string) string {
	return fmt.Sprintf(`You route requests inside a creative-writing assistant.

Available agents:
- writing-assistant: general drafting, continuing or expanding text
- character-development: characters, motivations, backstories, arcs
- plot-structure: outlines, pacing, twists, scene and chapter structure
- style-analysis: tone, voice, prose critique and line edits
- dialogue: conversations and spoken lines
- world-building: settings, cultures, magic systems, history

Writer request: %s

Respond with ONLY a JSON object:
{"agent_type": "<one of the agents above>", "confidence": 0.0-1.0, "reasoning": "brief explanation"}

JSON Response:`, input)
}

type cachedRoute struct {
	route    Route
	cachedAt time.Time
}

// routeCache is a TTL cache keyed by normalized request text. Expired
// entries are dropped on read and swept on write.
type routeCache struct {
	mu      sync.Mutex
	entries map[string]cachedRoute
	ttl     time.Duration
	now     func() time.Time
}

func newRouteCache(ttl time.Duration, now func() time.Time) *routeCache {
	return &routeCache{entries: make(map[string]cachedRoute), ttl: ttl, now: now}
}

func (c *routeCache) get(input string) (Route, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := normalizeQuery(input)
	e, ok := c.entries[key]
	if !ok {
		return Route{}, false
	}
	if c.now().Sub(e.cachedAt) >= c.ttl {
		delete(c.entries, key)
		return Route{}, false
	}
	return e.route, true
}

func (c *routeCache) set(input string, route Route) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for k, e := range c.entries {
		if now.Sub(e.cachedAt) >= c.ttl {
			delete(c.entries, k)
		}
	}
	c.entries[normalizeQuery(input)] = cachedRoute{route: route, cachedAt: now}
}

func normalizeQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}
