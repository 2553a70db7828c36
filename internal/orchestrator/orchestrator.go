package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/quantumflow/scribe/internal/agent"
	"github.com/quantumflow/scribe/internal/logging"
	"github.com/quantumflow/scribe/internal/memory"
	"github.com/quantumflow/scribe/internal/models"
)

// Config holds orchestrator configuration
type Config struct {
	SuccessWindow int // recent outcomes per generation read by the hybrid executor
	TrendLimit    int // insights passed to enhanced agents as trend context
}

// DefaultConfig returns default orchestrator configuration
func DefaultConfig() Config {
	return Config{
		SuccessWindow: 20,
		TrendLimit:    5,
	}
}

// Orchestrator routes requests to legacy or enhanced containers according
// to the migration strategy and feeds outcomes back into the memory pool
type Orchestrator struct {
	registry *agent.Registry
	pool     *memory.Pool
	cfg      Config
	logger   logging.Logger
	strategy atomic.Pointer[models.MigrationStrategy]
}

// New creates an orchestrator. The strategy is validated before use.
func New(registry *agent.Registry, pool *memory.Pool, strategy models.MigrationStrategy, cfg Config, logger logging.Logger) (*Orchestrator, error) {
	if err := strategy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid migration strategy: %w", err)
	}
	def := DefaultConfig()
	if cfg.SuccessWindow <= 0 {
		cfg.SuccessWindow = def.SuccessWindow
	}
	if cfg.TrendLimit <= 0 {
		cfg.TrendLimit = def.TrendLimit
	}

	o := &Orchestrator{
		registry: registry,
		pool:     pool,
		cfg:      cfg,
		logger:   logging.With(logging.OrNoOp(logger), "component", "orchestrator"),
	}
	s := strategy.Clone()
	o.strategy.Store(&s)
	return o, nil
}

// ExecuteAgent serves one request. It never returns an error: failures are
// reported through the response's Success, Error and ErrorKind fields.
func (o *Orchestrator) ExecuteAgent(ctx context.Context, req *models.AgentRequest) *models.AgentResponse {
	start := time.Now()

	if err := validateRequest(req); err != nil {
		o.logger.Warn("rejected agent request", "error", err)
		return &models.AgentResponse{
			Error:         err.Error(),
			ErrorKind:     models.ClassifyError(err),
			ExecutionTime: time.Since(start),
		}
	}

	policy := o.strategy.Load().For(req.AgentType)

	var resp *models.AgentResponse
	switch policy.Status {
	case models.MigrationOld:
		resp = o.executeLegacy(ctx, req, policy)
	case models.MigrationNew:
		resp = o.executeEnhanced(ctx, req, policy)
	default:
		resp = o.executeHybrid(ctx, req, policy)
	}
	resp.ExecutionTime = time.Since(start)

	o.logger.Info("agent request completed",
		"agent_type", string(req.AgentType),
		"strategy", string(policy.Status),
		"agent_used", resp.AgentUsed,
		"success", resp.Success,
		"fallback", resp.FallbackUsed,
		"quality", resp.QualityScore,
		"duration", resp.ExecutionTime)
	return resp
}

func validateRequest(req *models.AgentRequest) error {
	if req == nil {
		return fmt.Errorf("%w: nil request", models.ErrConfiguration)
	}
	if !req.AgentType.Valid() {
		return fmt.Errorf("%w: %q", models.ErrUnknownAgentType, req.AgentType)
	}
	if strings.TrimSpace(req.Input) == "" {
		return fmt.Errorf("%w: empty input", models.ErrConfiguration)
	}
	switch req.Preferences.Implementation {
	case models.PreferNone, models.PreferEnhanced, models.PreferLegacy:
	default:
		return fmt.Errorf("%w: unknown implementation preference %q", models.ErrConfiguration, req.Preferences.Implementation)
	}
	return nil
}

func (o *Orchestrator) executeLegacy(ctx context.Context, req *models.AgentRequest, policy models.AgentMigration) *models.AgentResponse {
	return toResponse(o.run(ctx, req, models.GenerationLegacy, policy), false)
}

func (o *Orchestrator) executeEnhanced(ctx context.Context, req *models.AgentRequest, policy models.AgentMigration) *models.AgentResponse {
	res := o.run(ctx, req, models.GenerationEnhanced, policy)
	if res.Success || !policy.FallbackEnabled {
		return toResponse(res, false)
	}
	return o.fallback(ctx, req, policy, res)
}

// executeHybrid picks the generation with the better recent success ratio
// (or the caller's explicit preference), escalates low-quality enhanced
// output to a legacy comparison, and falls back to legacy on failure
func (o *Orchestrator) executeHybrid(ctx context.Context, req *models.AgentRequest, policy models.AgentMigration) *models.AgentResponse {
	enhancedRatio := o.pool.SuccessRatio(req.AgentType, models.GenerationEnhanced, o.cfg.SuccessWindow)
	legacyRatio := o.pool.SuccessRatio(req.AgentType, models.GenerationLegacy, o.cfg.SuccessWindow)

	useEnhanced := enhancedRatio > legacyRatio
	switch req.Preferences.Implementation {
	case models.PreferEnhanced:
		useEnhanced = true
	case models.PreferLegacy:
		useEnhanced = false
	}

	o.logger.Debug("hybrid routing",
		"agent_type", string(req.AgentType),
		"enhanced_ratio", enhancedRatio,
		"legacy_ratio", legacyRatio,
		"preference", req.Preferences.Implementation,
		"enhanced", useEnhanced)

	if !useEnhanced {
		return o.executeLegacy(ctx, req, policy)
	}

	enhanced := o.run(ctx, req, models.GenerationEnhanced, policy)
	if !enhanced.Success {
		return o.fallback(ctx, req, policy, enhanced)
	}
	if enhanced.Quality() >= policy.QualityThreshold {
		return toResponse(enhanced, false)
	}

	if ctx.Err() != nil {
		return toResponse(enhanced, false)
	}
	legacy := o.run(ctx, req, models.GenerationLegacy, policy)
	if legacy.Success && legacy.Quality() > enhanced.Quality() {
		resp := toResponse(legacy, true)
		resp.Insights = append(resp.Insights, fmt.Sprintf("legacy output scored %.1f against enhanced %.1f", legacy.Quality(), enhanced.Quality()))
		return resp
	}
	return toResponse(enhanced, false)
}

func (o *Orchestrator) fallback(ctx context.Context, req *models.AgentRequest, policy models.AgentMigration, failed *agent.Result) *models.AgentResponse {
	if ctx.Err() != nil {
		return toResponse(failed, false)
	}
	o.logger.Warn("enhanced execution failed, falling back to legacy",
		"agent_type", string(req.AgentType),
		"agent_id", failed.AgentID,
		"error", failed.ErrorMessage())

	legacy := o.run(ctx, req, models.GenerationLegacy, policy)
	resp := toResponse(legacy, true)
	if !legacy.Success {
		resp.Error = fmt.Sprintf("enhanced: %s; legacy: %s", failed.ErrorMessage(), legacy.ErrorMessage())
	}
	return resp
}

// run selects a container of the given generation, executes the request and
// records a performance entry for successful results
func (o *Orchestrator) run(ctx context.Context, req *models.AgentRequest, gen models.Generation, policy models.AgentMigration) *agent.Result {
	c, err := o.registry.Select(req.AgentType, gen)
	if err != nil {
		return &agent.Result{
			Err:        err,
			ErrorKind:  models.ClassifyError(err),
			AgentType:  req.AgentType,
			Generation: gen,
		}
	}

	res := c.Execute(ctx, o.buildTask(req, gen))
	if res.Success && res.Quality() > 0 {
		o.recordPerformance(ctx, req, res, policy.QualityThreshold)
	}
	return res
}

// buildTask maps a request onto agent input. Legacy agents receive the
// narrow form; enhanced agents also get editor, collaboration and memory context.
func (o *Orchestrator) buildTask(req *models.AgentRequest, gen models.Generation) *agent.Task {
	task := &agent.Task{
		ID:          uuid.NewString(),
		Input:       req.Input,
		Document:    req.Context.Document,
		UserID:      req.Context.UserID,
		SessionID:   req.Context.SessionID,
		Preferences: req.Preferences,
	}
	if gen == models.GenerationLegacy {
		return task
	}

	task.Selection = req.Context.Selection
	task.CursorPosition = req.Context.CursorPosition
	task.Collaborators = append([]string(nil), req.Context.Collaborators...)
	task.SuccessfulPatterns = o.pool.GetSuccessfulPatterns(req.AgentType)
	if insights := o.pool.Insights(); len(insights) > 0 {
		task.Trends = insights[max(0, len(insights)-o.cfg.TrendLimit):]
	}
	return task
}

func (o *Orchestrator) recordPerformance(ctx context.Context, req *models.AgentRequest, res *agent.Result, threshold float64) {
	quality := res.Quality()
	o.pool.LogAgentAction(ctx, models.AgentAction{
		AgentID:    res.AgentID,
		AgentType:  res.AgentType,
		UserID:     req.Context.UserID,
		Action:     models.ActionPerformance,
		Input:      req.Input,
		Output:     res.Output.Content,
		Reasoning:  fmt.Sprintf("quality %.1f against threshold %.1f", quality, threshold),
		Confidence: quality / 10,
		Duration:   res.Duration,
		Success:    quality >= threshold,
	})
}

func toResponse(res *agent.Result, fallbackUsed bool) *models.AgentResponse {
	resp := &models.AgentResponse{
		Success:      res.Success,
		AgentUsed:    res.AgentID,
		FallbackUsed: fallbackUsed,
	}
	if resp.AgentUsed == "" {
		resp.AgentUsed = fmt.Sprintf("%s-%s", res.Generation, res.AgentType)
	}
	if !res.Success {
		resp.Error = res.ErrorMessage()
		resp.ErrorKind = res.ErrorKind
		return resp
	}
	resp.Data = res.Output.Content
	resp.QualityScore = res.Output.QualityScore
	resp.Insights = append([]string(nil), res.Output.Insights...)
	resp.Recommendations = append([]string(nil), res.Output.Recommendations...)
	return resp
}
