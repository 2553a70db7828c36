package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/quantumflow/scribe/internal/logging"
	"github.com/quantumflow/scribe/internal/models"
)

// Backoff is a bounded exponential retry delay: Base·2^attempt, capped at Max
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// Delay returns the wait before retry number attempt (0-based)
func (b Backoff) Delay(attempt int) time.Duration {
	if b.Base <= 0 {
		return 0
	}
	d := b.Base
	for i := 0; i < attempt; i++ {
		d *= 2
		if b.Max > 0 && d >= b.Max {
			return b.Max
		}
	}
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}

// ContainerConfig is the time and resource budget of a container
type ContainerConfig struct {
	MaxDuration         time.Duration
	MaxRetries          int
	HealthCheckInterval time.Duration
	AutoRestart         bool
	FailureThreshold    int
	RestartCooldown     time.Duration
	RetryBackoff        Backoff
}

// DefaultContainerConfig returns the default container budget
func DefaultContainerConfig() ContainerConfig {
	return ContainerConfig{
		MaxDuration:         30 * time.Second,
		MaxRetries:          2,
		HealthCheckInterval: 30 * time.Second,
		AutoRestart:         true,
		FailureThreshold:    3,
		RestartCooldown:     30 * time.Second,
		RetryBackoff:        Backoff{Base: 200 * time.Millisecond, Max: 5 * time.Second},
	}
}

// Container supervises one Agent: it enforces the time budget, retries
// recoverable failures and owns the agent's health record.
type Container struct {
	id       string
	agent    Agent
	cfg      ContainerConfig
	recorder ActionRecorder
	logger   logging.Logger

	mu            sync.Mutex
	health        models.AgentHealth
	successes     int
	totalDuration time.Duration
	restartTimer  *time.Timer

	inflight atomic.Int32
}

// ContainerOption customises a container at construction
type ContainerOption func(*Container)

// WithRecorder sets where execution outcomes are logged
func WithRecorder(r ActionRecorder) ContainerOption {
	return func(c *Container) { c.recorder = r }
}

// WithLogger sets the container logger
func WithLogger(l logging.Logger) ContainerOption {
	return func(c *Container) { c.logger = l }
}

// WithID overrides the generated container ID
func WithID(id string) ContainerOption {
	return func(c *Container) { c.id = id }
}

// NewContainerID returns an ID of the form <generation>-<type>-<suffix>.
// The generation prefix is what memory queries use to split history.
func NewContainerID(gen models.Generation, t models.AgentType) string {
	return fmt.Sprintf("%s-%s-%s", gen, t, uuid.NewString()[:8])
}

// NewContainer wraps agent with the given budget
func NewContainer(agent Agent, cfg ContainerConfig, opts ...ContainerOption) *Container {
	def := DefaultContainerConfig()
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = def.MaxDuration
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.HealthCheckInterval <= 0 {
		cfg.HealthCheckInterval = def.HealthCheckInterval
	}
	if cfg.RestartCooldown <= 0 {
		cfg.RestartCooldown = def.RestartCooldown
	}

	c := &Container{
		agent:  agent,
		cfg:    cfg,
		logger: logging.NoOpLogger{},
		health: models.AgentHealth{
			Status:          models.HealthHealthy,
			LastHealthCheck: time.Now(),
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.id == "" {
		c.id = NewContainerID(agent.Generation(), agent.Type())
	}
	c.logger = logging.With(logging.OrNoOp(c.logger), "agent_id", c.id, "agent_type", string(agent.Type()))
	return c
}

func (c *Container) ID() string                    { return c.id }
func (c *Container) Type() models.AgentType        { return c.agent.Type() }
func (c *Container) Generation() models.Generation { return c.agent.Generation() }
func (c *Container) Config() ContainerConfig       { return c.cfg }

// Busy reports whether an execution is in progress
func (c *Container) Busy() bool { return c.inflight.Load() > 0 }

type outcome struct {
	out *Output
	err error
}

// Execute runs the agent on task. It never returns an error or panics:
// every path ends in a Result with an explicit Success flag.
func (c *Container) Execute(ctx context.Context, task *Task) *Result {
	c.inflight.Add(1)
	defer c.inflight.Add(-1)

	if task == nil {
		task = &Task{}
	}
	if task.ID == "" {
		task.ID = uuid.NewString()
	}

	start := time.Now()
	var (
		out      *Output
		err      error
		attempts int
	)
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		attempts++
		out, err = c.runOnce(ctx, task)
		if err == nil {
			break
		}
		if !models.Retryable(err) || attempt == c.cfg.MaxRetries || ctx.Err() != nil {
			break
		}
		delay := c.cfg.RetryBackoff.Delay(attempt)
		c.logger.Warn("agent attempt failed, retrying", "attempt", attempts, "delay", delay, "error", err)
		if waitErr := sleepCtx(ctx, delay); waitErr != nil {
			break
		}
	}
	duration := time.Since(start)
	if err != nil && ctx.Err() != nil {
		err = fmt.Errorf("%w: %w", models.ErrCanceled, ctx.Err())
	}

	res := &Result{
		AgentID:    c.id,
		AgentType:  c.agent.Type(),
		Generation: c.agent.Generation(),
		Attempts:   attempts,
		Duration:   duration,
	}

	if err != nil {
		res.Err = err
		res.ErrorKind = models.ClassifyError(err)
		if res.ErrorKind == models.ErrorKindCanceled {
			c.logger.Info("agent execution abandoned by caller", "attempts", attempts, "duration", duration)
			return res
		}
		// Malformed requests say nothing about the agent's health
		if res.ErrorKind != models.ErrorKindConfiguration {
			c.recordOutcome(false, duration)
		}
		c.logger.Error("agent execution failed", "attempts", attempts, "duration", duration, "error_kind", string(res.ErrorKind), "error", err)
		c.recordAction(ctx, task, res)
		return res
	}

	res.Success = true
	res.Output = out
	c.recordOutcome(true, duration)
	c.logger.Debug("agent execution succeeded", "attempts", attempts, "duration", duration, "quality", out.QualityScore)
	c.recordAction(ctx, task, res)
	return res
}

// runOnce executes one attempt in a child goroutine bounded by MaxDuration.
// A late result after the deadline is dropped into the buffered channel.
func (c *Container) runOnce(ctx context.Context, task *Task) (*Output, error) {
	runCtx, cancel := context.WithTimeout(ctx, c.cfg.MaxDuration)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("agent panic: %v", r)}
			}
		}()
		out, err := c.agent.Handle(runCtx, task)
		done <- outcome{out: out, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			if errors.Is(o.err, context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: %w", models.ErrTimeout, o.err)
			}
			return nil, o.err
		}
		if o.out == nil {
			return nil, fmt.Errorf("%w: agent returned no output", models.ErrProvider)
		}
		return o.out, nil
	case <-runCtx.Done():
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", models.ErrCanceled, ctx.Err())
		}
		return nil, fmt.Errorf("%w after %s", models.ErrTimeout, c.cfg.MaxDuration)
	}
}

func (c *Container) recordOutcome(success bool, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.health.TotalExecutions++
	c.totalDuration += d
	c.health.AverageResponseTime = c.totalDuration / time.Duration(c.health.TotalExecutions)
	c.health.LastHealthCheck = time.Now()

	if success {
		c.successes++
		c.health.ErrorCount = 0
		c.health.Status = models.HealthHealthy
		c.stopRestartTimerLocked()
	} else {
		c.health.ErrorCount++
		if c.health.ErrorCount >= c.cfg.FailureThreshold {
			if c.health.Status != models.HealthFailed {
				c.logger.Error("agent marked failed", "error_count", c.health.ErrorCount)
			}
			c.health.Status = models.HealthFailed
			c.scheduleRestartLocked()
		} else {
			c.health.Status = models.HealthDegraded
		}
	}
	c.health.SuccessRate = float64(c.successes) / float64(c.health.TotalExecutions)
}

func (c *Container) scheduleRestartLocked() {
	if !c.cfg.AutoRestart || c.restartTimer != nil {
		return
	}
	c.restartTimer = time.AfterFunc(c.cfg.RestartCooldown, func() {
		c.mu.Lock()
		c.restartTimer = nil
		failed := c.health.Status == models.HealthFailed
		c.mu.Unlock()
		if failed {
			c.logger.Info("auto-restarting failed agent", "cooldown", c.cfg.RestartCooldown)
			c.Restart()
		}
	})
}

func (c *Container) stopRestartTimerLocked() {
	if c.restartTimer != nil {
		c.restartTimer.Stop()
		c.restartTimer = nil
	}
}

// Restart clears the error count and marks the container healthy
func (c *Container) Restart() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopRestartTimerLocked()
	c.health.ErrorCount = 0
	c.health.Status = models.HealthHealthy
	c.health.LastHealthCheck = time.Now()
	c.logger.Info("agent restarted")
}

// Health returns the current health snapshot
func (c *Container) Health() models.AgentHealth {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.health
}

// Close stops any pending automatic restart
func (c *Container) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopRestartTimerLocked()
}

func (c *Container) recordAction(ctx context.Context, task *Task, res *Result) {
	if c.recorder == nil {
		return
	}
	action := models.AgentAction{
		AgentID:   c.id,
		AgentType: c.agent.Type(),
		UserID:    task.UserID,
		Action:    models.ActionExecute,
		Input:     task.Input,
		Duration:  res.Duration,
		Success:   res.Success,
		Timestamp: time.Now(),
	}
	if res.Success {
		action.Output = res.Output.Content
		action.Reasoning = res.Output.Reasoning
		action.Confidence = res.Output.Confidence
	} else {
		action.Output = res.ErrorMessage()
		action.Reasoning = failureReason(res)
	}

	// The recorder is best-effort; a misbehaving one must not fail the caller
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("action recorder panicked", "panic", r)
		}
	}()
	c.recorder.LogAgentAction(ctx, action)
}

// failureReason is a stable, low-cardinality description used to spot recurring failures
func failureReason(res *Result) string {
	switch res.ErrorKind {
	case models.ErrorKindTimeout:
		return "timeout"
	case models.ErrorKindProvider:
		return "provider error"
	case models.ErrorKindConfiguration:
		return "invalid request"
	default:
		return "unexpected error"
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
