package doctor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/quantumflow/scribe/internal/agent"
	"github.com/quantumflow/scribe/internal/audit"
	"github.com/quantumflow/scribe/internal/logging"
	"github.com/quantumflow/scribe/internal/memory"
	"github.com/quantumflow/scribe/internal/models"
)

// TaskKind names one Doctor task
type TaskKind string

const (
	TaskHealthCheck        TaskKind = "health-check"
	TaskSpawnAgent         TaskKind = "spawn-agent"
	TaskEmergencyResponse  TaskKind = "emergency-response"
	TaskSystemOptimization TaskKind = "system-optimization"
	TaskPredictiveAnalysis TaskKind = "predictive-analysis"
)

// AllTaskKinds lists the supported tasks
func AllTaskKinds() []TaskKind {
	return []TaskKind{TaskHealthCheck, TaskSpawnAgent, TaskEmergencyResponse, TaskSystemOptimization, TaskPredictiveAnalysis}
}

// ParseTaskKind converts user input to a TaskKind
func ParseTaskKind(s string) (TaskKind, error) {
	k := TaskKind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllTaskKinds() {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: unknown doctor task %q", models.ErrConfiguration, s)
}

// Config holds the Doctor's thresholds
type Config struct {
	ResponseTimeCeiling   time.Duration
	CriticalTypes         []models.AgentType
	DegradedFraction      float64 // warning above this share of degraded containers
	LoadThreshold         float64
	MemoryThreshold       float64
	HourlyVolumeThreshold int
	MinSample             int
	ReplaceQuality        float64
	ScaleUpQuality        float64
	ScaleUpSuccess        float64
	TrendWindow           int     // quality points used for trend detection
	DeclineSlope          float64 // quality drop per execution flagged as a decline
	Interval              time.Duration
	AutoHeal              bool
}

// DefaultConfig returns default Doctor configuration
func DefaultConfig() Config {
	return Config{
		ResponseTimeCeiling: 5 * time.Second,
		CriticalTypes: []models.AgentType{
			models.AgentTypeWritingAssistant,
			models.AgentTypeCharacterDevelopment,
			models.AgentTypePlotStructure,
		},
		DegradedFraction:      0.3,
		LoadThreshold:         0.8,
		MemoryThreshold:       0.8,
		HourlyVolumeThreshold: 100,
		MinSample:             5,
		ReplaceQuality:        6.0,
		ScaleUpQuality:        8.5,
		ScaleUpSuccess:        0.95,
		TrendWindow:           10,
		DeclineSlope:          0.1,
		Interval:              30 * time.Second,
		AutoHeal:              true,
	}
}

// Spawner builds new containers; *agent.Factory implements it
type Spawner interface {
	ContainerConfig() agent.ContainerConfig
	NewContainer(t models.AgentType, gen models.Generation, cfg *agent.ContainerConfig) (*agent.Container, error)
}

// Compactor runs a memory compaction pass; *memory.Engine implements it
type Compactor interface {
	Compact(ctx context.Context) (*memory.CompactionResult, error)
}

// Doctor is the meta-agent supervising the registry and memory pool.
// Every corrective action is logged individually and safe to repeat.
type Doctor struct {
	registry  *agent.Registry
	pool      *memory.Pool
	spawner   Spawner
	compactor Compactor
	audit     audit.Recorder
	logger    logging.Logger
	cfg       Config
	now       func() time.Time
}

// Option customises a Doctor
type Option func(*Doctor)

// WithCompactor enables compaction during emergency response
func WithCompactor(c Compactor) Option { return func(d *Doctor) { d.compactor = c } }

// WithAudit records corrective actions to r
func WithAudit(r audit.Recorder) Option { return func(d *Doctor) { d.audit = r } }

// WithLogger sets the logger
func WithLogger(l logging.Logger) Option { return func(d *Doctor) { d.logger = l } }

// WithConfig replaces the default thresholds
func WithConfig(cfg Config) Option { return func(d *Doctor) { d.cfg = cfg } }

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option { return func(d *Doctor) { d.now = now } }

// New creates a Doctor
func New(registry *agent.Registry, pool *memory.Pool, spawner Spawner, opts ...Option) *Doctor {
	d := &Doctor{
		registry: registry,
		pool:     pool,
		spawner:  spawner,
		cfg:      DefaultConfig(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.cfg.Interval <= 0 {
		d.cfg.Interval = DefaultConfig().Interval
	}
	d.logger = logging.With(logging.OrNoOp(d.logger), "component", "doctor")
	return d
}

// Task is a request to run one Doctor task
type Task struct {
	Kind  TaskKind      `json:"kind"`
	Spawn *SpawnRequest `json:"spawn,omitempty"`
}

// TaskResult carries the report of whichever task ran
type TaskResult struct {
	Kind         TaskKind            `json:"kind"`
	Health       *HealthReport       `json:"health,omitempty"`
	Spawn        *SpawnResult        `json:"spawn,omitempty"`
	Emergency    *EmergencyReport    `json:"emergency,omitempty"`
	Optimization *OptimizationReport `json:"optimization,omitempty"`
	Prediction   *PredictionReport   `json:"prediction,omitempty"`
	Duration     time.Duration       `json:"duration"`
}

// Execute dispatches a task
func (d *Doctor) Execute(ctx context.Context, task Task) (*TaskResult, error) {
	start := time.Now()
	res := &TaskResult{Kind: task.Kind}

	switch task.Kind {
	case TaskHealthCheck:
		res.Health = d.HealthCheck(ctx)
	case TaskSpawnAgent:
		if task.Spawn == nil {
			return nil, fmt.Errorf("%w: spawn-agent requires a spawn request", models.ErrConfiguration)
		}
		spawned, err := d.SpawnAgent(ctx, *task.Spawn)
		if err != nil {
			return nil, err
		}
		res.Spawn = spawned
	case TaskEmergencyResponse:
		res.Emergency = d.EmergencyResponse(ctx)
	case TaskSystemOptimization:
		res.Optimization = d.SystemOptimization(ctx)
	case TaskPredictiveAnalysis:
		res.Prediction = d.PredictiveAnalysis(ctx)
	default:
		return nil, fmt.Errorf("%w: unknown doctor task %q", models.ErrConfiguration, task.Kind)
	}

	res.Duration = time.Since(start)
	return res, nil
}

// Start runs health checks every interval until ctx is done, escalating to
// an emergency response when the system is critical and AutoHeal is set
func (d *Doctor) Start(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	d.logger.Info("doctor supervision started", "interval", d.cfg.Interval, "auto_heal", d.cfg.AutoHeal)
	for {
		select {
		case <-ticker.C:
			d.tick(ctx)
		case <-ctx.Done():
			d.logger.Info("doctor supervision stopped")
			return
		}
	}
}

func (d *Doctor) tick(ctx context.Context) {
	report := d.HealthCheck(ctx)
	if report.Status == StatusCritical && d.cfg.AutoHeal {
		d.EmergencyResponse(ctx)
	}
}

// record writes one audit entry; audit failures are logged, never returned
func (d *Doctor) record(ctx context.Context, entry audit.Entry) {
	if d.audit == nil {
		return
	}
	entry.Component = "doctor"
	if entry.Timestamp.IsZero() {
		entry.Timestamp = d.now()
	}
	if err := d.audit.Record(ctx, &entry); err != nil {
		d.logger.Warn("failed to record audit entry", "task", entry.Task, "action", entry.Action, "error", err)
	}
}
