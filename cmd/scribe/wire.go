package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/spf13/viper"

	"github.com/quantumflow/scribe/internal/agent"
	"github.com/quantumflow/scribe/internal/audit"
	"github.com/quantumflow/scribe/internal/config"
	"github.com/quantumflow/scribe/internal/doctor"
	"github.com/quantumflow/scribe/internal/inference"
	"github.com/quantumflow/scribe/internal/logging"
	"github.com/quantumflow/scribe/internal/memory"
	"github.com/quantumflow/scribe/internal/models"
	"github.com/quantumflow/scribe/internal/orchestrator"
)

// app holds the one instance of every service for the process
type app struct {
	cfg          *config.Config
	logger       logging.Logger
	provider     *inference.Stack
	pool         *memory.Pool
	stores       *memory.Stores
	registry     *agent.Registry
	factory      *agent.Factory
	router       *agent.Router
	orchestrator *orchestrator.Orchestrator
	engine       *memory.Engine
	audit        *audit.SQLiteLogger
	doctor       *doctor.Doctor
	strategyPath string
}

// wireApp loads configuration and builds the service graph
func wireApp(ctx context.Context, configFile string, logOutput io.Writer) (_ *app, err error) {
	cfg, err := config.Load(viper.New(), configFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logCfg := cfg.LoggingConfig()
	logCfg.Output = logOutput
	logCfg.Component = "scribe"
	a := &app{cfg: cfg, logger: logging.New(logCfg)}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	a.provider, err = inference.NewProvider(cfg.ProviderStack())
	if err != nil {
		return nil, fmt.Errorf("wire provider: %w", err)
	}

	a.pool = memory.NewPool(cfg.PoolConfig(), a.logger)
	a.stores, err = memory.OpenStores(ctx, cfg.StoreConfig())
	if err != nil {
		return nil, fmt.Errorf("wire memory stores: %w", err)
	}

	engineOpts := append(a.stores.Attach(ctx, a.pool, a.logger),
		memory.WithSimilarity(cfg.Similarity()),
		memory.WithEngineLogger(a.logger),
	)
	if cfg.Provider.LLMSummaries {
		engineOpts = append(engineOpts, memory.WithSummarizer(memory.NewProviderSummarizer(a.provider.Provider)))
	}
	a.engine = memory.NewEngine(a.pool, cfg.CompressionSettings(), engineOpts...)

	var scorer agent.QualityScorer
	if cfg.Provider.LLMJudge {
		scorer = agent.NewProviderScorer(a.provider.Provider)
	}
	a.factory = agent.NewFactory(a.provider.Provider, scorer, a.pool, a.logger, cfg.ContainerBudget())
	var routingProvider inference.Provider
	if cfg.Provider.LLMRouting {
		routingProvider = a.provider.Provider
	}
	a.router = agent.NewRouter(routingProvider, 0, a.logger)
	a.registry = agent.NewRegistry(a.logger)
	if _, err = a.factory.Populate(a.registry); err != nil {
		return nil, fmt.Errorf("wire agents: %w", err)
	}

	a.strategyPath = cfg.StrategyPath
	if a.strategyPath == "" {
		if a.strategyPath, err = config.DefaultStrategyPath(); err != nil {
			return nil, err
		}
	}
	strategy, err := config.LoadStrategy(a.strategyPath)
	if err != nil {
		return nil, err
	}
	a.orchestrator, err = orchestrator.New(a.registry, a.pool, strategy, cfg.OrchestratorSettings(), a.logger)
	if err != nil {
		return nil, fmt.Errorf("wire orchestrator: %w", err)
	}

	doctorOpts := []doctor.Option{
		doctor.WithCompactor(a.engine),
		doctor.WithLogger(a.logger),
		doctor.WithConfig(cfg.DoctorSettings()),
	}
	if cfg.Audit.Path != "" {
		a.audit, err = audit.NewSQLiteLogger(cfg.Audit.Path)
		if err != nil {
			return nil, fmt.Errorf("wire audit log: %w", err)
		}
		doctorOpts = append(doctorOpts, doctor.WithAudit(a.audit))
	}
	a.doctor = doctor.New(a.registry, a.pool, a.factory, doctorOpts...)

	return a, nil
}

// resolveAgentType parses name, routing "auto" through the request router
func (a *app) resolveAgentType(ctx context.Context, name, input string) (models.AgentType, error) {
	if strings.EqualFold(strings.TrimSpace(name), agent.AutoAgentType) {
		route := a.router.Route(ctx, input)
		a.logger.Debug("request routed", "agent_type", string(route.AgentType), "confidence", route.Confidence, "cached", route.Cached)
		return route.AgentType, nil
	}
	return models.ParseAgentType(name)
}

// saveStrategy persists an accepted migration strategy
func (a *app) saveStrategy(s models.MigrationStrategy) error {
	return config.SaveStrategy(a.strategyPath, s)
}

// Close releases every resource; safe on a partially wired app
func (a *app) Close() error {
	var errs []error
	if a.registry != nil {
		for _, c := range a.registry.All() {
			c.Close()
		}
	}
	if a.provider != nil {
		if err := a.provider.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.stores != nil {
		if err := a.stores.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.audit != nil {
		if err := a.audit.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// startBackground runs Doctor supervision and periodic compaction until the
// returned stop function is called
func (a *app) startBackground(ctx context.Context) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		a.doctor.Start(ctx)
	}()
	go func() {
		defer wg.Done()
		a.engine.Run(ctx, a.cfg.Compression.Interval)
	}()
	return func() {
		cancel()
		wg.Wait()
	}
}
