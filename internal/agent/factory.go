package agent

import (
	"fmt"

	"github.com/quantumflow/scribe/internal/inference"
	"github.com/quantumflow/scribe/internal/logging"
	"github.com/quantumflow/scribe/internal/memory"
	"github.com/quantumflow/scribe/internal/models"
)

// Factory builds agents and their containers from shared collaborators
type Factory struct {
	provider inference.Provider
	scorer   QualityScorer
	recorder ActionRecorder
	logger   logging.Logger
	config   ContainerConfig
}

// NewFactory creates a factory; scorer defaults to HeuristicScorer
func NewFactory(provider inference.Provider, scorer QualityScorer, recorder ActionRecorder, logger logging.Logger, config ContainerConfig) *Factory {
	if scorer == nil {
		scorer = HeuristicScorer{}
	}
	return &Factory{
		provider: provider,
		scorer:   scorer,
		recorder: recorder,
		logger:   logging.OrNoOp(logger),
		config:   config,
	}
}

// ContainerConfig returns the default budget handed to new containers
func (f *Factory) ContainerConfig() ContainerConfig { return f.config }

// NewAgent creates the agent implementation for (t, gen)
func (f *Factory) NewAgent(t models.AgentType, gen models.Generation) (Agent, error) {
	switch gen {
	case models.GenerationLegacy:
		return NewLegacyAgent(t, f.provider, f.scorer)
	case models.GenerationEnhanced:
		return NewEnhancedAgent(t, f.provider, f.scorer)
	default:
		return nil, fmt.Errorf("%w: unknown generation %q", models.ErrConfiguration, gen)
	}
}

// NewContainer creates a supervised container for (t, gen). cfg overrides
// the factory default budget when non-nil.
func (f *Factory) NewContainer(t models.AgentType, gen models.Generation, cfg *ContainerConfig) (*Container, error) {
	a, err := f.NewAgent(t, gen)
	if err != nil {
		return nil, err
	}
	budget := f.config
	if cfg != nil {
		budget = *cfg
	}
	return NewContainer(a, budget, WithRecorder(f.recorder), WithLogger(f.logger)), nil
}

// Populate registers one legacy and one enhanced container per type. When
// the recorder is also an AgentDirectory each container is listed there.
func (f *Factory) Populate(reg *Registry, types ...models.AgentType) ([]*Container, error) {
	if len(types) == 0 {
		types = models.AllAgentTypes()
	}
	dir, _ := f.recorder.(AgentDirectory)
	var created []*Container
	for _, t := range types {
		for _, gen := range []models.Generation{models.GenerationLegacy, models.GenerationEnhanced} {
			c, err := f.NewContainer(t, gen, nil)
			if err != nil {
				return created, fmt.Errorf("failed to create %s/%s container: %w", gen, t, err)
			}
			if err := reg.Register(c); err != nil {
				return created, err
			}
			if dir != nil {
				dir.RegisterAgent(memory.AgentProfile{
					ID:         c.ID(),
					AgentType:  t,
					Generation: gen,
					Priority:   "normal",
					Reason:     "startup",
				})
			}
			created = append(created, c)
		}
	}
	return created, nil
}
