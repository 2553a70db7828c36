package orchestrator

import (
	"fmt"
	"time"

	"github.com/quantumflow/scribe/internal/memory"
	"github.com/quantumflow/scribe/internal/models"
)

// GetMigrationStrategy returns a copy of the current strategy
func (o *Orchestrator) GetMigrationStrategy() models.MigrationStrategy {
	return o.strategy.Load().Clone()
}

// UpdateMigrationStrategy merges update into the current strategy and
// publishes the result as a new value. Concurrent updates are retried so
// none is lost; an invalid result leaves the strategy unchanged.
func (o *Orchestrator) UpdateMigrationStrategy(update models.MigrationUpdate) (models.MigrationStrategy, error) {
	for {
		current := o.strategy.Load()
		next := current.Apply(update)
		if err := next.Validate(); err != nil {
			return current.Clone(), fmt.Errorf("invalid migration strategy: %w", err)
		}
		if o.strategy.CompareAndSwap(current, &next) {
			o.logger.Info("migration strategy updated",
				"default", string(next.Default.Status),
				"overrides", len(next.Agents))
			return next.Clone(), nil
		}
	}
}

// SetMigrationStrategy replaces the strategy wholesale
func (o *Orchestrator) SetMigrationStrategy(s models.MigrationStrategy) error {
	if err := s.Validate(); err != nil {
		return fmt.Errorf("invalid migration strategy: %w", err)
	}
	next := s.Clone()
	o.strategy.Store(&next)
	o.logger.Info("migration strategy replaced", "default", string(next.Default.Status))
	return nil
}

// SystemHealth is a diagnostic snapshot of the orchestration layer
type SystemHealth struct {
	Agents    map[string]models.AgentHealth `json:"agents"`
	Memory    memory.Stats                  `json:"memory"`
	Insights  []string                      `json:"insights"`
	Strategy  models.MigrationStrategy      `json:"strategy"`
	CheckedAt time.Time                     `json:"checked_at"`
}

// GetSystemHealth composes registry health, memory statistics and the strategy
func (o *Orchestrator) GetSystemHealth() *SystemHealth {
	return &SystemHealth{
		Agents:    o.registry.SystemHealth(),
		Memory:    o.pool.Stats(),
		Insights:  o.pool.Insights(),
		Strategy:  o.GetMigrationStrategy(),
		CheckedAt: time.Now(),
	}
}
