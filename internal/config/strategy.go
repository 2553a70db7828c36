package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/quantumflow/scribe/internal/models"
)

const (
	strategyFileMode    = 0o600
	strategyDirMode     = 0o700
	strategyFile        = "strategy.toml"
	strategyTempPattern = ".strategy-*.toml.tmp"
)

// DefaultStrategyPath is ~/.scribe/strategy.toml
func DefaultStrategyPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, configDir, strategyFile), nil
}

// LoadStrategy reads a migration strategy from TOML. A missing file yields
// the default strategy; fields absent from an agent table inherit the
// default table.
func LoadStrategy(path string) (models.MigrationStrategy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return models.DefaultMigrationStrategy(), nil
		}
		return models.MigrationStrategy{}, fmt.Errorf("read strategy file: %w", err)
	}

	var file strategySchema
	if err := toml.Unmarshal(data, &file); err != nil {
		return models.MigrationStrategy{}, fmt.Errorf("decode strategy file: %w", err)
	}

	strategy := file.toStrategy()
	if err := strategy.Validate(); err != nil {
		return models.MigrationStrategy{}, fmt.Errorf("invalid strategy in %s: %w", path, err)
	}
	return strategy, nil
}

// SaveStrategy writes strategy to path atomically
func SaveStrategy(path string, strategy models.MigrationStrategy) error {
	if err := strategy.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), strategyDirMode); err != nil {
		return fmt.Errorf("create strategy directory: %w", err)
	}

	data, err := toml.Marshal(fromStrategy(strategy))
	if err != nil {
		return fmt.Errorf("encode strategy file: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(path), strategyTempPattern)
	if err != nil {
		return fmt.Errorf("create temp strategy file: %w", err)
	}
	tempName := tempFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tempName)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("write temp strategy file: %w", err)
	}
	if err := tempFile.Chmod(strategyFileMode); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("chmod temp strategy file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close temp strategy file: %w", err)
	}
	if err := os.Rename(tempName, path); err != nil {
		return fmt.Errorf("replace strategy file: %w", err)
	}
	cleanup = false
	return nil
}

// strategySchema is the on-disk layout; agent tables may be partial
type strategySchema struct {
	Default migrationSchema            `toml:"default"`
	Agents  map[string]migrationSchema `toml:"agents,omitempty"`
}

type migrationSchema struct {
	Status           *string  `toml:"status,omitempty"`
	QualityThreshold *float64 `toml:"quality_threshold,omitempty"`
	FallbackEnabled  *bool    `toml:"fallback_enabled,omitempty"`
}

func (m migrationSchema) update() models.AgentMigrationUpdate {
	var u models.AgentMigrationUpdate
	if m.Status != nil {
		status := models.MigrationStatus(*m.Status)
		u.Status = &status
	}
	u.QualityThreshold = m.QualityThreshold
	u.FallbackEnabled = m.FallbackEnabled
	return u
}

func (s strategySchema) toStrategy() models.MigrationStrategy {
	strategy := models.DefaultMigrationStrategy().Apply(models.MigrationUpdate{Default: ptr(s.Default.update())})
	agents := make(map[models.AgentType]models.AgentMigrationUpdate, len(s.Agents))
	for name, m := range s.Agents {
		agents[models.AgentType(name)] = m.update()
	}
	return strategy.Apply(models.MigrationUpdate{Agents: agents})
}

func fromStrategy(s models.MigrationStrategy) strategySchema {
	out := strategySchema{Default: toSchema(s.Default)}
	if len(s.Agents) > 0 {
		out.Agents = make(map[string]migrationSchema, len(s.Agents))
		for t, m := range s.Agents {
			out.Agents[string(t)] = toSchema(m)
		}
	}
	return out
}

func toSchema(m models.AgentMigration) migrationSchema {
	status := string(m.Status)
	return migrationSchema{
		Status:           &status,
		QualityThreshold: ptr(m.QualityThreshold),
		FallbackEnabled:  ptr(m.FallbackEnabled),
	}
}

func ptr[T any](v T) *T { return &v }
