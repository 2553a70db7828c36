package memory

import (
	"context"
	"errors"
	"fmt"

	"github.com/quantumflow/scribe/internal/logging"
)

// StoreConfig selects the optional persistence backends. Empty addresses
// disable the corresponding store.
type StoreConfig struct {
	BadgerPath     string // "" with BadgerInMemory false disables Badger
	BadgerInMemory bool
	Redis          RedisConfig
	DgraphAddr     string
}

// Stores bundles the opened persistence backends. Nil fields are disabled.
type Stores struct {
	Compressed *BadgerCompressedStore
	Actions    *RedisActionLog
	Essences   *DgraphEssenceStore
}

// OpenStores opens every configured backend. On failure the stores opened
// so far are closed.
func OpenStores(ctx context.Context, cfg StoreConfig) (*Stores, error) {
	s := &Stores{}

	if cfg.BadgerPath != "" || cfg.BadgerInMemory {
		path := cfg.BadgerPath
		if cfg.BadgerInMemory {
			path = ""
		}
		compressed, err := NewBadgerCompressedStore(path)
		if err != nil {
			return nil, fmt.Errorf("failed to create compressed store: %w", err)
		}
		s.Compressed = compressed
	}

	if cfg.Redis.Addr != "" {
		actions, err := NewRedisActionLog(cfg.Redis)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to create action log: %w", err)
		}
		s.Actions = actions
	}

	if cfg.DgraphAddr != "" {
		essences, err := NewDgraphEssenceStore(ctx, cfg.DgraphAddr)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to create essence store: %w", err)
		}
		s.Essences = essences
	}

	return s, nil
}

// Attach wires the stores into a pool and its compression engine options,
// warming the pool from whatever was persisted
func (s *Stores) Attach(ctx context.Context, pool *Pool, logger logging.Logger) []EngineOption {
	logger = logging.OrNoOp(logger)
	var opts []EngineOption

	if s.Actions != nil {
		pool.WarmStart(ctx, s.Actions)
		pool.SetSink(s.Actions)
	}
	if s.Compressed != nil {
		if memories, err := s.Compressed.LoadCompressed(ctx); err != nil {
			logger.Warn("failed to load compressed memories", "error", err)
		} else {
			pool.SeedCompressed(memories)
		}
		opts = append(opts, WithCompressedStore(s.Compressed))
	}
	if s.Essences != nil {
		opts = append(opts, WithEssenceStore(s.Essences))
	}
	return opts
}

// Close closes every open store
func (s *Stores) Close() error {
	var errs []error
	if s.Actions != nil {
		if err := s.Actions.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.Essences != nil {
		if err := s.Essences.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.Compressed != nil {
		if err := s.Compressed.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors closing memory stores: %w", errors.Join(errs...))
	}
	return nil
}
