package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/quantumflow/scribe/internal/models"
)

const compressedPrefix = "memory:compressed:"

// BadgerCompressedStore implements CompressedStore using BadgerDB
type BadgerCompressedStore struct {
	db *badger.DB
}

// NewBadgerCompressedStore opens a BadgerDB-backed compressed store at path.
// An empty path opens an in-memory database.
func NewBadgerCompressedStore(path string) (*BadgerCompressedStore, error) {
	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(expandPath(path))
	}
	opts = opts.WithLoggingLevel(badger.WARNING)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}
	return &BadgerCompressedStore{db: db}, nil
}

func compressedKey(id string) []byte {
	return []byte(compressedPrefix + id)
}

// SaveCompressed upserts entries in one transaction
func (s *BadgerCompressedStore) SaveCompressed(ctx context.Context, memories []models.CompressedMemory) error {
	if len(memories) == 0 {
		return nil
	}
	return s.db.Update(func(txn *badger.Txn) error {
		for _, m := range memories {
			if err := ctx.Err(); err != nil {
				return err
			}
			data, err := json.Marshal(m)
			if err != nil {
				return fmt.Errorf("failed to marshal memory %s: %w", m.ID, err)
			}
			if err := txn.Set(compressedKey(m.ID), data); err != nil {
				return fmt.Errorf("failed to store memory %s: %w", m.ID, err)
			}
		}
		return nil
	})
}

// DeleteCompressed removes entries; unknown IDs are ignored
func (s *BadgerCompressedStore) DeleteCompressed(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.db.Update(func(txn *badger.Txn) error {
		for _, id := range ids {
			if err := txn.Delete(compressedKey(id)); err != nil {
				return fmt.Errorf("failed to delete memory %s: %w", id, err)
			}
		}
		return nil
	})
}

// GetCompressed retrieves one entry by ID
func (s *BadgerCompressedStore) GetCompressed(ctx context.Context, id string) (*models.CompressedMemory, error) {
	var m models.CompressedMemory
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(compressedKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &m)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("compressed memory not found: %s", id)
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// LoadCompressed returns every stored entry ordered by creation time
func (s *BadgerCompressedStore) LoadCompressed(ctx context.Context) ([]models.CompressedMemory, error) {
	var out []models.CompressedMemory
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(compressedPrefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var m models.CompressedMemory
				if err := json.Unmarshal(val, &m); err != nil {
					return nil // Skip malformed entries
				}
				out = append(out, m)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load compressed memories: %w", err)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Close closes the BadgerDB instance
func (s *BadgerCompressedStore) Close() error {
	return s.db.Close()
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}
