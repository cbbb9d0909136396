// Package badger implements the durable state store on BadgerDB.
//
// This is the production store: task transitions, wrapped object keys,
// multipart sessions, and share records all survive process crashes via
// Badger's write-ahead log. Records are JSON-encoded with a schema version
// record so fields can be added with explicit migration logic.
package badger

import (
	"context"
	"encoding/json"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/functionland/fulasync/internal/logger"
)

// schemaVersion is the current record schema. Bump together with a
// migration step in migrate when a record type changes shape.
const schemaVersion = 1

// Config contains configuration for the Badger state store.
type Config struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path string `mapstructure:"path"`

	// InMemory runs Badger without disk persistence. Useful for tests and
	// ephemeral runs; durability guarantees obviously do not apply.
	InMemory bool `mapstructure:"in_memory"`

	// SyncWrites forces an fsync on every commit. Slower but guarantees
	// that acknowledged task transitions survive power loss, which the
	// queue processor's durability contract depends on.
	SyncWrites bool `mapstructure:"sync_writes"`
}

// Store is the BadgerDB-backed state store.
//
// Thread Safety: Badger transactions provide isolation; all methods are
// safe for concurrent use.
type Store struct {
	db *badger.DB
}

// New opens (or creates) the database at cfg.Path and runs schema
// migration if the on-disk version is older than schemaVersion.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if !cfg.InMemory && cfg.Path == "" {
		return nil, fmt.Errorf("badger path is required")
	}

	opts := badger.DefaultOptions(cfg.Path).
		WithInMemory(cfg.InMemory).
		WithSyncWrites(cfg.SyncWrites).
		WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	s := &Store{db: db}

	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

// migrate brings the on-disk schema up to schemaVersion.
func (s *Store) migrate() error {
	var current int

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keySchemaVersion))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &current)
		})
	})
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	if current > schemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", current, schemaVersion)
	}

	if current == schemaVersion {
		return nil
	}

	// Per-version migration steps go here as the schema evolves. Version 0
	// means a fresh database, which needs no data migration.
	if current != 0 {
		logger.Info("migrating state store schema from v%d to v%d", current, schemaVersion)
	}

	data, err := json.Marshal(schemaVersion)
	if err != nil {
		return err
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keySchemaVersion), data)
	})
	if err != nil {
		return fmt.Errorf("failed to write schema version: %w", err)
	}

	return nil
}

// Close flushes and closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// setJSON marshals v and writes it under key in a single transaction.
func (s *Store) setJSON(key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

// getJSON reads key and unmarshals it into v. Returns badger.ErrKeyNotFound
// if the key is absent; callers translate it to their package sentinel.
func (s *Store) getJSON(key []byte, v any) error {
	return s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, v)
		})
	})
}

// delete removes key. Deleting a missing key is not an error.
func (s *Store) delete(key []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

// scanPrefix iterates all values under prefix in key order, invoking fn
// with each raw value.
func (s *Store) scanPrefix(prefix string, fn func(val []byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				return fn(val)
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}
