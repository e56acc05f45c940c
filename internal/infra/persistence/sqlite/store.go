// Package sqlite keeps the registry in an embedded SQLite database file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"kittycore/internal/infra/persistence/memory"
	"kittycore/internal/infra/persistence/sqlstate"
	"kittycore/pkg/domain"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

var _ domain.PersistentStore = (*Store)(nil)

// DefaultPath is used when no database path is configured.
const DefaultPath = "kittycore.db"

// Store serves reads and transactions from memory and mirrors every commit
// into SQLite: a full bucket snapshot plus the newly appended events.
type Store struct {
	*memory.Store
	db   *sql.DB
	path string

	mu        sync.Mutex
	journaled uint64
}

// NewStore opens (or creates) the database at path and hydrates the
// in-memory registry from it.
func NewStore(path string, engine *domain.RulesEngine, opts ...memory.Option) (*Store, error) {
	if path == "" {
		path = DefaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create sqlite dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time; modernc serialises anyway.
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	if err := sqlstate.EnsureSchema(ctx, db, sqlstate.SQLite); err != nil {
		_ = db.Close()
		return nil, err
	}
	snapshot, found, err := sqlstate.Load(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	mem := memory.NewStore(engine, opts...)
	if found {
		mem.ImportState(snapshot)
	}
	return &Store{Store: mem, db: db, path: path, journaled: sqlstate.LastSeq(snapshot)}, nil
}

// RunInTransaction commits fn in memory and then writes the result to disk.
// A write failure is returned but the in-memory commit stands; the next
// successful write carries the full state and any unjournaled events.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx domain.Transaction) error) (domain.Result, error) {
	res, err := s.Store.RunInTransaction(ctx, fn)
	if err != nil {
		return res, err
	}
	if err := s.flush(context.WithoutCancel(ctx)); err != nil {
		return res, fmt.Errorf("persist sqlite snapshot: %w", err)
	}
	return res, nil
}

func (s *Store) flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, err := sqlstate.Persist(ctx, s.db, sqlstate.SQLite, s.ExportState(), s.journaled)
	s.journaled = next
	return err
}

// Journal returns the events written to the events table after afterSeq.
func (s *Store) Journal(ctx context.Context, afterSeq uint64) ([]domain.Event, error) {
	return sqlstate.Journal(ctx, s.db, sqlstate.SQLite, afterSeq)
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying handle for tests.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the database file location.
func (s *Store) Path() string { return s.path }
