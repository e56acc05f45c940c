// Package postgres keeps the registry in a Postgres database reached through
// the pgx database/sql driver.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"kittycore/internal/infra/persistence/memory"
	"kittycore/internal/infra/persistence/sqlstate"
	"kittycore/pkg/domain"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
)

var _ domain.PersistentStore = (*Store)(nil)

const (
	driverName = "pgx"
	// DefaultDSN is used when no DSN is configured.
	DefaultDSN = "postgres://localhost/kittycore?sslmode=disable"
)

var (
	openMu sync.Mutex
	opener = sql.Open
)

// Store serves reads and transactions from memory and mirrors every commit
// into a JSONB bucket table and an events table.
type Store struct {
	*memory.Store
	db *sql.DB

	mu        sync.Mutex
	journaled uint64
}

// NewStore connects to dsn, creates the tables if needed and hydrates the
// in-memory registry from the stored buckets.
func NewStore(ctx context.Context, dsn string, engine *domain.RulesEngine, opts ...memory.Option) (*Store, error) {
	if dsn == "" {
		dsn = DefaultDSN
	}
	openMu.Lock()
	open := opener
	openMu.Unlock()

	db, err := open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	snapshot, found, err := prepare(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	mem := memory.NewStore(engine, opts...)
	if found {
		mem.ImportState(snapshot)
	}
	return &Store{Store: mem, db: db, journaled: sqlstate.LastSeq(snapshot)}, nil
}

func prepare(ctx context.Context, db *sql.DB) (memory.Snapshot, bool, error) {
	if err := db.PingContext(ctx); err != nil {
		return memory.Snapshot{}, false, fmt.Errorf("ping postgres: %w", err)
	}
	if err := sqlstate.EnsureSchema(ctx, db, sqlstate.Postgres); err != nil {
		return memory.Snapshot{}, false, err
	}
	return sqlstate.Load(ctx, db)
}

// RunInTransaction commits fn in memory and then writes the result to
// Postgres. A write failure is returned with the in-memory commit intact.
func (s *Store) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (domain.Result, error) {
	res, err := s.Store.RunInTransaction(ctx, fn)
	if err != nil {
		return res, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	next, err := sqlstate.Persist(context.WithoutCancel(ctx), s.db, sqlstate.Postgres, s.ExportState(), s.journaled)
	s.journaled = next
	if err != nil {
		return res, fmt.Errorf("persist postgres snapshot: %w", err)
	}
	return res, nil
}

// Journal returns the events written to the events table after afterSeq.
func (s *Store) Journal(ctx context.Context, afterSeq uint64) ([]domain.Event, error) {
	return sqlstate.Journal(ctx, s.db, sqlstate.Postgres, afterSeq)
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying handle for tests.
func (s *Store) DB() *sql.DB { return s.db }

// UseOpener replaces the sql.Open used by NewStore and returns a restore func.
func UseOpener(fn func(driverName, dataSourceName string) (*sql.DB, error)) (restore func()) {
	openMu.Lock()
	defer openMu.Unlock()
	prev := opener
	opener = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		opener = prev
	}
}
