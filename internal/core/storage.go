package core

import (
	"context"
	"fmt"

	"kittycore/internal/infra/persistence/memory"
	"kittycore/internal/infra/persistence/postgres"
	"kittycore/internal/infra/persistence/sqlite"
)

// StorageDriver identifies a concrete persistent storage implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// ParseStorageDriver validates a driver name. An empty name selects sqlite.
func ParseStorageDriver(name string) (StorageDriver, error) {
	switch StorageDriver(name) {
	case "":
		return StorageSQLite, nil
	case StorageMemory, StorageSQLite, StoragePostgres:
		return StorageDriver(name), nil
	default:
		return "", fmt.Errorf("unknown storage driver %q", name)
	}
}

// StorageOptions selects and configures a backend.
type StorageOptions struct {
	Driver      StorageDriver
	SQLitePath  string
	PostgresDSN string
}

// OpenPersistentStore opens the backend named by opts. Callers own the
// returned closer; it is a no-op for the memory driver.
func OpenPersistentStore(ctx context.Context, opts StorageOptions, engine *RulesEngine) (PersistentStore, func() error, error) {
	driver, err := ParseStorageDriver(string(opts.Driver))
	if err != nil {
		return nil, nil, err
	}
	switch driver {
	case StorageMemory:
		return memory.NewStore(engine), func() error { return nil }, nil
	case StorageSQLite:
		store, err := NewSQLiteStore(opts.SQLitePath, engine)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		store, err := NewPostgresStore(ctx, opts.PostgresDSN, engine)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	}
}

// NewSQLiteStore constructs a SQLite-backed persistent store using the
// provided file path (may be empty for default) and rules engine.
func NewSQLiteStore(path string, engine *RulesEngine) (*SQLiteStore, error) {
	return sqlite.NewStore(path, engine)
}

// NewPostgresStore constructs a Postgres-backed store from the provided DSN.
func NewPostgresStore(ctx context.Context, dsn string, engine *RulesEngine) (*PostgresStore, error) {
	return postgres.NewStore(ctx, dsn, engine)
}
