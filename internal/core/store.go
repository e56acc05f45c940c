package core

import (
	"kittycore/internal/infra/persistence/memory"
	"kittycore/internal/infra/persistence/postgres"
	"kittycore/internal/infra/persistence/sqlite"
)

type (
	// MemoryStore is the in-memory transactional registry store.
	MemoryStore = memory.Store
	// SQLiteStore snapshots the registry to an embedded SQLite file.
	SQLiteStore = sqlite.Store
	// PostgresStore snapshots the registry to a PostgreSQL table.
	PostgresStore = postgres.Store
)

// NewMemoryStore constructs an in-memory store backed by the provided rules engine.
func NewMemoryStore(engine *RulesEngine) *MemoryStore {
	return memory.NewStore(engine)
}

// StateSnapshot is the exported form of the whole registry.
type StateSnapshot = memory.Snapshot

// StateExporter is implemented by stores that can export their full state.
type StateExporter interface {
	ExportState() StateSnapshot
}
