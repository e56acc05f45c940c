package domain

import "context"

// CommitHook is a side effect outside the store that must apply together with
// a transaction. Apply runs after rule evaluation succeeds and before the new
// state is published; if any hook fails, the hooks already applied are
// reverted in reverse order and the transaction is discarded.
type CommitHook struct {
	Name   string
	Apply  func() error
	Revert func()
}

// Transaction exposes the registry operations a persistence implementation
// must support within an atomic scope.
type Transaction interface {
	Snapshot() TransactionView
	// InsertKitty allocates the next id and stores the record together with
	// its ownership entries.
	InsertKitty(owner AccountID, dna DNA, deposit Balance) (Kitty, error)
	FindKitty(id KittyID) (Kitty, bool)
	OwnerOf(id KittyID) (AccountID, bool)
	IsOwnedBy(owner AccountID, id KittyID) bool
	KittiesOf(owner AccountID) []KittyID
	// ReassignOwner moves id to newOwner. Only ownership indexes change.
	ReassignOwner(id KittyID, newOwner AccountID) (Ownership, error)
	// RecordBreeding links child to its parents and the parents to each other.
	RecordBreeding(child, a, b KittyID) error
	ParentsOf(id KittyID) (*[2]KittyID, bool)
	// Emit journals ev with the transaction's block and timestamp and returns
	// the sequenced event.
	Emit(ev Event) Event
	OnCommit(hook CommitHook)
}

// TransactionView provides read-only access to snapshot data.
type TransactionView interface {
	RuleView
	KittiesOf(owner AccountID) []KittyID
	ParentsOf(id KittyID) (*[2]KittyID, bool)
	ChildrenOf(id KittyID) []KittyID
	PartnersOf(id KittyID) []KittyID
	Events(afterSeq uint64, limit int) []Event
	NextKittyID() (KittyID, error)
}

// PersistentStore is a minimal abstraction over durable backends. It mirrors
// the subset of store capabilities used directly by higher layers.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	GetKitty(id KittyID) (Kitty, bool)
	ListKitties() []Kitty
	OwnerOf(id KittyID) (AccountID, bool)
	ListEvents(afterSeq uint64, limit int) []Event
}
