package memory

import (
	"testing"

	"kittycore/pkg/domain"
)

func TestMigrateSnapshotNormalizesState(t *testing.T) {
	snapshot := Snapshot{
		Kitties: map[domain.KittyID]domain.Kitty{
			3: {ID: 3},
			5: {ID: 5},
		},
		Owners: map[domain.KittyID]domain.AccountID{
			3: "alice",
			5: "alice",
			7: "ghost",
		},
		Lineage: map[domain.KittyID]domain.Lineage{
			9: {KittyID: 9},
		},
	}
	got := migrateSnapshot(snapshot)
	if _, ok := got.Owners[7]; ok {
		t.Fatalf("expected orphan owner entry to be dropped")
	}
	if _, ok := got.Lineage[9]; ok {
		t.Fatalf("expected orphan lineage node to be dropped")
	}
	if _, ok := got.Lineage[5]; !ok {
		t.Fatalf("expected lineage node for kitty 5")
	}
	if !got.Allocator.Issued || got.Allocator.Last != 5 {
		t.Fatalf("expected allocator fast-forwarded to 5, got %+v", got.Allocator)
	}
}

func TestImportRebuildsOwnerSets(t *testing.T) {
	store := NewStore(nil)
	store.ImportState(Snapshot{
		Kitties: map[domain.KittyID]domain.Kitty{0: {ID: 0}, 1: {ID: 1}, 2: {ID: 2}},
		Owners:  map[domain.KittyID]domain.AccountID{2: "alice", 0: "alice", 1: "bob"},
	})
	view := newTransactionView(&store.state)
	if got := view.KittiesOf("alice"); len(got) != 2 || got[0] != 0 || got[1] != 2 {
		t.Fatalf("expected sorted owner set [0 2], got %v", got)
	}
}

func TestNilSnapshotMapsAreInitialised(t *testing.T) {
	got := migrateSnapshot(Snapshot{})
	if got.Kitties == nil || got.Owners == nil || got.Lineage == nil {
		t.Fatalf("expected non-nil maps, got %+v", got)
	}
	if got.Allocator.Issued {
		t.Fatalf("empty snapshot must keep a fresh allocator")
	}
}
