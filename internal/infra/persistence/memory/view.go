package memory

import (
	"slices"
	"sort"

	"kittycore/pkg/domain"
)

// transactionView exposes a read-only snapshot of the transactional state to rules.
type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) TransactionView {
	return transactionView{state: state}
}

// ListKitties returns all kitties ordered by id.
func (v transactionView) ListKitties() []Kitty {
	out := make([]Kitty, 0, len(v.state.kitties))
	for _, k := range v.state.kitties {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// FindKitty returns the kitty with id.
func (v transactionView) FindKitty(id KittyID) (Kitty, bool) {
	k, ok := v.state.kitties[id]
	return k, ok
}

// ListOwnership returns every id->owner entry ordered by id.
func (v transactionView) ListOwnership() []Ownership {
	out := make([]Ownership, 0, len(v.state.owners))
	for id, owner := range v.state.owners {
		out = append(out, Ownership{KittyID: id, Owner: owner})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].KittyID < out[j].KittyID })
	return out
}

// OwnerOf returns the owner of id.
func (v transactionView) OwnerOf(id KittyID) (AccountID, bool) {
	owner, ok := v.state.owners[id]
	return owner, ok
}

// OwnedSet returns the owner->ids index entry for owner.
func (v transactionView) OwnedSet(owner AccountID) []KittyID {
	return slices.Clone(v.state.owned[owner])
}

// KittiesOf returns the ids held by owner in ascending order.
func (v transactionView) KittiesOf(owner AccountID) []KittyID {
	return v.OwnedSet(owner)
}

// ListLineage returns every graph node ordered by id.
func (v transactionView) ListLineage() []Lineage {
	out := make([]Lineage, 0, len(v.state.lineage))
	for _, node := range v.state.lineage {
		out = append(out, cloneLineage(node))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].KittyID < out[j].KittyID })
	return out
}

// FindLineage returns the graph node for id.
func (v transactionView) FindLineage(id KittyID) (Lineage, bool) {
	node, ok := v.state.lineage[id]
	if !ok {
		return Lineage{}, false
	}
	return cloneLineage(node), true
}

func (v transactionView) ParentsOf(id KittyID) (*[2]KittyID, bool) {
	return parentsOf(v.state, id)
}

func (v transactionView) ChildrenOf(id KittyID) []KittyID {
	return slices.Clone(v.state.lineage[id].Children)
}

func (v transactionView) PartnersOf(id KittyID) []KittyID {
	return slices.Clone(v.state.lineage[id].Partners)
}

// Events returns up to limit journaled events after afterSeq.
func (v transactionView) Events(afterSeq uint64, limit int) []Event {
	return eventsAfter(v.state.events, afterSeq, limit)
}

// NextKittyID reports the id the next insert would receive.
func (v transactionView) NextKittyID() (KittyID, error) {
	return v.state.allocator.Peek()
}

var _ domain.TransactionView = transactionView{}
