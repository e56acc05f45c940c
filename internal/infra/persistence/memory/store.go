// Package memory provides an in-memory implementation of the registry
// persistence store used for tests, ephemeral environments and as the
// transactional core of the snapshotting sql stores.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"kittycore/pkg/domain"
)

// Compile-time contract assertions ensuring memory.Store adheres to the domain persistence interfaces.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Kitty aliases domain.Kitty.
	Kitty = domain.Kitty
	// KittyID aliases domain.KittyID.
	KittyID = domain.KittyID
	// AccountID aliases domain.AccountID.
	AccountID = domain.AccountID
	// Lineage aliases domain.Lineage.
	Lineage = domain.Lineage
	// Ownership aliases domain.Ownership.
	Ownership = domain.Ownership
	// Event aliases domain.Event.
	Event = domain.Event
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

type memoryState struct {
	kitties   map[KittyID]Kitty
	owners    map[KittyID]AccountID
	owned     map[AccountID][]KittyID
	lineage   map[KittyID]Lineage
	allocator domain.KittyAllocator
	events    []Event
}

// Snapshot captures a point-in-time clone of the store state. The owner
// sets are derived from Owners and rebuilt on import.
type Snapshot struct {
	Kitties   map[KittyID]Kitty     `json:"kitties"`
	Owners    map[KittyID]AccountID `json:"owners"`
	Lineage   map[KittyID]Lineage   `json:"lineage"`
	Allocator domain.KittyAllocator `json:"allocator"`
	Events    []Event               `json:"events"`
}

func newMemoryState() memoryState {
	return memoryState{
		kitties: make(map[KittyID]Kitty),
		owners:  make(map[KittyID]AccountID),
		owned:   make(map[AccountID][]KittyID),
		lineage: make(map[KittyID]Lineage),
	}
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	s := Snapshot{
		Kitties:   make(map[KittyID]Kitty, len(state.kitties)),
		Owners:    make(map[KittyID]AccountID, len(state.owners)),
		Lineage:   make(map[KittyID]Lineage, len(state.lineage)),
		Allocator: state.allocator,
		Events:    slices.Clone(state.events),
	}
	for k, v := range state.kitties {
		s.Kitties[k] = v
	}
	for k, v := range state.owners {
		s.Owners[k] = v
	}
	for k, v := range state.lineage {
		s.Lineage[k] = cloneLineage(v)
	}
	return s
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := newMemoryState()
	for k, v := range s.Kitties {
		state.kitties[k] = v
	}
	for k, v := range s.Owners {
		state.owners[k] = v
		state.owned[v] = insertSorted(state.owned[v], k)
	}
	for k, v := range s.Lineage {
		state.lineage[k] = cloneLineage(v)
	}
	state.allocator = s.Allocator
	state.events = slices.Clone(s.Events)
	return state
}

// migrateSnapshot normalizes snapshots written by older builds or by hand:
// owner entries without a record are dropped, every kitty gets a lineage
// node, and an allocator that lags behind the stored ids is fast-forwarded.
func migrateSnapshot(snapshot Snapshot) Snapshot {
	if snapshot.Kitties == nil {
		snapshot.Kitties = map[KittyID]Kitty{}
	}
	if snapshot.Owners == nil {
		snapshot.Owners = map[KittyID]AccountID{}
	}
	if snapshot.Lineage == nil {
		snapshot.Lineage = map[KittyID]Lineage{}
	}
	for id := range snapshot.Owners {
		if _, ok := snapshot.Kitties[id]; !ok {
			delete(snapshot.Owners, id)
		}
	}
	for id, node := range snapshot.Lineage {
		if _, ok := snapshot.Kitties[id]; !ok {
			delete(snapshot.Lineage, id)
			continue
		}
		node.KittyID = id
		snapshot.Lineage[id] = node
	}
	for id := range snapshot.Kitties {
		if _, ok := snapshot.Lineage[id]; !ok {
			snapshot.Lineage[id] = Lineage{KittyID: id}
		}
		if !snapshot.Allocator.Issued || snapshot.Allocator.Last < id {
			snapshot.Allocator = domain.KittyAllocator{Last: id, Issued: true}
		}
	}
	sort.SliceStable(snapshot.Events, func(i, j int) bool { return snapshot.Events[i].Seq < snapshot.Events[j].Seq })
	return snapshot
}

func (s memoryState) clone() memoryState {
	cloned := newMemoryState()
	for k, v := range s.kitties {
		cloned.kitties[k] = v
	}
	for k, v := range s.owners {
		cloned.owners[k] = v
	}
	for k, v := range s.owned {
		cloned.owned[k] = slices.Clone(v)
	}
	for k, v := range s.lineage {
		cloned.lineage[k] = cloneLineage(v)
	}
	cloned.allocator = s.allocator
	// The journal is append-only: share the committed array with its
	// capacity clipped, so an Emit in the clone reallocates instead of
	// writing into it.
	cloned.events = slices.Clip(s.events)
	return cloned
}

func (s memoryState) lastSeq() uint64 {
	if len(s.events) == 0 {
		return 0
	}
	return s.events[len(s.events)-1].Seq
}

func cloneLineage(l Lineage) Lineage {
	cp := l
	if l.Parents != nil {
		parents := *l.Parents
		cp.Parents = &parents
	}
	cp.Children = slices.Clone(l.Children)
	cp.Partners = slices.Clone(l.Partners)
	return cp
}

func insertSorted(ids []KittyID, id KittyID) []KittyID {
	idx, found := slices.BinarySearch(ids, id)
	if found {
		return ids
	}
	return slices.Insert(ids, idx, id)
}

func removeSorted(ids []KittyID, id KittyID) []KittyID {
	idx, found := slices.BinarySearch(ids, id)
	if !found {
		return ids
	}
	return slices.Delete(ids, idx, idx+1)
}

func appendUnique(ids []KittyID, id KittyID) []KittyID {
	if slices.Contains(ids, id) {
		return ids
	}
	return append(ids, id)
}

// Store provides an in-memory transactional store for the registry.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	nowFn  func() time.Time
}

// Option customises a Store.
type Option func(*Store)

// WithNowFunc overrides the clock used to stamp records and events.
func WithNowFunc(fn func() time.Time) Option {
	return func(s *Store) {
		if fn != nil {
			s.nowFn = fn
		}
	}
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine, opts ...Option) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	s := &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(migrateSnapshot(snapshot))
}

// RulesEngine exposes the currently configured engine.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// NowFunc returns the time provider used by the in-memory store.
func (s *Store) NowFunc() func() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nowFn
}

// transaction is a mutation set applied to a private clone of the store state.
type transaction struct {
	state   memoryState
	changes []Change
	hooks   []domain.CommitHook
	now     time.Time
}

// RunInTransaction executes fn against a cloned state. The clone replaces the
// live state only when fn succeeds, no rule blocks, and every commit hook
// applies. Nothing fn did is visible otherwise.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		view := newTransactionView(&tx.state)
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	if err := applyHooks(tx.hooks); err != nil {
		return result, err
	}
	s.state = tx.state
	return result, nil
}

func applyHooks(hooks []domain.CommitHook) error {
	for i, hook := range hooks {
		if hook.Apply == nil {
			continue
		}
		if err := hook.Apply(); err != nil {
			for j := i - 1; j >= 0; j-- {
				if hooks[j].Revert != nil {
					hooks[j].Revert()
				}
			}
			return fmt.Errorf("commit hook %s: %w", hook.Name, err)
		}
	}
	return nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := s.state.clone()
	view := newTransactionView(&snapshot)
	return fn(view)
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return newTransactionView(&tx.state)
}

// InsertKitty allocates the next id and stores the record and both ownership indexes.
func (tx *transaction) InsertKitty(owner AccountID, dna domain.DNA, deposit domain.Balance) (Kitty, error) {
	id, err := tx.state.allocator.Next()
	if err != nil {
		return Kitty{}, fmt.Errorf("allocate kitty id: %w", err)
	}
	if _, exists := tx.state.kitties[id]; exists {
		return Kitty{}, fmt.Errorf("kitty %d already exists", id)
	}
	k := Kitty{ID: id, DNA: dna, Deposit: deposit, CreatedAt: tx.now}
	tx.state.kitties[id] = k
	tx.state.owners[id] = owner
	tx.state.owned[owner] = insertSorted(tx.state.owned[owner], id)
	tx.state.lineage[id] = Lineage{KittyID: id}
	tx.recordChange(Change{Entity: domain.EntityKitty, Action: domain.ActionCreate, After: k})
	tx.recordChange(Change{Entity: domain.EntityOwnership, Action: domain.ActionCreate, After: Ownership{KittyID: id, Owner: owner}})
	return k, nil
}

// FindKitty exposes kitty lookup within the transaction scope.
func (tx *transaction) FindKitty(id KittyID) (Kitty, bool) {
	k, ok := tx.state.kitties[id]
	return k, ok
}

// OwnerOf returns the current owner of id within the transaction scope.
func (tx *transaction) OwnerOf(id KittyID) (AccountID, bool) {
	owner, ok := tx.state.owners[id]
	return owner, ok
}

// IsOwnedBy reports whether owner currently holds id.
func (tx *transaction) IsOwnedBy(owner AccountID, id KittyID) bool {
	current, ok := tx.state.owners[id]
	return ok && current == owner
}

// KittiesOf returns the ids held by owner in ascending order.
func (tx *transaction) KittiesOf(owner AccountID) []KittyID {
	return slices.Clone(tx.state.owned[owner])
}

// ReassignOwner moves id to newOwner. The kitty record is not touched.
func (tx *transaction) ReassignOwner(id KittyID, newOwner AccountID) (Ownership, error) {
	current, ok := tx.state.owners[id]
	if !ok {
		return Ownership{}, fmt.Errorf("kitty %d: %w", id, domain.ErrInvalidID)
	}
	after := Ownership{KittyID: id, Owner: newOwner}
	if current == newOwner {
		return after, nil
	}
	tx.state.owned[current] = removeSorted(tx.state.owned[current], id)
	if len(tx.state.owned[current]) == 0 {
		delete(tx.state.owned, current)
	}
	tx.state.owned[newOwner] = insertSorted(tx.state.owned[newOwner], id)
	tx.state.owners[id] = newOwner
	tx.recordChange(Change{Entity: domain.EntityOwnership, Action: domain.ActionUpdate, Before: Ownership{KittyID: id, Owner: current}, After: after})
	return after, nil
}

// RecordBreeding sets the parents of child and links the parents to the
// child and to each other.
func (tx *transaction) RecordBreeding(child, a, b KittyID) error {
	if a == b {
		return fmt.Errorf("kitty %d: %w", a, domain.ErrDuplicateParent)
	}
	for _, id := range []KittyID{child, a, b} {
		if _, ok := tx.state.kitties[id]; !ok {
			return fmt.Errorf("kitty %d: %w", id, domain.ErrInvalidID)
		}
	}
	if child == a || child == b {
		return fmt.Errorf("kitty %d cannot be its own parent", child)
	}
	node := tx.state.lineage[child]
	if node.HasParents() {
		return fmt.Errorf("kitty %d already has parents", child)
	}
	before := cloneLineage(node)
	node.KittyID = child
	node.Parents = &[2]KittyID{a, b}
	tx.state.lineage[child] = node
	tx.recordChange(Change{Entity: domain.EntityLineage, Action: domain.ActionUpdate, Before: before, After: cloneLineage(node)})

	link := func(parent, partner KittyID) {
		current := tx.state.lineage[parent]
		prev := cloneLineage(current)
		current.KittyID = parent
		current.Children = appendUnique(current.Children, child)
		current.Partners = appendUnique(current.Partners, partner)
		tx.state.lineage[parent] = current
		tx.recordChange(Change{Entity: domain.EntityLineage, Action: domain.ActionUpdate, Before: prev, After: cloneLineage(current)})
	}
	link(a, b)
	link(b, a)
	return nil
}

// ParentsOf returns the parents of id, if it was bred.
func (tx *transaction) ParentsOf(id KittyID) (*[2]KittyID, bool) {
	return parentsOf(&tx.state, id)
}

// Emit journals ev and returns it with its sequence number and timestamp.
func (tx *transaction) Emit(ev Event) Event {
	ev.Seq = tx.state.lastSeq() + 1
	if ev.RecordedAt.IsZero() {
		ev.RecordedAt = tx.now
	}
	tx.state.events = append(tx.state.events, ev)
	return ev
}

// OnCommit queues hook to run when the transaction commits.
func (tx *transaction) OnCommit(hook domain.CommitHook) {
	tx.hooks = append(tx.hooks, hook)
}

func parentsOf(state *memoryState, id KittyID) (*[2]KittyID, bool) {
	node, ok := state.lineage[id]
	if !ok || node.Parents == nil {
		return nil, false
	}
	parents := *node.Parents
	return &parents, true
}

// GetKitty returns the committed record for id.
func (s *Store) GetKitty(id KittyID) (Kitty, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.state.kitties[id]
	return k, ok
}

// ListKitties returns all committed kitties ordered by id.
func (s *Store) ListKitties() []Kitty {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newTransactionView(&s.state).ListKitties()
}

// OwnerOf returns the committed owner of id.
func (s *Store) OwnerOf(id KittyID) (AccountID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	owner, ok := s.state.owners[id]
	return owner, ok
}

// ListEvents returns up to limit committed events with Seq greater than afterSeq.
// A non-positive limit returns every remaining event.
func (s *Store) ListEvents(afterSeq uint64, limit int) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return eventsAfter(s.state.events, afterSeq, limit)
}

func eventsAfter(events []Event, afterSeq uint64, limit int) []Event {
	start := sort.Search(len(events), func(i int) bool { return events[i].Seq > afterSeq })
	end := len(events)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	return slices.Clone(events[start:end])
}
