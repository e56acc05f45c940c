package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"kittycore/internal/genetics"
	"kittycore/pkg/domain"
)

// PersistentStore is the storage contract the service runs its transactions on.
type PersistentStore = domain.PersistentStore

// Service is the kitty registry. Every mutating call runs inside one store
// transaction under a single service-wide lock, so calls are serialized and
// either apply completely or leave no trace.
type Service struct {
	mu         sync.Mutex
	store      PersistentStore
	currency   domain.Currency
	randomness domain.Randomness
	collateral *Collateral

	deposit Balance
	logger  Logger
	metrics MetricsRecorder
	tracer  Tracer
	audit   AuditRecorder
	clock   Clock
	now     func() time.Time
	sinks   []EventSink
}

// NewService wires a registry on top of store, reserving collateral through
// currency and drawing DNA entropy from rnd.
func NewService(store PersistentStore, currency domain.Currency, rnd domain.Randomness, opts ...Option) *Service {
	svc := &Service{
		store:      store,
		currency:   currency,
		randomness: rnd,
		deposit:    DefaultDeposit,
		logger:     noopLogger{},
		metrics:    noopMetricsRecorder{},
		tracer:     noopTracer{},
		audit:      noopAuditRecorder{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	svc.collateral = NewCollateral(currency, svc.logger)
	svc.now = selectNowFunc(store, svc.clock)
	return svc
}

// NewInMemoryService creates a service over a fresh in-memory store guarded by
// the default registry rules.
func NewInMemoryService(currency domain.Currency, rnd domain.Randomness, opts ...Option) *Service {
	return NewService(NewMemoryStore(NewDefaultRulesEngine()), currency, rnd, opts...)
}

// Store returns the underlying storage implementation.
func (s *Service) Store() PersistentStore {
	return s.store
}

// Deposit returns the collateral reserved per kitty.
func (s *Service) Deposit() Balance {
	return s.deposit
}

// Rules lists the names of the rules guarding every commit, or nil when the
// store does not expose its engine.
func (s *Service) Rules() []string {
	engine := extractRulesEngine(s.store)
	if engine == nil {
		return nil
	}
	return engine.Rules()
}

// Create mints a kitty with fresh DNA for the caller and locks the deposit.
func (s *Service) Create(ctx context.Context, origin Origin) (Kitty, Result, error) {
	var created Kitty
	res, err := s.run(ctx, opCreate, origin, func(c *call) error {
		caller := origin.Caller
		if err := s.collateral.Require(caller, s.deposit); err != nil {
			return err
		}
		dna := genetics.DeriveSeed(s.randomness, caller, origin.CallIndex)
		kitty, err := c.tx.InsertKitty(caller, dna, s.deposit)
		if err != nil {
			return fmt.Errorf("create kitty for %s: %w", caller, err)
		}
		c.target = kitty.ID
		s.collateral.Reserve(c.tx, caller, s.deposit)
		c.emit(domain.Created(caller, kitty.ID, kitty.Deposit))
		created = kitty
		return nil
	})
	return created, res, err
}

// Transfer hands id from the caller to to, moving its deposit along with it.
// Transferring to oneself succeeds without any effect.
func (s *Service) Transfer(ctx context.Context, origin Origin, to AccountID, id KittyID) (Ownership, Result, error) {
	var ownership Ownership
	res, err := s.run(ctx, opTransfer, origin, func(c *call) error {
		caller := origin.Caller
		c.target = id
		if !c.tx.IsOwnedBy(caller, id) {
			return fmt.Errorf("transfer kitty %d: not owned by %s: %w", id, caller, ErrInvalidID)
		}
		if to == caller {
			ownership = Ownership{KittyID: id, Owner: caller}
			return nil
		}
		kitty, ok := c.tx.FindKitty(id)
		if !ok {
			return fmt.Errorf("transfer kitty %d: %w", id, ErrInvalidID)
		}
		if err := s.collateral.Require(to, kitty.Deposit); err != nil {
			return fmt.Errorf("transfer kitty %d: %w", id, err)
		}
		s.collateral.Move(c.tx, caller, to, kitty.Deposit)
		moved, err := c.tx.ReassignOwner(id, to)
		if err != nil {
			return fmt.Errorf("transfer kitty %d: %w", id, err)
		}
		c.emit(domain.Transferred(caller, to, id, kitty.Deposit))
		ownership = moved
		return nil
	})
	return ownership, res, err
}

// Breed mints a child of two kitties owned by the caller. The child's DNA
// takes each bit from a or b under a fresh random selector.
func (s *Service) Breed(ctx context.Context, origin Origin, a, b KittyID) (Kitty, Result, error) {
	var child Kitty
	res, err := s.run(ctx, opBreed, origin, func(c *call) error {
		caller := origin.Caller
		for _, parent := range []KittyID{a, b} {
			if !c.tx.IsOwnedBy(caller, parent) {
				return fmt.Errorf("breed kitty %d: not owned by %s: %w", parent, caller, ErrInvalidID)
			}
		}
		if a == b {
			return fmt.Errorf("breed kitty %d with itself: %w", a, ErrDuplicateParent)
		}
		if err := s.collateral.Require(caller, s.deposit); err != nil {
			return fmt.Errorf("breed kitties %d and %d: %w", a, b, err)
		}
		parentA, _ := c.tx.FindKitty(a)
		parentB, _ := c.tx.FindKitty(b)
		selector := genetics.DeriveSeed(s.randomness, caller, origin.CallIndex)
		dna := genetics.Crossover(parentA.DNA, parentB.DNA, selector)

		kitty, err := c.tx.InsertKitty(caller, dna, s.deposit)
		if err != nil {
			return fmt.Errorf("breed kitties %d and %d: %w", a, b, err)
		}
		c.target = kitty.ID
		if err := c.tx.RecordBreeding(kitty.ID, a, b); err != nil {
			return fmt.Errorf("breed kitties %d and %d: %w", a, b, err)
		}
		s.collateral.Reserve(c.tx, caller, s.deposit)
		c.emit(domain.Created(caller, kitty.ID, kitty.Deposit))
		child = kitty
		return nil
	})
	return child, res, err
}

// Kitty returns the record stored under id.
func (s *Service) Kitty(id KittyID) (Kitty, bool) {
	return s.store.GetKitty(id)
}

// OwnerOf returns the current owner of id.
func (s *Service) OwnerOf(id KittyID) (AccountID, bool) {
	return s.store.OwnerOf(id)
}

// KittiesOf returns the ids held by owner in ascending order.
func (s *Service) KittiesOf(ctx context.Context, owner AccountID) ([]KittyID, error) {
	var ids []KittyID
	err := s.store.View(ctx, func(view domain.TransactionView) error {
		ids = view.KittiesOf(owner)
		return nil
	})
	return ids, err
}

// NextKittyID reports the id the next create or breed would mint, or
// ErrOverflow once the id space is exhausted.
func (s *Service) NextKittyID(ctx context.Context) (KittyID, error) {
	var next KittyID
	err := s.store.View(ctx, func(view domain.TransactionView) error {
		var err error
		next, err = view.NextKittyID()
		return err
	})
	return next, err
}

// Parents returns the ordered parent pair of id, or nil when id was created
// rather than bred.
func (s *Service) Parents(ctx context.Context, id KittyID) (*[2]KittyID, error) {
	var parents *[2]KittyID
	err := s.store.View(ctx, func(view domain.TransactionView) error {
		if _, ok := view.FindKitty(id); !ok {
			return fmt.Errorf("parents of kitty %d: %w", id, ErrInvalidID)
		}
		parents, _ = view.ParentsOf(id)
		return nil
	})
	return parents, err
}

// Children returns every kitty bred with id as a parent.
func (s *Service) Children(ctx context.Context, id KittyID) ([]KittyID, error) {
	return s.relations(ctx, "children", id, domain.TransactionView.ChildrenOf)
}

// Partners returns every kitty id has been bred with.
func (s *Service) Partners(ctx context.Context, id KittyID) ([]KittyID, error) {
	return s.relations(ctx, "partners", id, domain.TransactionView.PartnersOf)
}

func (s *Service) relations(ctx context.Context, label string, id KittyID, read func(domain.TransactionView, KittyID) []KittyID) ([]KittyID, error) {
	var out []KittyID
	err := s.store.View(ctx, func(view domain.TransactionView) error {
		if _, ok := view.FindKitty(id); !ok {
			return fmt.Errorf("%s of kitty %d: %w", label, id, ErrInvalidID)
		}
		out = read(view, id)
		return nil
	})
	return out, err
}

// Events returns up to limit journaled events with a sequence number greater
// than afterSeq. A non-positive limit returns all of them.
func (s *Service) Events(afterSeq uint64, limit int) []Event {
	return s.store.ListEvents(afterSeq, limit)
}

// ErrExportUnsupported is returned by ExportState for stores without an
// export facility.
var ErrExportUnsupported = errors.New("store cannot export state")

// ExportState returns the full registry state under the service lock.
func (s *Service) ExportState() (StateSnapshot, error) {
	exporter, ok := s.store.(StateExporter)
	if !ok {
		return StateSnapshot{}, ErrExportUnsupported
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return exporter.ExportState(), nil
}

// ErrReservedBalanceUnsupported is returned by AuditCollateral when the
// currency cannot report reservations.
var ErrReservedBalanceUnsupported = errors.New("currency does not report reserved balances")

// CollateralMismatch describes an account whose reserved balance differs
// from the deposits of the kitties it owns.
type CollateralMismatch struct {
	Account  AccountID `json:"account"`
	Expected Balance   `json:"expected"`
	Reserved Balance   `json:"reserved"`
}

// AuditCollateral compares, for every owner, the deposits of its kitties
// with the reserved balance the currency reports.
func (s *Service) AuditCollateral(ctx context.Context) ([]CollateralMismatch, error) {
	reporter, ok := s.currency.(domain.ReservedBalance)
	if !ok {
		return nil, ErrReservedBalanceUnsupported
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	expected := make(map[AccountID]Balance)
	err := s.store.View(ctx, func(view domain.TransactionView) error {
		for _, entry := range view.ListOwnership() {
			kitty, ok := view.FindKitty(entry.KittyID)
			if !ok {
				return fmt.Errorf("audit collateral: kitty %d: %w", entry.KittyID, ErrInvalidID)
			}
			expected[entry.Owner] += kitty.Deposit
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var mismatches []CollateralMismatch
	for account, want := range expected {
		if got := reporter.ReservedBalance(account); got != want {
			mismatches = append(mismatches, CollateralMismatch{Account: account, Expected: want, Reserved: got})
		}
	}
	sort.Slice(mismatches, func(i, j int) bool { return mismatches[i].Account < mismatches[j].Account })
	if len(mismatches) > 0 {
		s.logger.Warn("collateral audit found mismatches", "accounts", len(mismatches))
	}
	return mismatches, nil
}

// call carries the per-transaction state of one service operation.
type call struct {
	tx     domain.Transaction
	origin Origin
	target KittyID
	events []Event
}

func (c *call) emit(ev Event) {
	ev.Block = c.origin.Block
	ev.CallIndex = c.origin.CallIndex
	c.events = append(c.events, c.tx.Emit(ev))
}

func (s *Service) run(ctx context.Context, op string, origin Origin, fn func(*call) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, span := s.tracer.Start(ctx, op)
	started := time.Now()
	c := &call{origin: origin}
	res, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		c.tx = tx
		c.events = nil
		return fn(c)
	})
	duration := time.Since(started)

	span.End(err)
	s.metrics.Observe(ctx, op, err == nil, duration)
	s.recordAudit(ctx, op, origin.Caller, c.target, err, duration)

	if err != nil {
		s.logger.Warn("operation failed", "operation", op, "caller", origin.Caller, "error", err)
		return res, err
	}
	for _, v := range res.Violations {
		s.logger.Warn("rule violation", "operation", op, "rule", v.Rule, "severity", v.Severity, "message", v.Message)
	}
	s.logger.Debug("operation committed", "operation", op, "caller", origin.Caller, "events", len(c.events))
	if len(c.events) > 0 {
		for _, sink := range s.sinks {
			sink.Publish(ctx, c.events)
		}
	}
	return res, nil
}

func (s *Service) recordAudit(ctx context.Context, op string, caller AccountID, id KittyID, err error, duration time.Duration) {
	meta := operationMetadata[op]
	entry := AuditEntry{
		Operation: op,
		Status:    AuditStatusSuccess,
		Caller:    caller,
		Entity:    meta.entity,
		Action:    meta.action,
		EntityID:  id,
		Duration:  duration,
		Timestamp: s.now(),
	}
	if err != nil {
		entry.Status = AuditStatusError
		entry.Error = err.Error()
	}
	s.audit.Record(ctx, entry)
}

type rulesEngineProvider interface {
	RulesEngine() *RulesEngine
}

type nowFuncProvider interface {
	NowFunc() func() time.Time
}

func extractRulesEngine(store PersistentStore) *RulesEngine {
	if provider, ok := store.(rulesEngineProvider); ok {
		return provider.RulesEngine()
	}
	return nil
}

// selectNowFunc picks the audit clock: the configured clock, then the
// store's clock so timestamps match the records it writes, then the wall clock.
func selectNowFunc(store PersistentStore, clock Clock) func() time.Time {
	if clock != nil {
		return clock.Now
	}
	if provider, ok := store.(nowFuncProvider); ok {
		if fn := provider.NowFunc(); fn != nil {
			return func() time.Time { return fn().UTC() }
		}
	}
	return ClockFunc(nil).Now
}
