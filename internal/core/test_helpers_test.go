package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"kittycore/internal/ledger"
	"kittycore/pkg/domain"
)

const (
	alice AccountID = "alice"
	bob   AccountID = "bob"
)

type fixedRandomness [32]byte

func (r fixedRandomness) Random([]byte) [32]byte { return r }

func newTestService(t *testing.T, opts ...Option) (*Service, *ledger.Ledger) {
	t.Helper()
	book := ledger.New()
	rnd := fixedRandomness{1, 2, 3, 4, 5, 6, 7, 8}
	return NewInMemoryService(book, rnd, opts...), book
}

func newFundedLedger(who AccountID, amount Balance) *ledger.Ledger {
	book := ledger.New()
	book.SetFree(who, amount)
	return book
}

func at(caller AccountID, index uint32) Origin {
	return Origin{Caller: caller, Block: 1, CallIndex: index}
}

func mustCreate(t *testing.T, svc *Service, origin Origin) Kitty {
	t.Helper()
	kitty, _, err := svc.Create(context.Background(), origin)
	if err != nil {
		t.Fatalf("create for %s: %v", origin.Caller, err)
	}
	return kitty
}

type auditRecorderStub struct {
	mu      sync.Mutex
	entries []AuditEntry
}

func (r *auditRecorderStub) Record(_ context.Context, entry AuditEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
}

type metricsCall struct {
	operation string
	success   bool
}

type metricsRecorderStub struct {
	calls []metricsCall
}

func (m *metricsRecorderStub) Observe(_ context.Context, operation string, success bool, _ time.Duration) {
	m.calls = append(m.calls, metricsCall{operation: operation, success: success})
}

type logEntry struct {
	level string
	msg   string
}

type recordingLogger struct {
	entries []logEntry
}

func (l *recordingLogger) Debug(msg string, _ ...any) { l.add("debug", msg) }
func (l *recordingLogger) Info(msg string, _ ...any)  { l.add("info", msg) }
func (l *recordingLogger) Warn(msg string, _ ...any)  { l.add("warn", msg) }
func (l *recordingLogger) Error(msg string, _ ...any) { l.add("error", msg) }

func (l *recordingLogger) add(level, msg string) {
	l.entries = append(l.entries, logEntry{level: level, msg: msg})
}

// refusingCurrency approves every check but fails the actual reservation.
type refusingCurrency struct {
	unreserved []AccountID
}

func (c *refusingCurrency) CanReserve(AccountID, Balance) bool { return true }

func (c *refusingCurrency) Reserve(AccountID, Balance) error {
	return errors.New("ledger offline")
}

func (c *refusingCurrency) Unreserve(who AccountID, _ Balance) Balance {
	c.unreserved = append(c.unreserved, who)
	return 0
}

// fakePersistentStore satisfies PersistentStore without exposing an engine or clock.
type fakePersistentStore struct{}

func (fakePersistentStore) RunInTransaction(context.Context, func(domain.Transaction) error) (Result, error) {
	return Result{}, nil
}

func (fakePersistentStore) View(context.Context, func(domain.TransactionView) error) error {
	return nil
}

func (fakePersistentStore) GetKitty(KittyID) (Kitty, bool)    { return Kitty{}, false }
func (fakePersistentStore) ListKitties() []Kitty              { return nil }
func (fakePersistentStore) OwnerOf(KittyID) (AccountID, bool) { return "", false }
func (fakePersistentStore) ListEvents(uint64, int) []Event    { return nil }
