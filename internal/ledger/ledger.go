// Package ledger is an in-process reservable balance ledger. It backs the
// registry's collateral in tests and in the CLI, standing in for the
// surrounding chain's balances module.
package ledger

import (
	"errors"
	"fmt"
	"maps"
	"sort"
	"sync"

	"kittycore/pkg/domain"
)

var (
	_ domain.Currency        = (*Ledger)(nil)
	_ domain.ReservedBalance = (*Ledger)(nil)
)

// ErrInsufficientBalance is returned when free balance cannot cover a reservation.
var ErrInsufficientBalance = errors.New("insufficient free balance")

// Account holds the two balance buckets of one account.
type Account struct {
	Free     domain.Balance `json:"free"`
	Reserved domain.Balance `json:"reserved"`
}

// Total returns free plus reserved balance.
func (a Account) Total() domain.Balance { return a.Free + a.Reserved }

// Ledger tracks free and reserved balances per account.
type Ledger struct {
	mu       sync.RWMutex
	accounts map[domain.AccountID]Account
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{accounts: make(map[domain.AccountID]Account)}
}

// SetFree sets the free balance of who, leaving reservations untouched.
func (l *Ledger) SetFree(who domain.AccountID, amount domain.Balance) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct := l.accounts[who]
	acct.Free = amount
	l.accounts[who] = acct
}

// Account returns the balances of who.
func (l *Ledger) Account(who domain.AccountID) Account {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.accounts[who]
}

// FreeBalance returns the free balance of who.
func (l *Ledger) FreeBalance(who domain.AccountID) domain.Balance {
	return l.Account(who).Free
}

// ReservedBalance returns the reserved balance of who.
func (l *Ledger) ReservedBalance(who domain.AccountID) domain.Balance {
	return l.Account(who).Reserved
}

// CanReserve reports whether who has at least amount free.
func (l *Ledger) CanReserve(who domain.AccountID, amount domain.Balance) bool {
	return l.Account(who).Free >= amount
}

// Reserve moves amount from free to reserved.
func (l *Ledger) Reserve(who domain.AccountID, amount domain.Balance) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct := l.accounts[who]
	if acct.Free < amount {
		return fmt.Errorf("reserve %d for %s (free %d): %w", amount, who, acct.Free, ErrInsufficientBalance)
	}
	acct.Free -= amount
	acct.Reserved += amount
	l.accounts[who] = acct
	return nil
}

// Unreserve moves up to amount back to free and returns the shortfall.
func (l *Ledger) Unreserve(who domain.AccountID, amount domain.Balance) domain.Balance {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct := l.accounts[who]
	actual := min(amount, acct.Reserved)
	acct.Reserved -= actual
	acct.Free += actual
	l.accounts[who] = acct
	return amount - actual
}

// Accounts returns the known account ids in sorted order.
func (l *Ledger) Accounts() []domain.AccountID {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.AccountID, 0, len(l.accounts))
	for id := range l.accounts {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Snapshot returns a copy of every account.
func (l *Ledger) Snapshot() map[domain.AccountID]Account {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return maps.Clone(l.accounts)
}

// Restore replaces the ledger contents with snapshot.
func (l *Ledger) Restore(snapshot map[domain.AccountID]Account) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.accounts = make(map[domain.AccountID]Account, len(snapshot))
	maps.Copy(l.accounts, snapshot)
}
