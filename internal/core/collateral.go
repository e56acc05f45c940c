package core

import (
	"fmt"

	"kittycore/pkg/domain"
)

// Collateral pairs every reservation with its matching release. It holds no
// state: checks run immediately against the currency, mutations are queued
// on the transaction and applied only when it commits.
type Collateral struct {
	currency domain.Currency
	logger   Logger
}

// NewCollateral wraps currency.
func NewCollateral(currency domain.Currency, logger Logger) *Collateral {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Collateral{currency: currency, logger: logger}
}

// CanReserve reports whether who can lock amount.
func (c *Collateral) CanReserve(who AccountID, amount Balance) bool {
	return c.currency.CanReserve(who, amount)
}

// Require fails with ErrInsufficientCollateral unless who can lock amount.
func (c *Collateral) Require(who AccountID, amount Balance) error {
	if !c.currency.CanReserve(who, amount) {
		return fmt.Errorf("reserve %d for %s: %w", amount, who, ErrInsufficientCollateral)
	}
	return nil
}

// Reserve queues a reservation of amount on who.
func (c *Collateral) Reserve(tx domain.Transaction, who AccountID, amount Balance) {
	tx.OnCommit(domain.CommitHook{
		Name: fmt.Sprintf("reserve %s", who),
		Apply: func() error {
			if err := c.currency.Reserve(who, amount); err != nil {
				return fmt.Errorf("reserve %d for %s: %w: %w", amount, who, ErrInsufficientCollateral, err)
			}
			return nil
		},
		Revert: func() { c.release(who, amount) },
	})
}

// Release queues the release of amount from who.
func (c *Collateral) Release(tx domain.Transaction, who AccountID, amount Balance) {
	tx.OnCommit(domain.CommitHook{
		Name: fmt.Sprintf("release %s", who),
		Apply: func() error {
			c.release(who, amount)
			return nil
		},
		Revert: func() {
			if err := c.currency.Reserve(who, amount); err != nil {
				c.logger.Error("collateral revert failed", "account", who, "amount", amount, "error", err)
			}
		},
	})
}

// Move queues a reservation on to followed by the release on from, the
// collateral half of a transfer.
func (c *Collateral) Move(tx domain.Transaction, from, to AccountID, amount Balance) {
	c.Reserve(tx, to, amount)
	c.Release(tx, from, amount)
}

func (c *Collateral) release(who AccountID, amount Balance) {
	if short := c.currency.Unreserve(who, amount); short > 0 {
		c.logger.Warn("collateral release short", "account", who, "amount", amount, "short", short)
	}
}
