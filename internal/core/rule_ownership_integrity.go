package core

import (
	"context"
	"fmt"
	"slices"

	"kittycore/pkg/domain"
)

// OwnershipIntegrityRule checks that the id->owner index and the per-owner
// sets describe the same assignment and that every kitty has exactly one owner.
func OwnershipIntegrityRule() domain.Rule {
	return ownershipIntegrityRule{}
}

type ownershipIntegrityRule struct{}

func (ownershipIntegrityRule) Name() string { return "ownership_integrity" }

func (ownershipIntegrityRule) Evaluate(_ context.Context, view domain.RuleView, _ []domain.Change) (domain.Result, error) {
	res := domain.Result{}

	held := make(map[domain.AccountID]int)
	for _, entry := range view.ListOwnership() {
		if _, ok := view.FindKitty(entry.KittyID); !ok {
			res.Violations = append(res.Violations, ownershipViolation(entry.KittyID, fmt.Sprintf("owner entry for kitty %d has no record", entry.KittyID)))
			continue
		}
		if _, found := slices.BinarySearch(view.OwnedSet(entry.Owner), entry.KittyID); !found {
			res.Violations = append(res.Violations, ownershipViolation(entry.KittyID, fmt.Sprintf("kitty %d missing from owner set of %s", entry.KittyID, entry.Owner)))
		}
		held[entry.Owner]++
	}

	for owner, count := range held {
		if got := len(view.OwnedSet(owner)); got != count {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "ownership_integrity",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("owner set of %s holds %d ids, index assigns %d", owner, got, count),
				Entity:   domain.EntityOwnership,
			})
		}
	}

	for _, k := range view.ListKitties() {
		if _, ok := view.OwnerOf(k.ID); !ok {
			res.Violations = append(res.Violations, ownershipViolation(k.ID, fmt.Sprintf("kitty %d has no owner", k.ID)))
		}
	}

	return res, nil
}

func ownershipViolation(id domain.KittyID, message string) domain.Violation {
	return domain.Violation{
		Rule:     "ownership_integrity",
		Severity: domain.SeverityBlock,
		Message:  message,
		Entity:   domain.EntityOwnership,
		EntityID: id,
	}
}
