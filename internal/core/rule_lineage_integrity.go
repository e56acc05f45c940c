package core

import (
	"context"
	"fmt"

	"kittycore/pkg/domain"
)

// LineageIntegrityRule enforces the relationship graph invariants: parents
// exist, differ and never change once set; children and partners are
// duplicate free and never point back at the node itself.
func LineageIntegrityRule() domain.Rule {
	return lineageIntegrityRule{}
}

type lineageIntegrityRule struct{}

func (lineageIntegrityRule) Name() string { return "lineage_integrity" }

func (lineageIntegrityRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}

	for _, node := range view.ListLineage() {
		id := node.KittyID
		if _, ok := view.FindKitty(id); !ok {
			res.Violations = append(res.Violations, lineageViolation(id, fmt.Sprintf("lineage node %d has no kitty record", id)))
			continue
		}
		if node.Parents != nil {
			a, b := node.Parents[0], node.Parents[1]
			if a == b {
				res.Violations = append(res.Violations, lineageViolation(id, fmt.Sprintf("kitty %d lists parent %d twice", id, a)))
			}
			for _, parent := range []domain.KittyID{a, b} {
				if parent == id {
					res.Violations = append(res.Violations, lineageViolation(id, fmt.Sprintf("kitty %d references itself as a parent", id)))
					continue
				}
				if _, ok := view.FindKitty(parent); !ok {
					res.Violations = append(res.Violations, lineageViolation(id, fmt.Sprintf("kitty %d references missing parent %d", id, parent)))
				}
			}
		}
		checkSet(&res, id, "child", node.Children, view)
		checkSet(&res, id, "partner", node.Partners, view)
	}

	for _, change := range changes {
		if change.Entity != domain.EntityLineage || change.Action != domain.ActionUpdate {
			continue
		}
		before, okBefore := change.Before.(domain.Lineage)
		after, okAfter := change.After.(domain.Lineage)
		if !okBefore || !okAfter || before.Parents == nil {
			continue
		}
		if after.Parents == nil || *after.Parents != *before.Parents {
			res.Violations = append(res.Violations, lineageViolation(before.KittyID, fmt.Sprintf("kitty %d parents are immutable", before.KittyID)))
		}
	}

	return res, nil
}

func checkSet(res *domain.Result, id domain.KittyID, role string, members []domain.KittyID, view domain.RuleView) {
	seen := make(map[domain.KittyID]struct{}, len(members))
	for _, member := range members {
		if member == id {
			res.Violations = append(res.Violations, lineageViolation(id, fmt.Sprintf("kitty %d lists itself as %s", id, role)))
			continue
		}
		if _, dup := seen[member]; dup {
			res.Violations = append(res.Violations, lineageViolation(id, fmt.Sprintf("kitty %d lists %s %d multiple times", id, role, member)))
			continue
		}
		seen[member] = struct{}{}
		if _, ok := view.FindKitty(member); !ok {
			res.Violations = append(res.Violations, lineageViolation(id, fmt.Sprintf("kitty %d references missing %s %d", id, role, member)))
		}
	}
}

func lineageViolation(id domain.KittyID, message string) domain.Violation {
	return domain.Violation{
		Rule:     "lineage_integrity",
		Severity: domain.SeverityBlock,
		Message:  message,
		Entity:   domain.EntityLineage,
		EntityID: id,
	}
}
