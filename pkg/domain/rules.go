package domain

import (
	"context"
	"fmt"
	"strings"
)

// Severity grades a rule violation.
type Severity string

const (
	// SeverityBlock aborts the transaction.
	SeverityBlock Severity = "block"
	// SeverityWarn is reported alongside a successful commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Action is the kind of mutation recorded in a Change. Registry records are
// never deleted, so there is no delete action.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
)

// Change is one entity mutation staged by a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Violation is a single finding raised by a rule.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID KittyID
}

// Result collects the violations of every rule run against a transaction.
type Result struct {
	Violations []Violation
}

// Merge appends the violations of other.
func (r *Result) Merge(other Result) {
	r.Violations = append(r.Violations, other.Violations...)
}

// Blocking returns the violations that abort a commit.
func (r Result) Blocking() []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			out = append(out, v)
		}
	}
	return out
}

// HasBlocking reports whether any violation aborts the commit.
func (r Result) HasBlocking() bool { return len(r.Blocking()) > 0 }

// RuleViolationError aborts a transaction whose Result has blocking
// violations.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	blocking := e.Result.Blocking()
	if len(blocking) == 0 {
		return "transaction blocked by rules"
	}
	msgs := make([]string, len(blocking))
	for i, v := range blocking {
		msgs[i] = v.Rule + ": " + v.Message
	}
	return "transaction blocked by rules: " + strings.Join(msgs, "; ")
}

// RuleView is the read-only registry state a rule inspects after the
// transaction's changes have been applied.
type RuleView interface {
	ListKitties() []Kitty
	FindKitty(id KittyID) (Kitty, bool)
	ListOwnership() []Ownership
	OwnerOf(id KittyID) (AccountID, bool)
	OwnedSet(owner AccountID) []KittyID
	ListLineage() []Lineage
	FindLineage(id KittyID) (Lineage, bool)
}

// Rule checks a staged transaction before it commits.
type Rule interface {
	Name() string
	Evaluate(ctx context.Context, view RuleView, changes []Change) (Result, error)
}

// RulesEngine runs its rules in registration order.
type RulesEngine struct {
	rules []Rule
}

func NewRulesEngine() *RulesEngine { return &RulesEngine{} }

// Register adds rule to the end of the evaluation order. Nil rules are
// ignored.
func (e *RulesEngine) Register(rule Rule) {
	if rule == nil {
		return
	}
	e.rules = append(e.rules, rule)
}

// Rules returns the registered rule names in evaluation order.
func (e *RulesEngine) Rules() []string {
	names := make([]string, len(e.rules))
	for i, rule := range e.rules {
		names[i] = rule.Name()
	}
	return names
}

// Evaluate runs every rule and merges their findings. A rule error or a
// cancelled context stops evaluation.
func (e *RulesEngine) Evaluate(ctx context.Context, view RuleView, changes []Change) (Result, error) {
	var out Result
	for _, rule := range e.rules {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		res, err := rule.Evaluate(ctx, view, changes)
		if err != nil {
			return Result{}, fmt.Errorf("rule %s: %w", rule.Name(), err)
		}
		out.Merge(res)
	}
	return out, nil
}
