package core

import "kittycore/pkg/domain"

type (
	EntityType         = domain.EntityType
	Severity           = domain.Severity
	Kitty              = domain.Kitty
	KittyID            = domain.KittyID
	AccountID          = domain.AccountID
	Balance            = domain.Balance
	DNA                = domain.DNA
	Lineage            = domain.Lineage
	Ownership          = domain.Ownership
	Origin             = domain.Origin
	Event              = domain.Event
	Change             = domain.Change
	Action             = domain.Action
	Violation          = domain.Violation
	Result             = domain.Result
	RuleViolationError = domain.RuleViolationError
	RulesEngine        = domain.RulesEngine
)

const (
	EntityKitty     = domain.EntityKitty
	EntityOwnership = domain.EntityOwnership
	EntityLineage   = domain.EntityLineage
)

const (
	SeverityBlock = domain.SeverityBlock
	SeverityWarn  = domain.SeverityWarn
	SeverityLog   = domain.SeverityLog
)

const (
	ActionCreate = domain.ActionCreate
	ActionUpdate = domain.ActionUpdate
)

var (
	ErrOverflow               = domain.ErrOverflow
	ErrInvalidID              = domain.ErrInvalidID
	ErrDuplicateParent        = domain.ErrDuplicateParent
	ErrInsufficientCollateral = domain.ErrInsufficientCollateral
)
