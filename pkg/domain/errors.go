package domain

import "errors"

// Registry error kinds. Call sites wrap these with the offending id or
// account; callers match with errors.Is. None of them are retried internally.
var (
	// ErrOverflow reports an exhausted id space. No further kitty can be minted.
	ErrOverflow = errors.New("kitty id overflow")
	// ErrInvalidID reports a kitty that does not exist or is not owned by the caller.
	ErrInvalidID = errors.New("invalid kitty id")
	// ErrDuplicateParent reports an attempt to breed a kitty with itself.
	ErrDuplicateParent = errors.New("breeding requires two different parents")
	// ErrInsufficientCollateral reports an account that cannot reserve the deposit.
	ErrInsufficientCollateral = errors.New("insufficient collateral")
)
