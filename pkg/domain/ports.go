package domain

// Currency is the fungible balance capability the registry reserves
// collateral against. Implementations belong to the surrounding ledger.
type Currency interface {
	// CanReserve reports whether who holds at least amount of free balance.
	CanReserve(who AccountID, amount Balance) bool
	// Reserve moves amount from free to reserved balance.
	Reserve(who AccountID, amount Balance) error
	// Unreserve moves up to amount from reserved back to free balance and
	// returns the part that could not be unreserved.
	Unreserve(who AccountID, amount Balance) Balance
}

// ReservedBalance is implemented by currencies that can report reservations.
type ReservedBalance interface {
	ReservedBalance(who AccountID) Balance
}

// Randomness yields per-call entropy. Two calls within the same block with the
// same subject return the same value; the registry mixes in caller and call
// index to separate calls.
type Randomness interface {
	Random(subject []byte) [32]byte
}
