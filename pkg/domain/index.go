package domain

// Index is the contract an entity id type must satisfy: a totally ordered
// unsigned integer with a zero default and a detectable maximum.
type Index interface {
	~uint8 | ~uint16 | ~uint32 | ~uint64
}

// NextIndex returns i+1, or false when i is already the maximum value of T.
func NextIndex[T Index](i T) (T, bool) {
	if i == ^T(0) {
		return i, false
	}
	return i + 1, true
}

// Allocator issues strictly increasing ids. The first id is the zero value.
// It is a plain value so the transactional store can clone and discard it
// together with the rest of an uncommitted transaction.
type Allocator[T Index] struct {
	Last   T    `json:"last"`
	Issued bool `json:"issued"`
}

// Next returns the next id and advances the high-water mark. Once the maximum
// id has been handed out every further call fails with ErrOverflow.
func (a *Allocator[T]) Next() (T, error) {
	if !a.Issued {
		var zero T
		a.Last = zero
		a.Issued = true
		return zero, nil
	}
	next, ok := NextIndex(a.Last)
	if !ok {
		return a.Last, ErrOverflow
	}
	a.Last = next
	return next, nil
}

// Peek reports the id the next call to Next would return without advancing.
func (a Allocator[T]) Peek() (T, error) {
	return a.Next()
}

// KittyAllocator is the allocator for the registry's id space.
type KittyAllocator = Allocator[KittyID]
