package sequence

import "context"

// CounterRepository persists one counter row per key.
// LockCounter and SetCounter must run inside a transaction; the lock taken by
// LockCounter is held until that transaction commits or rolls back.
type CounterRepository interface {
	// GetOrCreate returns the counter, creating it at zero if absent.
	// Concurrent creators converge on the same row.
	GetOrCreate(ctx context.Context, key Key) (*Counter, error)
	// LockCounter takes the exclusive lock on the row and returns its current state
	LockCounter(ctx context.Context, key Key) (*Counter, error)
	// SetCounter moves the row from expected to value and returns the stored value.
	// It fails with ErrAllocationFailed when no row matched.
	SetCounter(ctx context.Context, key Key, expected, value int64) (int64, error)
	ListCounters(ctx context.Context) ([]*Counter, error)
}

// FloorReader reads the highest number already persisted for a key.
// Items can arrive through paths that bypass the allocator, so this is the
// safety floor every allocation starts above.
type FloorReader interface {
	ObservedFloor(ctx context.Context, key Key) (int64, error)
	// ListObservedFloors returns the floor of every key that has items
	ListObservedFloors(ctx context.Context) (map[Key]int64, error)
}
