// Package locks provides the per-account sync lock. The orchestrator only
// depends on the KeyedLock interface, so the in-process table can be swapped
// for a distributed lock in multi-instance deployments.
package locks

import "sync"

// KeyedLock is a non-blocking mutual-exclusion table keyed by account ID.
type KeyedLock interface {
	// TryAcquire attempts to take the lock for key. It never blocks:
	// it returns false immediately if the lock is already held.
	TryAcquire(key string) bool

	// Release frees the lock for key. Releasing an unheld key is a no-op.
	Release(key string)
}

// Table is an in-process KeyedLock backed by a mutex-guarded set.
// Suitable for single-instance deployments.
type Table struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewTable creates an empty lock table.
func NewTable() *Table {
	return &Table{held: make(map[string]struct{})}
}

// TryAcquire implements KeyedLock.
func (t *Table) TryAcquire(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.held[key]; ok {
		return false
	}
	t.held[key] = struct{}{}
	return true
}

// Release implements KeyedLock.
func (t *Table) Release(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.held, key)
}

var _ KeyedLock = (*Table)(nil)
