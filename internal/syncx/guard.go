// Package syncx provides small generic synchronization helpers
package syncx

import "sync"

// Guard holds a value behind a RWMutex and counts the changes made to it.
type Guard[T any] struct {
	mu      sync.RWMutex
	value   T
	version uint64
}

// NewGuard creates a guarded value.
func NewGuard[T any](initial T) *Guard[T] {
	return &Guard[T]{value: initial}
}

// Get returns the value. T should be a value type or treated as immutable.
func (g *Guard[T]) Get() T {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.value
}

// Load returns the value together with its version.
func (g *Guard[T]) Load() (T, uint64) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.value, g.version
}

// Set replaces the value.
func (g *Guard[T]) Set(v T) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.value = v
	g.version++
}

// Update runs fn under the write lock. fn reports whether it changed the
// value; only then is the version bumped. Update returns fn's answer.
func (g *Guard[T]) Update(fn func(*T) bool) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !fn(&g.value) {
		return false
	}
	g.version++
	return true
}

// Version returns the number of changes made since creation.
func (g *Guard[T]) Version() uint64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.version
}
