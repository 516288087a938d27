// Package syncx provides extended synchronization primitives
package syncx

import "sync"

// Guard wraps RWMutex around a value with scoped lock helpers.
type Guard[T any] struct {
	mu    sync.RWMutex
	value T
}

// NewGuard creates a guarded value.
func NewGuard[T any](initial T) *Guard[T] {
	return &Guard[T]{value: initial}
}

// Read executes fn while holding the read lock.
func (g *Guard[T]) Read(fn func(T)) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	fn(g.value)
}

// Write executes fn while holding the write lock, fn receives pointer for mutation.
func (g *Guard[T]) Write(fn func(*T)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	fn(&g.value)
}

// Get returns a copy of the value (T should be value type or immutable).
func (g *Guard[T]) Get() T {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.value
}

// Set atomically replaces the value.
func (g *Guard[T]) Set(v T) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.value = v
}

// ReadValue evaluates fn under the read lock and returns its result.
// Methods cannot introduce type parameters, hence the package-level form.
func ReadValue[T, R any](g *Guard[T], fn func(T) R) R {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return fn(g.value)
}

// UpdateValue evaluates fn under the write lock and returns its result.
func UpdateValue[T, R any](g *Guard[T], fn func(*T) R) R {
	g.mu.Lock()
	defer g.mu.Unlock()
	return fn(&g.value)
}
