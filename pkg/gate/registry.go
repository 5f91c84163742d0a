package gate

import (
	"sort"
	"sync"
)

// Registry tracks active work by key and rejects duplicate starts
type Registry[T any] struct {
	mu    sync.RWMutex
	items map[string]T
}

func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{items: make(map[string]T)}
}

// TryAdd registers value under key. It returns false, leaving the existing
// entry in place, when key is already present.
func (r *Registry[T]) TryAdd(key string, value T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.items[key]; exists {
		return false
	}
	r.items[key] = value
	return true
}

// Get returns the value for key
func (r *Registry[T]) Get(key string) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.items[key]
	return v, ok
}

// Has reports whether key is registered
func (r *Registry[T]) Has(key string) bool {
	_, ok := r.Get(key)
	return ok
}

// Remove deletes key and returns the removed value
func (r *Registry[T]) Remove(key string) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.items[key]
	delete(r.items, key)
	return v, ok
}

// Keys returns the registered keys, sorted
func (r *Registry[T]) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.items))
	for k := range r.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Values returns a snapshot of the registered values
func (r *Registry[T]) Values() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	values := make([]T, 0, len(r.items))
	for _, v := range r.items {
		values = append(values, v)
	}
	return values
}

func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

// Clear removes every entry and returns what was registered
func (r *Registry[T]) Clear() map[string]T {
	r.mu.Lock()
	defer r.mu.Unlock()
	items := r.items
	r.items = make(map[string]T)
	return items
}
