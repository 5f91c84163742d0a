package cache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Memo is a time-boxed memoization map. The TTL of an entry runs from Set.
type Memo[T any] struct {
	ttl   time.Duration
	store *gocache.Cache
}

// NewMemo creates a memo whose entries expire ttl after they are set
func NewMemo[T any](ttl time.Duration) *Memo[T] {
	cleanup := ttl * 2
	if cleanup < time.Second {
		cleanup = time.Second
	}
	return &Memo[T]{
		ttl:   ttl,
		store: gocache.New(ttl, cleanup),
	}
}

// Get returns the value for key and whether it is still fresh. Stale and
// missing entries both return the zero value and false.
func (m *Memo[T]) Get(key string) (T, bool) {
	var zero T
	v, ok := m.store.Get(key)
	if !ok {
		return zero, false
	}
	typed, ok := v.(T)
	if !ok {
		return zero, false
	}
	return typed, true
}

// Set stores value under key, restarting its TTL
func (m *Memo[T]) Set(key string, value T) {
	m.store.Set(key, value, m.ttl)
}

// Delete drops key
func (m *Memo[T]) Delete(key string) {
	m.store.Delete(key)
}

// Flush drops every entry
func (m *Memo[T]) Flush() {
	m.store.Flush()
}

// Len returns the number of unexpired entries
func (m *Memo[T]) Len() int {
	return m.store.ItemCount()
}

// GetOrLoad is a read-through lookup: a miss or stale entry calls load and
// stores its result. The bool reports whether the value came from the memo.
// Load errors are returned and nothing is stored.
func (m *Memo[T]) GetOrLoad(key string, load func() (T, error)) (T, bool, error) {
	if v, ok := m.Get(key); ok {
		return v, true, nil
	}
	v, err := load()
	if err != nil {
		return v, false, err
	}
	m.Set(key, v)
	return v, false, nil
}
