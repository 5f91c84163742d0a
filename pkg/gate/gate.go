// Package gate provides key-scoped concurrency control: request coalescing for
// operations and presence guards for registries of active work.
package gate

import (
	"golang.org/x/sync/singleflight"
)

// Gate coalesces concurrent calls that share a key
type Gate struct {
	group singleflight.Group
}

// WithLock runs op unless an op for key is already in flight, in which case
// the caller waits for and receives that op's result. shared reports whether
// the result was delivered to more than one caller.
func (g *Gate) WithLock(key string, op func() (any, error)) (v any, err error, shared bool) {
	return g.group.Do(key, op)
}

// Forget makes the next WithLock for key start a new op even if one is in flight
func (g *Gate) Forget(key string) {
	g.group.Forget(key)
}

// Do is a typed WithLock
func Do[T any](g *Gate, key string, op func() (T, error)) (T, error) {
	v, err, _ := g.WithLock(key, func() (any, error) {
		return op()
	})
	typed, _ := v.(T)
	return typed, err
}
