// Package cmap provides a sharded concurrent map keyed by string.
//
// Keys are spread over a power-of-two number of shards with murmur3, each
// shard guarded by its own RWMutex. Besides plain Get/Set/Delete the map
// offers Compute, an atomic read-modify-write on a single key, which the
// profile cache and the in-memory document store use for version checks.
//
// Usage:
//
//	m := cmap.New[*entry]()
//	m.Set("user-1", e)
//	e, ok := m.Get("user-1")
package cmap
