// Package memory provides an in-process profile document store.
//
// Records live in a sharded concurrent map and are copied on the way in and
// out, so callers never share a Fields map with the store.
package memory
