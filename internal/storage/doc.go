// Package storage implements the profile document store.
//
// BadgerProfileStore keeps one CBOR record per subject in an embedded
// Badger database. Writes are version-checked inside a Badger transaction,
// so concurrent writers of the same subject see either success or
// domain.ErrVersionConflict. Records are sealed with pkg/crypto/seal when an
// encryption key is configured.
//
// The memory subpackage provides an in-process store with the same
// semantics for tests and the demo mode.
package storage
