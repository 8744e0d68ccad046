// Package config defines the SessionGuard configuration structure.
//
// Values are loaded by internal/infra/confloader on top of Default() and
// checked with Verify before any component is built.
package config
