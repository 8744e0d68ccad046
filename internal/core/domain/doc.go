// Package domain defines the core domain models for SessionGuard.
//
// Domain models are pure value objects without any IO dependencies or
// framework coupling. This package contains:
//
//   - Credential and ValidationResult: the outcome of checking a session
//     credential against the identity authority
//   - UserProfile: the cached, versioned per-user profile record
//   - AuthState: the tagged session state published to the application
//   - Errors: coded domain errors and the ErrorKind taxonomy used for
//     retry and state-machine decisions
package domain
