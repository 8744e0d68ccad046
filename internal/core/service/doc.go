// Package service provides the session coordination services for SessionGuard.
//
// Services depend on narrow interfaces for every collaborator, so the
// dependency container can substitute test doubles:
//
//   - TokenValidatorService: credential checks behind a circuit breaker and
//     the retry coordinator
//   - ProfileService: TTL-cached, single-flight profile reads with
//     idempotent create and optimistic update
//   - SessionManager: the session state machine and subscriber fan-out
//
// All services are safe for concurrent use.
package service
