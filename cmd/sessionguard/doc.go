// Package main provides the entry point for sessionguard.
//
// The tool runs the authentication resilience coordinator in-process for
// diagnostics and operations:
//
//   - Validate a credential and print the resulting session state
//   - Read, create and update user profiles through the profile cache
//   - Watch a session with periodic revalidation and a /metrics endpoint
//   - Show and verify the effective configuration
//
// Usage:
//
//	sessionguard -c sessionguard.yaml validate $TOKEN
//	sessionguard -o json profile get user-42
//	sessionguard watch --interval 15s --credential $TOKEN
//
// Exit status is 0 on success, 1 on usage or runtime errors, 2 when the
// session ends in the error state and 3 when --strict sees a degraded one.
package main
