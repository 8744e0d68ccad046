// Package credential provides hashing and generation helpers for opaque
// session credentials.
//
// Credentials are bearer secrets owned by the calling application. This
// package never stores them; it derives:
//
//   - Hash: hex SHA-256 digest used as a lookup key by in-process authorities
//   - Fingerprint: a short digest prefix that is safe to put in logs
//   - Generate: a random Base64 RawURL credential for local and test use
package credential
