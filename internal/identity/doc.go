// Package identity provides IdentityAuthority implementations.
//
// HTTPAuthority asks a remote authority through an OAuth 2.0 token
// introspection endpoint (RFC 7662). MemoryAuthority keeps issued
// credentials in process and backs tests and the CLI demo mode.
package identity
