// Package tlsroots builds the trust roots used for outbound TLS.
//
// The identity authority client trusts the system roots plus an optional
// private CA bundle configured with identity.tls_ca_file.
package tlsroots
