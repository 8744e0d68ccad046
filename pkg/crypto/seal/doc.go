// Package seal encrypts small records at rest with an AEAD.
//
// Sealed records carry a one-byte header naming the algorithm, followed by
// the nonce and the ciphertext:
//
//	| alg (1) | nonce | ciphertext+tag |
//
// New prefers AES-256-GCM on platforms with hardware AES and
// ChaCha20-Poly1305 elsewhere. Open accepts either algorithm, so a store
// written on one platform stays readable on another.
//
// Keys given by operators are master keys. DeriveKey expands them with
// HKDF-SHA256 into per-purpose subkeys.
package seal
