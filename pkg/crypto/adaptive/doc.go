// Package adaptive seals values at rest with an AEAD picked for the host.
//
// AES-256-GCM is used where the CPU accelerates AES and
// ChaCha20-Poly1305 elsewhere. A sealed value records which algorithm
// produced it:
//
//	+------+-------+----------------------+
//	| alg  | nonce | ciphertext + tag     |
//	+------+-------+----------------------+
//	  1 B    12 B
//
// The caller's associated data (the storage key) binds a value to the
// place it was written.
package adaptive
