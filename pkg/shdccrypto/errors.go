// Package shdccrypto implements the SHDC cryptographic primitives: Ed25519
// signing, AES-256-GCM sealing with the header-derived nonce and AAD, CSRNG
// key material, HKDF-SHA256 derivation, and the X25519 sealed-box
// construction used to wrap JOIN_RESPONSE to a sensor's identity key.
package shdccrypto

import "errors"

var (
	// ErrBadSignature is returned by Verify when the Ed25519 signature
	// does not match the signed data.
	ErrBadSignature = errors.New("shdccrypto: signature verification failed")
	// ErrAeadFailure is returned by Open when AES-256-GCM authentication
	// fails: wrong key, tampered ciphertext, or mismatched AAD.
	ErrAeadFailure = errors.New("shdccrypto: AEAD open failed")
	// ErrKeyUnavailable is returned when no key material exists for the
	// requested scope (e.g. an expired or unknown broadcast key id).
	ErrKeyUnavailable = errors.New("shdccrypto: key unavailable")
	// ErrCryptoInitFailure is a fatal error: the CSRNG or identity key
	// material could not be initialized at startup.
	ErrCryptoInitFailure = errors.New("shdccrypto: crypto initialization failed")
)
