package shdccrypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
)

// Identity is a device's long-term Ed25519 keypair. It is stable across
// reboots and owned by the external keystore (see pkg/keystore).
type Identity struct {
	PublicKey  [32]byte
	PrivateKey ed25519.PrivateKey // 64-byte seed||pubkey form, as crypto/ed25519 expects
}

// GenerateIdentity creates a fresh Ed25519 identity keypair from the OS
// CSRNG.
func GenerateIdentity() (Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrCryptoInitFailure, err)
	}
	var id Identity
	copy(id.PublicKey[:], pub)
	id.PrivateKey = priv
	return id, nil
}

// IdentityFromSeed reconstructs an Identity from its 32-byte Ed25519 seed.
func IdentityFromSeed(seed [32]byte) Identity {
	priv := ed25519.NewKeyFromSeed(seed[:])
	var id Identity
	copy(id.PublicKey[:], priv.Public().(ed25519.PublicKey))
	id.PrivateKey = priv
	return id
}

// Seed returns the identity's 32-byte Ed25519 seed, from which
// IdentityFromSeed rebuilds it and OpenJoinResponse derives the X25519
// scalar.
func (id Identity) Seed() [32]byte {
	var seed [32]byte
	copy(seed[:], id.PrivateKey.Seed())
	return seed
}

// Sign produces a 64-byte Ed25519 signature over msg.
func Sign(priv ed25519.PrivateKey, msg []byte) [64]byte {
	var sig [64]byte
	copy(sig[:], ed25519.Sign(priv, msg))
	return sig
}

// Verify reports whether sig is a valid Ed25519 signature over msg under
// pub. It returns ErrBadSignature rather than a bare bool so call sites can
// propagate it directly as the drop reason.
func Verify(pub [32]byte, msg []byte, sig [64]byte) error {
	if !ed25519.Verify(pub[:], msg, sig[:]) {
		return ErrBadSignature
	}
	return nil
}

// RandomBytes returns n bytes from the OS CSRNG.
func RandomBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCryptoInitFailure, err)
	}
	return buf, nil
}

// RandomKey32 returns a fresh 32-byte AES-256 key from the OS CSRNG, used
// for session and broadcast key generation.
func RandomKey32() ([32]byte, error) {
	var key [32]byte
	if _, err := rand.Read(key[:]); err != nil {
		return key, fmt.Errorf("%w: %v", ErrCryptoInitFailure, err)
	}
	return key, nil
}
