package shdccrypto

import (
	"crypto/sha512"
	"math/big"

	"golang.org/x/crypto/curve25519"
)

// fieldPrime is 2^255 - 19, the field modulus shared by Ed25519's twisted
// Edwards curve and Curve25519's Montgomery curve.
var fieldPrime = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 255), big.NewInt(19))

// edwardsPubKeyToX25519 converts an Ed25519 public key to the corresponding
// Curve25519 (Montgomery) public key via the standard birational map u =
// (1+y)/(1-y) mod p, where y is the Edwards y-coordinate recovered from the
// encoded public key (the sign bit of x, the encoding's top bit, does not
// affect u). This lets the hub perform an X25519 exchange against a
// sensor's long-term Ed25519 identity key without a separate X25519
// identity, exactly as spec.md's JOIN_RESPONSE construction requires.
//
// No library in the example corpus exposes this conversion (it is a
// niche primitive outside golang.org/x/crypto's public API), so it is
// implemented here directly against stdlib math/big.
func edwardsPubKeyToX25519(pub [32]byte) [32]byte {
	le := make([]byte, 32)
	copy(le, pub[:])
	le[31] &= 0x7f // clear the sign bit; only y is needed

	y := new(big.Int).SetBytes(reverse(le))

	one := big.NewInt(1)
	numerator := new(big.Int).Add(one, y)
	numerator.Mod(numerator, fieldPrime)

	denominator := new(big.Int).Sub(one, y)
	denominator.Mod(denominator, fieldPrime)
	denominator.ModInverse(denominator, fieldPrime)

	u := new(big.Int).Mul(numerator, denominator)
	u.Mod(u, fieldPrime)

	var out [32]byte
	uBytes := u.Bytes()
	copy(out[:], reverse(uBytes))
	return out
}

// edwardsSeedToX25519Scalar derives the X25519 private scalar corresponding
// to an Ed25519 identity seed, via the same SHA-512-then-clamp expansion
// RFC 8032 uses to derive the Ed25519 signing scalar. Because Ed25519 and
// Curve25519 share base point and group structure under the birational
// map, this scalar is usable directly as an X25519 private key.
func edwardsSeedToX25519Scalar(seed [32]byte) [32]byte {
	h := sha512.Sum512(seed[:])
	var scalar [32]byte
	copy(scalar[:], h[:32])
	scalar[0] &= 248
	scalar[31] &= 127
	scalar[31] |= 64
	return scalar
}

func reverse(b []byte) []byte {
	out := make([]byte, 32)
	n := len(b)
	for i := 0; i < n; i++ {
		out[i] = b[n-1-i]
	}
	return out
}

// GenerateEphemeralX25519 produces a fresh X25519 keypair from the OS
// CSRNG, used by the hub for the JOIN_RESPONSE ECDH.
func GenerateEphemeralX25519() (public, private [32]byte, err error) {
	raw, err := RandomBytes(32)
	if err != nil {
		return public, private, err
	}
	copy(private[:], raw)
	private[0] &= 248
	private[31] &= 127
	private[31] |= 64

	pub, err := curve25519.X25519(private[:], curve25519.Basepoint)
	if err != nil {
		return public, private, err
	}
	copy(public[:], pub)
	return public, private, nil
}

// x25519SharedSecret performs the ECDH exchange between a private scalar
// and a peer's Montgomery public key.
func x25519SharedSecret(private, peerPublic [32]byte) ([32]byte, error) {
	var shared [32]byte
	out, err := curve25519.X25519(private[:], peerPublic[:])
	if err != nil {
		return shared, err
	}
	copy(shared[:], out)
	return shared, nil
}
