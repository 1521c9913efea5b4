package shdccrypto

// joinWrapInfo is the HKDF info string for the JOIN_RESPONSE wrap key, as
// pinned by spec.md's resolution of the source's ambiguous construction.
const joinWrapInfo = "shdc-join-v1"

// SealJoinResponse wraps plaintext (the JOIN_RESPONSE content: assigned id,
// session key, broadcast key id, broadcast key) so that only the holder of
// the sensor's identity secret key can open it. It performs a fresh X25519
// exchange between a new hub ephemeral keypair and the sensor's Ed25519
// identity public key (converted to Montgomery form), derives a wrap key
// via HKDF-SHA256(shared secret, salt=header, info="shdc-join-v1"), and
// seals plaintext under that key with an all-zero GCM nonce and the header
// as AAD. It returns the ephemeral public key to prepend to the wire
// payload, followed by the sealed ciphertext.
func SealJoinResponse(sensorIdentityPub [32]byte, header, plaintext []byte) (ephPub [32]byte, ciphertext []byte, err error) {
	ephPub, ephPriv, err := GenerateEphemeralX25519()
	if err != nil {
		return ephPub, nil, err
	}
	x25519Peer := edwardsPubKeyToX25519(sensorIdentityPub)
	shared, err := x25519SharedSecret(ephPriv, x25519Peer)
	if err != nil {
		return ephPub, nil, err
	}
	wrapKey, err := DeriveKey(shared[:], header, joinWrapInfo)
	if err != nil {
		return ephPub, nil, err
	}

	var zeroNonce [12]byte
	ciphertext, err = Seal(wrapKey, zeroNonce, header, plaintext)
	return ephPub, ciphertext, err
}

// OpenJoinResponse reverses SealJoinResponse: given the sensor's own
// Ed25519 identity seed, the hub's ephemeral public key carried in the
// payload, the packet header (AAD), and the ciphertext, it recovers the
// JOIN_RESPONSE plaintext. It returns ErrAeadFailure if the seal does not
// open, which also covers the case of a JOIN_RESPONSE not actually
// addressed to this sensor.
func OpenJoinResponse(sensorIdentitySeed [32]byte, ephPub [32]byte, header, ciphertext []byte) ([]byte, error) {
	scalar := edwardsSeedToX25519Scalar(sensorIdentitySeed)
	shared, err := x25519SharedSecret(scalar, ephPub)
	if err != nil {
		return nil, err
	}
	wrapKey, err := DeriveKey(shared[:], header, joinWrapInfo)
	if err != nil {
		return nil, err
	}

	var zeroNonce [12]byte
	return Open(wrapKey, zeroNonce, header, ciphertext)
}
