package shdccrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
)

// Nonce derives the 12-byte AES-256-GCM nonce bound to a packet header:
// Timestamp(4B) || DeviceId(4B) || Nonce(3B) || 0x00. Binding the nonce to
// the header this way means the header-level replay defense also defends
// the AEAD nonce from reuse under the same key.
func Nonce(timestamp, deviceID uint32, headerNonce [3]byte) [12]byte {
	var n [12]byte
	binary.BigEndian.PutUint32(n[0:4], timestamp)
	binary.BigEndian.PutUint32(n[4:8], deviceID)
	copy(n[8:11], headerNonce[:])
	n[11] = 0x00
	return n
}

// Seal encrypts plaintext under key with the given nonce and AAD, returning
// ciphertext || 16-byte tag.
func Seal(key [32]byte, nonce [12]byte, aad, plaintext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	return gcm.Seal(nil, nonce[:], plaintext, aad), nil
}

// Open decrypts ciphertext (which must include its trailing 16-byte tag)
// under key with the given nonce and AAD. It returns ErrAeadFailure on any
// authentication failure, never a partial plaintext.
func Open(key [32]byte, nonce [12]byte, aad, ciphertext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, nonce[:], ciphertext, aad)
	if err != nil {
		return nil, ErrAeadFailure
	}
	return plaintext, nil
}

func newGCM(key [32]byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
