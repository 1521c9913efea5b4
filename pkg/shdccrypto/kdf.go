package shdccrypto

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

// DeriveKey runs HKDF-SHA256 over ikm with the given salt and info string,
// returning a 32-byte key. Used for the JOIN_RESPONSE wrap key (see
// joinseal.go); session and broadcast keys come from RandomKey32 instead.
func DeriveKey(ikm, salt []byte, info string) ([32]byte, error) {
	var out [32]byte
	r := hkdf.New(sha256.New, ikm, salt, []byte(info))
	if _, err := io.ReadFull(r, out[:]); err != nil {
		return out, err
	}
	return out, nil
}
