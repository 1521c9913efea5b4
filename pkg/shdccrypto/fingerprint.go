package shdccrypto

import (
	"crypto/sha256"
	"encoding/binary"
)

// Fingerprint hashes a device's identity (device id, public key, and a
// caller-supplied device type string) into a 32-byte SHA-256 digest, for
// logging. It is not part of the wire protocol.
func Fingerprint(deviceID uint32, pubKey [32]byte, deviceType string) [32]byte {
	h := sha256.New()
	var idBuf [4]byte
	binary.BigEndian.PutUint32(idBuf[:], deviceID)
	h.Write(idBuf[:])
	h.Write(pubKey[:])
	h.Write([]byte(deviceType))
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
