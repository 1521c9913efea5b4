package shdccrypto

import (
	"bytes"
	"testing"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	id, err := GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity: %v", err)
	}
	msg := []byte("header+payload")
	sig := Sign(id.PrivateKey, msg)
	if err := Verify(id.PublicKey, msg, sig); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestVerifyRejectsFlippedBit(t *testing.T) {
	id, err := GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity: %v", err)
	}
	msg := []byte("header+payload")
	sig := Sign(id.PrivateKey, msg)
	tampered := append([]byte(nil), msg...)
	tampered[0] ^= 0x01
	if err := Verify(id.PublicKey, tampered, sig); err != ErrBadSignature {
		t.Fatalf("got %v, want ErrBadSignature", err)
	}
}

func TestSealOpenRoundTrip(t *testing.T) {
	key, err := RandomKey32()
	if err != nil {
		t.Fatalf("RandomKey32: %v", err)
	}
	nonce := Nonce(1700000000, 0xAABBCCDD, [3]byte{0x01, 0x02, 0x03})
	aad := []byte("header bytes")
	plaintext := []byte("event payload")

	ciphertext, err := Seal(key, nonce, aad, plaintext)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	opened, err := Open(key, nonce, aad, ciphertext)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Fatalf("opened = %q, want %q", opened, plaintext)
	}
}

func TestOpenRejectsWrongKey(t *testing.T) {
	key, _ := RandomKey32()
	other, _ := RandomKey32()
	nonce := Nonce(1, 1, [3]byte{})
	ciphertext, err := Seal(key, nonce, []byte("aad"), []byte("secret"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if _, err := Open(other, nonce, []byte("aad"), ciphertext); err != ErrAeadFailure {
		t.Fatalf("got %v, want ErrAeadFailure", err)
	}
}

func TestOpenRejectsMismatchedAAD(t *testing.T) {
	key, _ := RandomKey32()
	nonce := Nonce(1, 1, [3]byte{})
	ciphertext, err := Seal(key, nonce, []byte("aad-one"), []byte("secret"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if _, err := Open(key, nonce, []byte("aad-two"), ciphertext); err != ErrAeadFailure {
		t.Fatalf("got %v, want ErrAeadFailure", err)
	}
}

func TestJoinResponseSealOpenRoundTrip(t *testing.T) {
	sensor, err := GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity: %v", err)
	}
	header := []byte{0x03, 0, 0, 0, 0, 0x65, 0x00, 0x00, 0x01, 0xAA, 0xBB, 0xCC}
	plaintext := []byte("assigned-id+session-key+bkid+broadcast-key")

	ephPub, ciphertext, err := SealJoinResponse(sensor.PublicKey, header, plaintext)
	if err != nil {
		t.Fatalf("SealJoinResponse: %v", err)
	}
	opened, err := OpenJoinResponse(sensor.Seed(), ephPub, header, ciphertext)
	if err != nil {
		t.Fatalf("OpenJoinResponse: %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Fatalf("opened = %q, want %q", opened, plaintext)
	}
}

func TestJoinResponseRejectsWrongSensor(t *testing.T) {
	sensor, _ := GenerateIdentity()
	impostor, _ := GenerateIdentity()
	header := []byte("header-bytes")
	plaintext := []byte("secret join data")

	ephPub, ciphertext, err := SealJoinResponse(sensor.PublicKey, header, plaintext)
	if err != nil {
		t.Fatalf("SealJoinResponse: %v", err)
	}
	if _, err := OpenJoinResponse(impostor.Seed(), ephPub, header, ciphertext); err != ErrAeadFailure {
		t.Fatalf("got %v, want ErrAeadFailure", err)
	}
}

func TestFingerprintDeterministic(t *testing.T) {
	pub := [32]byte{1, 2, 3}
	a := Fingerprint(0x1000, pub, "hub")
	b := Fingerprint(0x1000, pub, "hub")
	if a != b {
		t.Fatalf("fingerprint not deterministic")
	}
	c := Fingerprint(0x1001, pub, "hub")
	if a == c {
		t.Fatalf("fingerprint did not change with device id")
	}
}
