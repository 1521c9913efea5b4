package engine

import (
	"crypto/ed25519"
	"time"

	"shdc/pkg/replay"
	"shdc/pkg/shdccrypto"
	"shdc/pkg/wire"
)

// signAndSend builds a fully framed, Ed25519-signed packet from header and
// payload and encodes it to its wire form, ready for Transport.Send.
func signAndSend(priv ed25519.PrivateKey, header wire.Header, payload []byte) []byte {
	pkt := wire.Packet{Header: header, Payload: payload}
	pkt.Signature = shdccrypto.Sign(priv, pkt.SignedData())
	return pkt.Encode()
}

// resolveSignerFunc maps a decoded header and raw payload to the Ed25519
// public key that must have signed it, per spec.md §4.5's per-message-type
// signer table. It may fail (ErrUnknownDevice, a wire decode error) if the
// payload cannot be parsed far enough to find the key, or if the signer
// depends on state the receiver does not have (e.g. an EVENT_REPORT from an
// unjoined device).
type resolveSignerFunc func(h wire.Header, payload []byte) ([32]byte, error)

// authenticate decodes a raw datagram, resolves its expected signer, verifies
// the Ed25519 signature, and checks it against the replay guard, in the
// order spec.md §4.5 prescribes: signature verification happens before the
// replay check so a forged packet never consumes a legitimate nonce slot.
func authenticate(data []byte, guard *replay.Guard, now time.Time, resolveSigner resolveSignerFunc) (wire.Packet, error) {
	pkt, err := wire.Decode(data)
	if err != nil {
		return wire.Packet{}, err
	}

	signerKey, err := resolveSigner(pkt.Header, pkt.Payload)
	if err != nil {
		return wire.Packet{}, err
	}

	if err := shdccrypto.Verify(signerKey, pkt.SignedData(), pkt.Signature); err != nil {
		return wire.Packet{}, err
	}

	if err := guard.Check(pkt.Header.DeviceID, pkt.Header.Nonce, pkt.Header.Timestamp, now); err != nil {
		return wire.Packet{}, err
	}

	return pkt, nil
}

// randomNonce3 draws a fresh 3-byte header nonce from the OS CSRNG.
func randomNonce3() ([3]byte, error) {
	var n [3]byte
	raw, err := shdccrypto.RandomBytes(3)
	if err != nil {
		return n, err
	}
	copy(n[:], raw)
	return n, nil
}
