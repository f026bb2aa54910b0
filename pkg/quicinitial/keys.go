package quicinitial

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

// initialSaltV1 is the QUIC v1 Initial Salt (RFC 9001 §5.2). v2 uses a
// different salt and different HKDF labels; this pipeline rejects v2 at
// the long-header version check, so only the v1 salt is needed here.
var initialSaltV1 = []byte{
	0x38, 0x76, 0x2c, 0xf7, 0xf5, 0x59, 0x34, 0xb3, 0x4d, 0x17,
	0x9a, 0xe6, 0xa4, 0xc8, 0x0c, 0xad, 0xcc, 0xbb, 0x7f, 0x0a,
}

// InitialKeys is the tuple derived from a DCID per RFC 9001 §5.2, scoped
// to one direction (client or server). The proxy only ever needs the
// client-to-server direction, since it inspects the ClientHello.
type InitialKeys struct {
	Key   [16]byte // AES-128-GCM key
	IV    [12]byte
	HPKey [16]byte // AES-128-ECB header-protection key
}

// DeriveInitialKeys computes the client-direction Initial keys for dcid
// per RFC 9001 §5.2: initial_secret = HKDF-Extract(salt, dcid);
// client_initial_secret = HKDF-Expand-Label(initial_secret, "client in",
// "", 32); key/iv/hp are HKDF-Expand-Label'd from that in turn.
func DeriveInitialKeys(dcid []byte) (*InitialKeys, error) {
	initialSecret := hkdf.Extract(sha256.New, dcid, initialSaltV1)

	clientSecret, err := hkdfExpandLabel(initialSecret, "client in", nil, 32)
	if err != nil {
		return nil, err
	}

	key, err := hkdfExpandLabel(clientSecret, "quic key", nil, 16)
	if err != nil {
		return nil, err
	}
	iv, err := hkdfExpandLabel(clientSecret, "quic iv", nil, 12)
	if err != nil {
		return nil, err
	}
	hp, err := hkdfExpandLabel(clientSecret, "quic hp", nil, 16)
	if err != nil {
		return nil, err
	}

	var keys InitialKeys
	copy(keys.Key[:], key)
	copy(keys.IV[:], iv)
	copy(keys.HPKey[:], hp)
	return &keys, nil
}

// hkdfExpandLabel implements RFC 8446 §7.1's HKDF-Expand-Label over the
// SHA-256 hash, as reused by QUIC (RFC 9001 §5.1): info is
// uint16(length) || uint8(len("tls13 "+label)) || "tls13 "+label ||
// uint8(len(context)) || context.
func hkdfExpandLabel(secret []byte, label string, context []byte, length int) ([]byte, error) {
	fullLabel := append([]byte("tls13 "), []byte(label)...)

	info := make([]byte, 0, 2+1+len(fullLabel)+1+len(context))
	info = append(info, byte(length>>8), byte(length))
	info = append(info, byte(len(fullLabel)))
	info = append(info, fullLabel...)
	info = append(info, byte(len(context)))
	info = append(info, context...)

	out := make([]byte, length)
	r := hkdf.Expand(sha256.New, secret, info)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}
	return out, nil
}
