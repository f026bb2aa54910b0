package quicinitial

import (
	"github.com/snirelay/snirelay/pkg/tlssni"
)

// Extract runs the full pipeline over one UDP datagram and returns the
// SNI hostname carried in the recovered ClientHello, or an error
// identifying which stage rejected it. It mutates packet in place
// (header protection removal is destructive) but never re-emits it;
// the caller drops the datagram regardless of outcome.
func Extract(packet []byte) (string, error) {
	header, err := ParseLongHeader(packet)
	if err != nil {
		return "", err
	}

	keys, err := DeriveInitialKeys(header.DCID)
	if err != nil {
		return "", parseErr(ErrHeaderProtection, "key derivation: "+err.Error())
	}

	_, pnLen, truncatedPN, err := removeHeaderProtection(packet, header.PNOffset, keys.HPKey)
	if err != nil {
		return "", err
	}

	packetNumber, err := decodePacketNumber(truncatedPN, 0)
	if err != nil {
		return "", parseErr(ErrHeaderProtection, err.Error())
	}

	payloadStart := header.PNOffset + pnLen
	payloadEnd := header.PNOffset + header.PayloadLen
	if len(packet) < payloadEnd || payloadEnd <= payloadStart {
		return "", parseErr(ErrShortDatagram, "no payload after packet number")
	}

	// AAD is the full unprotected header: byte 0 through the end of the
	// (now unprotected) packet-number field.
	aad := packet[:payloadStart]
	// Bounded to the header's own Length field so any packet coalesced
	// after this Initial in the same UDP datagram (RFC 9000 §12.2) is
	// not fed into the AEAD as if it were part of the ciphertext/tag.
	protectedPayload := packet[payloadStart:payloadEnd]

	plaintext, err := decryptPayload(keys.Key, keys.IV, packetNumber, aad, protectedPayload)
	if err != nil {
		return "", err
	}

	cryptoData, err := extractCryptoFrame(plaintext)
	if err != nil {
		return "", err
	}

	host, err := tlssni.Extract(cryptoData)
	if err != nil {
		return "", parseErr(ErrCryptoFrame, "TLS parse of CRYPTO data: "+err.Error())
	}
	return host, nil
}
