// Package tlssni extracts the Server Name Indication from a TLS 1.x
// ClientHello without terminating or re-emitting any TLS message.
//
// Every length read is bounds-checked against the remaining slice, so
// malformed or truncated input returns a ParseError rather than
// panicking on a slice index.
package tlssni

import (
	"errors"
	"fmt"
)

// ErrKind classifies why SNI extraction failed or came up empty.
type ErrKind int

const (
	// ErrShortData means the buffer ended before a length-prefixed
	// field could be fully read.
	ErrShortData ErrKind = iota
	// ErrNotHandshake means the TLS record's content type was not
	// 0x16 (handshake).
	ErrNotHandshake
	// ErrNotClientHello means the handshake message type was not
	// 0x01 (ClientHello).
	ErrNotClientHello
	// ErrMalformedExtension means an extension's declared length did
	// not fit the remaining buffer.
	ErrMalformedExtension
	// ErrInvalidHostname means the server_name entry failed the
	// ASCII/length/NUL checks.
	ErrInvalidHostname
)

func (k ErrKind) String() string {
	switch k {
	case ErrShortData:
		return "short data"
	case ErrNotHandshake:
		return "not a TLS handshake record"
	case ErrNotClientHello:
		return "not a ClientHello"
	case ErrMalformedExtension:
		return "malformed extension"
	case ErrInvalidHostname:
		return "invalid hostname"
	default:
		return "unknown error"
	}
}

// ParseError is returned for every malformed-input case. NoSNI ("no
// server_name extension present") is not a ParseError: it is signalled
// by an empty hostname and a nil error from Extract.
type ParseError struct {
	Kind ErrKind
	Msg  string
}

func (e *ParseError) Error() string {
	if e.Msg == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func parseErr(kind ErrKind, msg string) error {
	return &ParseError{Kind: kind, Msg: msg}
}

// IsParseError reports whether err was produced by this package.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

const (
	recordTypeHandshake   = 0x16
	handshakeTypeClientHi = 0x01
	extensionServerName   = 0x0000
	serverNameTypeHost    = 0x00
)

// handshakeBody strips a TLS record header if present, returning the
// handshake-message bytes (type + 3-byte length + body) that follow.
// If data instead begins directly with a handshake type byte — the
// shape QUIC CRYPTO frames carry, since QUIC never wraps the TLS
// handshake in a record layer — it is returned unchanged.
func handshakeBody(data []byte) ([]byte, error) {
	if len(data) < 1 {
		return nil, parseErr(ErrShortData, "empty buffer")
	}
	switch data[0] {
	case recordTypeHandshake:
		if len(data) < 5 {
			return nil, parseErr(ErrShortData, "buffer shorter than a TLS record header")
		}
		if data[1] != 0x03 {
			return nil, parseErr(ErrNotHandshake, fmt.Sprintf("legacy major version %#x", data[1]))
		}
		recordLen := be16(data[3:5])
		if len(data) < 5+recordLen {
			return nil, parseErr(ErrShortData, "record length exceeds buffer")
		}
		return data[5 : 5+recordLen], nil
	case handshakeTypeClientHi:
		return data, nil
	default:
		return nil, parseErr(ErrNotHandshake, fmt.Sprintf("leading byte %#x", data[0]))
	}
}

// Extract walks a byte slice and returns the ASCII hostname carried in
// the server_name extension of the ClientHello it contains. Two input
// shapes are accepted: a TLS record (offset 0 starts a record header,
// content type 0x16) as produced by a TCP TLS flow, or a bare
// handshake message (offset 0 is the handshake type, 0x01) as carried
// directly in a QUIC CRYPTO frame, which has no record layer. An empty
// hostname and nil error means the ClientHello parsed cleanly but
// carried no SNI extension at all. The parse never panics: every
// length read is bounds-checked against the remaining slice.
func Extract(data []byte) (string, error) {
	body, err := handshakeBody(data)
	if err != nil {
		return "", err
	}

	if len(body) < 4 {
		return "", parseErr(ErrShortData, "handshake header truncated")
	}
	if body[0] != handshakeTypeClientHi {
		return "", parseErr(ErrNotClientHello, fmt.Sprintf("handshake type %#x", body[0]))
	}
	hsLen := int(body[1])<<16 | int(body[2])<<8 | int(body[3])
	if len(body) < 4+hsLen {
		return "", parseErr(ErrShortData, "ClientHello length exceeds record")
	}
	hello := body[4 : 4+hsLen]

	idx := 0
	// legacy_version (2) + random (32)
	if len(hello) < idx+34 {
		return "", parseErr(ErrShortData, "truncated before session id")
	}
	idx += 34

	// session_id: 1-byte length prefix
	if len(hello) < idx+1 {
		return "", parseErr(ErrShortData, "truncated at session id length")
	}
	sessionIDLen := int(hello[idx])
	idx++
	if len(hello) < idx+sessionIDLen {
		return "", parseErr(ErrShortData, "truncated session id")
	}
	idx += sessionIDLen

	// cipher_suites: 2-byte length prefix
	if len(hello) < idx+2 {
		return "", parseErr(ErrShortData, "truncated at cipher suites length")
	}
	cipherLen := be16(hello[idx : idx+2])
	idx += 2
	if len(hello) < idx+cipherLen {
		return "", parseErr(ErrShortData, "truncated cipher suites")
	}
	idx += cipherLen

	// compression_methods: 1-byte length prefix
	if len(hello) < idx+1 {
		return "", parseErr(ErrShortData, "truncated at compression methods length")
	}
	compLen := int(hello[idx])
	idx++
	if len(hello) < idx+compLen {
		return "", parseErr(ErrShortData, "truncated compression methods")
	}
	idx += compLen

	// no extensions at all is a legal (if ancient) ClientHello: no SNI.
	if idx == len(hello) {
		return "", nil
	}
	if len(hello) < idx+2 {
		return "", parseErr(ErrShortData, "truncated at extensions length")
	}
	extTotalLen := be16(hello[idx : idx+2])
	idx += 2
	if len(hello) < idx+extTotalLen {
		return "", parseErr(ErrMalformedExtension, "extensions length exceeds ClientHello")
	}
	extensions := hello[idx : idx+extTotalLen]

	off := 0
	for off < len(extensions) {
		if len(extensions) < off+4 {
			return "", parseErr(ErrMalformedExtension, "truncated extension header")
		}
		extType := be16(extensions[off : off+2])
		extLen := be16(extensions[off+2 : off+4])
		off += 4
		if len(extensions) < off+extLen {
			return "", parseErr(ErrMalformedExtension, "extension length exceeds extensions block")
		}
		extData := extensions[off : off+extLen]
		off += extLen

		if extType != extensionServerName {
			continue
		}
		return parseServerNameExtension(extData)
	}
	// walked every extension, found no server_name: NoSni.
	return "", nil
}

// parseServerNameExtension parses a ServerNameList per RFC 6066 §3.
func parseServerNameExtension(data []byte) (string, error) {
	if len(data) < 2 {
		return "", parseErr(ErrMalformedExtension, "truncated server_name list length")
	}
	listLen := be16(data[0:2])
	if len(data) < 2+listLen {
		return "", parseErr(ErrMalformedExtension, "server_name list length exceeds extension")
	}
	list := data[2 : 2+listLen]

	off := 0
	for off < len(list) {
		if len(list) < off+3 {
			return "", parseErr(ErrMalformedExtension, "truncated server_name entry header")
		}
		nameType := list[off]
		nameLen := be16(list[off+1 : off+3])
		off += 3
		if len(list) < off+nameLen {
			return "", parseErr(ErrMalformedExtension, "server_name entry length exceeds list")
		}
		name := list[off : off+nameLen]
		off += nameLen

		if nameType != serverNameTypeHost {
			continue
		}
		return validateHostname(name)
	}
	return "", nil
}

func validateHostname(name []byte) (string, error) {
	if len(name) == 0 || len(name) > 253 {
		return "", parseErr(ErrInvalidHostname, fmt.Sprintf("length %d out of [1,253]", len(name)))
	}
	for _, b := range name {
		if b == 0 {
			return "", parseErr(ErrInvalidHostname, "embedded NUL")
		}
		if b > 0x7F {
			return "", parseErr(ErrInvalidHostname, "non-ASCII byte in SNI")
		}
	}
	return string(name), nil
}

func be16(b []byte) int {
	return int(b[0])<<8 | int(b[1])
}
