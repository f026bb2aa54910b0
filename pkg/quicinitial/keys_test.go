package quicinitial

import (
	"bytes"
	"testing"
)

func TestDeriveInitialKeysDeterministic(t *testing.T) {
	dcid := []byte{0x01, 0x02, 0x03, 0x04}
	k1, err := DeriveInitialKeys(dcid)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	k2, err := DeriveInitialKeys(dcid)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if k1.Key != k2.Key || k1.IV != k2.IV || k1.HPKey != k2.HPKey {
		t.Fatalf("deriving from the same DCID twice must be bit-identical")
	}
}

func TestDeriveInitialKeysDiffer(t *testing.T) {
	k1, err := DeriveInitialKeys([]byte{0x01, 0x02, 0x03, 0x04})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	k2, err := DeriveInitialKeys([]byte{0x01, 0x02, 0x03, 0x05})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if k1.Key == k2.Key {
		t.Fatalf("different DCIDs must yield different keys")
	}
}

func TestDeriveInitialKeysEmptyDCID(t *testing.T) {
	if _, err := DeriveInitialKeys(nil); err != nil {
		t.Fatalf("an empty DCID is legal input: %v", err)
	}
}

func TestDeriveInitialKeysLongDCID(t *testing.T) {
	dcid := make([]byte, 20)
	for i := range dcid {
		dcid[i] = byte(i)
	}
	if _, err := DeriveInitialKeys(dcid); err != nil {
		t.Fatalf("a 20-byte DCID is legal input: %v", err)
	}
}

func TestHkdfExpandLabelSerialization(t *testing.T) {
	secret := bytes.Repeat([]byte{0xAB}, 32)
	_, err := hkdfExpandLabel(secret, "client in", nil, 32)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDecodePacketNumber1Byte(t *testing.T) {
	pn, err := decodePacketNumber([]byte{0x00}, 0)
	if err != nil || pn != 0 {
		t.Fatalf("got (%d,%v), want (0,nil)", pn, err)
	}
}

func TestDecodePacketNumber2Bytes(t *testing.T) {
	pn, err := decodePacketNumber([]byte{0x01, 0x23}, 0)
	if err != nil || pn != 0x0123 {
		t.Fatalf("got (%d,%v), want (0x0123,nil)", pn, err)
	}
}

func TestDecodePacketNumber4Bytes(t *testing.T) {
	pn, err := decodePacketNumber([]byte{0x12, 0x34, 0x56, 0x78}, 0)
	if err != nil || pn != 0x12345678 {
		t.Fatalf("got (%d,%v), want (0x12345678,nil)", pn, err)
	}
}

func TestDecodePacketNumberWithExpected(t *testing.T) {
	// expected=10000, truncated=5 (1 byte) -> candidate 9989.
	pn, err := decodePacketNumber([]byte{5}, 10000)
	if err != nil || pn != 9989 {
		t.Fatalf("got (%d,%v), want (9989,nil)", pn, err)
	}
}

func TestDecodePacketNumberRollover(t *testing.T) {
	// expected=255, truncated=0 (1 byte) -> candidate rolls forward to 256.
	pn, err := decodePacketNumber([]byte{0x00}, 255)
	if err != nil || pn != 256 {
		t.Fatalf("got (%d,%v), want (256,nil)", pn, err)
	}
}

func TestDecodePacketNumberCandidateAboveHalfWindowBelowWindow(t *testing.T) {
	// expected=0, truncated=255 (1 byte) -> candidate=255 > pnHwin(128),
	// but candidate < pnWin(256), so it is returned unadjusted.
	pn, err := decodePacketNumber([]byte{0xFF}, 0)
	if err != nil || pn != 255 {
		t.Fatalf("got (%d,%v), want (255,nil)", pn, err)
	}
}

func TestDecodePacketNumberInvalidLength(t *testing.T) {
	if _, err := decodePacketNumber([]byte{0, 1, 2, 3, 4}, 0); err == nil {
		t.Fatalf("expected error for 5-byte packet number")
	}
	if _, err := decodePacketNumber(nil, 0); err == nil {
		t.Fatalf("expected error for empty packet number")
	}
}
