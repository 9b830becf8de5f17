package frame

import (
	"bytes"
	"encoding/binary"
	"math/rand"
	"testing"
)

func TestChecksum16_Empty(t *testing.T) {
	if got := Checksum16(nil); got != 0xFFFF {
		t.Errorf("Checksum16(nil) = 0x%04X, want 0xFFFF", got)
	}
	if got := Checksum16([]byte{}); got != 0xFFFF {
		t.Errorf("Checksum16([]) = 0x%04X, want 0xFFFF", got)
	}
}

func TestChecksum16_OddLength(t *testing.T) {
	// Trailing byte treated as the low byte of a final word, high byte 0.
	b := []byte{0x01}
	want := ^uint16(0x0001)
	if got := Checksum16(b); got != want {
		t.Errorf("Checksum16(%v) = 0x%04X, want 0x%04X", b, got, want)
	}
}

func TestChecksum16_Fold(t *testing.T) {
	// 0xFFFF + 0xFFFF = 0x1FFFE; folding the carry back in gives 0xFFFF,
	// whose ones-complement is zero.
	b := []byte{0xFF, 0xFF, 0xFF, 0xFF}
	want := uint16(0x0000)
	if got := Checksum16(b); got != want {
		t.Errorf("Checksum16(%v) = 0x%04X, want 0x%04X", b, got, want)
	}
}

func TestEncode_ConnectEmptyPayload(t *testing.T) {
	got := Encode(CmdConnect, nil)
	want := []byte{0x9F, 0x8E, 0x6D, 0x5C, 0x00, 0x00, 0x00, 0x00, 0xFF, 0xFF}
	if !bytes.Equal(got, want) {
		t.Errorf("Encode(CONNECT, nil) = % X, want % X", got, want)
	}
}

func TestDecode_RejectsBadMagic(t *testing.T) {
	rest := []byte{0x00, 0x00, 0x00, 0x00, 0xFF, 0xFF}
	b := append([]byte{0x00, 0x00, 0x00, 0x00}, rest...)
	if _, ok := Decode(b); ok {
		t.Errorf("Decode with bad magic should return ok=false")
	}
}

func TestDecode_RejectsShort(t *testing.T) {
	for n := 0; n < minFrameLen; n++ {
		if _, ok := Decode(make([]byte, n)); ok {
			t.Errorf("Decode(%d zero bytes) should return ok=false", n)
		}
	}
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for _, n := range []int{0, 1, 2, 3, 7, 16, 255, 256, 1000, 2000} {
		payload := make([]byte, n)
		rng.Read(payload)

		encoded := Encode(CmdMidstData, payload)
		got, ok := Decode(encoded)
		if !ok {
			t.Fatalf("Decode failed to round-trip payload of length %d", n)
		}
		if got.Command != CmdMidstData {
			t.Errorf("round trip command = 0x%02X, want 0x%02X", got.Command, CmdMidstData)
		}
		if !bytes.Equal(got.Payload, payload) {
			t.Errorf("round trip payload mismatch for length %d", n)
		}
	}
}

func TestDecode_IgnoresTrailingBytes(t *testing.T) {
	encoded := Encode(CmdConnect, []byte{0x01, 0x02})
	encoded = append(encoded, 0xDE, 0xAD, 0xBE, 0xEF)

	got, ok := Decode(encoded)
	if !ok {
		t.Fatal("Decode should accept extra trailing bytes")
	}
	if !bytes.Equal(got.Payload, []byte{0x01, 0x02}) {
		t.Errorf("Decode with trailing bytes = %v, want [1 2]", got.Payload)
	}
}

func TestDecode_SingleBitMutationInvalidates(t *testing.T) {
	base := Encode(CmdStartData, []byte{0x10, 0x20, 0x30, 0x40, 0x50})

	for bytePos := range base {
		for bit := 0; bit < 8; bit++ {
			mutated := append([]byte(nil), base...)
			mutated[bytePos] ^= 1 << bit

			// A mutation in the magic bytes (0..3) is covered by the bad
			// magic test; every other mutation must invalidate the frame.
			if bytePos < 4 {
				continue
			}
			if _, ok := Decode(mutated); ok {
				t.Errorf("mutation at byte %d bit %d should invalidate the frame", bytePos, bit)
			}
		}
	}
}

func TestDecode_LengthExceedsAvailable(t *testing.T) {
	b := make([]byte, 10)
	binary.LittleEndian.PutUint32(b[0:4], Magic)
	binary.LittleEndian.PutUint16(b[4:6], 100) // declared length far exceeds buffer
	if _, ok := Decode(b); ok {
		t.Error("Decode should reject a declared length exceeding available bytes")
	}
}

func TestEncode_MaxPayloadLength(t *testing.T) {
	payload := make([]byte, 65535)
	encoded := Encode(CmdMidstData, payload)
	got, ok := Decode(encoded)
	if !ok {
		t.Fatal("Decode failed for maximum payload length 65535")
	}
	if len(got.Payload) != 65535 {
		t.Errorf("round trip payload length = %d, want 65535", len(got.Payload))
	}
}
