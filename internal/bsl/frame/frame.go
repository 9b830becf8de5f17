// Package frame implements the BSL packet envelope: magic, length,
// command, payload and a ones-complement checksum over the
// length||command||payload region. The struct shape (a decoded
// Command/Payload pair, separate Encode/Decode functions) follows the
// usual request/response packet codec layout, but the wire format
// itself is the BSL's own: a fixed magic, an ones-complement checksum
// with carry folding, no byte-stuffing or delimiters.
package frame

import (
	"encoding/binary"

	"github.com/bigbag/axdl-flasher/internal/bsl/bslerr"
)

// Magic is the 4-byte little-endian envelope magic every frame starts with.
const Magic uint32 = 0x5C6D8E9F

// Command codes, host to device.
const (
	CmdConnect     byte = 0x00
	CmdStartData   byte = 0x01
	CmdMidstData   byte = 0x02
	CmdEndedData   byte = 0x03
	CmdExecData    byte = 0x04
	CmdReset       byte = 0x05
	CmdEraseFlash  byte = 0x0A
	CmdRepartition byte = 0x0B
)

// Reply codes, device to host.
const (
	ReplyAck       byte = 0x80
	ReplyVersion   byte = 0x81
	ReplyFlashData byte = 0x93 // defined by the BSL, never observed on a normal flash
)

// minFrameLen is magic(4) + length(2) + command(2) + checksum(2).
const minFrameLen = 10

// Checksum16 computes the BSL ones-complement checksum over b: the
// region is summed as little-endian 16-bit words (modulo 2^32), folded
// by repeatedly adding the high half into the low half until the high
// half is zero, then bitwise inverted and truncated to 16 bits. A
// trailing odd byte is treated as the low byte of a final word with a
// zero high byte.
func Checksum16(b []byte) uint16 {
	var sum uint32
	n := len(b)
	i := 0
	for ; i+1 < n; i += 2 {
		sum += uint32(binary.LittleEndian.Uint16(b[i : i+2]))
	}
	if i < n {
		sum += uint32(b[i])
	}
	for sum>>16 != 0 {
		sum = (sum & 0xFFFF) + (sum >> 16)
	}
	return ^uint16(sum)
}

// Encode builds a complete BSL frame for command carrying payload.
func Encode(command byte, payload []byte) []byte {
	body := make([]byte, 2+2+len(payload))
	binary.LittleEndian.PutUint16(body[0:2], uint16(len(payload)))
	binary.LittleEndian.PutUint16(body[2:4], uint16(command))
	copy(body[4:], payload)

	out := make([]byte, 4+len(body)+2)
	binary.LittleEndian.PutUint32(out[0:4], Magic)
	copy(out[4:4+len(body)], body)
	cs := Checksum16(body)
	binary.LittleEndian.PutUint16(out[4+len(body):], cs)
	return out
}

// Frame is a decoded BSL reply: a command byte and its payload.
type Frame struct {
	Command byte
	Payload []byte
}

// Decode parses b as a single BSL frame. It never returns an error for
// malformed input: ok is false for any of bad magic, fewer than 10
// bytes, a declared length exceeding the available bytes, or a checksum
// mismatch. Trailing bytes past the declared frame length are ignored.
func Decode(b []byte) (f Frame, ok bool) {
	if len(b) < minFrameLen {
		return Frame{}, false
	}
	if binary.LittleEndian.Uint32(b[0:4]) != Magic {
		return Frame{}, false
	}

	length := binary.LittleEndian.Uint16(b[4:6])
	command := binary.LittleEndian.Uint16(b[6:8])

	bodyLen := 4 + int(length)
	if 4+bodyLen+2 > len(b) {
		return Frame{}, false
	}

	body := b[4 : 4+bodyLen]
	wantChecksum := binary.LittleEndian.Uint16(b[4+bodyLen : 4+bodyLen+2])
	if Checksum16(body) != wantChecksum {
		return Frame{}, false
	}

	return Frame{
		Command: byte(command),
		Payload: append([]byte(nil), b[8:8+int(length)]...),
	}, true
}

// DecodeStrict is Decode, but surfaces ErrFrameInvalid instead of a bare
// bool, for callers that want the bslerr taxonomy directly.
func DecodeStrict(b []byte) (Frame, error) {
	f, ok := Decode(b)
	if !ok {
		return Frame{}, bslerr.ErrFrameInvalid
	}
	return f, nil
}
