// Package flash implements REPARTITION, per-image START/MIDST/ENDED
// burn, ERASE_FLASH, and the image-list driver that walks a resolved
// manifest: a chunked read/send/progress-callback loop with a
// per-step timeout on every exchange.
package flash

import (
	"encoding/binary"
	"unicode/utf16"
)

// nameCodeUnits is the fixed UTF-16-LE width (in code units) every wire
// name field occupies: 36 units = 72 bytes.
const nameCodeUnits = 36
const nameBytes = nameCodeUnits * 2

// encodeName72 encodes name as UTF-16-LE, truncated or zero-padded to
// exactly 72 bytes (36 code units). Names of exactly 36 units are not
// truncated; longer names lose their tail; shorter names are zero-padded.
func encodeName72(name string) []byte {
	units := utf16.Encode([]rune(name))
	if len(units) > nameCodeUnits {
		units = units[:nameCodeUnits]
	}
	out := make([]byte, nameBytes)
	for i, u := range units {
		binary.LittleEndian.PutUint16(out[i*2:i*2+2], u)
	}
	return out
}

// repartitionMagic is the REPARTITION payload head magic, spelled "par:"
// when its little-endian bytes are read as ASCII.
const repartitionMagic uint32 = 0x3A726170

// encodeRepartitionPayload builds the single REPARTITION payload: an
// 8-byte head (magic, version=1, unit, count) followed by count
// partition records (72-byte name, signed 64-bit size, signed 64-bit
// gap).
func encodeRepartitionPayload(unit byte, partitions []partitionEntry) []byte {
	out := make([]byte, 8+len(partitions)*(nameBytes+8+8))
	binary.LittleEndian.PutUint32(out[0:4], repartitionMagic)
	out[4] = 1 // version
	out[5] = unit
	binary.LittleEndian.PutUint16(out[6:8], uint16(len(partitions)))

	off := 8
	for _, p := range partitions {
		copy(out[off:off+nameBytes], encodeName72(p.ID))
		off += nameBytes
		binary.LittleEndian.PutUint64(out[off:off+8], uint64(p.Size))
		off += 8
		binary.LittleEndian.PutUint64(out[off:off+8], uint64(p.Gap))
		off += 8
	}
	return out
}

// decodeRepartitionPayload is the inverse of encodeRepartitionPayload:
// given an encoded payload, it recovers (unit, entries).
func decodeRepartitionPayload(payload []byte) (unit byte, entries []partitionEntry, ok bool) {
	if len(payload) < 8 {
		return 0, nil, false
	}
	if binary.LittleEndian.Uint32(payload[0:4]) != repartitionMagic {
		return 0, nil, false
	}
	unit = payload[5]
	count := int(binary.LittleEndian.Uint16(payload[6:8]))

	recordSize := nameBytes + 8 + 8
	want := 8 + count*recordSize
	if len(payload) != want {
		return 0, nil, false
	}

	off := 8
	entries = make([]partitionEntry, 0, count)
	for i := 0; i < count; i++ {
		nameBuf := payload[off : off+nameBytes]
		off += nameBytes
		size := int64(binary.LittleEndian.Uint64(payload[off : off+8]))
		off += 8
		gap := int64(binary.LittleEndian.Uint64(payload[off : off+8]))
		off += 8
		entries = append(entries, partitionEntry{ID: decodeName72(nameBuf), Size: size, Gap: gap})
	}
	return unit, entries, true
}

// decodeName72 decodes a 72-byte UTF-16-LE name field, stopping at the
// first zero code unit (or the end of the field if none is zero).
func decodeName72(b []byte) string {
	units := make([]uint16, 0, nameCodeUnits)
	for i := 0; i+1 < len(b); i += 2 {
		u := binary.LittleEndian.Uint16(b[i : i+2])
		if u == 0 {
			break
		}
		units = append(units, u)
	}
	return string(utf16.Decode(units))
}

// partitionEntry mirrors manifest.PartitionEntry without importing the
// manifest package from this low-level wire file; flash.go adapts
// between the two.
type partitionEntry struct {
	ID   string
	Size int64
	Gap  int64
}

// eraseFlashPayload builds the ERASE_FLASH payload: flag(8)=0,
// name(72 UTF-16-LE), size(8)=0 meaning "erase the entire partition".
func eraseFlashPayload(name string) []byte {
	out := make([]byte, 8+nameBytes+8)
	// out[0:8] flag, left zero
	copy(out[8:8+nameBytes], encodeName72(name))
	// out[8+nameBytes:] size, left zero
	return out
}

// imageStartDataPayload builds the post-FDL2 image START_DATA payload:
// id(72 UTF-16-LE), size(8 LE), reserved(8)=0.
func imageStartDataPayload(name string, size uint64) []byte {
	out := make([]byte, nameBytes+8+8)
	copy(out[0:nameBytes], encodeName72(name))
	binary.LittleEndian.PutUint64(out[nameBytes:nameBytes+8], size)
	return out
}

// midstDataHeader builds the 12-byte MIDST_DATA header shared by every
// stage: length(4), enable(4)=0, checksum(4)=0. enable is unconditionally
// zero, so the device never validates the per-chunk checksum field.
func midstDataHeader(length uint32) []byte {
	out := make([]byte, 12)
	binary.LittleEndian.PutUint32(out[0:4], length)
	return out
}
