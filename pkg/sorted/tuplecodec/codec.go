// Package tuplecodec implements the sorted aggregator's record format:
// a self-delimiting (keyLen, key, valueLen, value) framing shared by
// in-memory blocks and on-disk spill runs. The spill writer re-encodes
// each record into this framing rather than copying block bytes.
package tuplecodec

import "encoding/binary"

// HeaderLen is the fixed-size portion of an encoded record: two u32
// length fields.
const HeaderLen = 8

// Size returns the total encoded length of a (key, value) record.
func Size(key, value []byte) int {
	return HeaderLen + len(key) + len(value)
}

// Encode writes one record into dst, which must be at least
// Size(key, value) bytes long, and returns the number of bytes written.
func Encode(dst []byte, key, value []byte, bo binary.ByteOrder) int {
	bo.PutUint32(dst[0:4], uint32(len(key)))
	copy(dst[4:4+len(key)], key)
	off := 4 + len(key)
	bo.PutUint32(dst[off:off+4], uint32(len(value)))
	copy(dst[off+4:off+4+len(value)], value)
	return HeaderLen + len(key) + len(value)
}

// Decode reads one record from src starting at offset 0, returning
// zero-copy views of the key and value plus the number of bytes
// consumed. ok is false if src does not hold a complete record.
func Decode(src []byte, bo binary.ByteOrder) (key, value []byte, n int, ok bool) {
	if len(src) < 4 {
		return nil, nil, 0, false
	}
	keyLen := int(bo.Uint32(src[0:4]))
	off := 4 + keyLen
	if len(src) < off+4 {
		return nil, nil, 0, false
	}
	valLen := int(bo.Uint32(src[off : off+4]))
	end := off + 4 + valLen
	if len(src) < end {
		return nil, nil, 0, false
	}
	return src[4:off], src[off+4 : end], end, true
}

// Offsets describes where the key and value of an already-encoded
// record sit relative to the record's own start, so a caller holding
// just a start offset can slice key/value out of a block without
// re-decoding the header on every access.
type Offsets struct {
	KeyOff, KeyLen   int
	ValueOff, ValueLen int
}

// DecodeOffsets is like Decode but reports positions instead of slices,
// for callers that want to cache locations into a larger buffer (e.g. a
// block) rather than hold slices directly.
func DecodeOffsets(src []byte, bo binary.ByteOrder) (Offsets, int, bool) {
	if len(src) < 4 {
		return Offsets{}, 0, false
	}
	keyLen := int(bo.Uint32(src[0:4]))
	keyOff := 4
	valLenOff := keyOff + keyLen
	if len(src) < valLenOff+4 {
		return Offsets{}, 0, false
	}
	valLen := int(bo.Uint32(src[valLenOff : valLenOff+4]))
	valOff := valLenOff + 4
	end := valOff + valLen
	if len(src) < end {
		return Offsets{}, 0, false
	}
	return Offsets{KeyOff: keyOff, KeyLen: keyLen, ValueOff: valOff, ValueLen: valLen}, end, true
}
