// Package accum provides the value-combining capability used by the
// sorted aggregator when multiple tuples share a key.
package accum

import "encoding/binary"

// Accumulator combines two values sharing the same key into one.
// Combine must behave as if it mutated existing in place, though
// implementations are free to return a freshly allocated slice when the
// combined value does not fit in existing's backing array.
//
// Associative accumulators may be partially combined during spill
// merges (i.e. combine(combine(a,b),c) == combine(a,combine(b,c))), so
// the aggregator is free to fold values together incrementally as runs
// merge. Non-associative accumulators defer all combination to the
// final cursor pass, where every value sharing a key is visited in one
// place before being folded.
type Accumulator struct {
	Combine     func(existing, incoming []byte) []byte
	Associative bool
}

// IntSum combines two 8-byte big-endian signed integers by addition. It
// is associative: summation order never changes the result.
var IntSum = Accumulator{
	Combine: func(existing, incoming []byte) []byte {
		a := decodeInt64(existing)
		b := decodeInt64(incoming)
		out := make([]byte, 8)
		binary.BigEndian.PutUint64(out, uint64(a+b))
		return out
	},
	Associative: true,
}

// Last keeps whichever value arrived most recently, i.e. combine always
// returns incoming. It is non-associative: the result depends on
// arrival order, which spill boundaries can reorder with respect to the
// final merge, so it must not be partially combined during a spill pass.
var Last = Accumulator{
	Combine: func(_, incoming []byte) []byte {
		return incoming
	},
	Associative: false,
}

func decodeInt64(b []byte) int64 {
	if len(b) < 8 {
		var padded [8]byte
		copy(padded[8-len(b):], b)
		b = padded[:]
	}
	return int64(binary.BigEndian.Uint64(b))
}

// EncodeInt64 is a convenience for building test/demo tuples compatible
// with IntSum.
func EncodeInt64(v int64) []byte {
	out := make([]byte, 8)
	binary.BigEndian.PutUint64(out, uint64(v))
	return out
}

// DecodeInt64 is the inverse of EncodeInt64.
func DecodeInt64(b []byte) int64 { return decodeInt64(b) }
