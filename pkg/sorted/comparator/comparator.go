// Package comparator provides the key-ordering capability used by the
// sorted aggregator. A Comparator is modelled as a small dispatch table
// of function-typed fields rather than an interface hierarchy, per the
// operator's "capability abstraction" design: both the aggregator and
// its cursor only ever need a single Compare call.
package comparator

import "bytes"

// Comparator totally orders two byte slices representing tuple keys.
// Compare must be deterministic and consistent: Compare(a,b) < 0 iff
// Compare(b,a) > 0, and Compare(a,a) == 0.
type Comparator struct {
	Compare func(a, b []byte) int
}

// Bytewise orders keys by their raw byte content, lexicographically.
var Bytewise = Comparator{Compare: bytes.Compare}

// LengthPrefixedString treats each key as a 4-byte big-endian length
// prefix followed by that many bytes of string content, and orders by
// the string content alone - not by the encoded bytes, which would
// otherwise let a short prefix length byte perturb the ordering of keys
// whose content is itself numeric-looking.
var LengthPrefixedString = Comparator{Compare: compareLengthPrefixedString}

func compareLengthPrefixedString(a, b []byte) int {
	return bytes.Compare(stringPayload(a), stringPayload(b))
}

func stringPayload(k []byte) []byte {
	if len(k) < 4 {
		return k
	}
	n := int(k[0])<<24 | int(k[1])<<16 | int(k[2])<<8 | int(k[3])
	if 4+n > len(k) {
		return k[4:]
	}
	return k[4 : 4+n]
}

// Reversed returns a Comparator whose ordering is the negation of c,
// implementing sortOrder = DESC uniformly without touching any other
// aggregator logic.
func Reversed(c Comparator) Comparator {
	return Comparator{Compare: func(a, b []byte) int { return -c.Compare(a, b) }}
}
