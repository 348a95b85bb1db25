package comparator

import "testing"

func TestBytewiseOrdering(t *testing.T) {
	if Bytewise.Compare([]byte("a"), []byte("b")) >= 0 {
		t.Fatal("expected a < b")
	}
	if Bytewise.Compare([]byte("b"), []byte("a")) <= 0 {
		t.Fatal("expected b > a")
	}
	if Bytewise.Compare([]byte("a"), []byte("a")) != 0 {
		t.Fatal("expected a == a")
	}
}

func TestReversedNegatesOrdering(t *testing.T) {
	desc := Reversed(Bytewise)
	if desc.Compare([]byte("a"), []byte("b")) <= 0 {
		t.Fatal("expected reversed comparator to order a after b")
	}
}

func encodeLP(s string) []byte {
	n := len(s)
	out := make([]byte, 4+n)
	out[0] = byte(n >> 24)
	out[1] = byte(n >> 16)
	out[2] = byte(n >> 8)
	out[3] = byte(n)
	copy(out[4:], s)
	return out
}

func TestLengthPrefixedStringIgnoresPrefixBytes(t *testing.T) {
	a := encodeLP("ab")
	b := encodeLP("b")
	// Raw bytewise would compare the length byte 0x02 vs 0x01 first and
	// call a > b; the length-prefixed comparator must compare "ab" vs "b"
	// instead.
	if LengthPrefixedString.Compare(a, b) >= 0 {
		t.Fatal("expected \"ab\" < \"b\" by content")
	}
}
