package sorted

import (
	"encoding/binary"
	"testing"

	"github.com/flowlake/corepipe/pkg/sorted/accum"
	"github.com/flowlake/corepipe/pkg/sorted/block"
	"github.com/flowlake/corepipe/pkg/sorted/comparator"
)

func newTestPartition(t *testing.T, acc *accum.Accumulator) (*partition, *block.Pool) {
	t.Helper()
	pool := block.New(nil, 256, 8)
	p := newPartition(0, pool, binary.BigEndian, comparator.Bytewise, acc)
	return p, pool
}

func TestPartitionAppendAndSort(t *testing.T) {
	p, _ := newTestPartition(t, nil)

	if ok := p.Append([]byte("b"), []byte("2")); !ok {
		t.Fatal("expected append to succeed")
	}
	if ok := p.Append([]byte("a"), []byte("1")); !ok {
		t.Fatal("expected append to succeed")
	}
	if ok := p.Append([]byte("c"), []byte("3")); !ok {
		t.Fatal("expected append to succeed")
	}

	p.Sort()
	want := []string{"a", "b", "c"}
	for i, w := range want {
		if string(p.KeyAt(i)) != w {
			t.Fatalf("KeyAt(%d) = %q, want %q", i, p.KeyAt(i), w)
		}
	}
}

func TestPartitionCombinesWithAccumulator(t *testing.T) {
	p, _ := newTestPartition(t, &accum.IntSum)

	p.Append([]byte("k"), accum.EncodeInt64(3))
	p.Append([]byte("k"), accum.EncodeInt64(4))

	if p.Len() != 1 {
		t.Fatalf("expected one combined entry, got %d", p.Len())
	}
	if got := accum.DecodeInt64(p.ValueAt(0)); got != 7 {
		t.Fatalf("combined value = %d, want 7", got)
	}
}

func TestPartitionAppendFailsWhenPoolExhausted(t *testing.T) {
	pool := block.New(nil, 32, 1)
	p := newPartition(0, pool, binary.BigEndian, comparator.Bytewise, nil)

	// First record fills the only block (32 bytes: 8 header + up to 24
	// payload); a second, distinct-key record has nowhere to go.
	if ok := p.Append([]byte("k1"), make([]byte, 20)); !ok {
		t.Fatal("expected first append to fit")
	}
	if ok := p.Append([]byte("k2"), make([]byte, 20)); ok {
		t.Fatal("expected second append to fail: pool exhausted")
	}
}
