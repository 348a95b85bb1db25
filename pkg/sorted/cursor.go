package sorted

import (
	"container/heap"
	"io"

	"github.com/flowlake/corepipe/pkg/sorted/accum"
	"github.com/flowlake/corepipe/pkg/sorted/comparator"
	"github.com/flowlake/corepipe/pkg/sorted/spill"
)

// Record is one (key, value) pair yielded by a Cursor.
type Record struct {
	Key   []byte
	Value []byte
}

// source is anything a Cursor can pull ordered records from: either a
// partition's remaining in-memory refs or an open spill run.
type source interface {
	peek() (key, value []byte, ok bool)
	advance() error
}

type memSource struct {
	p   *partition
	pos int
}

func (s *memSource) peek() (key, value []byte, ok bool) {
	if s.pos >= len(s.p.refs) {
		return nil, nil, false
	}
	return s.p.KeyAt(s.pos), s.p.ValueAt(s.pos), true
}

func (s *memSource) advance() error {
	s.pos++
	return nil
}

type runSource struct {
	r         *spill.Reader
	curKey    []byte
	curVal    []byte
	exhausted bool
	started   bool
}

func (s *runSource) peek() (key, value []byte, ok bool) {
	if !s.started {
		s.started = true
		s.pull()
	}
	if s.exhausted {
		return nil, nil, false
	}
	return s.curKey, s.curVal, true
}

func (s *runSource) pull() {
	k, v, err := s.r.Next()
	if err != nil {
		s.exhausted = true
		s.curKey, s.curVal = nil, nil
		return
	}
	s.curKey, s.curVal = k, v
}

func (s *runSource) advance() error {
	if !s.started {
		s.started = true
	}
	s.pull()
	return nil
}

// cursorItem is one entry in the merge heap: a source plus the
// deterministic index used to break ties between sources whose current
// keys compare equal.
type cursorItem struct {
	src       source
	srcIndex  int
	key, value []byte
}

type cursorHeap struct {
	items []*cursorItem
	cmp   comparator.Comparator
}

func (h *cursorHeap) Len() int { return len(h.items) }
func (h *cursorHeap) Less(i, j int) bool {
	c := h.cmp.Compare(h.items[i].key, h.items[j].key)
	if c != 0 {
		return c < 0
	}
	// Deterministic tie-break: lower source index (earlier partition,
	// then earlier run within a partition) wins, matching the spec's
	// requirement that equal keys from different sources still produce a
	// stable, repeatable interleaving.
	return h.items[i].srcIndex < h.items[j].srcIndex
}
func (h *cursorHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *cursorHeap) Push(x any)    { h.items = append(h.items, x.(*cursorItem)) }
func (h *cursorHeap) Pop() any {
	n := len(h.items)
	it := h.items[n-1]
	h.items = h.items[:n-1]
	return it
}

// Cursor performs a k-way merge across one entry per partition's
// remaining in-memory records plus one entry per spilled run of any
// partition, yielding the whole accepted multiset in a single globally
// ordered stream. It holds no lock and does no background work: every
// Next call does exactly the work needed to produce one record.
type Cursor struct {
	h       *cursorHeap
	acc     *accum.Accumulator
	closers []io.Closer
}

// newCursor builds a merge cursor over srcs. When acc is non-nil, Next
// folds every record sharing an equal key - regardless of which source
// it came from - into one combined record before returning it, matching
// the Accumulator contract that non-associative combination is deferred
// to this final pass.
func newCursor(cmp comparator.Comparator, acc *accum.Accumulator, srcs []source, closers []io.Closer) (*Cursor, error) {
	h := &cursorHeap{cmp: cmp}
	heap.Init(h)
	for i, s := range srcs {
		k, v, ok := s.peek()
		if !ok {
			continue
		}
		heap.Push(h, &cursorItem{src: s, srcIndex: i, key: k, value: v})
	}
	return &Cursor{h: h, acc: acc, closers: closers}, nil
}

// popOne pops the current heap top, advances its source, and re-pushes
// the source if it still has more records.
func (c *Cursor) popOne() (Record, error) {
	top := heap.Pop(c.h).(*cursorItem)
	rec := Record{Key: top.key, Value: top.value}
	if err := top.src.advance(); err != nil {
		return Record{}, err
	}
	if k, v, ok := top.src.peek(); ok {
		top.key, top.value = k, v
		heap.Push(c.h, top)
	}
	return rec, nil
}

// Next returns the next record in comparator order, or ok=false once
// every source is exhausted. When an accumulator is configured, every
// record across every source that shares the returned key is folded
// into it here before it is yielded, so a key split across the
// in-memory partition and one or more spilled runs still surfaces as
// exactly one combined record.
func (c *Cursor) Next() (Record, bool, error) {
	if c.h.Len() == 0 {
		return Record{}, false, nil
	}
	rec, err := c.popOne()
	if err != nil {
		return Record{}, false, err
	}
	if c.acc == nil {
		return rec, true, nil
	}
	for c.h.Len() > 0 && c.h.cmp.Compare(c.h.items[0].key, rec.Key) == 0 {
		next, err := c.popOne()
		if err != nil {
			return Record{}, false, err
		}
		rec.Value = c.acc.Combine(rec.Value, next.Value)
	}
	return rec, true, nil
}

// Close releases any open spill run readers held by the cursor's
// sources.
func (c *Cursor) Close() error {
	var firstErr error
	for _, cl := range c.closers {
		if err := cl.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
