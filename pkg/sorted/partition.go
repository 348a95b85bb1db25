package sorted

import (
	"encoding/binary"

	"github.com/flowlake/corepipe/pkg/sorted/accum"
	"github.com/flowlake/corepipe/pkg/sorted/block"
	"github.com/flowlake/corepipe/pkg/sorted/comparator"
	"github.com/flowlake/corepipe/pkg/sorted/tuplecodec"
)

// ref locates one encoded record inside a partition's block chain.
type ref struct {
	blockIdx int
	offset   int
	keyLen   int
	valLen   int
	arrival  uint64
}

// partition owns a chain of blocks borrowed from the shared pool plus
// the bookkeeping needed to append, optionally combine on key, and
// eventually sort its own in-memory records. It never talks to disk
// directly; the aggregator decides when a partition's content should be
// spilled and hands it the spill.Writer to drain into.
type partition struct {
	idx   int
	pool  *block.Pool
	bo    binary.ByteOrder
	cmp   comparator.Comparator
	acc   *accum.Accumulator

	blocks []*block.Block
	refs   []ref

	// keyIndex maps an encoded key (as a string, for map comparability)
	// to the index into refs holding the current combined value, used to
	// fold incoming records into an existing entry when an associative
	// accumulator is configured. It is only ever consulted pre-spill: once a chunk has
	// been written out, further records for the same key simply start a
	// fresh entry, and the cursor's merge step is what reconciles
	// duplicates across runs.
	keyIndex map[string]int

	nextArrival uint64
	sorted      bool
}

func newPartition(idx int, pool *block.Pool, bo binary.ByteOrder, cmp comparator.Comparator, acc *accum.Accumulator) *partition {
	p := &partition{idx: idx, pool: pool, bo: bo, cmp: cmp, acc: acc}
	if acc != nil {
		p.keyIndex = make(map[string]int)
	}
	return p
}

// Len reports how many live records the partition currently holds in
// memory.
func (p *partition) Len() int { return len(p.refs) }

// Append stores key/value, combining into an existing in-memory entry
// with the same key when an accumulator is configured and associative,
// or creating a fresh record otherwise (records for a non-associative
// accumulator are combined later, by the cursor, in arrival order). It returns false if the shared
// pool has no block available to grow into.
func (p *partition) Append(key, value []byte) bool {
	if p.acc != nil && p.acc.Associative {
		if i, ok := p.keyIndex[string(key)]; ok {
			return p.combineInto(i, value)
		}
	}
	r, ok := p.store(key, value)
	if !ok {
		return false
	}
	idx := len(p.refs)
	p.refs = append(p.refs, r)
	if p.acc != nil && p.acc.Associative {
		p.keyIndex[string(key)] = idx
	}
	p.sorted = false
	return true
}

// combineInto folds value into the record at refs[i] using the
// configured accumulator, rewriting the record in place at a freshly
// stored location.
func (p *partition) combineInto(i int, value []byte) bool {
	existing := p.refs[i]
	existingVal := p.blocks[existing.blockIdx].Bytes(existing.offset+tuplecodec.HeaderLen+existing.keyLen, existing.valLen)
	combined := p.acc.Combine(existingVal, value)
	key := p.blocks[existing.blockIdx].Bytes(existing.offset+4, existing.keyLen)
	r, ok := p.store(key, combined)
	if !ok {
		return false
	}
	r.arrival = existing.arrival
	p.refs[i] = r
	p.sorted = false
	return true
}

// store writes one encoded record into the current tail block, growing
// the chain from the pool if the record does not fit.
func (p *partition) store(key, value []byte) (ref, bool) {
	need := tuplecodec.Size(key, value)
	if len(p.blocks) == 0 || p.blocks[len(p.blocks)-1].Remaining() < need {
		b, ok := p.pool.Acquire()
		if !ok {
			return ref{}, false
		}
		p.blocks = append(p.blocks, b)
	}
	bi := len(p.blocks) - 1
	b := p.blocks[bi]

	scratch := make([]byte, need)
	tuplecodec.Encode(scratch, key, value, p.bo)
	off, ok := b.Append(scratch)
	if !ok {
		return ref{}, false
	}
	r := ref{blockIdx: bi, offset: off, keyLen: len(key), valLen: len(value), arrival: p.nextArrival}
	p.nextArrival++
	return r, true
}

func (p *partition) keyAt(r ref) []byte {
	return p.blocks[r.blockIdx].Bytes(r.offset+4, r.keyLen)
}

func (p *partition) valueAt(r ref) []byte {
	return p.blocks[r.blockIdx].Bytes(r.offset+4+r.keyLen+4, r.valLen)
}

// KeyAt and ValueAt expose record i's key and value for external
// readers such as the merge cursor.
func (p *partition) KeyAt(i int) []byte   { return p.keyAt(p.refs[i]) }
func (p *partition) ValueAt(i int) []byte { return p.valueAt(p.refs[i]) }

// Sort orders refs by comparator, breaking ties by arrival order so the
// sort is stable even though refs are plain structs rather than a
// pointer-stable sequence.
func (p *partition) Sort() {
	if p.sorted {
		return
	}
	sortRefs(p.refs, func(a, b ref) int {
		c := p.cmp.Compare(p.keyAt(a), p.keyAt(b))
		if c != 0 {
			return c
		}
		if a.arrival < b.arrival {
			return -1
		}
		if a.arrival > b.arrival {
			return 1
		}
		return 0
	})
	p.sorted = true
}

// sortRefs is a small sort wrapper kept local to avoid pulling generics
// constraints into the ref type itself; it delegates to sort.SliceStable
// through sortSliceStable.
func sortRefs(refs []ref, cmp func(a, b ref) int) {
	sortSliceStable(refs, cmp)
}

// drainInto sorts this partition's in-memory records, writes every one of
// them to w, then releases its blocks back to the pool and clears its
// record index.
func (p *partition) drainInto(w recordSink) error {
	p.Sort()
	for i := range p.refs {
		if err := w.WriteRecord(p.KeyAt(i), p.ValueAt(i)); err != nil {
			return err
		}
	}
	for _, b := range p.blocks {
		p.pool.Release(b)
	}
	p.blocks = nil
	p.refs = nil
	if p.keyIndex != nil {
		p.keyIndex = make(map[string]int)
	}
	p.sorted = false
	return nil
}

// recordSink is satisfied by *spill.Writer; kept as a local interface so
// this file does not need to import the spill package just to accept a
// writer.
type recordSink interface {
	WriteRecord(key, value []byte) error
}

// releaseBlocks returns every block this partition still holds back to
// the pool, without touching its record index. Callers disposing of the
// aggregator must call this for every partition before disposing the
// pool itself, or any blocks a partition still has checked out are
// dropped as plain Go slices without ever reaching the allocator.
func (p *partition) releaseBlocks() {
	for _, b := range p.blocks {
		p.pool.Release(b)
	}
	p.blocks = nil
}
