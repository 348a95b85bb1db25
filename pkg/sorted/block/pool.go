// Package block implements the fixed-size memory blocks and bounded
// pool that back the sorted aggregator's partitions. Blocks are the
// only unit of memory custody in the store: a partition borrows blocks
// from the pool for its lifetime and returns them on dispose or once
// their content has been spilled and is no longer needed in memory.
package block

import "github.com/apache/arrow-go/v18/arrow/memory"

// DefaultSize is the default fixed block size, matching the spec's
// illustrative 128 KiB.
const DefaultSize = 128 * 1024

// Block is a fixed-size byte region owned by exactly one partition at a
// time. Tuples are appended to it until the next tuple would not fit.
type Block struct {
	buf []byte
	len int
}

// Append writes p to the block if there is room, returning the offset
// it was written at. ok is false (and the block untouched) if p does
// not fit in the remaining space.
func (b *Block) Append(p []byte) (offset int, ok bool) {
	if len(p) > len(b.buf)-b.len {
		return 0, false
	}
	offset = b.len
	copy(b.buf[offset:], p)
	b.len += len(p)
	return offset, true
}

// Bytes returns the slice of length n starting at offset, a zero-copy
// view into the block's backing array. The returned slice is only valid
// as long as the block is not released back to the pool.
func (b *Block) Bytes(offset, n int) []byte {
	return b.buf[offset : offset+n]
}

// Remaining reports how many unused bytes are left in the block.
func (b *Block) Remaining() int { return len(b.buf) - b.len }

func (b *Block) reset() { b.len = 0 }

// Pool is a bounded set of equal-sized blocks drawn on demand by
// partitions and returned on spill completion or dispose. It is the
// only source of memory for a sorted aggregator instance; once
// exhausted, Acquire returns false and the caller must spill to reclaim
// blocks.
type Pool struct {
	alloc     memory.Allocator
	blockSize int
	free      []*Block
	capacity  int
	disposed  bool
}

// New builds a pool of count blocks of blockSize bytes each, allocated
// through alloc. Passing nil for alloc defaults to memory.NewGoAllocator(),
// the plain heap-backed allocator.
func New(alloc memory.Allocator, blockSize, count int) *Pool {
	if alloc == nil {
		alloc = memory.NewGoAllocator()
	}
	p := &Pool{alloc: alloc, blockSize: blockSize, capacity: count}
	p.free = make([]*Block, 0, count)
	for i := 0; i < count; i++ {
		p.free = append(p.free, &Block{buf: alloc.Allocate(blockSize)})
	}
	return p
}

// Acquire hands out one free block, or reports false if the pool is
// exhausted.
func (p *Pool) Acquire() (*Block, bool) {
	if len(p.free) == 0 {
		return nil, false
	}
	n := len(p.free) - 1
	b := p.free[n]
	p.free = p.free[:n]
	b.reset()
	return b, true
}

// Release returns a block to the pool for reuse.
func (p *Pool) Release(b *Block) {
	b.reset()
	p.free = append(p.free, b)
}

// Capacity reports the total number of blocks the pool was built with.
func (p *Pool) Capacity() int { return p.capacity }

// Available reports how many blocks are currently free.
func (p *Pool) Available() int { return len(p.free) }

// Dispose frees every block currently sitting in the free list back to
// the allocator. It is idempotent; blocks still held by a partition are
// the partition's responsibility to Release before calling Dispose.
func (p *Pool) Dispose() {
	if p.disposed {
		return
	}
	for _, b := range p.free {
		p.alloc.Free(b.buf)
		b.buf = nil
	}
	p.free = nil
	p.disposed = true
}
