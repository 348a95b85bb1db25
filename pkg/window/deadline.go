package window

import "container/heap"

// Deadline pairs a window's end time with the key it belongs to.
type Deadline struct {
	End int64
	Key string
}

type deadlineEntry struct {
	end int64
	key string
}

type deadlineHeap []deadlineEntry

func (h deadlineHeap) Len() int            { return len(h) }
func (h deadlineHeap) Less(i, j int) bool  { return h[i].end < h[j].end }
func (h deadlineHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *deadlineHeap) Push(x interface{}) { *h = append(*h, x.(deadlineEntry)) }
func (h *deadlineHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// DeadlineIndex is an ordered end -> {keys} mapping, implemented as a
// min-heap over (end, key) pairs with lazy deletion. A plain balanced
// tree would give the same asymptotics; the heap is cheaper to maintain
// in Go and is explicitly sanctioned as an alternative by the design
// notes, provided the headMap(wm).clear() semantics are preserved: a
// key's entry is only ever yielded once, and only while it is still the
// live deadline for that key.
type DeadlineIndex struct {
	h    deadlineHeap
	live map[string]map[int64]int
}

// NewDeadlineIndex returns an empty deadline index.
func NewDeadlineIndex() *DeadlineIndex {
	return &DeadlineIndex{
		live: make(map[string]map[int64]int),
	}
}

// Insert records that key k now has an active window ending at end.
func (d *DeadlineIndex) Insert(k string, end int64) {
	heap.Push(&d.h, deadlineEntry{end: end, key: k})
	ends, ok := d.live[k]
	if !ok {
		ends = make(map[int64]int)
		d.live[k] = ends
	}
	ends[end]++
}

// Remove drops one live (k, end) pair, e.g. when a window's end is
// reindexed or the window is merged away. It is a no-op if the pair is
// not currently live.
func (d *DeadlineIndex) Remove(k string, end int64) {
	ends, ok := d.live[k]
	if !ok {
		return
	}
	if c := ends[end]; c <= 1 {
		delete(ends, end)
		if len(ends) == 0 {
			delete(d.live, k)
		}
	} else {
		ends[end] = c - 1
	}
}

// PopAllBelow removes and returns, in ascending end order, every live
// (key, end) pair with end < wm. Stale heap entries left behind by
// Remove are discarded silently.
func (d *DeadlineIndex) PopAllBelow(wm int64) []Deadline {
	var out []Deadline
	for d.h.Len() > 0 && d.h[0].end < wm {
		e := heap.Pop(&d.h).(deadlineEntry)
		ends, ok := d.live[e.key]
		if !ok {
			continue
		}
		c, ok := ends[e.end]
		if !ok || c == 0 {
			continue
		}
		if c == 1 {
			delete(ends, e.end)
			if len(ends) == 0 {
				delete(d.live, e.key)
			}
		} else {
			ends[e.end] = c - 1
		}
		out = append(out, Deadline{End: e.end, Key: e.key})
	}
	return out
}

// Len reports the number of live deadline entries, ignoring stale heap
// tombstones.
func (d *DeadlineIndex) Len() int {
	n := 0
	for _, ends := range d.live {
		for _, c := range ends {
			n += c
		}
	}
	return n
}
