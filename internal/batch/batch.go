// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package batch holds GcData's Go analogue: a single-producer contribution
// from one mutator, and the intrusive singly-linked list of batches that
// forms on hand-off to the collector.
package batch

import "github.com/sp1end0r/forkscan/internal/candidate"

// Batch is one mutator's contribution to a collection cycle: an ordered
// sequence of retirement records, plus parallel Refs/AllocSz arrays that
// New leaves zeroed. The aggregator and scanner fill the Dataset's own
// arrays, not these; a carry-over batch holds copies of the previous
// cycle's Dataset values. Next
// forms an intrusive singly-linked list; ownership of a Batch transfers to
// the collector at hand-off (candidate.Queue's onFull callback).
type Batch struct {
	Addrs    []uintptr
	Refs     []int32
	AllocSz  []int32
	Capacity int
	Next     *Batch
}

// New creates a batch from a drained queue snapshot, sized to capacity
// (the owning queue's ring size, so survivors can be written back into the
// same storage next cycle).
func New(records []candidate.Record, capacity int) *Batch {
	addrs := make([]uintptr, len(records))
	for i, r := range records {
		addrs[i] = r.Addr()
	}
	return &Batch{
		Addrs:    addrs,
		Refs:     make([]int32, len(records)),
		AllocSz:  make([]int32, len(records)),
		Capacity: capacity,
	}
}

// Count returns the total number of addresses across the whole list
// starting at b (b may be nil).
func Count(b *Batch) int {
	n := 0
	for ; b != nil; b = b.Next {
		n += len(b.Addrs)
	}
	return n
}

// Append walks to the end of list and links tail on, returning the
// (possibly new) head. A nil list becomes tail.
func Append(list, tail *Batch) *Batch {
	if list == nil {
		return tail
	}
	cur := list
	for cur.Next != nil {
		cur = cur.Next
	}
	cur.Next = tail
	return list
}
