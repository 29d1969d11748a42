// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package aggregator merges the per-thread batches handed off during one
// collection cycle into a single scan-ready Dataset.
package aggregator

import (
	"unsafe"

	"github.com/sp1end0r/forkscan/internal/shmem"
)

// Dataset is the aggregated, scan-ready snapshot of one collection cycle's
// candidates. It is backed by a single MAP_SHARED|MAP_ANONYMOUS region
// (internal/shmem) so that marks the forked child writes into Refs and
// RootFlag are visible to the parent without any further IPC.
//
// Invariants: Addrs is strictly monotonic ascending after
// aggregation; at scan start every Refs[i] == 0, every RootFlag[i] == 0, and
// no Addrs[i] carries the collected bit; Refs[i] never goes negative.
type Dataset struct {
	raw []byte // the whole shared mapping; Release munmaps this.

	Addrs    []uintptr // sorted ascending, no duplicates, low bit = collected flag.
	Minimap  []uintptr // every (PageSize/ptrSize)-th entry of Addrs.
	Refs     []int32   // signed reference counters, atomically updated.
	AllocSz  []int32   // byte size of each block, from the BlockSizer.
	RootFlag []int32   // 1 if a thread stack scan marked this index directly, 0 otherwise.

	MinVal, MaxVal uintptr // cached Addrs[0] / Addrs[len-1].
}

const ptrSize = unsafe.Sizeof(uintptr(0))

// layout describes the page-rounded byte size of each of Dataset's five
// sub-arrays for n addresses, the same five-region
// shared mapping (addrs/minimap/refs/alloc_sz/root_flag), each independently
// page-aligned.
type layout struct {
	addrsBytes, minimapBytes, refsBytes, allocSzBytes, rootFlagBytes int
}

func computeLayout(n int) layout {
	minimapLen := minimapSize(n)
	return layout{
		addrsBytes:    shmem.RoundUpPages(n * int(ptrSize)),
		minimapBytes:  shmem.RoundUpPages(minimapLen * int(ptrSize)),
		refsBytes:     shmem.RoundUpPages(n * 4),
		allocSzBytes:  shmem.RoundUpPages(n * 4),
		rootFlagBytes: shmem.RoundUpPages(n * 4),
	}
}

// minimapSamplingStride is PAGESIZE/ptr-size.
func minimapSamplingStride() int {
	return shmem.PageSize / int(ptrSize)
}

func minimapSize(n int) int {
	if n == 0 {
		return 0
	}
	stride := minimapSamplingStride()
	return (n + stride - 1) / stride
}

// newDataset carves a freshly mmap'd region into the five typed sub-arrays.
// n is the final address count (after any compaction the caller already
// did on the input); the minimap is sized for n addresses up front, which
// is always an upper bound because aggregation only ever shrinks n via
// Compact, never grows it.
func newDataset(n int) (*Dataset, error) {
	l := computeLayout(n)
	total := l.addrsBytes + l.minimapBytes + l.refsBytes + l.allocSzBytes + l.rootFlagBytes
	if total == 0 {
		total = shmem.PageSize
	}
	raw, err := shmem.MapShared(total)
	if err != nil {
		return nil, err
	}

	off := 0
	addrs := sliceUintptr(raw[off : off+l.addrsBytes])
	off += l.addrsBytes
	minimap := sliceUintptr(raw[off : off+l.minimapBytes])
	off += l.minimapBytes
	refs := sliceInt32(raw[off : off+l.refsBytes])
	off += l.refsBytes
	allocSz := sliceInt32(raw[off : off+l.allocSzBytes])
	off += l.allocSzBytes
	rootFlag := sliceInt32(raw[off : off+l.rootFlagBytes])

	return &Dataset{
		raw:      raw,
		Addrs:    addrs[:n:n],
		Minimap:  minimap[:0:len(minimap)],
		Refs:     refs[:n:n],
		AllocSz:  allocSz[:n:n],
		RootFlag: rootFlag[:n:n],
	}, nil
}

func sliceUintptr(b []byte) []uintptr {
	if len(b) == 0 {
		return nil
	}
	return unsafe.Slice((*uintptr)(unsafe.Pointer(&b[0])), len(b)/int(ptrSize))
}

func sliceInt32(b []byte) []int32 {
	if len(b) == 0 {
		return nil
	}
	return unsafe.Slice((*int32)(unsafe.Pointer(&b[0])), len(b)/4)
}

// Release unmaps the dataset's shared region. Callers must not call this
// until the sweep's fixpoint loop has finished.
func (d *Dataset) Release() error {
	return shmem.Munmap(d.raw)
}

// Len reports the current number of live addresses.
func (d *Dataset) Len() int { return len(d.Addrs) }
