// Licensed under the MIT License. See LICENSE file in the project root for details.

package aggregator

import (
	"sort"
	"sync/atomic"
)

// Find locates addr (already masked) in ds.Addrs using the minimap as a
// coarse first-level index and a binary search within the located page's
// range as the second level. It returns the
// index and true if addr is present (ignoring the collected bit), or
// (0, false) if not.
func (ds *Dataset) Find(addr uintptr) (int, bool) {
	if len(ds.Addrs) == 0 || addr < ds.MinVal || addr > ds.MaxVal {
		return 0, false
	}
	lo, hi := ds.bracket(addr)
	return binarySearch(ds.Addrs, lo, hi, addr)
}

// bracket returns the [lo, hi) slice of Addrs that might contain addr,
// using the minimap to narrow a linear scan of up to len(Addrs) down to a
// single page-sized range.
func (ds *Dataset) bracket(addr uintptr) (lo, hi int) {
	stride := minimapSamplingStride()
	// Largest minimap bucket whose sampled address is <= addr.
	bucket := sort.Search(len(ds.Minimap), func(i int) bool {
		return maskAddr(ds.Minimap[i]) > addr
	}) - 1
	if bucket < 0 {
		bucket = 0
	}
	lo = bucket * stride
	hi = lo + stride
	if hi > len(ds.Addrs) {
		hi = len(ds.Addrs)
	}
	return lo, hi
}

// binarySearch finds addr (masked) within ds.Addrs[lo:hi] (which is itself
// monotonic ascending modulo the collected bit tag). Used both by Find and
// directly by the sweep's unref cascade, which already knows a sub-range
// to search (the same "binary_search(deep_addr, addrs, 0, n)" split
// around the current index). addrs is read with atomic.LoadUintptr because
// the sweep's claim discipline mutates entries concurrently via CAS while
// a cascade on another goroutine may still be searching this same slice.
func binarySearch(addrs []uintptr, lo, hi int, addr uintptr) (int, bool) {
	for lo < hi {
		mid := (lo + hi) / 2
		v := maskAddr(atomic.LoadUintptr(&addrs[mid]))
		switch {
		case v == addr:
			return mid, true
		case v < addr:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return 0, false
}

// BinarySearchRange exposes binarySearch to other packages (the sweep's
// unref cascade needs to search strictly before or strictly after the
// current index, not just "anywhere").
func BinarySearchRange(addrs []uintptr, lo, hi int, addr uintptr) (int, bool) {
	return binarySearch(addrs, lo, hi, addr)
}

func maskAddr(v uintptr) uintptr { return v &^ 1 }
