// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package snapshot implements the forked child's scan and, on Linux, the
// fork itself.
//
// ScanAll and its helpers are plain, allocation-free Go: no lock, no
// channel, no goroutine spawn, nothing that could reach into a runtime
// left in an inconsistent state after fork(). That restriction is what
// lets the same code run both inside a genuinely forked child (fork_linux.go)
// and, for tests, in-process against real Go-allocated memory standing in
// for a mutator's stack.
package snapshot

import (
	"sync/atomic"
	"unsafe"

	"github.com/sp1end0r/forkscan/internal/aggregator"
	"github.com/sp1end0r/forkscan/internal/registry"
)

const ptrSize = unsafe.Sizeof(uintptr(0))

// ScanAll walks every registered thread's stack range, marking references
// into ds, then treats every still-live candidate block as a potential
// root in its own right and does the same word-scan over its contents
// (bounded by AllocSz). The second pass is what lets reachability
// propagate from a rooted candidate to whatever it points at: without it,
// a block reachable only through another retired block would look
// unreferenced to the sweep and get freed out from under a live pointer.
// It returns the total bytes scanned across both passes.
//
// A stack hit additionally marks RootFlag, so internal/sweep can tell a
// candidate kept alive by a genuine thread stack apart from one kept alive
// only by other candidates' content — the distinction a reference cycle
// with no external root needs in order to ever be collected, since plain
// reference counting can't make either cycle member's count reach zero on
// its own.
func ScanAll(threads []*registry.Thread, ds *aggregator.Dataset) uint64 {
	var total uint64
	for _, t := range threads {
		total += WalkRange(t.Low, t.High, ds)
	}
	total += scanCandidateContents(ds)
	return total
}

// WalkRange scans every machine word in [lo, hi) and, for each one that
// falls within ds's address bounds and matches a candidate, atomically
// increments that candidate's reference count and marks it as directly
// stack-rooted. It returns the number of bytes scanned.
func WalkRange(lo, hi uintptr, ds *aggregator.Dataset) uint64 {
	var scanned uint64
	for addr := lo; addr+uintptr(ptrSize) <= hi; addr += uintptr(ptrSize) {
		w := *(*uintptr)(unsafe.Pointer(addr))
		markIfCandidate(w, ds, true)
		scanned += uint64(ptrSize)
	}
	return scanned
}

// scanCandidateContents word-scans every not-yet-collected candidate
// block's own contents and increments whatever else it points at, without
// marking those targets as stack-rooted. It returns the number of bytes
// scanned.
func scanCandidateContents(ds *aggregator.Dataset) uint64 {
	var scanned uint64
	for i, addr := range ds.Addrs {
		if addr&1 != 0 {
			continue
		}
		size := int(ds.AllocSz[i])
		lo, hi := addr, addr+uintptr(size)
		for a := lo; a+uintptr(ptrSize) <= hi; a += uintptr(ptrSize) {
			w := *(*uintptr)(unsafe.Pointer(a))
			markIfCandidate(w, ds, false)
			scanned += uint64(ptrSize)
		}
	}
	return scanned
}

func markIfCandidate(w uintptr, ds *aggregator.Dataset, isRoot bool) {
	m := w &^ 1
	if m < ds.MinVal || m > ds.MaxVal {
		return
	}
	idx, ok := ds.Find(m)
	if !ok {
		return
	}
	atomic.AddInt32(&ds.Refs[idx], 1)
	if isRoot {
		atomic.StoreInt32(&ds.RootFlag[idx], 1)
	}
}
