// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package sweep implements the parallel reference-count sweep that turns a
// scanned Dataset into a set of blocks safe to actually free, looping to a
// fixpoint the way the collection cycle's outer loop does.
//
// The design mirrors a find_unreferenced_nodes / address_range /
// unref_addr split: partition the address space into bounded worker
// ranges, let each worker CAS-claim zero-ref candidates in its range, and
// cascade the claim through a claimed block's own contents by
// decrementing whatever else it points at. A block only becomes eligible
// for the cascade once something has already claimed it.
//
// Because internal/snapshot's scanner also increments a candidate's
// reference count from another candidate's content (not just from a
// thread stack), two candidates referencing only each other never reach
// zero on their own — plain reference counting cannot collect a cycle
// with no external root. Run handles this case separately: once ordinary
// passes reach a fixpoint, it traces reachability from RootFlag and frees
// whatever remains unreached.
package sweep

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/sp1end0r/forkscan/internal/aggregator"
	"github.com/sp1end0r/forkscan/internal/assert"
	"github.com/sp1end0r/forkscan/internal/candidate"
)

const (
	// MaxWorkers caps how many goroutines a single pass spawns.
	MaxWorkers = 80
	// AddrsPerWorker is the target range size per worker; a pass with
	// fewer than MaxWorkers*AddrsPerWorker addresses uses proportionally
	// fewer workers.
	AddrsPerWorker = 128 * 1024
	// maxUnrefDepth caps unrefBlock's recursion, so a long reference
	// chain degrades into multiple fixpoint passes rather than unbounded
	// recursion.
	maxUnrefDepth = 30
)

var ptrSize = unsafe.Sizeof(uintptr(0))

// FreeFunc is called once per block the sweep determines is unreferenced,
// with its untagged address and byte size. Callers that don't have a real
// allocator to hand blocks back to (e.g. tests, or a benchmark harness that
// only wants counts) can pass a no-op.
type FreeFunc func(addr uintptr, size int)

// Run drives repeated sweep passes over ds until a pass makes no further
// progress, and returns the total number of addresses freed across every
// pass. Each pass's survivors become the next pass's input, exactly as the
// garbage_collect loop runs "until savings == 0".
//
// When ordinary reference-count passes stall with survivors still
// remaining, Run calls reapCycles once to break any reference cycle with
// no path back to a thread stack, then resumes ordinary passes in case
// that exposed further zero-ref candidates (a cycle member's cascade can
// run out of depth budget just like a chain's). Run only gives up once
// neither mechanism makes progress.
func Run(ds *aggregator.Dataset, free FreeFunc) int {
	total := 0
	for {
		if ds.Len() == 0 {
			break
		}
		savings := Pass(ds, free)
		total += savings
		if savings > 0 {
			continue
		}
		cyclic := reapCycles(ds, free)
		total += cyclic
		if cyclic == 0 {
			break
		}
	}
	return total
}

// Pass performs one parallel sweep over ds, claims and cascades from every
// candidate that was already zero-ref when the pass began, compacts the
// survivors back into ds in place, and returns how many addresses were
// freed this pass.
//
// Eligibility to seed a *new* claim is decided once, from a snapshot taken
// before any worker starts. A candidate whose reference count reaches zero
// only as a side effect of this same pass's cascade — because the cascade
// that would have claimed it next ran out of depth budget — is left alone
// until the next pass takes a fresh snapshot. Without this, a long chain
// of otherwise-eligible candidates would collapse in a single pass and the
// depth cap on unrefBlock would never actually bound anything observable.
func Pass(ds *aggregator.Dataset, free FreeFunc) int {
	n := ds.Len()
	if n == 0 {
		return 0
	}

	seed := make([]bool, n)
	for i := 0; i < n; i++ {
		seed[i] = ds.Addrs[i]&1 == 0 && ds.Refs[i] == 0
	}

	workers := n/AddrsPerWorker + 1
	if workers > MaxWorkers {
		workers = MaxWorkers
	}
	span := (n + workers - 1) / workers

	var wg sync.WaitGroup
	for begin := 0; begin < n; begin += span {
		end := begin + span
		if end > n {
			end = n
		}
		wg.Add(1)
		go func(begin, end int) {
			defer wg.Done()
			sweepRange(ds, seed, begin, end)
		}(begin, end)
	}
	wg.Wait()

	return compact(ds, free)
}

// sweepRange claims every candidate in [begin, end) that the pass's
// snapshot marked eligible, and drives its unref cascade. Ranges assigned
// to different workers never overlap, but a cascade triggered from one
// range can still reach into another worker's range — every mutation past
// the initial claim goes through atomics, so that is safe.
func sweepRange(ds *aggregator.Dataset, seed []bool, begin, end int) {
	for i := begin; i < end; i++ {
		if !seed[i] {
			continue
		}
		addr := atomic.LoadUintptr(&ds.Addrs[i])
		if addr&1 != 0 {
			continue // claimed by a cascade from earlier in this same pass.
		}
		if candidate.Claim(&ds.Addrs[i], addr) {
			unrefBlock(ds, i, maxUnrefDepth)
		}
	}
}

// unrefBlock scans the content of the already-claimed block at ds.Addrs[i]
// (bounded by its AllocSz) and, for every word that looks like a pointer to
// another candidate, decrements that candidate's reference count. A
// candidate that reaches zero this way is itself claimed and cascaded,
// recursively, down to depth remaining == 0.
func unrefBlock(ds *aggregator.Dataset, i int, depth int) {
	addr := atomic.LoadUintptr(&ds.Addrs[i]) &^ 1
	size := int(ds.AllocSz[i])
	words := size / int(ptrSize)

	for w := 0; w < words; w++ {
		wordAddr := addr + uintptr(w)*ptrSize
		val := *(*uintptr)(unsafe.Pointer(wordAddr))
		deep := val &^ 1
		if deep < ds.MinVal || deep > ds.MaxVal {
			continue
		}

		var j int
		var ok bool
		if deep < addr {
			j, ok = aggregator.BinarySearchRange(ds.Addrs, 0, i, deep)
		} else if deep > addr {
			j, ok = aggregator.BinarySearchRange(ds.Addrs, i+1, ds.Len(), deep)
		}
		if !ok {
			continue
		}
		if atomic.LoadUintptr(&ds.Addrs[j])&^1 != deep {
			continue // stale read, or already reclaimed and reused.
		}

		remaining := atomic.AddInt32(&ds.Refs[j], -1)
		if remaining < 0 {
			// A well-formed dataset never decrements below zero: every
			// decrement here is paired with exactly one increment from
			// ScanAll's candidate-content pass. Restore and move on rather than panic
			// in a release build; debug builds catch it immediately.
			assert.True(false, "reference count went negative")
			atomic.AddInt32(&ds.Refs[j], 1)
			continue
		}
		if remaining == 0 && depth > 0 {
			if candidate.Claim(&ds.Addrs[j], deep) {
				unrefBlock(ds, j, depth-1)
			}
		}
	}
}

// compact removes every claimed (collected-bit-set) entry from ds's
// parallel arrays in place, calling free for each one, and returns the
// number removed. Survivors keep their relative order, so Addrs remains
// sorted ascending and MinVal/MaxVal stay accurate.
func compact(ds *aggregator.Dataset, free FreeFunc) int {
	write := 0
	freed := 0
	for i, addr := range ds.Addrs {
		if addr&1 != 0 {
			if free != nil {
				free(addr&^1, int(ds.AllocSz[i]))
			}
			freed++
			continue
		}
		if write != i {
			ds.Addrs[write] = ds.Addrs[i]
			ds.Refs[write] = ds.Refs[i]
			ds.AllocSz[write] = ds.AllocSz[i]
			ds.RootFlag[write] = ds.RootFlag[i]
		}
		write++
	}
	ds.Addrs = ds.Addrs[:write]
	ds.Refs = ds.Refs[:write]
	ds.AllocSz = ds.AllocSz[:write]
	ds.RootFlag = ds.RootFlag[:write]
	if write > 0 {
		ds.MinVal = ds.Addrs[0] &^ 1
		ds.MaxVal = ds.Addrs[write-1] &^ 1
	} else {
		ds.MinVal, ds.MaxVal = 0, 0
	}
	return freed
}

// reapCycles traces reachability from every candidate RootFlag marked
// directly (a genuine thread-stack hit), walking outward through
// candidate content the same way unrefBlock does but unbounded and
// without mutating Refs, and claims-and-cascades everything the trace
// never reaches. Those are exactly the survivors whose remaining
// reference count comes entirely from other candidates that are
// themselves unreachable from any stack — a cycle, or a chain hanging off
// one, with no external root. It returns how many addresses were freed.
//
// This only runs once ordinary Pass calls stop making progress, so it is
// never mistaken for the fast path: a candidate genuinely reachable from a
// live root always carries a nonzero Refs contribution that Pass already
// respects, and reapCycles' own trace additionally confirms reachability
// before ever touching it.
func reapCycles(ds *aggregator.Dataset, free FreeFunc) int {
	n := ds.Len()
	if n == 0 {
		return 0
	}

	reachable := make([]bool, n)
	worklist := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if ds.Addrs[i]&1 == 0 && ds.RootFlag[i] != 0 {
			reachable[i] = true
			worklist = append(worklist, i)
		}
	}
	for len(worklist) > 0 {
		i := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]
		for _, j := range contentTargets(ds, i) {
			if !reachable[j] {
				reachable[j] = true
				worklist = append(worklist, j)
			}
		}
	}

	seed := make([]bool, n)
	found := false
	for i := 0; i < n; i++ {
		if ds.Addrs[i]&1 == 0 && !reachable[i] {
			seed[i] = true
			found = true
		}
	}
	if !found {
		return 0
	}

	for i := 0; i < n; i++ {
		if !seed[i] {
			continue
		}
		addr := ds.Addrs[i]
		if addr&1 != 0 {
			continue // claimed by this same reap's cascade already.
		}
		if candidate.Claim(&ds.Addrs[i], addr) {
			unrefBlock(ds, i, maxUnrefDepth)
		}
	}
	return compact(ds, free)
}

// contentTargets word-scans the still-live candidate block at ds.Addrs[i]
// (bounded by AllocSz) and returns the indices of every other candidate it
// points at, claimed or not. Unlike unrefBlock, it never mutates Refs or
// Addrs; it exists only to let reapCycles trace reachability.
func contentTargets(ds *aggregator.Dataset, i int) []int {
	addr := ds.Addrs[i] &^ 1
	size := int(ds.AllocSz[i])
	words := size / int(ptrSize)

	var out []int
	for w := 0; w < words; w++ {
		wordAddr := addr + uintptr(w)*ptrSize
		val := *(*uintptr)(unsafe.Pointer(wordAddr))
		deep := val &^ 1
		if deep < ds.MinVal || deep > ds.MaxVal || deep == addr {
			continue
		}

		var j int
		var ok bool
		if deep < addr {
			j, ok = aggregator.BinarySearchRange(ds.Addrs, 0, i, deep)
		} else {
			j, ok = aggregator.BinarySearchRange(ds.Addrs, i+1, ds.Len(), deep)
		}
		if !ok || ds.Addrs[j]&^1 != deep {
			continue
		}
		out = append(out, j)
	}
	return out
}
