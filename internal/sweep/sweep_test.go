// Licensed under the MIT License. See LICENSE file in the project root for details.

package sweep_test

import (
	"testing"
	"unsafe"

	"github.com/sp1end0r/forkscan/internal/aggregator"
	"github.com/sp1end0r/forkscan/internal/batch"
	"github.com/sp1end0r/forkscan/internal/candidate"
	"github.com/sp1end0r/forkscan/internal/sizeclass"
	"github.com/sp1end0r/forkscan/internal/snapshot"
	"github.com/sp1end0r/forkscan/internal/sweep"
)

func addrOf(v *uintptr) uintptr { return uintptr(unsafe.Pointer(v)) }

func TestPassFreesUnreferencedLeaf(t *testing.T) {
	slab := make([]uintptr, 1)
	addrA := addrOf(&slab[0])

	sizer := sizeclass.New()
	sizer.Track(addrA, 8)
	b := batch.New([]candidate.Record{candidate.NewRecord(addrA)}, 8)
	ds, err := aggregator.Aggregate(b, sizer)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	defer ds.Release()

	var freed []uintptr
	savings := sweep.Pass(ds, func(addr uintptr, size int) { freed = append(freed, addr) })

	if savings != 1 {
		t.Fatalf("savings = %d, want 1", savings)
	}
	if ds.Len() != 0 {
		t.Fatalf("ds.Len() = %d, want 0", ds.Len())
	}
	if len(freed) != 1 || freed[0] != addrA {
		t.Fatalf("freed = %v, want [%v]", freed, addrA)
	}
}

func TestPassSparesReferencedLeaf(t *testing.T) {
	slab := make([]uintptr, 1)
	addrA := addrOf(&slab[0])

	sizer := sizeclass.New()
	sizer.Track(addrA, 8)
	b := batch.New([]candidate.Record{candidate.NewRecord(addrA)}, 8)
	ds, err := aggregator.Aggregate(b, sizer)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	defer ds.Release()
	ds.Refs[0] = 1 // stands in for a stack-rooted scan result.

	freeCalled := false
	savings := sweep.Pass(ds, func(addr uintptr, size int) { freeCalled = true })

	if savings != 0 {
		t.Fatalf("savings = %d, want 0", savings)
	}
	if ds.Len() != 1 {
		t.Fatalf("ds.Len() = %d, want 1 (survivor)", ds.Len())
	}
	if freeCalled {
		t.Fatalf("free was called on a referenced block")
	}
}

// TestPassFreesMutualCycleInOnePass checks Pass's claim/cascade mechanics
// on two candidates referencing only each other whose Refs are left at
// zero (no scan is run): both are collected by a single sweep pass. With
// Refs populated by a real ScanAll, see TestRunFreesMutualCycleAfterRealScan.
func TestPassFreesMutualCycleInOnePass(t *testing.T) {
	slab := make([]uintptr, 2)
	addrA, addrB := addrOf(&slab[0]), addrOf(&slab[1])
	slab[0] = addrB // A's word[0] = B
	slab[1] = addrA // B's word[0] = A

	sizer := sizeclass.New()
	sizer.Track(addrA, 8)
	sizer.Track(addrB, 8)
	b := batch.New([]candidate.Record{candidate.NewRecord(addrA), candidate.NewRecord(addrB)}, 8)
	ds, err := aggregator.Aggregate(b, sizer)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	defer ds.Release()
	// Neither A nor B was reached by any stack root: both start at refs=0.

	freed := map[uintptr]bool{}
	savings := sweep.Pass(ds, func(addr uintptr, size int) { freed[addr] = true })

	if savings != 2 {
		t.Fatalf("savings = %d, want 2", savings)
	}
	if !freed[addrA] || !freed[addrB] {
		t.Fatalf("freed = %v, want both A and B", freed)
	}
}

// TestChainOfThirtyFiveNeedsTwoPasses reproduces the depth-capped chain
// scenario: 35 candidates in a singly linked chain, none reachable from a
// stack directly, but every interior node (1..34) already carrying a
// reference count of 1 contributed by its predecessor — standing in for
// whatever upstream marking pass established that count. unrefBlock's
// depth cap of 30 means the first pass's single cascade, seeded at node 0,
// only reaches 31 nodes (the seed plus 30 more); the remaining 4 need a
// second pass.
func TestChainOfThirtyFiveNeedsTwoPasses(t *testing.T) {
	const chainLen = 35
	slab := make([]uintptr, chainLen)
	addrs := make([]uintptr, chainLen)
	for i := range slab {
		addrs[i] = addrOf(&slab[i])
	}
	for i := 0; i < chainLen-1; i++ {
		slab[i] = addrs[i+1]
	}

	sizer := sizeclass.New()
	records := make([]candidate.Record, chainLen)
	for i, a := range addrs {
		sizer.Track(a, 8)
		records[i] = candidate.NewRecord(a)
	}
	b := batch.New(records, chainLen)
	ds, err := aggregator.Aggregate(b, sizer)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	defer ds.Release()

	for i := 1; i < ds.Len(); i++ {
		ds.Refs[i] = 1
	}

	pass1 := sweep.Pass(ds, nil)
	if pass1 != 31 {
		t.Fatalf("pass1 savings = %d, want 31", pass1)
	}
	if ds.Len() != 4 {
		t.Fatalf("after pass1, ds.Len() = %d, want 4", ds.Len())
	}

	pass2 := sweep.Pass(ds, nil)
	if pass2 != 4 {
		t.Fatalf("pass2 savings = %d, want 4", pass2)
	}
	if ds.Len() != 0 {
		t.Fatalf("after pass2, ds.Len() = %d, want 0", ds.Len())
	}
}

func TestRunLoopsToFixpoint(t *testing.T) {
	const n = 50
	slab := make([]uintptr, n)
	addrs := make([]uintptr, n)
	for i := range slab {
		addrs[i] = addrOf(&slab[i])
	}
	for i := 0; i < n-1; i++ {
		slab[i] = addrs[i+1]
	}

	sizer := sizeclass.New()
	records := make([]candidate.Record, n)
	for i, a := range addrs {
		sizer.Track(a, 8)
		records[i] = candidate.NewRecord(a)
	}
	b := batch.New(records, n)
	ds, err := aggregator.Aggregate(b, sizer)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	defer ds.Release()
	for i := 1; i < ds.Len(); i++ {
		ds.Refs[i] = 1
	}

	total := sweep.Run(ds, nil)
	if total != n {
		t.Fatalf("Run total = %d, want %d", total, n)
	}
	if ds.Len() != 0 {
		t.Fatalf("ds.Len() = %d, want 0 after Run", ds.Len())
	}
}

// TestChainOfThirtyFiveViaRealScanNeedsTwoPasses is
// TestChainOfThirtyFiveNeedsTwoPasses again, but with ScanAll populating
// Refs instead of the test hand-setting them. None of the chain is
// stack-rooted; every interior node's reference count of 1 comes entirely
// from its predecessor's content word-scan, exactly per §4.4. This is the
// scenario the depth cap exists for, produced the way the real
// collector->scanner->sweep pipeline actually produces it.
func TestChainOfThirtyFiveViaRealScanNeedsTwoPasses(t *testing.T) {
	const chainLen = 35
	slab := make([]uintptr, chainLen)
	addrs := make([]uintptr, chainLen)
	for i := range slab {
		addrs[i] = addrOf(&slab[i])
	}
	for i := 0; i < chainLen-1; i++ {
		slab[i] = addrs[i+1]
	}

	sizer := sizeclass.New()
	records := make([]candidate.Record, chainLen)
	for i, a := range addrs {
		sizer.Track(a, 8)
		records[i] = candidate.NewRecord(a)
	}
	b := batch.New(records, chainLen)
	ds, err := aggregator.Aggregate(b, sizer)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	defer ds.Release()

	if n := snapshot.ScanAll(nil, ds); n == 0 {
		t.Fatalf("ScanAll scanned 0 bytes")
	}
	if ds.Refs[0] != 0 {
		t.Fatalf("chain head refs = %d, want 0 (no stack root, no predecessor)", ds.Refs[0])
	}
	for i := 1; i < ds.Len(); i++ {
		if ds.Refs[i] != 1 {
			t.Fatalf("ds.Refs[%d] = %d, want 1", i, ds.Refs[i])
		}
	}

	pass1 := sweep.Pass(ds, nil)
	if pass1 != 31 {
		t.Fatalf("pass1 savings = %d, want 31", pass1)
	}
	if ds.Len() != 4 {
		t.Fatalf("after pass1, ds.Len() = %d, want 4", ds.Len())
	}

	pass2 := sweep.Pass(ds, nil)
	if pass2 != 4 {
		t.Fatalf("pass2 savings = %d, want 4", pass2)
	}
	if ds.Len() != 0 {
		t.Fatalf("after pass2, ds.Len() = %d, want 0", ds.Len())
	}
}

// TestRunFreesMutualCycleAfterRealScan proves the §9 scenario-3 case end to
// end: two candidates that reference only each other, neither reachable
// from any thread stack, both get a real nonzero reference count from
// ScanAll's content pass (so Pass alone can never free either), and Run
// still frees both once it falls back to reapCycles.
func TestRunFreesMutualCycleAfterRealScan(t *testing.T) {
	slab := make([]uintptr, 2)
	addrA, addrB := addrOf(&slab[0]), addrOf(&slab[1])
	slab[0] = addrB // A's word[0] = B
	slab[1] = addrA // B's word[0] = A

	sizer := sizeclass.New()
	sizer.Track(addrA, 8)
	sizer.Track(addrB, 8)
	b := batch.New([]candidate.Record{candidate.NewRecord(addrA), candidate.NewRecord(addrB)}, 8)
	ds, err := aggregator.Aggregate(b, sizer)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	defer ds.Release()

	if n := snapshot.ScanAll(nil, ds); n == 0 {
		t.Fatalf("ScanAll scanned 0 bytes")
	}
	if ds.Refs[0] != 1 || ds.Refs[1] != 1 {
		t.Fatalf("ds.Refs = %v, want [1 1] (each held only by the other)", ds.Refs)
	}

	if savings := sweep.Pass(ds, nil); savings != 0 {
		t.Fatalf("a lone Pass freed %d of a rootless cycle, want 0", savings)
	}
	if ds.Len() != 2 {
		t.Fatalf("ds.Len() = %d after a no-op pass, want 2", ds.Len())
	}

	freed := map[uintptr]bool{}
	total := sweep.Run(ds, func(addr uintptr, size int) { freed[addr] = true })

	if total != 2 {
		t.Fatalf("Run total = %d, want 2", total)
	}
	if !freed[addrA] || !freed[addrB] {
		t.Fatalf("freed = %v, want both A and B", freed)
	}
	if ds.Len() != 0 {
		t.Fatalf("ds.Len() = %d, want 0 after Run", ds.Len())
	}
}

func TestPassMixedReferencedAndUnreferenced(t *testing.T) {
	const total = 1000
	const referenced = 100
	slab := make([]uintptr, total)
	addrs := make([]uintptr, total)
	for i := range slab {
		addrs[i] = addrOf(&slab[i])
	}

	sizer := sizeclass.New()
	records := make([]candidate.Record, total)
	for i, a := range addrs {
		sizer.Track(a, 8)
		records[i] = candidate.NewRecord(a)
	}
	b := batch.New(records, total)
	ds, err := aggregator.Aggregate(b, sizer)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	defer ds.Release()
	for i := 0; i < referenced; i++ {
		ds.Refs[i] = 1
	}

	savings := sweep.Pass(ds, nil)
	if savings != total-referenced {
		t.Fatalf("savings = %d, want %d", savings, total-referenced)
	}
	if ds.Len() != referenced {
		t.Fatalf("ds.Len() = %d, want %d survivors", ds.Len(), referenced)
	}
}
