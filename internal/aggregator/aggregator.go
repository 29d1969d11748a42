// Licensed under the MIT License. See LICENSE file in the project root for details.

package aggregator

import (
	"fmt"

	"github.com/sp1end0r/forkscan/internal/assert"
	"github.com/sp1end0r/forkscan/internal/batch"
	"github.com/sp1end0r/forkscan/internal/candidate"
	"github.com/sp1end0r/forkscan/internal/sortutil"
)

// Aggregate merges every batch in the intrusive list starting at head into
// one scan-ready Dataset: it computes the total address count, allocates
// one page-aligned shared region, copies every batch's addresses in,
// sorts and deduplicates them, builds the minimap, and fills in AllocSz via
// sizer. Refs is left zeroed.
//
// Allocation failure aborts the cycle; Aggregate returns the error instead
// of panicking, and the collector logs it and requeues the batches for the
// next cycle.
func Aggregate(head *batch.Batch, sizer candidate.BlockSizer) (*Dataset, error) {
	total := batch.Count(head)
	if total == 0 {
		return nil, fmt.Errorf("aggregator: empty batch list")
	}

	scratch := make([]uintptr, 0, total)
	for b := head; b != nil; b = b.Next {
		scratch = append(scratch, b.Addrs...)
	}

	sortutil.Sort(scratch)
	savings := sortutil.Compact(scratch)
	n := len(scratch) - savings
	scratch = scratch[:n]

	assert.Monotonic(scratch)

	ds, err := newDataset(n)
	if err != nil {
		return nil, err
	}
	copy(ds.Addrs, scratch)

	generateMinimap(ds)

	for i, addr := range ds.Addrs {
		sz := sizer.UsableSize(addr)
		if sz <= 0 {
			sz = 1 // invariant: AllocSz[i] > 0 even for a stub sizer.
		}
		ds.AllocSz[i] = int32(sz)
	}

	if n > 0 {
		ds.MinVal = ds.Addrs[0]
		ds.MaxVal = ds.Addrs[n-1]
	}

	return ds, nil
}

// generateMinimap samples every (PageSize/ptrSize)-th entry of ds.Addrs
// into ds.Minimap, the two-level binary-search accelerator the child
// scanner and sweep use.
func generateMinimap(ds *Dataset) {
	stride := minimapSamplingStride()
	ds.Minimap = ds.Minimap[:0]
	for i := 0; i < len(ds.Addrs); i += stride {
		ds.Minimap = append(ds.Minimap, ds.Addrs[i])
	}
}
