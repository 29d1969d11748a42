// Licensed under the MIT License. See LICENSE file in the project root for details.

package batch_test

import (
	"testing"

	"github.com/sp1end0r/forkscan/internal/batch"
	"github.com/sp1end0r/forkscan/internal/candidate"
)

func TestCountAcrossList(t *testing.T) {
	a := batch.New([]candidate.Record{candidate.NewRecord(0x1000), candidate.NewRecord(0x2000)}, 8)
	b := batch.New([]candidate.Record{candidate.NewRecord(0x3000)}, 8)
	list := batch.Append(a, b)

	if got := batch.Count(list); got != 3 {
		t.Fatalf("Count = %d, want 3", got)
	}
	if list != a || a.Next != b {
		t.Fatalf("Append did not link list correctly")
	}
}

func TestAppendOntoNilList(t *testing.T) {
	tail := batch.New([]candidate.Record{candidate.NewRecord(0x1000)}, 4)
	got := batch.Append(nil, tail)
	if got != tail {
		t.Fatalf("Append(nil, tail) = %v, want tail", got)
	}
}

func TestNewBatchZeroesRefsAndAllocSz(t *testing.T) {
	b := batch.New([]candidate.Record{candidate.NewRecord(0x1000), candidate.NewRecord(0x2000)}, 4)
	for i, r := range b.Refs {
		if r != 0 {
			t.Fatalf("Refs[%d] = %d, want 0", i, r)
		}
	}
	for i, s := range b.AllocSz {
		if s != 0 {
			t.Fatalf("AllocSz[%d] = %d, want 0", i, s)
		}
	}
}
