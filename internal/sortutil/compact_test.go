// Licensed under the MIT License. See LICENSE file in the project root for details.

package sortutil

import (
	"testing"

	"pgregory.net/rapid"
)

func TestCompactNoDuplicatesIsNoOp(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 200).Draw(t, "n")
		a := make([]uintptr, n)
		cur := uintptr(0)
		for i := range a {
			cur += uintptr(rapid.IntRange(1, 5).Draw(t, "gap"))
			a[i] = cur
		}
		before := append([]uintptr(nil), a...)
		savings := Compact(a)
		if savings != 0 {
			t.Fatalf("expected 0 savings on duplicate-free input, got %d", savings)
		}
		for i := range a {
			if a[i] != before[i] {
				t.Fatalf("compact modified duplicate-free array at %d", i)
			}
		}
	})
}

func TestCompactRemovesAllDuplicates(t *testing.T) {
	a := []uintptr{1, 1, 1, 2, 3, 3, 4, 4, 4, 4, 5}
	savings := Compact(a[:11])
	if savings != 6 {
		t.Fatalf("expected 6 savings, got %d", savings)
	}
	want := []uintptr{1, 2, 3, 4, 5}
	got := a[:11-savings]
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("compact mismatch at %d: got %v want %v", i, got, want)
		}
	}
}
