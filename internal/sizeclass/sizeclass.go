// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package sizeclass provides a reference candidate.BlockSizer implementation
// modeled on the size-class rounding scheme the Go runtime's own allocator
// uses (see runtime/malloc.go's class_to_size table in the Go distribution):
// small requests are rounded up to one of a fixed set of size classes so
// that "how many bytes did this allocation actually reserve" is a cheap
// table lookup rather than a call into the allocator itself.
//
// This exists because the real malloc_usable_size an external allocator
// would provide is out of scope here; forkscan's tests and its bundled
// benchmark command need *some* concrete BlockSizer, and a size-class
// table is the idiomatic Go way to approximate one without reimplementing
// an allocator.
package sizeclass

import "sort"

// classes mirrors the shape (not the exact values) of the Go runtime's
// small-object size classes: a short ascending table of class boundaries.
var classes = []int{8, 16, 24, 32, 48, 64, 96, 128, 192, 256, 384, 512,
	768, 1024, 1536, 2048, 3072, 4096, 6144, 8192}

// Sizer rounds a requested size up to the next size class, and reports
// that rounded size for any address it has seen via Track.
type Sizer struct {
	sizes map[uintptr]int
}

// New creates an empty Sizer.
func New() *Sizer {
	return &Sizer{sizes: make(map[uintptr]int)}
}

// Track records that addr was allocated to hold want bytes; UsableSize(addr)
// will subsequently return the rounded-up size class.
func (s *Sizer) Track(addr uintptr, want int) int {
	sz := RoundUp(want)
	s.sizes[addr] = sz
	return sz
}

// Forget drops a tracked address, e.g. once its block has actually been
// freed.
func (s *Sizer) Forget(addr uintptr) {
	delete(s.sizes, addr)
}

// UsableSize implements candidate.BlockSizer.
func (s *Sizer) UsableSize(addr uintptr) int {
	return s.sizes[addr]
}

// RoundUp rounds n up to the smallest size class that holds it. Requests
// larger than the largest class round up to a page multiple instead, the
// same fallback the runtime's allocator uses for "large" objects.
func RoundUp(n int) int {
	if n <= 0 {
		return classes[0]
	}
	i := sort.SearchInts(classes, n)
	if i < len(classes) {
		return classes[i]
	}
	const page = 8192
	return ((n + page - 1) / page) * page
}
