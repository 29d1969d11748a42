// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package shmem implements the "shared-memory-allocator" external operation
// a page-granular mapping shared between the collector
// (parent) and the forked child scanner, so marks the child writes into the
// aggregated dataset are visible to the parent without any IPC beyond the
// fork itself.
//
// This is the one place forkscan reaches past the standard library's
// os/syscall wrappers for something golang.org/x/sys/unix does better: a
// MAP_SHARED|MAP_ANONYMOUS mapping that genuinely stays shared across
// fork(), which os.Mmap-equivalents built on *os.File do not guarantee as
// directly.
package shmem

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// PageSize is the page granularity used to size shared mappings. It is a
// var, not a const, so tests can override it without needing root to
// change the real system page size.
var PageSize = unix.Getpagesize()

// MapShared allocates a zeroed, page-aligned region of at least n bytes,
// shared between this process and any later fork() of it. Allocation
// failure is fatal (resource-exhaustion is never
// recoverable inside a collection cycle) — callers that want to turn this
// into a handled error at a higher level should do so explicitly; MapShared
// itself just reports the error.
func MapShared(n int) ([]byte, error) {
	if n <= 0 {
		return nil, fmt.Errorf("shmem: invalid size %d", n)
	}
	rounded := RoundUpPages(n)
	b, err := unix.Mmap(-1, 0, rounded, unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_SHARED|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("shmem: mmap %d bytes: %w", rounded, err)
	}
	return b, nil
}

// Munmap releases a region obtained from MapShared. Unmapping mid-cycle is
// dangerous: callers must defer this until after the sweep's fixpoint loop
// has finished with the dataset.
func Munmap(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	return unix.Munmap(b)
}

// RoundUpPages rounds n up to the next multiple of PageSize.
func RoundUpPages(n int) int {
	if n <= 0 {
		return 0
	}
	return ((n + PageSize - 1) / PageSize) * PageSize
}

// Pages reports how many PageSize pages are needed to hold n bytes.
func Pages(n int) int {
	return RoundUpPages(n) / PageSize
}
