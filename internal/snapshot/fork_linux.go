// Licensed under the MIT License. See LICENSE file in the project root for details.

//go:build linux

package snapshot

import (
	"encoding/binary"
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/sp1end0r/forkscan/internal/aggregator"
	"github.com/sp1end0r/forkscan/internal/registry"
)

// ForkAndScan forks the calling process to take a copy-on-write snapshot,
// scans it in the child, and reports the byte count back to the parent
// The caller must already have quiesced every mutator
// (internal/barrier) immediately before calling this — nothing here waits
// for that itself.
//
// # Danger
//
// This calls the raw fork(2) syscall directly, not os/exec's fork+exec.
// Every OS thread other than the one that calls ForkAndScan is frozen
// mid-instruction in the child's copy-on-write image, holding whatever
// locks it held at that instant — including, potentially, locks inside the
// Go runtime itself (the memory allocator, the scheduler). The child
// branch below is therefore restricted to raw syscalls
// (golang.org/x/sys/unix.RawSyscall) and allocation-free pointer
// arithmetic (internal/snapshot's ScanAll): no channel send, no goroutine
// spawn, no map access, nothing that might block forever on a lock a dead
// thread will never release. This mirrors the requirement
// that its forked child do nothing but call threadscan_child and exit.
func ForkAndScan(threads []*registry.Thread, ds *aggregator.Dataset) (bytesScanned uint64, err error) {
	r, w, err := os.Pipe()
	if err != nil {
		return 0, fmt.Errorf("snapshot: pipe: %w", err)
	}

	pid, _, errno := unix.RawSyscall(unix.SYS_FORK, 0, 0, 0)
	if errno != 0 {
		r.Close()
		w.Close()
		return 0, fmt.Errorf("snapshot: fork: %w", errno)
	}

	if pid == 0 {
		// Child. Raw syscalls only from here to exit — see the danger
		// note above.
		n := ScanAll(threads, ds)
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], n)
		rawWriteAll(w.Fd(), buf[:])
		unix.RawSyscall(unix.SYS_EXIT, 0, 0, 0)
		panic("unreachable: child survived SYS_EXIT")
	}

	// Parent.
	w.Close()
	defer r.Close()

	var buf [8]byte
	if _, err := readFull(r, buf[:]); err != nil {
		_, _ = unix.Wait4(int(pid), nil, 0, nil)
		return 0, fmt.Errorf("snapshot: read from child: %w", err)
	}
	bytesScanned = binary.LittleEndian.Uint64(buf[:])

	if _, err := unix.Wait4(int(pid), nil, 0, nil); err != nil {
		return bytesScanned, fmt.Errorf("snapshot: waitpid: %w", err)
	}
	return bytesScanned, nil
}

func rawWriteAll(fd uintptr, b []byte) {
	for len(b) > 0 {
		n, _, errno := unix.RawSyscall(unix.SYS_WRITE, fd, uintptr(unsafe.Pointer(&b[0])), uintptr(len(b)))
		if errno != 0 || n == 0 {
			return
		}
		b = b[n:]
	}
}

func readFull(r *os.File, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
