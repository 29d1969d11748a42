// Licensed under the MIT License. See LICENSE file in the project root for details.

//go:build !linux

package snapshot

import (
	"fmt"
	"runtime"

	"github.com/sp1end0r/forkscan/internal/aggregator"
	"github.com/sp1end0r/forkscan/internal/registry"
)

// ForkAndScan is unavailable outside Linux: the fork-based snapshot is
// explicitly non-portable. Callers on other platforms get this error rather than a
// silently wrong scan.
func ForkAndScan(threads []*registry.Thread, ds *aggregator.Dataset) (bytesScanned uint64, err error) {
	return 0, fmt.Errorf("snapshot: fork-based snapshot requires linux (GOOS=%s unsupported)", runtime.GOOS)
}
