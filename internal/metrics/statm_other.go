// Licensed under the MIT License. See LICENSE file in the project root for details.

//go:build !linux

package metrics

import (
	"fmt"
	"runtime"
)

// ProcessResidentBytes is unavailable outside Linux; /proc/self/statm has
// no portable equivalent used here.
func ProcessResidentBytes() (uint64, error) {
	return 0, fmt.Errorf("metrics: resident memory reporting requires linux (GOOS=%s unsupported)", runtime.GOOS)
}
