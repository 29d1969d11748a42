// Licensed under the MIT License. See LICENSE file in the project root for details.

//go:build linux

package metrics

import (
	"fmt"
	"os"
)

// ProcessResidentBytes reads the process's current resident set size from
// /proc/self/statm, the same file a process-exit statistics dump reads for its
// exit-time statistics dump.
func ProcessResidentBytes() (uint64, error) {
	data, err := os.ReadFile("/proc/self/statm")
	if err != nil {
		return 0, fmt.Errorf("metrics: read /proc/self/statm: %w", err)
	}

	var size, resident uint64
	if _, err := fmt.Sscanf(string(data), "%d %d", &size, &resident); err != nil {
		return 0, fmt.Errorf("metrics: parse /proc/self/statm: %w", err)
	}
	return resident * uint64(os.Getpagesize()), nil
}
