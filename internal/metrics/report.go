// Licensed under the MIT License. See LICENSE file in the project root for details.

package metrics

import (
	"fmt"
	"io"
)

// Report writes a human-readable summary of s to w, in the same spirit as
// a process-exit destructor printing fork count and scan statistics to
// stderr on process exit: cumulative counts plus whatever resident-memory
// reading the platform can provide.
func Report(w io.Writer, s Snapshot) error {
	rss, rssErr := ProcessResidentBytes()
	_, err := fmt.Fprintf(w,
		"forkscan: cycles=%d forks=%d freed=%d survivors=%d bytes_scanned=%d scan_max=%d cycle_latency(mean=%s p99=%s)\n",
		s.Cycles, s.Forks, s.Freed, s.Survivors, s.BytesScanned, s.ScanMax, s.CycleLatency.Mean, s.CycleLatency.P99)
	if err != nil {
		return err
	}
	if rssErr != nil {
		_, err = fmt.Fprintf(w, "forkscan: resident memory unavailable: %v\n", rssErr)
		return err
	}
	_, err = fmt.Fprintf(w, "forkscan: resident_bytes=%d\n", rss)
	return err
}
