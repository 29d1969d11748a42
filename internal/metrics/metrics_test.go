// Licensed under the MIT License. See LICENSE file in the project root for details.

package metrics

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestNewDefaultMetrics(t *testing.T) {
	m := NewDefault()
	if m == nil {
		t.Fatal("NewDefault() returned nil")
	}
	defer m.Close()
}

func TestRecordAppliesCounters(t *testing.T) {
	m := NewDefault()
	defer m.Close()

	m.Record(CycleEvent{
		Duration:     5 * time.Millisecond,
		Freed:        3,
		Survivors:    2,
		BytesScanned: 4096,
		Forked:       true,
	})
	time.Sleep(10 * time.Millisecond)

	s := m.Snapshot()
	if s.Cycles != 1 {
		t.Errorf("Cycles = %d, want 1", s.Cycles)
	}
	if s.Forks != 1 {
		t.Errorf("Forks = %d, want 1", s.Forks)
	}
	if s.Freed != 3 {
		t.Errorf("Freed = %d, want 3", s.Freed)
	}
	if s.Survivors != 2 {
		t.Errorf("Survivors = %d, want 2", s.Survivors)
	}
	if s.BytesScanned != 4096 {
		t.Errorf("BytesScanned = %d, want 4096", s.BytesScanned)
	}
	if s.ScanMax != 4096 {
		t.Errorf("ScanMax = %d, want 4096", s.ScanMax)
	}
	if s.CycleLatency.Mean != 5*time.Millisecond {
		t.Errorf("CycleLatency.Mean = %s, want 5ms", s.CycleLatency.Mean)
	}
}

func TestRecordNotForkedDoesNotCountAsFork(t *testing.T) {
	m := NewDefault()
	defer m.Close()

	m.Record(CycleEvent{Duration: time.Millisecond, Forked: false})
	time.Sleep(10 * time.Millisecond)

	s := m.Snapshot()
	if s.Cycles != 1 {
		t.Errorf("Cycles = %d, want 1", s.Cycles)
	}
	if s.Forks != 0 {
		t.Errorf("Forks = %d, want 0", s.Forks)
	}
}

// TestScanMaxTracksPeakNotSum records three cycles with different
// BytesScanned and checks ScanMax reports the largest single cycle, not
// the running total BytesScanned already covers.
func TestScanMaxTracksPeakNotSum(t *testing.T) {
	m := NewDefault()
	defer m.Close()

	for _, n := range []uint64{1024, 8192, 2048} {
		m.Record(CycleEvent{Duration: time.Millisecond, BytesScanned: n})
	}
	time.Sleep(10 * time.Millisecond)

	s := m.Snapshot()
	if s.BytesScanned != 1024+8192+2048 {
		t.Errorf("BytesScanned = %d, want %d", s.BytesScanned, 1024+8192+2048)
	}
	if s.ScanMax != 8192 {
		t.Errorf("ScanMax = %d, want 8192 (the largest single cycle)", s.ScanMax)
	}
}

func TestCloseStopsBackgroundProcessor(t *testing.T) {
	m := NewDefault()
	m.Close()

	// A Record after Close is a no-op send on a channel nobody drains
	// anymore; it must not block or panic.
	m.Record(CycleEvent{Duration: time.Millisecond})
}

func TestDurationRingBufferStatsEmpty(t *testing.T) {
	rb := NewDurationRingBuffer(4)
	stats := rb.Stats()
	if stats.Count != 0 {
		t.Errorf("Count = %d, want 0", stats.Count)
	}
}

func TestDurationRingBufferPercentiles(t *testing.T) {
	rb := NewDurationRingBuffer(100)
	for i := 1; i <= 100; i++ {
		rb.Push(time.Duration(i) * time.Millisecond)
	}

	stats := rb.Stats()
	if stats.Count != 100 {
		t.Fatalf("Count = %d, want 100", stats.Count)
	}
	if stats.Min != time.Millisecond {
		t.Errorf("Min = %s, want 1ms", stats.Min)
	}
	if stats.Max != 100*time.Millisecond {
		t.Errorf("Max = %s, want 100ms", stats.Max)
	}
	if stats.P50 != 50*time.Millisecond {
		t.Errorf("P50 = %s, want 50ms", stats.P50)
	}
	if stats.P99 != 99*time.Millisecond {
		t.Errorf("P99 = %s, want 99ms", stats.P99)
	}
}

func TestDurationRingBufferEvictsOldest(t *testing.T) {
	rb := NewDurationRingBuffer(3)
	rb.Push(1 * time.Millisecond)
	rb.Push(2 * time.Millisecond)
	rb.Push(3 * time.Millisecond)
	rb.Push(4 * time.Millisecond) // evicts the 1ms sample

	stats := rb.Stats()
	if stats.Count != 3 {
		t.Fatalf("Count = %d, want 3", stats.Count)
	}
	if stats.Min != 2*time.Millisecond {
		t.Errorf("Min = %s, want 2ms", stats.Min)
	}
	if stats.Max != 4*time.Millisecond {
		t.Errorf("Max = %s, want 4ms", stats.Max)
	}
}

func TestReportIncludesCounters(t *testing.T) {
	var buf bytes.Buffer
	snap := Snapshot{
		Cycles:       4,
		Forks:        4,
		Freed:        400,
		Survivors:    12,
		BytesScanned: 8192,
		ScanMax:      4096,
		CycleLatency: LatencyStats{Mean: 2 * time.Millisecond, P99: 9 * time.Millisecond},
	}
	if err := Report(&buf, snap); err != nil {
		t.Fatalf("Report: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "cycles=4") {
		t.Errorf("report missing cycle count: %q", out)
	}
	if !strings.Contains(out, "freed=400") {
		t.Errorf("report missing freed count: %q", out)
	}
	if !strings.Contains(out, "scan_max=4096") {
		t.Errorf("report missing scan_max: %q", out)
	}
}
