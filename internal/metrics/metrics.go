// Licensed under the MIT License. See LICENSE file in the project root for details.

package metrics

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Config configures a Metrics instance.
type Config struct {
	// EventBuffer is the size of the channel background events queue on.
	// Default: 256.
	EventBuffer int
	// CycleLatencyWindow is how many recent cycle durations Stats keeps.
	// Default: 256.
	CycleLatencyWindow int
}

// DefaultConfig returns the recommended configuration.
func DefaultConfig() Config {
	return Config{EventBuffer: 256, CycleLatencyWindow: 256}
}

// CycleEvent describes the outcome of one completed collection cycle.
type CycleEvent struct {
	Duration     time.Duration
	Freed        int
	Survivors    int
	BytesScanned uint64
	Forked       bool
}

// Snapshot is a point-in-time view of every metric Metrics tracks.
type Snapshot struct {
	Cycles       uint64       `json:"cycles"`
	Forks        uint64       `json:"forks"`
	Freed        uint64       `json:"freed"`
	Survivors    uint64       `json:"survivors"`
	BytesScanned uint64       `json:"bytes_scanned"`
	ScanMax      uint64       `json:"scan_max"`
	CycleLatency LatencyStats `json:"cycle_latency"`
}

// Metrics collects cycle statistics from a Collector. Each event, counters
// and latency sample alike, is handed to a background goroutine over a
// buffered channel and applied there, so a slow Snapshot reader never adds
// latency to the collection path itself; counters are stored atomically.
type Metrics struct {
	config Config

	eventChan chan CycleEvent
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	cycles, forks, freed, survivors, bytesScanned atomic.Uint64
	// scanMax is the largest BytesScanned seen on any single cycle, the
	// same statistic the original reports as scan-max. Only the
	// background goroutine in run writes it, so the read-modify-write in
	// apply needs no CAS; Snapshot's Load is what needs it to be atomic.
	scanMax atomic.Uint64

	cycleLatency *DurationRingBuffer
}

// New creates a Metrics instance and starts its background event
// processor.
func New(cfg Config) *Metrics {
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 256
	}
	if cfg.CycleLatencyWindow <= 0 {
		cfg.CycleLatencyWindow = 256
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Metrics{
		config:       cfg,
		eventChan:    make(chan CycleEvent, cfg.EventBuffer),
		ctx:          ctx,
		cancel:       cancel,
		cycleLatency: NewDurationRingBuffer(cfg.CycleLatencyWindow),
	}
	m.wg.Add(1)
	go m.run()
	return m
}

// NewDefault creates a Metrics instance with DefaultConfig.
func NewDefault() *Metrics {
	return New(DefaultConfig())
}

func (m *Metrics) run() {
	defer m.wg.Done()
	for {
		select {
		case ev := <-m.eventChan:
			m.apply(ev)
		case <-m.ctx.Done():
			return
		}
	}
}

func (m *Metrics) apply(ev CycleEvent) {
	m.cycles.Add(1)
	if ev.Forked {
		m.forks.Add(1)
	}
	m.freed.Add(uint64(ev.Freed))
	m.survivors.Add(uint64(ev.Survivors))
	m.bytesScanned.Add(ev.BytesScanned)
	if ev.BytesScanned > m.scanMax.Load() {
		m.scanMax.Store(ev.BytesScanned)
	}
	m.cycleLatency.Push(ev.Duration)
}

// Record submits one cycle's outcome. The send is non-blocking: if the
// event buffer is momentarily full, the sample is dropped rather than
// stalling the collector.
func (m *Metrics) Record(ev CycleEvent) {
	select {
	case m.eventChan <- ev:
	default:
	}
}

// Snapshot returns the current counters and latency distribution. Because
// every event is applied asynchronously by the background goroutine, a
// Snapshot taken immediately after Record may not yet reflect that event.
// Close does not drain pending events; it drops them.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		Cycles:       m.cycles.Load(),
		Forks:        m.forks.Load(),
		Freed:        m.freed.Load(),
		Survivors:    m.survivors.Load(),
		BytesScanned: m.bytesScanned.Load(),
		ScanMax:      m.scanMax.Load(),
		CycleLatency: m.cycleLatency.Stats(),
	}
}

// Close stops the background processor and waits for it to exit. Any
// event still sitting unconsumed in the channel at that point is dropped.
func (m *Metrics) Close() {
	m.cancel()
	m.wg.Wait()
}
