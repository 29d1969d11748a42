// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package forkscan provides a concurrent, fork-based conservative memory
// reclaimer: mutators retire heap blocks they can no longer reach but
// cannot prove no reader still holds, and a background collector
// periodically forks the process, conservatively scans every registered
// thread's stack in the child, and frees whatever the scan proves
// unreachable.
//
// # Quick Start
//
//	sizer := sizeclass.New()
//	r := forkscan.New(forkscan.DefaultOptions().
//		WithSizer(sizer).
//		WithFree(func(addr uintptr, size int) { freeBlock(addr) }))
//	defer r.Close()
//
//	th := r.RegisterThread(stackLow, stackHigh)
//	defer r.UnregisterThread(th)
//
//	q := r.NewQueue(256)
//	q.Push(forkscan.NewRecord(addr))
//
// # Design
//
// A Reclaimer wires together four independent pieces, each its own
// package: internal/registry tracks live threads and their stack bounds,
// internal/barrier quiesces them for a snapshot, internal/collector runs
// the aggregate/scan/sweep cycle, and internal/metrics records cycle
// statistics. RegisterThread and NewQueue are the only two calls a mutator
// needs; everything else happens on the collector's own schedule (or on
// an explicit Trigger).
package forkscan

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/sp1end0r/forkscan/internal/barrier"
	"github.com/sp1end0r/forkscan/internal/batch"
	"github.com/sp1end0r/forkscan/internal/candidate"
	"github.com/sp1end0r/forkscan/internal/collector"
	"github.com/sp1end0r/forkscan/internal/metrics"
	"github.com/sp1end0r/forkscan/internal/registry"
)

// Re-exported so callers only need to import this package for the common
// path.
type (
	// Record is a retirement record handed to a Queue.
	Record = candidate.Record
	// Queue is a bounded, single-producer ring of retirement records.
	Queue = candidate.Queue
	// BlockSizer reports the usable size of a claimed block.
	BlockSizer = candidate.BlockSizer
	// Thread is a registered mutator's stack bounds and lifecycle state.
	Thread = registry.Thread
	// Stats reports cumulative counters across every cycle run so far.
	Stats = collector.Stats
	// MetricsSnapshot is a point-in-time view of cycle-level metrics.
	MetricsSnapshot = metrics.Snapshot
)

// NewRecord wraps a plain, untagged address as a retirement Record.
func NewRecord(addr uintptr) Record {
	return candidate.NewRecord(addr)
}

// Options configures a Reclaimer. Use DefaultOptions and the With* helpers
// rather than constructing this directly, so future fields default
// sensibly.
type Options struct {
	collector *collector.Options
}

// DefaultOptions returns the recommended options for a Reclaimer that only
// wants automatic, periodic collection with no-op frees (callers that
// actually release memory must supply WithFree).
func DefaultOptions() *Options {
	return &Options{collector: collector.DefaultOptions()}
}

// WithSizer sets the BlockSizer used to bound the sweep's cascade scan.
// Required before New; with a nil Sizer, the first cycle that has
// retirements to aggregate panics.
func (o *Options) WithSizer(sizer BlockSizer) *Options {
	o.collector.Sizer = sizer
	return o
}

// WithFree sets the callback invoked once per address the sweep frees.
func (o *Options) WithFree(free func(addr uintptr, size int)) *Options {
	o.collector.Free = free
	return o
}

// WithInterval sets how often the background loop starts a cycle on its
// own timer, independent of Trigger.
func (o *Options) WithInterval(d time.Duration) *Options {
	o.collector.Interval = d
	return o
}

// WithMetrics replaces the Metrics instance the Reclaimer records cycle
// events into. The Reclaimer takes ownership: Close closes it.
func (o *Options) WithMetrics(m *metrics.Metrics) *Options {
	o.collector.Metrics = m
	return o
}

// WithLogger sets the structured logger cycle records go to. The default is
// silent (no output); pass logging.Default() for a ready-made
// stderr text handler.
func (o *Options) WithLogger(l *slog.Logger) *Options {
	o.collector.Logger = l
	return o
}

// Reclaimer ties a registry, a barrier, and a collector together into the
// single object most callers need. It is safe for concurrent use.
type Reclaimer struct {
	reg   *registry.Registry
	bar   *barrier.Barrier
	col   *collector.Collector
	met   *metrics.Metrics
	stash *registry.FreeListStash[[]uintptr]
}

// New creates a Reclaimer and starts its background collection loop.
func New(opts *Options) *Reclaimer {
	if opts == nil {
		opts = DefaultOptions()
	}
	reg := registry.New()
	bar := barrier.New()
	col := collector.New(reg, bar, opts.collector)
	r := &Reclaimer{
		reg:   reg,
		bar:   bar,
		col:   col,
		met:   opts.collector.Metrics,
		stash: registry.NewFreeListStash[[]uintptr](),
	}
	col.Start()
	return r
}

// RegisterThread enrolls a mutator's stack range [low, high) for
// conservative scanning during future cycles.
func (r *Reclaimer) RegisterThread(low, high uintptr) *Thread {
	return r.reg.Register(low, high, false)
}

// UnregisterThread removes a thread from future scans. Its stack memory
// must not be reused until Released reports true.
func (r *Reclaimer) UnregisterThread(t *Thread) {
	r.reg.Unregister(t)
}

// Released reports whether every reference to t (from an in-flight scan)
// has been dropped, meaning its stack memory is safe to reclaim.
func Released(t *Thread) bool {
	return registry.Released(t)
}

// NewQueue creates a bounded retirement queue that hands full or flushed
// batches directly to this Reclaimer's collector.
func (r *Reclaimer) NewQueue(capacity int) *Queue {
	return candidate.NewQueue(capacity, func(records []candidate.Record) {
		r.col.Submit(batch.New(records, capacity))
	})
}

// StashSurvivors hands a batch of still-referenced addresses to the
// free-list stash instead of re-queuing them for the next collection
// cycle, for a mutator that has its own way to eventually free them.
func (r *Reclaimer) StashSurvivors(addrs []uintptr) {
	r.stash.Push(addrs)
}

// PopStash removes and returns the most recently stashed batch. ok is
// false if the stash is empty.
func (r *Reclaimer) PopStash() (addrs []uintptr, ok bool) {
	return r.stash.Pop()
}

// Trigger asks the collector to run a cycle as soon as possible.
func (r *Reclaimer) Trigger() {
	r.col.Trigger()
}

// Collect runs one collection cycle synchronously and returns the number
// of addresses freed. It may be called concurrently with the background
// loop; cycles never overlap.
func (r *Reclaimer) Collect() int {
	return r.col.RunCycle()
}

// Stats returns cumulative counters across every cycle run so far.
func (r *Reclaimer) Stats() Stats {
	return r.col.Stats()
}

// MetricsSnapshot returns the current cycle-level metrics.
func (r *Reclaimer) MetricsSnapshot() MetricsSnapshot {
	return r.met.Snapshot()
}

// Report writes a human-readable summary of the current metrics to w.
func (r *Reclaimer) Report(w io.Writer) error {
	return metrics.Report(w, r.met.Snapshot())
}

// Close stops the background collection loop and releases resources. A
// final Collect before Close ensures pending retirements are processed.
func (r *Reclaimer) Close() {
	r.col.Stop()
	r.col.Close()
}

// Shutdown drains one final cycle before Close, for callers that want to
// guarantee every already-submitted retirement was considered. ctx bounds
// how long the final drain waits; Shutdown always calls Close regardless
// of ctx's outcome.
func (r *Reclaimer) Shutdown(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		r.col.RunCycle()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
	r.Close()
}
