// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package collector orchestrates one full collection cycle: aggregate the
// batches handed off since the last cycle, quiesce every registered
// mutator, take a fork snapshot, scan it, sweep to a fixpoint, and re-queue
// whatever survives as next cycle's carry-over.
//
// The lifecycle (Start/Stop, a background goroutine driven by a ticker, a
// WaitGroup joined on Stop) follows the same shape as an mvcc.GC run loop.
// Where that loop only ever calls collect() on its own ticker, Collector
// also accepts an explicit Trigger() so a mutator whose queue just filled
// can ask for an immediate cycle instead of waiting for the next tick — the
// Go equivalent of a condition-variable wakeup.
package collector

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sp1end0r/forkscan/internal/aggregator"
	"github.com/sp1end0r/forkscan/internal/barrier"
	"github.com/sp1end0r/forkscan/internal/batch"
	"github.com/sp1end0r/forkscan/internal/metrics"
	"github.com/sp1end0r/forkscan/internal/registry"
	"github.com/sp1end0r/forkscan/internal/snapshot"
	"github.com/sp1end0r/forkscan/internal/sweep"
)

// Stats reports cumulative counters across every cycle a Collector has run.
// All fields are updated atomically and safe to read concurrently.
type Stats struct {
	Cycles       int64
	Forks        int64
	BytesScanned int64
	Freed        int64
	Survivors    int64
}

// Collector drives repeated collection cycles against a shared Registry and
// Barrier.
type Collector struct {
	reg *registry.Registry
	bar *barrier.Barrier
	opt *Options

	mu        sync.Mutex
	pending   *batch.Batch // batches submitted since the last cycle started.
	carryOver *batch.Batch // survivors from the previous cycle.

	cycleMu sync.Mutex // serializes whole RunCycle bodies, not just the batch merge above.

	doorbell chan struct{}
	stop     atomic.Bool
	wg       sync.WaitGroup

	cycles, forks, bytesScanned, freed, survivors atomic.Int64
}

// New creates a Collector. It does not start the background loop; call
// Start for that, or drive cycles manually with RunCycle.
func New(reg *registry.Registry, bar *barrier.Barrier, opts *Options) *Collector {
	return &Collector{
		reg:      reg,
		bar:      bar,
		opt:      opts.withDefaults(),
		doorbell: make(chan struct{}, 1),
	}
}

// Submit hands a drained batch of retirement records to the collector. It
// is safe to call from any number of mutator goroutines concurrently;
// batches accumulate until the next cycle runs.
func (c *Collector) Submit(b *batch.Batch) {
	c.mu.Lock()
	c.pending = batch.Append(c.pending, b)
	c.mu.Unlock()
}

// Trigger asks the background loop to run a cycle as soon as possible,
// without waiting for the next tick. It never blocks.
func (c *Collector) Trigger() {
	select {
	case c.doorbell <- struct{}{}:
	default:
	}
}

// Start begins the background collection loop.
func (c *Collector) Start() {
	if c.stop.Load() {
		return
	}
	c.wg.Add(1)
	go c.run()
}

// Stop signals the background loop to exit and waits for it to finish. Any
// batches submitted after Stop returns stay pending until RunCycle is
// called on this Collector; callers that need a final drain should call
// RunCycle themselves.
func (c *Collector) Stop() {
	c.stop.Store(true)
	c.Trigger() // wake a loop parked on the ticker or the doorbell.
	c.wg.Wait()
}

func (c *Collector) run() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.opt.Interval)
	defer ticker.Stop()

	for !c.stop.Load() {
		select {
		case <-ticker.C:
		case <-c.doorbell:
		}
		if c.stop.Load() {
			return
		}
		c.RunCycle()
	}
}

// RunCycle performs exactly one collection cycle synchronously and returns
// the number of addresses freed. It is safe to call concurrently with the
// background loop, though cycles never overlap — a mutex serializes them.
func (c *Collector) RunCycle() int {
	c.cycleMu.Lock()
	defer c.cycleMu.Unlock()

	start := time.Now()

	c.mu.Lock()
	head := batch.Append(c.carryOver, c.pending)
	c.pending = nil
	c.carryOver = nil
	c.mu.Unlock()

	if head == nil {
		return 0
	}

	ds, err := aggregator.Aggregate(head, c.opt.Sizer)
	if err != nil {
		c.opt.Logger.Error("forkscan: aggregate failed", "error", err)
		c.requeue(head)
		return 0
	}
	defer ds.Release()

	if ds.Len() == 0 {
		return 0
	}

	threads := c.reg.Snapshot()
	defer func() {
		for _, t := range threads {
			registry.Release(t)
		}
	}()

	sigCount := c.bar.DeliverSignal()
	c.bar.AwaitQuiescence(sigCount)

	bytesScanned, err := snapshot.ForkAndScan(threads, ds)
	c.bar.Release()
	c.forks.Add(1)

	if err != nil {
		c.opt.Logger.Warn("forkscan: fork snapshot failed, falling back to in-process scan", "error", err)
		bytesScanned = snapshot.ScanAll(threads, ds)
	}
	c.bytesScanned.Add(int64(bytesScanned))

	freed := sweep.Run(ds, c.opt.Free)

	c.cycles.Add(1)
	c.freed.Add(int64(freed))
	c.survivors.Add(int64(ds.Len()))
	c.opt.Logger.Info("forkscan: cycle complete",
		"freed", freed, "survivors", ds.Len(), "bytes_scanned", bytesScanned)

	c.opt.Metrics.Record(metrics.CycleEvent{
		Duration:     time.Since(start),
		Freed:        freed,
		Survivors:    ds.Len(),
		BytesScanned: bytesScanned,
		Forked:       err == nil,
	})

	if ds.Len() > 0 {
		c.carryOverSurvivors(ds)
	}
	return freed
}

// carryOverSurvivors copies ds's remaining addresses (with their Refs and
// AllocSz) into one new batch whose Capacity is the survivor count, and
// stashes it as this cycle's carry-over. The survivors are not written
// back into the original batches, and those batches' capacities are not
// kept.
func (c *Collector) carryOverSurvivors(ds *aggregator.Dataset) {
	capacity := ds.Len()
	if capacity <= 0 {
		capacity = 1
	}
	b := &batch.Batch{
		Addrs:    append([]uintptr(nil), ds.Addrs...),
		Refs:     append([]int32(nil), ds.Refs...),
		AllocSz:  append([]int32(nil), ds.AllocSz...),
		Capacity: capacity,
	}
	c.mu.Lock()
	c.carryOver = batch.Append(c.carryOver, b)
	c.mu.Unlock()
}

func (c *Collector) requeue(b *batch.Batch) {
	c.mu.Lock()
	c.carryOver = batch.Append(c.carryOver, b)
	c.mu.Unlock()
}

// Close stops the Metrics instance owned by this Collector's Options. It
// does not stop the background loop; call Stop first if it was started.
func (c *Collector) Close() {
	c.opt.Metrics.Close()
}

// Stats reports a snapshot of cumulative counters.
func (c *Collector) Stats() Stats {
	return Stats{
		Cycles:       c.cycles.Load(),
		Forks:        c.forks.Load(),
		BytesScanned: c.bytesScanned.Load(),
		Freed:        c.freed.Load(),
		Survivors:    c.survivors.Load(),
	}
}
