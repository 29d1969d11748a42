// Licensed under the MIT License. See LICENSE file in the project root for details.

package collector

import (
	"io"
	"log/slog"
	"time"

	"github.com/sp1end0r/forkscan/internal/candidate"
	"github.com/sp1end0r/forkscan/internal/metrics"
	"github.com/sp1end0r/forkscan/internal/sweep"
)

// Options configures a Collector's behavior.
type Options struct {
	// Sizer reports the usable size of a claimed block; it feeds
	// AllocSz for the cascade's word-count bound. Required.
	Sizer candidate.BlockSizer

	// Free is called once per address the sweep determines is
	// unreferenced. Default: a no-op, for callers that only want counts.
	Free sweep.FreeFunc

	// Interval is how often the background loop starts a cycle on its
	// own, independent of any explicit Trigger call.
	// Default: 100ms.
	Interval time.Duration

	// Logger receives structured records for each cycle. Default: a
	// disabled logger (no output).
	Logger *slog.Logger

	// Metrics records per-cycle latency and counters. Default: a fresh
	// Metrics with DefaultConfig.
	Metrics *metrics.Metrics
}

// DefaultOptions returns the recommended options for a Collector that only
// wants automatic, periodic collection.
func DefaultOptions() *Options {
	return &Options{
		Free:     func(uintptr, int) {},
		Interval: 100 * time.Millisecond,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics:  metrics.NewDefault(),
	}
}

func (o *Options) withDefaults() *Options {
	if o == nil {
		o = DefaultOptions()
	}
	cp := *o
	if cp.Free == nil {
		cp.Free = func(uintptr, int) {}
	}
	if cp.Interval <= 0 {
		cp.Interval = 100 * time.Millisecond
	}
	if cp.Logger == nil {
		cp.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cp.Metrics == nil {
		cp.Metrics = metrics.NewDefault()
	}
	return &cp
}
