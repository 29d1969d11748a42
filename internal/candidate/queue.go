// Licensed under the MIT License. See LICENSE file in the project root for details.

package candidate

// Queue is a bounded, single-producer ring of retirement records owned by
// one mutator. Capacity is fixed at registration time. The
// owning goroutine is the only caller of Push/Flush; the collector never
// reaches into a live Queue directly — it only receives the batches handed
// off through onFull.
//
// When the ring fills, Push triggers a synchronous hand-off rather than
// dropping the newest retirement: the caller blocks inside onFull until the
// collector has taken ownership of the batch.
type Queue struct {
	buf      []Record
	n        int
	capacity int
	onFull   func(batch []Record)
}

// NewQueue creates a queue with room for capacity records. onFull is called
// synchronously, from the producing goroutine, whenever the ring fills or
// Flush is invoked with pending records. The passed slice is a fresh copy
// (Flush copies before calling), so onFull may retain it.
func NewQueue(capacity int, onFull func(batch []Record)) *Queue {
	if capacity <= 0 {
		panic("candidate: queue capacity must be positive")
	}
	return &Queue{
		buf:      make([]Record, capacity),
		capacity: capacity,
		onFull:   onFull,
	}
}

// Push appends r to the ring. If the ring is now full, it synchronously
// hands the batch to onFull and resets.
func (q *Queue) Push(r Record) {
	q.buf[q.n] = r
	q.n++
	if q.n == q.capacity {
		q.Flush()
	}
}

// Flush hands off whatever is currently buffered, even if the ring isn't
// full — the periodic-trigger path ("one mutator or
// periodic trigger hands a batch to the collector").
func (q *Queue) Flush() {
	if q.n == 0 {
		return
	}
	batch := make([]Record, q.n)
	copy(batch, q.buf[:q.n])
	q.n = 0
	q.onFull(batch)
}

// Len reports the number of records currently buffered.
func (q *Queue) Len() int { return q.n }

// Capacity reports the configured ring size.
func (q *Queue) Capacity() int { return q.capacity }
