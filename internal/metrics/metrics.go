// Package metrics accumulates per-attempt delivery outcomes for one run.
//
// A Collector is shared by every dispatch worker in the run and is finalized
// exactly once, after the worker pool has fully joined, into an immutable
// Snapshot.
package metrics

import (
	"sync"
	"time"
)

// Collector is a thread-safe accumulator of delivery outcomes. All recording
// methods may be called concurrently from dispatch workers.
type Collector struct {
	mu                sync.Mutex
	start             time.Time
	total             int
	succeeded         int
	failed            int
	deferredSucceeded int
	transient         int
	permanent         int
	failures          []string
	durations         []time.Duration
}

// Snapshot is the immutable result of a finalized Collector. It is never
// reused across runs.
type Snapshot struct {
	Total                    int           `json:"total"`
	Succeeded                int           `json:"succeeded"`
	Failed                   int           `json:"failed"`
	DeferredRetriesSucceeded int           `json:"deferred_retries_succeeded"`
	TransientFailures        int           `json:"transient_failures"`
	PermanentFailures        int           `json:"permanent_failures"`
	Failures                 []string      `json:"failures,omitempty"`
	TotalDuration            time.Duration `json:"total_duration"`
	MeanSendDuration         time.Duration `json:"mean_send_duration"`
}

// NewCollector creates a Collector whose wall clock starts now.
func NewCollector() *Collector {
	return &Collector{start: time.Now()}
}

// SetTotal records the number of recipients the run will attempt.
func (c *Collector) SetTotal(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.total = n
}

// RecordSuccess records one successful delivery and its send duration.
func (c *Collector) RecordSuccess(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.succeeded++
	c.durations = append(c.durations, d)
}

// RecordFailure records one failed delivery with its classified kind.
func (c *Collector) RecordFailure(message string, transient bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failed++
	c.failures = append(c.failures, message)
	if transient {
		c.transient++
	} else {
		c.permanent++
	}
}

// RecordDeferredRetrySuccess counts a success that cleared a previously
// deferred recipient.
func (c *Collector) RecordDeferredRetrySuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deferredSucceeded++
}

// Finalize freezes the collector into a Snapshot. It computes the aggregate
// derived values: total wall-clock time and the mean send duration (0 when
// nothing succeeded, never NaN). Call it once, after all workers have joined.
func (c *Collector) Finalize() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	var mean time.Duration
	if len(c.durations) > 0 {
		var sum time.Duration
		for _, d := range c.durations {
			sum += d
		}
		mean = sum / time.Duration(len(c.durations))
	}

	return Snapshot{
		Total:                    c.total,
		Succeeded:                c.succeeded,
		Failed:                   c.failed,
		DeferredRetriesSucceeded: c.deferredSucceeded,
		TransientFailures:        c.transient,
		PermanentFailures:        c.permanent,
		Failures:                 append([]string(nil), c.failures...),
		TotalDuration:            time.Since(c.start),
		MeanSendDuration:         mean,
	}
}
