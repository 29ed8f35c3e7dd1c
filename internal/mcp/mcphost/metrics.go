package mcphost

import (
	"slices"
	"sync"
)

// sample is one recorded tool call.
type sample struct {
	latencyMs int64
	failed    bool
}

// rollingWindow keeps the last N tool call samples in a ring buffer for
// percentile and error-rate calculation. All methods are safe for concurrent use.
type rollingWindow struct {
	mu      sync.Mutex
	samples []sample
	next    int // next write position
	total   int // total samples ever recorded
	failed  int // failed samples currently inside the window
}

// newRollingWindow creates a new rolling window with the given capacity.
// A size of 0 or negative defaults to [defaultWindowSize].
func newRollingWindow(size int) *rollingWindow {
	if size <= 0 {
		size = defaultWindowSize
	}
	return &rollingWindow{samples: make([]sample, size)}
}

// Record adds a latency measurement (in ms). Once the buffer is full the oldest
// sample is evicted, and its failure flag with it.
func (w *rollingWindow) Record(latencyMs int64, failed bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.total >= len(w.samples) && w.samples[w.next].failed {
		w.failed--
	}
	w.samples[w.next] = sample{latencyMs: latencyMs, failed: failed}
	if failed {
		w.failed++
	}
	w.next = (w.next + 1) % len(w.samples)
	w.total++
}

// filled returns the number of meaningful samples in the buffer.
// Callers must hold w.mu.
func (w *rollingWindow) filled() int {
	return min(w.total, len(w.samples))
}

// sortedLatencies returns the window's latencies in ascending order.
// Callers must hold w.mu.
func (w *rollingWindow) sortedLatencies() []int64 {
	n := w.filled()
	out := make([]int64, n)
	for i := range n {
		out[i] = w.samples[i].latencyMs
	}
	slices.Sort(out)
	return out
}

// percentile returns the q-quantile (0 < q < 1) of the window, or 0 when empty.
func (w *rollingWindow) percentile(q float64) int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	sorted := w.sortedLatencies()
	if len(sorted) == 0 {
		return 0
	}
	return sorted[int(float64(len(sorted)-1)*q+0.5)]
}

// P50 returns the median latency in ms.
func (w *rollingWindow) P50() int64 { return w.percentile(0.5) }

// P99 returns the 99th-percentile latency in ms.
func (w *rollingWindow) P99() int64 { return w.percentile(0.99) }

// ErrorRate returns the fraction of failed calls currently in the window.
func (w *rollingWindow) ErrorRate() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := w.filled()
	if n == 0 {
		return 0
	}
	return float64(w.failed) / float64(n)
}

// Count returns the total number of calls ever recorded (may exceed the
// window capacity).
func (w *rollingWindow) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.total
}
