package mcphost

import (
	"sync"
	"testing"
)

func TestRollingWindowEmpty(t *testing.T) {
	t.Parallel()
	w := newRollingWindow(10)
	if w.Count() != 0 || w.P50() != 0 || w.P99() != 0 || w.ErrorRate() != 0 {
		t.Errorf("new window not empty: count=%d p50=%d p99=%d err=%f", w.Count(), w.P50(), w.P99(), w.ErrorRate())
	}
}

func TestRollingWindowDefaultSize(t *testing.T) {
	t.Parallel()
	w := newRollingWindow(0)
	if len(w.samples) != defaultWindowSize {
		t.Errorf("size = %d, want %d", len(w.samples), defaultWindowSize)
	}
}

func TestRollingWindowPercentiles(t *testing.T) {
	t.Parallel()
	w := newRollingWindow(100)
	for i := int64(1); i <= 100; i++ {
		w.Record(i, false)
	}
	if got := w.P50(); got < 50 || got > 51 {
		t.Errorf("P50() = %d, want 50 or 51", got)
	}
	if got := w.P99(); got < 98 || got > 100 {
		t.Errorf("P99() = %d, want in [98,100]", got)
	}
}

func TestRollingWindowSingleSample(t *testing.T) {
	t.Parallel()
	w := newRollingWindow(10)
	w.Record(42, false)
	if w.P50() != 42 || w.P99() != 42 {
		t.Errorf("P50/P99 = %d/%d, want 42/42", w.P50(), w.P99())
	}
}

func TestRollingWindowRingEvictsLatency(t *testing.T) {
	t.Parallel()
	w := newRollingWindow(3)
	w.Record(100, false)
	w.Record(200, false)
	w.Record(300, false)
	if got := w.P50(); got != 200 {
		t.Errorf("P50() after fill = %d, want 200", got)
	}
	w.Record(400, false) // evicts 100
	if got := w.P50(); got != 300 {
		t.Errorf("P50() after overwrite = %d, want 300", got)
	}
	if got := w.Count(); got != 4 {
		t.Errorf("Count() = %d, want 4", got)
	}
}

func TestRollingWindowRingEvictsErrors(t *testing.T) {
	t.Parallel()
	w := newRollingWindow(2)
	w.Record(10, true)
	w.Record(10, false)
	if got := w.ErrorRate(); got != 0.5 {
		t.Errorf("ErrorRate() = %f, want 0.5", got)
	}
	w.Record(10, false) // evicts the failed sample
	if got := w.ErrorRate(); got != 0 {
		t.Errorf("ErrorRate() after eviction = %f, want 0", got)
	}
}

func TestRollingWindowConcurrent(t *testing.T) {
	t.Parallel()
	w := newRollingWindow(50)
	var wg sync.WaitGroup
	for i := range 5 {
		wg.Add(1)
		go func(v int64) {
			defer wg.Done()
			for j := range 20 {
				w.Record(v, j%3 == 0)
			}
		}(int64(i * 10))
	}
	wg.Wait()
	if c := w.Count(); c != 100 {
		t.Errorf("Count() = %d, want 100", c)
	}
	if r := w.ErrorRate(); r < 0 || r > 1 {
		t.Errorf("ErrorRate() = %f, out of range", r)
	}
}
