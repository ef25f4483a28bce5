package monitor

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/0xmhha/tpsbench/internal/collector"
)

// FinalityTracker pairs best and finalized head arrival times by height to
// measure inclusion-to-finality latency as seen by this client.
type FinalityTracker struct {
	mu        sync.Mutex
	pending   map[uint64]time.Time
	finalized uint64
	anyFinal  bool
	latencies []time.Duration
}

// NewFinalityTracker creates an empty tracker
func NewFinalityTracker() *FinalityTracker {
	return &FinalityTracker{pending: make(map[uint64]time.Time)}
}

// ObserveBest records the first arrival of best block number
func (t *FinalityTracker) ObserveBest(number uint64, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.anyFinal && number <= t.finalized {
		return
	}
	if _, ok := t.pending[number]; !ok {
		t.pending[number] = at
	}
}

// ObserveFinalized finalizes every pending best block at or below number
func (t *FinalityTracker) ObserveFinalized(number uint64, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for n, seen := range t.pending {
		if n > number {
			continue
		}
		latency := at.Sub(seen)
		if latency < 0 {
			latency = 0
		}
		t.latencies = append(t.latencies, latency)
		delete(t.pending, n)
	}
	if !t.anyFinal || number > t.finalized {
		t.finalized = number
		t.anyFinal = true
	}
}

// Pending returns how many best blocks await finality
func (t *FinalityTracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Stats summarizes the latencies observed so far
func (t *FinalityTracker) Stats() collector.LatencyStats {
	t.mu.Lock()
	sorted := make([]time.Duration, len(t.latencies))
	copy(sorted, t.latencies)
	t.mu.Unlock()

	if len(sorted) == 0 {
		return collector.LatencyStats{}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var total time.Duration
	for _, l := range sorted {
		total += l
	}
	return collector.LatencyStats{
		Count: len(sorted),
		Avg:   total / time.Duration(len(sorted)),
		Min:   sorted[0],
		Max:   sorted[len(sorted)-1],
		P50:   percentile(sorted, 0.50),
		P95:   percentile(sorted, 0.95),
	}
}

// percentile uses the nearest-rank method on a sorted slice
func percentile(sorted []time.Duration, p float64) time.Duration {
	rank := int(math.Ceil(p*float64(len(sorted)))) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}
