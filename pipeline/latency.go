package pipeline

import (
	"sort"
	"sync"
	"time"
)

// latencyRing keeps the most recent ingest latencies.
type latencyRing struct {
	mu      sync.Mutex
	samples []time.Duration
	next    int
	full    bool
}

func newLatencyRing(capacity int) *latencyRing {
	if capacity < 1 {
		capacity = 1
	}
	return &latencyRing{samples: make([]time.Duration, capacity)}
}

func (r *latencyRing) add(d time.Duration) {
	r.mu.Lock()
	r.samples[r.next] = d
	r.next++
	if r.next == len(r.samples) {
		r.next = 0
		r.full = true
	}
	r.mu.Unlock()
}

func (r *latencyRing) snapshot() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.next
	if r.full {
		n = len(r.samples)
	}
	out := make([]time.Duration, n)
	copy(out, r.samples[:n])
	return out
}

// stats returns average, maximum and 95th percentile in milliseconds.
func (r *latencyRing) stats() (avg, max, p95 float64) {
	samples := r.snapshot()
	if len(samples) == 0 {
		return 0, 0, 0
	}
	var sum time.Duration
	for _, s := range samples {
		sum += s
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })

	idx := (len(samples)*95+99)/100 - 1
	if idx < 0 {
		idx = 0
	}
	return toMillis(sum) / float64(len(samples)), toMillis(samples[len(samples)-1]), toMillis(samples[idx])
}

func toMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
