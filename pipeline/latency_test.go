package pipeline

import (
	"testing"
	"time"
)

func TestLatencyRingStats(t *testing.T) {
	r := newLatencyRing(4)
	if avg, max, p95 := r.stats(); avg != 0 || max != 0 || p95 != 0 {
		t.Fatalf("expected zero stats on empty ring")
	}
	for _, ms := range []int{1, 2, 3, 4, 10} {
		r.add(time.Duration(ms) * time.Millisecond)
	}
	// the oldest sample (1ms) was evicted
	avg, max, p95 := r.stats()
	if avg != 4.75 || max != 10 || p95 != 10 {
		t.Fatalf("unexpected stats avg=%v max=%v p95=%v", avg, max, p95)
	}
}

func TestStateString(t *testing.T) {
	if StateRunning.String() != "running" || StateStopped.String() != "stopped" {
		t.Fatal("unexpected state names")
	}
}
