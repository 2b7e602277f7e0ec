package models

import "time"

/////////////////////////////////////////////////////////////////////////////
/////////////////////////////////// METRICS /////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// MetricsSnapshot is a point-in-time view of pipeline counters. Fields are read
// independently and may be slightly inconsistent under concurrent ingestion.
type MetricsSnapshot struct {
	TotalProcessed   int64   `json:"total_processed"`
	ValidPoints      int64   `json:"valid_points"`
	RejectedPoints   int64   `json:"rejected_points"`
	DroppedPoints    int64   `json:"dropped_points"`
	ThroughputPerSec float64 `json:"throughput_per_sec"`
	AvgLatencyMs     float64 `json:"avg_latency_ms"`
	MaxLatencyMs     float64 `json:"max_latency_ms"`
	P95LatencyMs     float64 `json:"p95_latency_ms"`
	QueueSize        int     `json:"queue_size"`
	BatchesFlushed   int64   `json:"batches_flushed"`
	BatchesFailed    int64   `json:"batches_failed"`
}

// QualityReport is the row persisted periodically for data-quality auditing.
type QualityReport struct {
	Timestamp        time.Time
	TotalPoints      int64
	ValidPoints      int64
	RejectedPoints   int64
	LatencyMs        float64
	ThroughputPerSec float64
}

// Report converts the snapshot into a quality report taken at ts.
func (s MetricsSnapshot) Report(ts time.Time) QualityReport {
	return QualityReport{
		Timestamp:        ts,
		TotalPoints:      s.TotalProcessed,
		ValidPoints:      s.ValidPoints,
		RejectedPoints:   s.RejectedPoints,
		LatencyMs:        s.AvgLatencyMs,
		ThroughputPerSec: s.ThroughputPerSec,
	}
}
