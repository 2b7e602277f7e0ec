package metrics

import (
	"marketpipe/logger"
	"marketpipe/models"
)

// ReportPipeline emits the pipeline snapshot as individual metrics and a
// single summary line.
func ReportPipeline(log *logger.Log, s models.MetricsSnapshot) {
	const component = "pipeline"
	l := log.WithComponent(component)

	rejectRate := float64(0)
	if seen := s.ValidPoints + s.RejectedPoints; seen > 0 {
		rejectRate = float64(s.RejectedPoints) / float64(seen)
	}

	l.LogMetric(component, "total_processed", s.TotalProcessed, "counter", logger.Fields{})
	l.LogMetric(component, "valid_points", s.ValidPoints, "counter", logger.Fields{})
	l.LogMetric(component, "rejected_points", s.RejectedPoints, "counter", logger.Fields{})
	l.LogMetric(component, "dropped_points", s.DroppedPoints, "counter", logger.Fields{})
	l.LogMetric(component, "reject_rate", rejectRate, "gauge", logger.Fields{})
	l.LogMetric(component, "throughput_per_sec", s.ThroughputPerSec, "gauge", logger.Fields{"unit": "count/second"})
	l.LogMetric(component, "avg_latency_ms", s.AvgLatencyMs, "gauge", logger.Fields{"unit": "milliseconds"})
	l.LogMetric(component, "p95_latency_ms", s.P95LatencyMs, "gauge", logger.Fields{"unit": "milliseconds"})
	l.LogMetric(component, "queue_size", s.QueueSize, "gauge", logger.Fields{})
	l.LogMetric(component, "batches_failed", s.BatchesFailed, "counter", logger.Fields{})

	entry := l.WithFields(logger.Fields{
		"total_processed":    s.TotalProcessed,
		"valid_points":       s.ValidPoints,
		"rejected_points":    s.RejectedPoints,
		"dropped_points":     s.DroppedPoints,
		"reject_rate":        rejectRate,
		"throughput_per_sec": s.ThroughputPerSec,
		"avg_latency_ms":     s.AvgLatencyMs,
		"max_latency_ms":     s.MaxLatencyMs,
		"p95_latency_ms":     s.P95LatencyMs,
		"queue_size":         s.QueueSize,
		"batches_flushed":    s.BatchesFlushed,
		"batches_failed":     s.BatchesFailed,
	})

	if s.BatchesFailed > 0 || s.DroppedPoints > 0 {
		entry.Warn("pipeline metrics")
		return
	}
	entry.Info("pipeline metrics")
}
