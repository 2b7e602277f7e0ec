// Registers on a private registry:
//
//	#marketpipe_points_ingested_total{source,category}
//	#marketpipe_points_rejected_total{source}
//	#marketpipe_ingest_latency_seconds
//	#marketpipe_batches_total{result}
//	#marketpipe_batch_size / marketpipe_flush_duration_seconds
//	#marketpipe_queue_depth, throughput and latency gauges
//	#go_* and process_* system metrics
//
// Exposes them on <listen_addr>/metrics using the Prometheus HTTP handler.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"marketpipe/logger"
	"marketpipe/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "marketpipe"

// Collector records pipeline events as Prometheus metrics. It is safe for
// concurrent use.
type Collector struct {
	registry *prometheus.Registry
	log      *logger.Log

	ingested      *prometheus.CounterVec
	rejected      *prometheus.CounterVec
	latency       prometheus.Histogram
	batches       *prometheus.CounterVec
	batchSize     prometheus.Histogram
	flushDuration prometheus.Histogram

	queueDepth prometheus.Gauge
	throughput prometheus.Gauge
	avgLatency prometheus.Gauge
	p95Latency prometheus.Gauge
	dropped    prometheus.Gauge
}

func NewCollector(log *logger.Log) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		log:      log,
		ingested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "points_ingested_total",
			Help:      "Points accepted by the pipeline.",
		}, []string{"source", "category"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "points_rejected_total",
			Help:      "Points rejected by validation.",
		}, []string{"source"}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_latency_seconds",
			Help:      "Time spent inside Ingest for accepted points.",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Batch flushes by result.",
		}, []string{"result"}),
		batchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      "Points per flushed batch.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		flushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flush_duration_seconds",
			Help:      "Time to write a batch to the primary store.",
			Buckets:   prometheus.DefBuckets,
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "queue_depth", Help: "Points waiting in the ingest queue.",
		}),
		throughput: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "throughput_points_per_second", Help: "Accepted points per second since start.",
		}),
		avgLatency: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "ingest_latency_avg_ms", Help: "Mean ingest latency over recent samples.",
		}),
		p95Latency: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "ingest_latency_p95_ms", Help: "95th percentile ingest latency over recent samples.",
		}),
		dropped: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "points_dropped", Help: "Points dropped while waiting for queue space.",
		}),
	}

	c.registry.MustRegister(
		c.ingested, c.rejected, c.latency, c.batches, c.batchSize, c.flushDuration,
		c.queueDepth, c.throughput, c.avgLatency, c.p95Latency, c.dropped,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

func (c *Collector) PointIngested(p models.DataPoint, latency time.Duration) {
	c.ingested.WithLabelValues(p.Source, string(p.Category)).Inc()
	c.latency.Observe(latency.Seconds())
}

func (c *Collector) PointRejected(p models.DataPoint) {
	c.rejected.WithLabelValues(p.Source).Inc()
}

func (c *Collector) BatchFlushed(size int, took time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.batches.WithLabelValues(result).Inc()
	c.batchSize.Observe(float64(size))
	c.flushDuration.Observe(took.Seconds())
}

// Snapshot updates the gauges and emits the periodic pipeline report.
func (c *Collector) Snapshot(s models.MetricsSnapshot) {
	c.queueDepth.Set(float64(s.QueueSize))
	c.throughput.Set(s.ThroughputPerSec)
	c.avgLatency.Set(s.AvgLatencyMs)
	c.p95Latency.Set(s.P95LatencyMs)
	c.dropped.Set(float64(s.DroppedPoints))
	ReportPipeline(c.log, s)
}

// Handler serves the collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (c *Collector) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	c.log.WithComponent("metrics").WithField("addr", addr).Info("prometheus endpoint listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
