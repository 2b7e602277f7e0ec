package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	appconfig "marketpipe/config"
	"marketpipe/internal/channel"
	"marketpipe/logger"
	"marketpipe/models"
	"marketpipe/processor"
	"marketpipe/writer"
)

// ErrClosed is returned by Start once the pipeline has been stopped. A
// stopped pipeline has released its sinks and cannot run again.
var ErrClosed = errors.New("pipeline closed")

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "stopped"
	}
}

// Observer receives pipeline events. Implementations must be safe for
// concurrent use and must not block.
type Observer interface {
	PointIngested(p models.DataPoint, latency time.Duration)
	PointRejected(p models.DataPoint)
	BatchFlushed(size int, took time.Duration, err error)
	Snapshot(s models.MetricsSnapshot)
}

type nopObserver struct{}

func (nopObserver) PointIngested(models.DataPoint, time.Duration) {}
func (nopObserver) PointRejected(models.DataPoint)                {}
func (nopObserver) BatchFlushed(int, time.Duration, error)        {}
func (nopObserver) Snapshot(models.MetricsSnapshot)               {}

// Deps are the collaborators a pipeline is built from. Every field is
// optional.
type Deps struct {
	Publisher writer.Publisher
	Store     writer.BatchStore
	Extra     []writer.BatchStore
	Observer  Observer
	Log       *logger.Log
}

// Pipeline validates points, queues them, publishes them to the streaming
// transport and flushes them in batches to the stores. One value is shared
// by every connector.
type Pipeline struct {
	cfg       appconfig.PipelineConfig
	validator *processor.QualityValidator
	queue     *channel.Points
	publisher writer.Publisher
	store     writer.BatchStore
	extra     []writer.BatchStore
	observer  Observer
	log       *logger.Log
	latency   *latencyRing

	mu     sync.Mutex
	state  atomic.Int32
	closed bool
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startedAt atomic.Int64

	totalProcessed int64
	validPoints    int64
	rejectedPoints int64
	droppedPoints  int64
	batchesFlushed int64
	batchesFailed  int64
}

func New(cfg appconfig.PipelineConfig, deps Deps) *Pipeline {
	log := deps.Log
	if log == nil {
		log = logger.GetLogger()
	}
	defaults := appconfig.Default().Pipeline
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = defaults.BatchTimeout
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = defaults.MaxQueueSize
	}
	if cfg.DequeueTimeout <= 0 {
		cfg.DequeueTimeout = defaults.DequeueTimeout
	}
	if cfg.LatencySamples <= 0 {
		cfg.LatencySamples = defaults.LatencySamples
	}

	p := &Pipeline{
		cfg:       cfg,
		validator: processor.NewQualityValidator(cfg.Validator, log),
		queue:     channel.NewPoints(cfg.MaxQueueSize, log),
		publisher: deps.Publisher,
		store:     deps.Store,
		extra:     deps.Extra,
		observer:  deps.Observer,
		log:       log,
		latency:   newLatencyRing(cfg.LatencySamples),
	}
	if p.publisher == nil {
		p.publisher = writer.NopPublisher{}
	}
	if p.observer == nil {
		p.observer = nopObserver{}
	}

	log.WithComponent("pipeline").WithFields(logger.Fields{
		"batch_size":     cfg.BatchSize,
		"batch_timeout":  cfg.BatchTimeout.String(),
		"max_queue_size": cfg.MaxQueueSize,
		"flush_on_stop":  cfg.FlushOnStop,
	}).Info("pipeline initialized")
	return p
}

// Ingest validates pt and hands it to the queue and the streaming
// transport. It blocks while the queue is full. A false result means the
// point was rejected by validation or could not be queued before ctx ended.
func (p *Pipeline) Ingest(ctx context.Context, pt models.DataPoint) bool {
	start := time.Now()

	if !p.validator.Check(pt) {
		atomic.AddInt64(&p.rejectedPoints, 1)
		p.observer.PointRejected(pt)
		return false
	}

	if !pt.HasTimestamp() {
		pt = pt.WithTimestamp(start.UTC())
	}

	if err := p.queue.Send(ctx, pt); err != nil {
		atomic.AddInt64(&p.droppedPoints, 1)
		p.log.WithComponent("pipeline").WithPoint(pt).WithError(err).Debug("point not queued")
		return false
	}
	p.validator.Record(pt)

	if err := p.publisher.Publish(ctx, pt.Topic(), pt); err != nil {
		p.log.WithComponent("pipeline").WithPoint(pt).WithError(err).
			WithField("topic", pt.Topic()).Warn("streaming publish failed")
	}

	elapsed := time.Since(start)
	p.latency.add(elapsed)
	atomic.AddInt64(&p.totalProcessed, 1)
	atomic.AddInt64(&p.validPoints, 1)
	p.observer.PointIngested(pt, elapsed)
	return true
}

// Start launches the flush loop and the periodic quality reporter. Calling
// it on a running pipeline does nothing. When ctx ends the pipeline stops
// accepting points and flushes what it holds; Stop still releases the sinks.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}
	if State(p.state.Load()) != StateStopped {
		p.log.WithComponent("pipeline").Warn("pipeline already running")
		return nil
	}
	p.state.Store(int32(StateStarting))

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.startedAt.Store(time.Now().UnixNano())
	p.state.Store(int32(StateRunning))

	p.wg.Add(1)
	go p.flushLoop(runCtx)

	if p.cfg.MetricsInterval > 0 {
		p.wg.Add(1)
		go p.reportLoop(runCtx)
	}

	p.log.WithComponent("pipeline").Info("pipeline started")
	return nil
}

// Stop ends the flush loop, flushes or discards the pending batch according
// to flush_on_stop, and closes every sink. It is a no-op unless running or
// already winding down after the Start context ended.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s := State(p.state.Load()); s != StateRunning && s != StateStopping {
		return
	}
	p.state.Store(int32(StateStopping))
	p.log.WithComponent("pipeline").Info("stopping pipeline")

	p.queue.Close()
	p.cancel()
	p.wg.Wait()

	if err := p.publisher.Close(); err != nil {
		p.log.WithComponent("pipeline").WithError(err).Warn("failed to close publisher")
	}
	if p.store != nil {
		if err := p.store.Close(); err != nil {
			p.log.WithComponent("pipeline").WithError(err).Warn("failed to close store")
		}
	}
	for _, st := range p.extra {
		if err := st.Close(); err != nil {
			p.log.WithComponent("pipeline").WithError(err).Warn("failed to close store")
		}
	}

	p.closed = true
	p.state.Store(int32(StateStopped))

	final := p.Metrics()
	p.log.WithComponent("pipeline").WithFields(logger.Fields{
		"total_processed": final.TotalProcessed,
		"valid_points":    final.ValidPoints,
		"rejected_points": final.RejectedPoints,
		"dropped_points":  final.DroppedPoints,
		"batches_flushed": final.BatchesFlushed,
		"batches_failed":  final.BatchesFailed,
	}).Info("pipeline stopped")
}

func (p *Pipeline) State() State {
	return State(p.state.Load())
}

func (p *Pipeline) flushLoop(ctx context.Context) {
	defer p.wg.Done()

	batch := make([]models.DataPoint, 0, p.cfg.BatchSize)
	lastFlush := time.Now()

	for {
		select {
		case <-ctx.Done():
			// Nothing consumes the queue past this point, so it stops
			// accepting points before the final drain.
			p.queue.Close()
			if p.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
				p.log.WithComponent("pipeline").Info("start context ended, intake closed")
			}
			p.finish(batch)
			return
		default:
		}

		if pt, ok := p.queue.Receive(p.cfg.DequeueTimeout); ok {
			batch = append(batch, pt)
		}

		if len(batch) >= p.cfg.BatchSize || (len(batch) > 0 && time.Since(lastFlush) >= p.cfg.BatchTimeout) {
			p.flush(ctx, batch)
			batch = make([]models.DataPoint, 0, p.cfg.BatchSize)
			lastFlush = time.Now()
		}
	}
}

// finish handles the partial batch and anything still queued at stop.
func (p *Pipeline) finish(batch []models.DataPoint) {
	rest := append(batch, p.queue.Drain()...)
	if len(rest) == 0 {
		return
	}
	if !p.cfg.FlushOnStop {
		p.log.WithComponent("pipeline").WithField("discarded", len(rest)).Warn("discarding unflushed points on stop")
		return
	}

	p.log.WithComponent("pipeline").WithField("points", len(rest)).Info("flushing pending points on stop")
	ctx := context.Background()
	for len(rest) > 0 {
		n := p.cfg.BatchSize
		if n > len(rest) {
			n = len(rest)
		}
		p.flush(ctx, rest[:n:n])
		rest = rest[n:]
	}
}

// flush writes batch to the primary store and then to every extra store.
// Failures are logged and counted; the batch is never retried.
func (p *Pipeline) flush(ctx context.Context, batch []models.DataPoint) {
	writeCtx := context.WithoutCancel(ctx)
	start := time.Now()

	var err error
	if p.store != nil {
		err = p.store.StoreBatch(writeCtx, batch)
	}
	took := time.Since(start)

	entry := p.log.WithComponent("pipeline").WithFields(logger.Fields{
		"records":     len(batch),
		"duration_ms": toMillis(took),
	})
	if err != nil {
		atomic.AddInt64(&p.batchesFailed, 1)
		entry.WithError(err).Error("batch write failed, discarding batch")
	} else {
		atomic.AddInt64(&p.batchesFlushed, 1)
		entry.Debug("batch flushed")
	}

	for _, st := range p.extra {
		cp := make([]models.DataPoint, len(batch))
		copy(cp, batch)
		if xerr := st.StoreBatch(writeCtx, cp); xerr != nil {
			p.log.WithComponent("pipeline").WithError(xerr).WithField("records", len(cp)).Warn("secondary store write failed")
		}
	}

	p.observer.BatchFlushed(len(batch), took, err)
}

func (p *Pipeline) reportLoop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.MetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.report(ctx)
		}
	}
}

func (p *Pipeline) report(ctx context.Context) {
	snap := p.Metrics()
	if rec, ok := p.store.(writer.QualityRecorder); ok {
		if err := rec.StoreQualityMetrics(ctx, snap.Report(time.Now().UTC())); err != nil {
			p.log.WithComponent("pipeline").WithError(err).Warn("failed to store quality metrics")
		}
	}
	p.observer.Snapshot(snap)
}

// Metrics returns a point-in-time view of the counters. Counters are read
// independently and may be slightly out of step with each other.
func (p *Pipeline) Metrics() models.MetricsSnapshot {
	total := atomic.LoadInt64(&p.totalProcessed)

	throughput := 0.0
	if started := p.startedAt.Load(); started != 0 {
		elapsed := time.Since(time.Unix(0, started)).Seconds()
		if elapsed < 1 {
			elapsed = 1
		}
		throughput = float64(total) / elapsed
	}

	avg, max, p95 := p.latency.stats()
	return models.MetricsSnapshot{
		TotalProcessed:   total,
		ValidPoints:      atomic.LoadInt64(&p.validPoints),
		RejectedPoints:   atomic.LoadInt64(&p.rejectedPoints),
		DroppedPoints:    atomic.LoadInt64(&p.droppedPoints),
		ThroughputPerSec: throughput,
		AvgLatencyMs:     avg,
		MaxLatencyMs:     max,
		P95LatencyMs:     p95,
		QueueSize:        p.queue.Len(),
		BatchesFlushed:   atomic.LoadInt64(&p.batchesFlushed),
		BatchesFailed:    atomic.LoadInt64(&p.batchesFailed),
	}
}

// Anomalies returns how many points the validator flagged as anomalous.
func (p *Pipeline) Anomalies() int64 {
	return p.validator.Anomalies()
}
