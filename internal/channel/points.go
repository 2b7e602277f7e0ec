package channel

import (
	"context"
	"errors"
	"sync"
	"time"

	"marketpipe/logger"
	"marketpipe/models"
)

// ErrQueueClosed is returned by Send once the queue has been closed.
var ErrQueueClosed = errors.New("point queue closed")

type QueueStats struct {
	Sent     int64
	Dropped  int64
	Blocked  int64
	Received int64
}

// Points is a bounded multi-producer, single-consumer FIFO of data points.
// Send blocks while the queue is full.
type Points struct {
	ch        chan models.DataPoint
	done      chan struct{}
	closeOnce sync.Once
	// sendMu is held shared by every Send and exclusively by Close, so no
	// point lands in ch once Close has returned.
	sendMu sync.RWMutex

	stats      QueueStats
	statsMutex sync.RWMutex
	log        *logger.Log
}

func NewPoints(capacity int, log *logger.Log) *Points {
	if capacity < 1 {
		capacity = 1
	}
	if log == nil {
		log = logger.GetLogger()
	}
	q := &Points{
		ch:   make(chan models.DataPoint, capacity),
		done: make(chan struct{}),
		log:  log,
	}

	log.WithComponent("point_queue").WithFields(logger.Fields{
		"capacity": capacity,
	}).Debug("point queue initialized")

	return q
}

// Send enqueues p, waiting for room when the queue is full. It returns
// ctx.Err() when the context ends first and ErrQueueClosed after Close.
func (q *Points) Send(ctx context.Context, p models.DataPoint) error {
	q.sendMu.RLock()
	defer q.sendMu.RUnlock()

	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}

	select {
	case q.ch <- p:
		q.incr(func(s *QueueStats) { s.Sent++ })
		return nil
	default:
	}

	q.incr(func(s *QueueStats) { s.Blocked++ })
	select {
	case q.ch <- p:
		q.incr(func(s *QueueStats) { s.Sent++ })
		return nil
	case <-ctx.Done():
		q.incr(func(s *QueueStats) { s.Dropped++ })
		return ctx.Err()
	case <-q.done:
		q.incr(func(s *QueueStats) { s.Dropped++ })
		return ErrQueueClosed
	}
}

// Receive waits up to timeout for the next point. Points already buffered
// are still returned after Close.
func (q *Points) Receive(timeout time.Duration) (models.DataPoint, bool) {
	select {
	case p := <-q.ch:
		q.incr(func(s *QueueStats) { s.Received++ })
		return p, true
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case p := <-q.ch:
		q.incr(func(s *QueueStats) { s.Received++ })
		return p, true
	case <-timer.C:
		return models.DataPoint{}, false
	case <-q.done:
		return models.DataPoint{}, false
	}
}

// Drain removes and returns every buffered point without waiting.
func (q *Points) Drain() []models.DataPoint {
	var out []models.DataPoint
	for {
		select {
		case p := <-q.ch:
			q.incr(func(s *QueueStats) { s.Received++ })
			out = append(out, p)
		default:
			return out
		}
	}
}

// Close stops accepting points and wakes blocked senders. It returns once
// every in-flight Send has finished, so a Drain after Close sees every point
// that was accepted. It is safe to call more than once.
func (q *Points) Close() {
	q.closeOnce.Do(func() {
		close(q.done)
		q.sendMu.Lock()
		q.sendMu.Unlock()
		q.log.WithComponent("point_queue").WithField("remaining", len(q.ch)).Debug("point queue closed")
	})
}

func (q *Points) Len() int { return len(q.ch) }
func (q *Points) Cap() int { return cap(q.ch) }

func (q *Points) GetStats() QueueStats {
	q.statsMutex.RLock()
	defer q.statsMutex.RUnlock()
	return q.stats
}

func (q *Points) incr(fn func(*QueueStats)) {
	q.statsMutex.Lock()
	fn(&q.stats)
	q.statsMutex.Unlock()
}
