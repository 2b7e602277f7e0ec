package reader

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"marketpipe/logger"
	"marketpipe/reader/common"

	"github.com/jpillora/backoff"
)

const (
	defaultRestartMin = time.Second
	maxRestartDelay   = time.Minute
)

// Orchestrator runs every connector in its own goroutine and restarts it when
// it fails, until the orchestrator is stopped.
type Orchestrator struct {
	connectors []common.Connector
	in         common.Ingester
	log        *logger.Entry

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	restarts map[string]*atomic.Int64
}

func NewOrchestrator(connectors []common.Connector, in common.Ingester, log *logger.Log) *Orchestrator {
	restarts := make(map[string]*atomic.Int64, len(connectors))
	for _, c := range connectors {
		restarts[c.Name()] = &atomic.Int64{}
	}
	return &Orchestrator{
		connectors: connectors,
		in:         in,
		log:        log.WithComponent("orchestrator"),
		restarts:   restarts,
	}
}

// Start launches one supervised goroutine per connector.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return fmt.Errorf("orchestrator already running")
	}
	if len(o.connectors) == 0 {
		o.log.Warn("no connectors enabled")
	}

	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.running = true

	names := make([]string, 0, len(o.connectors))
	for _, c := range o.connectors {
		names = append(names, c.Name())
		o.wg.Add(1)
		go o.supervise(runCtx, c)
	}
	o.log.WithField("connectors", names).Info("orchestrator started")
	return nil
}

// Stop cancels all connectors and waits for them to return.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	o.running = false
	cancel := o.cancel
	o.mu.Unlock()

	o.log.Info("stopping orchestrator")
	cancel()
	o.wg.Wait()
	o.log.Info("orchestrator stopped")
}

// Restarts returns how many times the named connector has been restarted.
func (o *Orchestrator) Restarts(name string) int64 {
	if n, ok := o.restarts[name]; ok {
		return n.Load()
	}
	return 0
}

func (o *Orchestrator) supervise(ctx context.Context, c common.Connector) {
	defer o.wg.Done()

	log := o.log.WithConnector(c.Name())
	delay := restartPolicy(c)

	for {
		started := time.Now()
		err := o.runSafely(ctx, c)
		if ctx.Err() != nil {
			return
		}

		if time.Since(started) > delay.Max {
			delay.Reset()
		}
		wait := delay.Duration()
		if err != nil {
			log.WithError(err).WithField("restart_in", wait.String()).Warn("connector failed")
		} else {
			log.WithField("restart_in", wait.String()).Info("connector returned, restarting")
		}
		if common.Wait(ctx, wait) {
			return
		}
		o.restarts[c.Name()].Add(1)
	}
}

func (o *Orchestrator) runSafely(ctx context.Context, c common.Connector) (err error) {
	defer func() {
		if r := recover(); r != nil {
			o.log.WithConnector(c.Name()).WithFields(logger.Fields{
				"panic": r,
				"stack": string(debug.Stack()),
			}).Error("connector panicked")
			err = fmt.Errorf("connector %s panicked: %v", c.Name(), r)
		}
	}()
	err = c.Run(ctx, o.in)
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return nil
	}
	return err
}

// restartPolicy derives the restart delay for a connector. Pollers wait one
// interval; push connectors back off exponentially up to a minute.
func restartPolicy(c common.Connector) *backoff.Backoff {
	if p, ok := c.(common.Poller); ok && p.Interval() > 0 {
		return &backoff.Backoff{Min: p.Interval(), Max: p.Interval(), Factor: 1}
	}
	lo, hi := defaultRestartMin, maxRestartDelay
	if r, ok := c.(common.Reconnecter); ok {
		if rmin, rmax := r.ReconnectBounds(); rmin > 0 {
			lo = rmin
			if rmax > 0 {
				hi = rmax
			}
		}
	}
	if hi > maxRestartDelay {
		hi = maxRestartDelay
	}
	if lo > hi {
		lo = hi
	}
	return &backoff.Backoff{Min: lo, Max: hi, Factor: 2, Jitter: true}
}
