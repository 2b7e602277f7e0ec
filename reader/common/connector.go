package common

import (
	"context"
	"time"

	"marketpipe/logger"
	"marketpipe/models"
)

// Ingester accepts points produced by connectors. *pipeline.Pipeline
// satisfies it.
type Ingester interface {
	Ingest(ctx context.Context, p models.DataPoint) bool
}

// Connector pulls or receives data from one provider and hands every point
// to the Ingester. Run blocks until ctx ends or the connector fails.
type Connector interface {
	Name() string
	Run(ctx context.Context, in Ingester) error
}

// Poller is implemented by connectors that collect on a fixed schedule. The
// orchestrator waits one interval before restarting a failed poller.
type Poller interface {
	Interval() time.Duration
}

// Reconnecter is implemented by push connectors. The orchestrator backs off
// exponentially between these bounds before reconnecting.
type Reconnecter interface {
	ReconnectBounds() (lo, hi time.Duration)
}

// Emit ingests points in order and returns how many were accepted. Accepted
// points are counted against source in the runtime report.
func Emit(ctx context.Context, in Ingester, source string, points []models.DataPoint) int {
	accepted := 0
	for _, p := range points {
		if ctx.Err() != nil {
			break
		}
		if in.Ingest(ctx, p) {
			accepted++
		}
	}
	if accepted > 0 {
		logger.IncrementSourceRead(source, accepted)
	}
	return accepted
}
