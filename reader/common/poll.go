package common

import (
	"context"
	"time"

	"marketpipe/logger"

	"golang.org/x/time/rate"
)

// FetchFunc collects a single target (symbol, dataset or series).
type FetchFunc func(ctx context.Context, target string) error

// PollConfig describes one polling connector's schedule.
type PollConfig struct {
	Targets        []string
	Interval       time.Duration
	RateLimitDelay time.Duration
}

// NewLimiter spaces provider calls at least delay apart. A non-positive
// delay disables limiting.
func NewLimiter(delay time.Duration) *rate.Limiter {
	if delay <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(delay), 1)
}

// Poll fetches every target once per round and sleeps Interval between
// rounds. A failing target is logged and skipped; the round continues. Poll
// returns nil once ctx is done.
func Poll(ctx context.Context, cfg PollConfig, log *logger.Entry, fetch FetchFunc) error {
	limiter := NewLimiter(cfg.RateLimitDelay)
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Minute
	}

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		start := time.Now()
		for _, target := range cfg.Targets {
			if err := limiter.Wait(ctx); err != nil {
				return nil
			}
			if err := fetch(ctx, target); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				log.WithError(err).WithField("target", target).Warn("fetch failed")
			}
		}

		took := time.Since(start)
		if took > interval {
			log.WithFields(logger.Fields{
				"duration_ms": took.Milliseconds(),
				"interval":    interval.String(),
			}).Warn("collection round took longer than interval")
		}
		timer.Reset(interval)
	}
}

// Wait blocks for d or until ctx is done. It reports whether ctx ended.
func Wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() != nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return true
	case <-timer.C:
		return false
	}
}
