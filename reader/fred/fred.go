package fred

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	appconfig "marketpipe/config"
	"marketpipe/logger"
	"marketpipe/models"
	"marketpipe/reader/common"
)

const Source = "fred"

type observationsResponse struct {
	Observations []struct {
		Date          string `json:"date"`
		Value         string `json:"value"`
		RealtimeStart string `json:"realtime_start"`
		RealtimeEnd   string `json:"realtime_end"`
	} `json:"observations"`
}

// Connector polls FRED series observations.
type Connector struct {
	cfg    appconfig.FREDConfig
	client *http.Client
	log    *logger.Entry
}

func New(cfg appconfig.FREDConfig, log *logger.Log) *Connector {
	return &Connector{
		cfg:    cfg,
		client: common.NewHTTPClient(cfg.Timeout),
		log:    log.WithComponent("fred_reader"),
	}
}

func (c *Connector) Name() string { return appconfig.SourceFRED }

func (c *Connector) Interval() time.Duration { return c.cfg.CollectionInterval }

func (c *Connector) Run(ctx context.Context, in common.Ingester) error {
	c.log.WithField("series", c.cfg.Series).Info("fred reader started")
	defer c.log.Info("fred reader stopped")

	return common.Poll(ctx, common.PollConfig{
		Targets:        c.cfg.Series,
		Interval:       c.cfg.CollectionInterval,
		RateLimitDelay: c.cfg.RateLimitDelay,
	}, c.log, func(ctx context.Context, series string) error {
		points, err := c.fetch(ctx, series)
		if err != nil {
			return err
		}
		n := common.Emit(ctx, in, Source, points)
		logger.LogDataFlowEntry(c.log, "fred_api", "pipeline", n, "economic")
		return nil
	})
}

func (c *Connector) fetch(ctx context.Context, series string) ([]models.DataPoint, error) {
	q := url.Values{}
	q.Set("series_id", series)
	q.Set("api_key", c.cfg.APIKey)
	q.Set("file_type", "json")
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/series/observations?" + q.Encode()

	start := time.Now()
	var resp observationsResponse
	if err := common.GetJSON(ctx, c.client, endpoint, nil, &resp); err != nil {
		return nil, err
	}
	logger.LogPerformanceEntry(c.log, "fred_reader", "api_request", time.Since(start), logger.Fields{"series": series})

	points := make([]models.DataPoint, 0, len(resp.Observations))
	for _, obs := range resp.Observations {
		value, err := common.ParseFloat(obs.Value)
		if errors.Is(err, common.ErrMissingValue) {
			continue
		} else if err != nil {
			return points, fmt.Errorf("series %s on %s: %w", series, obs.Date, err)
		}
		ts, err := time.ParseInLocation("2006-01-02", obs.Date, time.UTC)
		if err != nil {
			continue
		}
		points = append(points, models.DataPoint{
			Symbol:    series,
			Timestamp: ts,
			Price:     value,
			Source:    Source,
			Category:  models.CategoryEconomic,
			Metadata: map[string]interface{}{
				"realtime_start": obs.RealtimeStart,
				"realtime_end":   obs.RealtimeEnd,
			},
		})
	}
	return points, nil
}
