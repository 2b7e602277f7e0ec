package quandl

import (
	"context"
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

const Source = "quandl"

type datasetResponse struct {
	DatasetData struct {
		ColumnNames []string        `json:"column_names"`
		Data        [][]interface{} `json:"data"`
	} `json:"dataset_data"`
}

// Connector polls Quandl time-series datasets. The first column of each row
// is the date and the second is taken as the value.
type Connector struct {
	cfg    appconfig.QuandlConfig
	client *http.Client
	log    *logger.Entry
}

func New(cfg appconfig.QuandlConfig, log *logger.Log) *Connector {
	return &Connector{
		cfg:    cfg,
		client: common.NewHTTPClient(cfg.Timeout),
		log:    log.WithComponent("quandl_reader"),
	}
}

func (c *Connector) Name() string { return appconfig.SourceQuandl }

func (c *Connector) Interval() time.Duration { return c.cfg.CollectionInterval }

func (c *Connector) Run(ctx context.Context, in common.Ingester) error {
	c.log.WithField("datasets", c.cfg.Datasets).Info("quandl reader started")
	defer c.log.Info("quandl reader stopped")

	return common.Poll(ctx, common.PollConfig{
		Targets:        c.cfg.Datasets,
		Interval:       c.cfg.CollectionInterval,
		RateLimitDelay: c.cfg.RateLimitDelay,
	}, c.log, func(ctx context.Context, code string) error {
		points, err := c.fetch(ctx, code)
		if err != nil {
			return err
		}
		n := common.Emit(ctx, in, Source, points)
		logger.LogDataFlowEntry(c.log, "quandl_api", "pipeline", n, "economic")
		return nil
	})
}

func (c *Connector) fetch(ctx context.Context, code string) ([]models.DataPoint, error) {
	q := url.Values{}
	q.Set("api_key", c.cfg.APIKey)
	q.Set("format", "json")
	endpoint := fmt.Sprintf("%s/datasets/%s/data.json?%s", strings.TrimRight(c.cfg.BaseURL, "/"), code, q.Encode())

	start := time.Now()
	var resp datasetResponse
	if err := common.GetJSON(ctx, c.client, endpoint, nil, &resp); err != nil {
		return nil, err
	}
	logger.LogPerformanceEntry(c.log, "quandl_reader", "api_request", time.Since(start), logger.Fields{"dataset": code})

	columns := resp.DatasetData.ColumnNames
	points := make([]models.DataPoint, 0, len(resp.DatasetData.Data))
	for _, row := range resp.DatasetData.Data {
		if len(row) < 2 {
			continue
		}
		date, ok := row[0].(string)
		if !ok {
			continue
		}
		ts, err := time.ParseInLocation("2006-01-02", date, time.UTC)
		if err != nil {
			continue
		}
		// Null cells become 0 and are left to the validator.
		value, _ := common.ToFloat(row[1])
		points = append(points, models.DataPoint{
			Symbol:    code,
			Timestamp: ts,
			Price:     value,
			Source:    Source,
			Category:  models.CategoryEconomic,
			Metadata: map[string]interface{}{
				"columns":  columns,
				"raw_data": row,
			},
		})
	}
	return points, nil
}
