package alphavantage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"time"

	appconfig "marketpipe/config"
	"marketpipe/logger"
	"marketpipe/models"
	"marketpipe/reader/common"
)

const (
	Source          = "alphavantage"
	timestampLayout = "2006-01-02 15:04:05"
	dateLayout      = "2006-01-02"
)

type bar struct {
	Open   string `json:"1. open"`
	High   string `json:"2. high"`
	Low    string `json:"3. low"`
	Close  string `json:"4. close"`
	Volume string `json:"5. volume"`
}

type indicatorResponse struct {
	Name     string `json:"name"`
	Interval string `json:"interval"`
	Unit     string `json:"unit"`
	Data     []struct {
		Date  string `json:"date"`
		Value string `json:"value"`
	} `json:"data"`
}

// Connector collects intraday bars per symbol and economic indicator series
// from Alpha Vantage.
type Connector struct {
	cfg        appconfig.AlphaVantageConfig
	client     *http.Client
	log        *logger.Entry
	indicators map[string]struct{}
}

func New(cfg appconfig.AlphaVantageConfig, log *logger.Log) *Connector {
	indicators := make(map[string]struct{}, len(cfg.Indicators))
	for _, fn := range cfg.Indicators {
		indicators[fn] = struct{}{}
	}
	return &Connector{
		cfg:        cfg,
		client:     common.NewHTTPClient(cfg.Timeout),
		log:        log.WithComponent("alphavantage_reader"),
		indicators: indicators,
	}
}

func (c *Connector) Name() string { return appconfig.SourceAlphaVantage }

func (c *Connector) Interval() time.Duration { return c.cfg.CollectionInterval }

func (c *Connector) Run(ctx context.Context, in common.Ingester) error {
	c.log.WithFields(logger.Fields{
		"symbols":    c.cfg.Symbols,
		"indicators": c.cfg.Indicators,
		"interval":   c.cfg.Interval,
	}).Info("alpha vantage reader started")
	defer c.log.Info("alpha vantage reader stopped")

	return common.Poll(ctx, common.PollConfig{
		Targets:        c.cfg.Targets(),
		Interval:       c.cfg.CollectionInterval,
		RateLimitDelay: c.cfg.RateLimitDelay,
	}, c.log, func(ctx context.Context, target string) error {
		var (
			points []models.DataPoint
			err    error
		)
		if _, ok := c.indicators[target]; ok {
			points, err = c.fetchIndicator(ctx, target)
		} else {
			points, err = c.fetchIntraday(ctx, target)
		}
		if err != nil {
			return err
		}
		n := common.Emit(ctx, in, Source, points)
		logger.LogDataFlowEntry(c.log, "alphavantage_api", "pipeline", n, target)
		return nil
	})
}

func (c *Connector) query(ctx context.Context, params url.Values) (map[string]json.RawMessage, error) {
	params.Set("apikey", c.cfg.APIKey)
	start := time.Now()
	var body map[string]json.RawMessage
	if err := common.GetJSON(ctx, c.client, c.cfg.BaseURL+"?"+params.Encode(), nil, &body); err != nil {
		return nil, err
	}
	logger.LogPerformanceEntry(c.log, "alphavantage_reader", "api_request", time.Since(start), logger.Fields{
		"function": params.Get("function"),
	})
	if err := apiError(body); err != nil {
		return nil, err
	}
	return body, nil
}

// apiError surfaces the messages Alpha Vantage returns with status 200.
func apiError(body map[string]json.RawMessage) error {
	for _, key := range []string{"Error Message", "Note", "Information"} {
		if raw, ok := body[key]; ok {
			var msg string
			_ = json.Unmarshal(raw, &msg)
			return fmt.Errorf("alpha vantage: %s", msg)
		}
	}
	return nil
}

func (c *Connector) fetchIntraday(ctx context.Context, symbol string) ([]models.DataPoint, error) {
	params := url.Values{}
	params.Set("function", "TIME_SERIES_INTRADAY")
	params.Set("symbol", symbol)
	params.Set("interval", c.cfg.Interval)
	params.Set("outputsize", "compact")

	body, err := c.query(ctx, params)
	if err != nil {
		return nil, err
	}
	key := fmt.Sprintf("Time Series (%s)", c.cfg.Interval)
	raw, ok := body[key]
	if !ok {
		return nil, nil
	}
	var series map[string]bar
	if err := json.Unmarshal(raw, &series); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return intradayPoints(symbol, c.cfg.Interval, series, c.log), nil
}

func intradayPoints(symbol, interval string, series map[string]bar, log *logger.Entry) []models.DataPoint {
	stamps := make([]string, 0, len(series))
	for ts := range series {
		stamps = append(stamps, ts)
	}
	sort.Strings(stamps)

	points := make([]models.DataPoint, 0, len(stamps))
	for _, stamp := range stamps {
		ts, err := time.ParseInLocation(timestampLayout, stamp, time.UTC)
		if err != nil {
			log.WithError(err).WithField("timestamp", stamp).Debug("skipping bar with bad timestamp")
			continue
		}
		b := series[stamp]
		closePrice, err := common.ParseFloat(b.Close)
		if err != nil {
			continue
		}
		volume, _ := common.ParseInt(b.Volume)
		open, _ := common.ParseFloat(b.Open)
		high, _ := common.ParseFloat(b.High)
		low, _ := common.ParseFloat(b.Low)

		points = append(points, models.DataPoint{
			Symbol:    symbol,
			Timestamp: ts,
			Price:     closePrice,
			Volume:    volume,
			Source:    Source,
			Category:  models.CategoryIntraday,
			Metadata: map[string]interface{}{
				"open":     open,
				"high":     high,
				"low":      low,
				"interval": interval,
			},
		})
	}
	return points
}

func (c *Connector) fetchIndicator(ctx context.Context, function string) ([]models.DataPoint, error) {
	params := url.Values{}
	params.Set("function", function)
	params.Set("interval", c.cfg.IndicatorInterval)

	body, err := c.query(ctx, params)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	var resp indicatorResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode indicator %s: %w", function, err)
	}

	points := make([]models.DataPoint, 0, len(resp.Data))
	for _, item := range resp.Data {
		ts, err := time.ParseInLocation(dateLayout, item.Date, time.UTC)
		if err != nil {
			continue
		}
		value, err := common.ParseFloat(item.Value)
		if errors.Is(err, common.ErrMissingValue) {
			continue
		} else if err != nil {
			return points, fmt.Errorf("indicator %s on %s: %w", function, item.Date, err)
		}
		points = append(points, models.DataPoint{
			Symbol:    function,
			Timestamp: ts,
			Price:     value,
			Source:    Source,
			Category:  models.CategoryEconomic,
			Metadata:  map[string]interface{}{"interval": c.cfg.IndicatorInterval},
		})
	}
	return points, nil
}
