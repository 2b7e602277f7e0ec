package yahoo

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	appconfig "marketpipe/config"
	"marketpipe/logger"
	"marketpipe/models"
	"marketpipe/reader/common"
)

// Source is the value stamped on every point this connector emits.
const Source = "yfinance"

type quoteResponse struct {
	QuoteResponse struct {
		Result []quote `json:"result"`
	} `json:"quoteResponse"`
}

type quote struct {
	Symbol              string   `json:"symbol"`
	RegularMarketPrice  *float64 `json:"regularMarketPrice"`
	RegularMarketVolume float64  `json:"regularMarketVolume"`
	RegularMarketTime   int64    `json:"regularMarketTime"`
	Bid                 float64  `json:"bid"`
	Ask                 float64  `json:"ask"`
	Currency            string   `json:"currency"`
	MarketState         string   `json:"marketState"`
}

// Connector polls the Yahoo Finance quote endpoint for all configured symbols
// in one request per round.
type Connector struct {
	cfg    appconfig.YahooConfig
	client *http.Client
	log    *logger.Entry
}

func New(cfg appconfig.YahooConfig, log *logger.Log) *Connector {
	return &Connector{
		cfg:    cfg,
		client: common.NewHTTPClient(cfg.Timeout),
		log:    log.WithComponent("yahoo_reader"),
	}
}

func (c *Connector) Name() string { return appconfig.SourceYahoo }

func (c *Connector) Interval() time.Duration { return c.cfg.CollectionInterval }

func (c *Connector) Run(ctx context.Context, in common.Ingester) error {
	c.log.WithField("symbols", c.cfg.Symbols).Info("yahoo reader started")
	defer c.log.Info("yahoo reader stopped")

	batch := strings.Join(c.cfg.Symbols, ",")
	return common.Poll(ctx, common.PollConfig{
		Targets:        []string{batch},
		Interval:       c.cfg.CollectionInterval,
		RateLimitDelay: c.cfg.RateLimitDelay,
	}, c.log, func(ctx context.Context, symbols string) error {
		points, err := c.fetch(ctx, symbols)
		if err != nil {
			return err
		}
		n := common.Emit(ctx, in, Source, points)
		logger.LogDataFlowEntry(c.log, "yahoo_api", "pipeline", n, "price")
		return nil
	})
}

func (c *Connector) fetch(ctx context.Context, symbols string) ([]models.DataPoint, error) {
	q := url.Values{}
	q.Set("symbols", symbols)
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/v7/finance/quote?" + q.Encode()

	header := http.Header{}
	header.Set("User-Agent", "Mozilla/5.0 (compatible; marketpipe)")

	start := time.Now()
	var resp quoteResponse
	if err := common.GetJSON(ctx, c.client, endpoint, header, &resp); err != nil {
		return nil, err
	}
	logger.LogPerformanceEntry(c.log, "yahoo_reader", "api_request", time.Since(start), logger.Fields{"symbols": symbols})

	return toPoints(resp.QuoteResponse.Result, time.Now().UTC()), nil
}

func toPoints(quotes []quote, now time.Time) []models.DataPoint {
	points := make([]models.DataPoint, 0, len(quotes))
	for _, q := range quotes {
		if q.RegularMarketPrice == nil || q.Symbol == "" {
			continue
		}
		ts := now
		if q.RegularMarketTime > 0 {
			ts = time.Unix(q.RegularMarketTime, 0).UTC()
		}
		p := models.DataPoint{
			Symbol:    q.Symbol,
			Timestamp: ts,
			Price:     *q.RegularMarketPrice,
			Volume:    int64(q.RegularMarketVolume),
			Source:    Source,
			Category:  models.CategoryPrice,
		}
		if q.Bid > 0 {
			p.Bid = models.Float(q.Bid)
		}
		if q.Ask > 0 {
			p.Ask = models.Float(q.Ask)
		}
		if q.Currency != "" || q.MarketState != "" {
			p.Metadata = map[string]interface{}{
				"currency":     q.Currency,
				"market_state": q.MarketState,
			}
		}
		points = append(points, p)
	}
	return points
}
