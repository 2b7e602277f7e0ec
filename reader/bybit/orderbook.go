package bybit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	appconfig "marketpipe/config"
	"marketpipe/logger"
	"marketpipe/models"
	"marketpipe/reader/common"

	bybit "github.com/bybit-exchange/bybit.go.api"
)

const Source = "bybit"

var errEmptyBook = errors.New("empty order book")

type orderBook struct {
	Symbol string     `json:"s"`
	Bids   [][]string `json:"b"`
	Asks   [][]string `json:"a"`
	Ts     int64      `json:"ts"`
	Update int64      `json:"u"`
}

// QuoteConnector polls the top of the Bybit order book and emits a quote
// priced at the mid.
type QuoteConnector struct {
	cfg    appconfig.BybitConfig
	client *bybit.Client
	log    *logger.Entry
}

func NewQuoteConnector(cfg appconfig.BybitConfig, log *logger.Log) *QuoteConnector {
	base := strings.TrimRight(cfg.BaseURL, "/")
	client := bybit.NewBybitHttpClient("", "", bybit.WithBaseURL(base))
	client.HTTPClient = common.NewHTTPClient(cfg.Timeout)

	entry := log.WithComponent("bybit_reader")
	entry.WithFields(logger.Fields{
		"base_url": base,
		"category": cfg.Category,
		"timeout":  cfg.Timeout,
	}).Info("bybit reader initialized")

	return &QuoteConnector{cfg: cfg, client: client, log: entry}
}

func (c *QuoteConnector) Name() string { return appconfig.SourceBybit }

func (c *QuoteConnector) Interval() time.Duration { return c.cfg.CollectionInterval }

func (c *QuoteConnector) Run(ctx context.Context, in common.Ingester) error {
	c.log.WithField("symbols", c.cfg.Symbols).Info("starting bybit reader")
	defer c.log.Info("bybit reader stopped")

	return common.Poll(ctx, common.PollConfig{
		Targets:        c.cfg.Symbols,
		Interval:       c.cfg.CollectionInterval,
		RateLimitDelay: c.cfg.RateLimitDelay,
	}, c.log, func(ctx context.Context, symbol string) error {
		p, err := c.fetch(ctx, symbol)
		if err != nil {
			return err
		}
		n := common.Emit(ctx, in, Source, []models.DataPoint{p})
		logger.LogDataFlowEntry(c.log, "bybit_api", "pipeline", n, "quote")
		return nil
	})
}

func (c *QuoteConnector) fetch(ctx context.Context, symbol string) (models.DataPoint, error) {
	depth := c.cfg.Depth
	if depth <= 0 {
		depth = 1
	}
	params := map[string]interface{}{
		"category": c.cfg.Category,
		"symbol":   symbol,
		"limit":    depth,
	}

	start := time.Now()
	resp, err := c.client.NewUtaBybitServiceWithParams(params).GetOrderBookInfo(ctx)
	if err != nil {
		return models.DataPoint{}, fmt.Errorf("orderbook %s: %w", symbol, err)
	}
	logger.LogPerformanceEntry(c.log, "bybit_reader", "api_request", time.Since(start), logger.Fields{"symbol": symbol})
	if resp.RetCode != 0 {
		return models.DataPoint{}, fmt.Errorf("orderbook %s: bybit error %d: %s", symbol, resp.RetCode, resp.RetMsg)
	}

	payload, err := json.Marshal(resp.Result)
	if err != nil {
		return models.DataPoint{}, fmt.Errorf("marshal orderbook: %w", err)
	}
	var book orderBook
	if err := json.Unmarshal(payload, &book); err != nil {
		return models.DataPoint{}, fmt.Errorf("decode orderbook: %w", err)
	}
	return quotePoint(symbol, book, depth)
}

func quotePoint(symbol string, book orderBook, depth int) (models.DataPoint, error) {
	if len(book.Bids) == 0 || len(book.Asks) == 0 {
		return models.DataPoint{}, fmt.Errorf("%s: %w", symbol, errEmptyBook)
	}
	bid, bidSize, err := level(book.Bids[0])
	if err != nil {
		return models.DataPoint{}, err
	}
	ask, askSize, err := level(book.Asks[0])
	if err != nil {
		return models.DataPoint{}, err
	}

	ts := time.Now().UTC()
	if book.Ts > 0 {
		ts = time.UnixMilli(book.Ts).UTC()
	}
	return models.DataPoint{
		Symbol:    symbol,
		Timestamp: ts,
		Price:     (bid + ask) / 2,
		Volume:    int64(bidSize + askSize),
		Bid:       models.Float(bid),
		Ask:       models.Float(ask),
		Source:    Source,
		Category:  models.CategoryQuote,
		Metadata: map[string]interface{}{
			"bid_size": bidSize,
			"ask_size": askSize,
			"spread":   ask - bid,
			"depth":    depth,
			"update":   book.Update,
		},
	}, nil
}

func level(l []string) (price, size float64, err error) {
	if len(l) < 2 {
		return 0, 0, fmt.Errorf("malformed level %v", l)
	}
	if price, err = common.ParseFloat(l[0]); err != nil {
		return 0, 0, err
	}
	if size, err = common.ParseFloat(l[1]); err != nil {
		return 0, 0, err
	}
	return price, size, nil
}
