package binance

import (
	"context"
	"fmt"
	"strings"
	"time"

	appconfig "marketpipe/config"
	"marketpipe/logger"
	"marketpipe/models"
	"marketpipe/reader/common"

	binance "github.com/adshao/go-binance/v2"
)

const Source = "binance"

// KlineConnector polls the most recent closed spot kline per symbol.
type KlineConnector struct {
	cfg    appconfig.BinanceConfig
	client *binance.Client
	log    *logger.Entry
	now    func() time.Time
}

func NewKlineConnector(cfg appconfig.BinanceConfig, log *logger.Log) *KlineConnector {
	client := binance.NewClient("", "")
	client.HTTPClient = common.NewHTTPClient(cfg.Timeout)
	if base := strings.TrimRight(cfg.BaseURL, "/"); base != "" {
		client.BaseURL = base
	}

	entry := log.WithComponent("binance_reader")
	entry.WithFields(logger.Fields{
		"base_url": client.BaseURL,
		"timeout":  cfg.Timeout,
	}).Info("binance reader initialized")

	return &KlineConnector{
		cfg:    cfg,
		client: client,
		log:    entry,
		now:    time.Now,
	}
}

func (c *KlineConnector) Name() string { return appconfig.SourceBinance }

func (c *KlineConnector) Interval() time.Duration { return c.cfg.CollectionInterval }

func (c *KlineConnector) Run(ctx context.Context, in common.Ingester) error {
	c.log.WithFields(logger.Fields{
		"symbols":  c.cfg.Symbols,
		"interval": c.cfg.KlineInterval,
	}).Info("starting binance reader")
	defer c.log.Info("binance reader stopped")

	return common.Poll(ctx, common.PollConfig{
		Targets:        c.cfg.Symbols,
		Interval:       c.cfg.CollectionInterval,
		RateLimitDelay: c.cfg.RateLimitDelay,
	}, c.log, func(ctx context.Context, symbol string) error {
		p, ok, err := c.fetch(ctx, symbol)
		if err != nil || !ok {
			return err
		}
		n := common.Emit(ctx, in, Source, []models.DataPoint{p})
		logger.LogDataFlowEntry(c.log, "binance_api", "pipeline", n, "kline")
		return nil
	})
}

func (c *KlineConnector) fetch(ctx context.Context, symbol string) (models.DataPoint, bool, error) {
	start := time.Now()
	klines, err := c.client.NewKlinesService().
		Symbol(symbol).
		Interval(c.cfg.KlineInterval).
		Limit(2).
		Do(ctx)
	if err != nil {
		return models.DataPoint{}, false, fmt.Errorf("klines %s: %w", symbol, err)
	}
	logger.LogPerformanceEntry(c.log, "binance_reader", "api_request", time.Since(start), logger.Fields{"symbol": symbol})

	k := lastClosed(klines, c.now())
	if k == nil {
		return models.DataPoint{}, false, nil
	}
	p, err := klinePoint(symbol, c.cfg.KlineInterval, k)
	return p, err == nil, err
}

// lastClosed returns the newest kline whose close time has passed.
func lastClosed(klines []*binance.Kline, now time.Time) *binance.Kline {
	nowMs := now.UnixMilli()
	for i := len(klines) - 1; i >= 0; i-- {
		if klines[i].CloseTime < nowMs {
			return klines[i]
		}
	}
	return nil
}

func klinePoint(symbol, interval string, k *binance.Kline) (models.DataPoint, error) {
	closePrice, err := common.ParseFloat(k.Close)
	if err != nil {
		return models.DataPoint{}, fmt.Errorf("close for %s: %w", symbol, err)
	}
	volume, _ := common.ParseInt(k.Volume)
	open, _ := common.ParseFloat(k.Open)
	high, _ := common.ParseFloat(k.High)
	low, _ := common.ParseFloat(k.Low)

	return models.DataPoint{
		Symbol:    symbol,
		Timestamp: time.UnixMilli(k.OpenTime).UTC(),
		Price:     closePrice,
		Volume:    volume,
		Source:    Source,
		Category:  models.CategoryIntraday,
		Metadata: map[string]interface{}{
			"open":     open,
			"high":     high,
			"low":      low,
			"interval": interval,
			"trades":   k.TradeNum,
		},
	}, nil
}
