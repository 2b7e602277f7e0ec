package kucoin

import (
	"context"
	"fmt"
	"strings"
	"time"

	api "github.com/Kucoin/kucoin-universal-sdk/sdk/golang/pkg/api"
	futuresmarket "github.com/Kucoin/kucoin-universal-sdk/sdk/golang/pkg/generate/futures/market"
	sdktype "github.com/Kucoin/kucoin-universal-sdk/sdk/golang/pkg/types"

	appconfig "marketpipe/config"
	"marketpipe/logger"
	"marketpipe/models"
	"marketpipe/reader/common"
)

const Source = "kucoin"

// ContractConnector polls KuCoin futures contract details and emits the open
// interest of each contract as a fundamental point.
type ContractConnector struct {
	cfg       appconfig.KucoinConfig
	marketAPI futuresmarket.MarketAPI
	log       *logger.Entry
	now       func() time.Time
}

func NewContractConnector(cfg appconfig.KucoinConfig, log *logger.Log) *ContractConnector {
	base := strings.TrimRight(cfg.BaseURL, "/")

	transport := sdktype.NewTransportOptionBuilder().
		SetMaxIdleConns(cfg.MaxIdleConns).
		SetMaxIdleConnsPerHost(cfg.MaxIdleConns).
		SetIdleConnTimeout(cfg.IdleConnTimeout).
		SetTimeout(cfg.Timeout).
		Build()

	option := sdktype.NewClientOptionBuilder().
		WithFuturesEndpoint(base).
		WithTransportOption(transport).
		Build()

	client := api.NewClient(option)

	entry := log.WithComponent("kucoin_reader")
	entry.WithFields(logger.Fields{
		"base_url": base,
		"timeout":  cfg.Timeout,
	}).Info("kucoin reader initialized")

	return &ContractConnector{
		cfg:       cfg,
		marketAPI: client.RestService().GetFuturesService().GetMarketAPI(),
		log:       entry,
		now:       time.Now,
	}
}

func (c *ContractConnector) Name() string { return appconfig.SourceKucoin }

func (c *ContractConnector) Interval() time.Duration { return c.cfg.CollectionInterval }

func (c *ContractConnector) Run(ctx context.Context, in common.Ingester) error {
	c.log.WithField("symbols", c.cfg.Symbols).Info("starting kucoin reader")
	defer c.log.Info("kucoin reader stopped")

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
		logger.LogDataFlowEntry(c.log, "kucoin_api", "pipeline", n, "fundamental")
		return nil
	})
}

func (c *ContractConnector) fetch(ctx context.Context, symbol string) (models.DataPoint, error) {
	symbol = strings.ToUpper(symbol)
	req := futuresmarket.NewGetSymbolReqBuilder().SetSymbol(symbol).Build()

	start := time.Now()
	resp, err := c.marketAPI.GetSymbol(req, ctx)
	if err != nil {
		return models.DataPoint{}, fmt.Errorf("contract %s: %w", symbol, err)
	}
	logger.LogPerformanceEntry(c.log, "kucoin_reader", "api_request", time.Since(start), logger.Fields{"symbol": symbol})
	if resp == nil {
		return models.DataPoint{}, fmt.Errorf("contract %s: empty response", symbol)
	}
	return openInterestPoint(symbol, resp.OpenInterest, c.now().UTC())
}

// openInterestPoint carries open interest in Price; the contract has no
// traded volume in this view.
func openInterestPoint(symbol, openInterest string, ts time.Time) (models.DataPoint, error) {
	value, err := common.ParseFloat(openInterest)
	if err != nil {
		return models.DataPoint{}, fmt.Errorf("contract %s open interest %q: %w", symbol, openInterest, err)
	}
	return models.DataPoint{
		Symbol:    symbol,
		Timestamp: ts,
		Price:     value,
		Volume:    0,
		Source:    Source,
		Category:  models.CategoryFundamental,
		Metadata: map[string]interface{}{
			"metric":        "open_interest",
			"open_interest": openInterest,
		},
	}, nil
}
