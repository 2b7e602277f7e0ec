package reader

import (
	appconfig "marketpipe/config"
	"marketpipe/logger"
	"marketpipe/reader/alphavantage"
	"marketpipe/reader/binance"
	"marketpipe/reader/bybit"
	"marketpipe/reader/common"
	"marketpipe/reader/finnhub"
	"marketpipe/reader/fred"
	"marketpipe/reader/kucoin"
	"marketpipe/reader/quandl"
	"marketpipe/reader/twitter"
	"marketpipe/reader/yahoo"
)

// BuildConnectors instantiates a connector for every enabled source, in
// source-name order.
func BuildConnectors(cfg *appconfig.Config, log *logger.Log) []common.Connector {
	var connectors []common.Connector
	for _, name := range cfg.Sources.Enabled() {
		connectors = append(connectors, connectorsFor(name, &cfg.Sources, log)...)
	}
	return connectors
}

func connectorsFor(name string, s *appconfig.SourcesConfig, log *logger.Log) []common.Connector {
	switch name {
	case appconfig.SourceYahoo:
		return []common.Connector{yahoo.New(s.Yahoo, log)}
	case appconfig.SourceAlphaVantage:
		return []common.Connector{alphavantage.New(s.AlphaVantage, log)}
	case appconfig.SourceFinnhub:
		out := []common.Connector{finnhub.NewTradeStream(s.Finnhub, log)}
		if s.Finnhub.NewsEnabled {
			out = append(out, finnhub.NewNewsPoller(s.Finnhub, log))
		}
		return out
	case appconfig.SourceQuandl:
		return []common.Connector{quandl.New(s.Quandl, log)}
	case appconfig.SourceFRED:
		return []common.Connector{fred.New(s.FRED, log)}
	case appconfig.SourceTwitter:
		return []common.Connector{twitter.New(s.Twitter, log)}
	case appconfig.SourceBinance:
		return []common.Connector{binance.NewKlineConnector(s.Binance, log)}
	case appconfig.SourceBybit:
		return []common.Connector{bybit.NewQuoteConnector(s.Bybit, log)}
	case appconfig.SourceKucoin:
		return []common.Connector{kucoin.NewContractConnector(s.Kucoin, log)}
	default:
		log.WithComponent("orchestrator").WithField("source", name).Warn("no connector registered for source")
		return nil
	}
}
