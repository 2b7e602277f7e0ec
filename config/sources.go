package config

import (
	"fmt"
	"sort"
	"time"
)

// Source names used as registry keys and as the YAML keys under "sources".
const (
	SourceYahoo        = "yahoo"
	SourceAlphaVantage = "alpha_vantage"
	SourceFinnhub      = "finnhub"
	SourceQuandl       = "quandl"
	SourceFRED         = "fred"
	SourceTwitter      = "twitter"
	SourceBinance      = "binance"
	SourceBybit        = "bybit"
	SourceKucoin       = "kucoin"
)

// SourceSettings is the view of a typed source config shared by the
// orchestrator and validation.
type SourceSettings interface {
	IsEnabled() bool
	Credential() string
	RequiresCredential() bool
	Targets() []string
	Settings() SourceCommon
}

// SourceCommon holds the settings every connector understands.
type SourceCommon struct {
	Enabled            bool          `yaml:"enabled"`
	Symbols            []string      `yaml:"symbols"`
	CollectionInterval time.Duration `yaml:"collection_interval" validate:"gte=0"`
	RateLimitDelay     time.Duration `yaml:"rate_limit_delay" validate:"gte=0"`
	BaseURL            string        `yaml:"base_url"`
	Timeout            time.Duration `yaml:"timeout" validate:"gte=0"`
}

func (c SourceCommon) IsEnabled() bool          { return c.Enabled }
func (c SourceCommon) Credential() string       { return "" }
func (c SourceCommon) RequiresCredential() bool { return false }
func (c SourceCommon) Targets() []string        { return c.Symbols }
func (c SourceCommon) Settings() SourceCommon   { return c }

type YahooConfig struct {
	SourceCommon `yaml:",inline"`
}

type AlphaVantageConfig struct {
	SourceCommon      `yaml:",inline"`
	APIKey            string   `yaml:"api_key"`
	Interval          string   `yaml:"interval" validate:"oneof=1min 5min 15min 30min 60min"`
	Indicators        []string `yaml:"indicators"`
	IndicatorInterval string   `yaml:"indicator_interval"`
}

func (c AlphaVantageConfig) Credential() string       { return c.APIKey }
func (c AlphaVantageConfig) RequiresCredential() bool { return true }
func (c AlphaVantageConfig) Targets() []string {
	return append(append([]string{}, c.Symbols...), c.Indicators...)
}

type FinnhubConfig struct {
	SourceCommon `yaml:",inline"`
	APIKey       string        `yaml:"api_key"`
	WSURL        string        `yaml:"ws_url"`
	NewsEnabled  bool          `yaml:"news_enabled"`
	NewsInterval time.Duration `yaml:"news_interval" validate:"gte=0"`
	NewsLookback time.Duration `yaml:"news_lookback" validate:"gte=0"`
	ReconnectMin time.Duration `yaml:"reconnect_min" validate:"gte=0"`
	ReconnectMax time.Duration `yaml:"reconnect_max" validate:"gte=0"`
	KeepAlive    time.Duration `yaml:"keep_alive" validate:"gte=0"`
}

func (c FinnhubConfig) Credential() string       { return c.APIKey }
func (c FinnhubConfig) RequiresCredential() bool { return true }

type QuandlConfig struct {
	SourceCommon `yaml:",inline"`
	APIKey       string   `yaml:"api_key"`
	Datasets     []string `yaml:"datasets"`
}

func (c QuandlConfig) Credential() string       { return c.APIKey }
func (c QuandlConfig) RequiresCredential() bool { return true }
func (c QuandlConfig) Targets() []string        { return c.Datasets }

type FREDConfig struct {
	SourceCommon `yaml:",inline"`
	APIKey       string   `yaml:"api_key"`
	Series       []string `yaml:"series"`
}

func (c FREDConfig) Credential() string       { return c.APIKey }
func (c FREDConfig) RequiresCredential() bool { return true }
func (c FREDConfig) Targets() []string        { return c.Series }

type TwitterConfig struct {
	SourceCommon `yaml:",inline"`
	BearerToken  string `yaml:"bearer_token"`
	MaxResults   int    `yaml:"max_results" validate:"gte=10,lte=100"`
}

func (c TwitterConfig) Credential() string       { return c.BearerToken }
func (c TwitterConfig) RequiresCredential() bool { return true }

type BinanceConfig struct {
	SourceCommon  `yaml:",inline"`
	KlineInterval string `yaml:"kline_interval"`
}

type BybitConfig struct {
	SourceCommon `yaml:",inline"`
	Category     string `yaml:"category" validate:"oneof=spot linear inverse"`
	Depth        int    `yaml:"depth" validate:"gt=0"`
}

// KucoinConfig polls futures contract details; symbols are contract codes
// such as XBTUSDTM.
type KucoinConfig struct {
	SourceCommon    `yaml:",inline"`
	MaxIdleConns    int           `yaml:"max_idle_conns" validate:"gte=0"`
	IdleConnTimeout time.Duration `yaml:"idle_conn_timeout" validate:"gte=0"`
}

type SourcesConfig struct {
	Yahoo        YahooConfig        `yaml:"yahoo"`
	AlphaVantage AlphaVantageConfig `yaml:"alpha_vantage"`
	Finnhub      FinnhubConfig      `yaml:"finnhub"`
	Quandl       QuandlConfig       `yaml:"quandl"`
	FRED         FREDConfig         `yaml:"fred"`
	Twitter      TwitterConfig      `yaml:"twitter"`
	Binance      BinanceConfig      `yaml:"binance"`
	Bybit        BybitConfig        `yaml:"bybit"`
	Kucoin       KucoinConfig       `yaml:"kucoin"`
}

// Registry maps each source name to its typed configuration.
func (s *SourcesConfig) Registry() map[string]SourceSettings {
	return map[string]SourceSettings{
		SourceYahoo:        s.Yahoo,
		SourceAlphaVantage: s.AlphaVantage,
		SourceFinnhub:      s.Finnhub,
		SourceQuandl:       s.Quandl,
		SourceFRED:         s.FRED,
		SourceTwitter:      s.Twitter,
		SourceBinance:      s.Binance,
		SourceBybit:        s.Bybit,
		SourceKucoin:       s.Kucoin,
	}
}

// Enabled returns the names of enabled sources in sorted order.
func (s *SourcesConfig) Enabled() []string {
	var names []string
	for name, src := range s.Registry() {
		if src.IsEnabled() {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// CredentialWarnings lists enabled sources whose credentials are empty. Such
// sources stay enabled and fail on their first request.
func (c *Config) CredentialWarnings() []string {
	var warnings []string
	for _, name := range c.Sources.Enabled() {
		src := c.Sources.Registry()[name]
		if src.RequiresCredential() && src.Credential() == "" {
			warnings = append(warnings, fmt.Sprintf("sources.%s is enabled without credentials; requests will fail", name))
		}
	}
	return warnings
}

func validateSource(name string, src SourceSettings) error {
	if !src.IsEnabled() {
		return nil
	}
	if len(src.Targets()) == 0 {
		return fmt.Errorf("sources.%s requires at least one symbol, dataset or series when enabled", name)
	}
	common := src.Settings()
	if name != SourceFinnhub && common.CollectionInterval <= 0 {
		return fmt.Errorf("sources.%s.collection_interval must be greater than 0", name)
	}
	if common.BaseURL == "" {
		return fmt.Errorf("sources.%s.base_url is required", name)
	}
	return nil
}

func applySourceEnvOverrides(s *SourcesConfig) {
	if v, ok := lookupEnv("ALPHA_VANTAGE_API_KEY"); ok {
		s.AlphaVantage.APIKey = v
	}
	if v, ok := lookupEnv("FINNHUB_API_KEY"); ok {
		s.Finnhub.APIKey = v
	}
	if v, ok := lookupEnv("QUANDL_API_KEY"); ok {
		s.Quandl.APIKey = v
	}
	if v, ok := lookupEnv("FRED_API_KEY"); ok {
		s.FRED.APIKey = v
	}
	if v, ok := lookupEnv("TWITTER_BEARER_TOKEN"); ok {
		s.Twitter.BearerToken = v
	}
}

func defaultSources() SourcesConfig {
	equities := []string{"AAPL", "GOOGL", "MSFT", "SPY"}
	return SourcesConfig{
		Yahoo: YahooConfig{SourceCommon{
			Symbols:            equities,
			CollectionInterval: time.Minute,
			RateLimitDelay:     500 * time.Millisecond,
			BaseURL:            "https://query1.finance.yahoo.com",
			Timeout:            10 * time.Second,
		}},
		AlphaVantage: AlphaVantageConfig{
			SourceCommon: SourceCommon{
				Symbols:            []string{"AAPL", "GOOGL", "MSFT", "TSLA"},
				CollectionInterval: 5 * time.Minute,
				RateLimitDelay:     12 * time.Second,
				BaseURL:            "https://www.alphavantage.co/query",
				Timeout:            30 * time.Second,
			},
			Interval:          "1min",
			IndicatorInterval: "monthly",
		},
		Finnhub: FinnhubConfig{
			SourceCommon: SourceCommon{
				Symbols:            []string{"AAPL", "GOOGL", "MSFT", "TSLA"},
				CollectionInterval: time.Hour,
				RateLimitDelay:     time.Second,
				BaseURL:            "https://finnhub.io/api/v1",
				Timeout:            10 * time.Second,
			},
			WSURL:        "wss://ws.finnhub.io",
			NewsInterval: time.Hour,
			NewsLookback: 24 * time.Hour,
			ReconnectMin: time.Second,
			ReconnectMax: time.Minute,
			KeepAlive:    20 * time.Second,
		},
		Quandl: QuandlConfig{
			SourceCommon: SourceCommon{
				CollectionInterval: time.Hour,
				RateLimitDelay:     time.Second,
				BaseURL:            "https://www.quandl.com/api/v3",
				Timeout:            30 * time.Second,
			},
			Datasets: []string{"WIKI/AAPL", "WIKI/GOOGL"},
		},
		FRED: FREDConfig{
			SourceCommon: SourceCommon{
				CollectionInterval: time.Hour,
				RateLimitDelay:     time.Second,
				BaseURL:            "https://api.stlouisfed.org/fred",
				Timeout:            30 * time.Second,
			},
			Series: []string{"GDP", "UNRATE", "FEDFUNDS", "CPIAUCSL"},
		},
		Twitter: TwitterConfig{
			SourceCommon: SourceCommon{
				Symbols:            []string{"AAPL", "GOOGL", "MSFT", "TSLA"},
				CollectionInterval: 5 * time.Minute,
				RateLimitDelay:     time.Second,
				BaseURL:            "https://api.twitter.com/2",
				Timeout:            10 * time.Second,
			},
			MaxResults: 100,
		},
		Binance: BinanceConfig{
			SourceCommon: SourceCommon{
				Symbols:            []string{"BTCUSDT", "ETHUSDT"},
				CollectionInterval: time.Minute,
				RateLimitDelay:     200 * time.Millisecond,
				BaseURL:            "https://api.binance.com",
				Timeout:            10 * time.Second,
			},
			KlineInterval: "1m",
		},
		Bybit: BybitConfig{
			SourceCommon: SourceCommon{
				Symbols:            []string{"BTCUSDT", "ETHUSDT"},
				CollectionInterval: 30 * time.Second,
				RateLimitDelay:     200 * time.Millisecond,
				BaseURL:            "https://api.bybit.com",
				Timeout:            10 * time.Second,
			},
			Category: "spot",
			Depth:    1,
		},
		Kucoin: KucoinConfig{
			SourceCommon: SourceCommon{
				Symbols:            []string{"XBTUSDTM", "ETHUSDTM"},
				CollectionInterval: time.Minute,
				RateLimitDelay:     200 * time.Millisecond,
				BaseURL:            "https://api-futures.kucoin.com",
				Timeout:            10 * time.Second,
			},
			MaxIdleConns:    10,
			IdleConnTimeout: 90 * time.Second,
		},
	}
}
