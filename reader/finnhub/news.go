package finnhub

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

// NewsName is the connector name of the company-news poller.
const NewsName = appconfig.SourceFinnhub + "_news"

type article struct {
	Datetime int64  `json:"datetime"`
	Headline string `json:"headline"`
	Summary  string `json:"summary"`
	URL      string `json:"url"`
	Source   string `json:"source"`
}

// NewsPoller scores company news headlines for each symbol.
type NewsPoller struct {
	cfg    appconfig.FinnhubConfig
	client *http.Client
	log    *logger.Entry
	now    func() time.Time
}

func NewNewsPoller(cfg appconfig.FinnhubConfig, log *logger.Log) *NewsPoller {
	return &NewsPoller{
		cfg:    cfg,
		client: common.NewHTTPClient(cfg.Timeout),
		log:    log.WithComponent("finnhub_news_reader"),
		now:    time.Now,
	}
}

func (n *NewsPoller) Name() string { return NewsName }

func (n *NewsPoller) Interval() time.Duration { return n.cfg.NewsInterval }

func (n *NewsPoller) Run(ctx context.Context, in common.Ingester) error {
	n.log.WithField("symbols", n.cfg.Symbols).Info("finnhub news reader started")
	defer n.log.Info("finnhub news reader stopped")

	return common.Poll(ctx, common.PollConfig{
		Targets:        n.cfg.Symbols,
		Interval:       n.cfg.NewsInterval,
		RateLimitDelay: n.cfg.RateLimitDelay,
	}, n.log, func(ctx context.Context, symbol string) error {
		points, err := n.fetch(ctx, symbol)
		if err != nil {
			return err
		}
		count := common.Emit(ctx, in, Source, points)
		logger.LogDataFlowEntry(n.log, "finnhub_api", "pipeline", count, "news_sentiment")
		return nil
	})
}

func (n *NewsPoller) fetch(ctx context.Context, symbol string) ([]models.DataPoint, error) {
	to := n.now().UTC()
	lookback := n.cfg.NewsLookback
	if lookback <= 0 {
		lookback = 24 * time.Hour
	}
	from := to.Add(-lookback)

	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("from", from.Format("2006-01-02"))
	q.Set("to", to.Format("2006-01-02"))
	q.Set("token", n.cfg.APIKey)
	endpoint := strings.TrimRight(n.cfg.BaseURL, "/") + "/company-news?" + q.Encode()

	start := time.Now()
	var articles []article
	if err := common.GetJSON(ctx, n.client, endpoint, nil, &articles); err != nil {
		return nil, err
	}
	logger.LogPerformanceEntry(n.log, "finnhub_news_reader", "api_request", time.Since(start), logger.Fields{"symbol": symbol})

	points := make([]models.DataPoint, 0, len(articles))
	for _, a := range articles {
		score := common.NewsLexicon.Score(a.Headline + " " + a.Summary)
		points = append(points, models.DataPoint{
			Symbol:    symbol,
			Timestamp: time.Unix(a.Datetime, 0).UTC(),
			Price:     score,
			Source:    Source,
			Category:  models.CategorySentiment,
			Metadata: map[string]interface{}{
				"headline":        a.Headline,
				"summary":         a.Summary,
				"url":             a.URL,
				"sentiment_score": score,
			},
		})
	}
	return points, nil
}
