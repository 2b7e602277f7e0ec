package twitter

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	appconfig "marketpipe/config"
	"marketpipe/logger"
	"marketpipe/models"
	"marketpipe/reader/common"
)

const Source = "twitter"

type publicMetrics struct {
	RetweetCount int64 `json:"retweet_count"`
	ReplyCount   int64 `json:"reply_count"`
	LikeCount    int64 `json:"like_count"`
	QuoteCount   int64 `json:"quote_count"`
}

type searchResponse struct {
	Data []struct {
		ID            string        `json:"id"`
		Text          string        `json:"text"`
		CreatedAt     time.Time     `json:"created_at"`
		PublicMetrics publicMetrics `json:"public_metrics"`
	} `json:"data"`
}

// Connector scores recent tweets mentioning each cashtag.
type Connector struct {
	cfg    appconfig.TwitterConfig
	client *http.Client
	log    *logger.Entry
}

func New(cfg appconfig.TwitterConfig, log *logger.Log) *Connector {
	return &Connector{
		cfg:    cfg,
		client: common.NewHTTPClient(cfg.Timeout),
		log:    log.WithComponent("twitter_reader"),
	}
}

func (c *Connector) Name() string { return appconfig.SourceTwitter }

func (c *Connector) Interval() time.Duration { return c.cfg.CollectionInterval }

func (c *Connector) Run(ctx context.Context, in common.Ingester) error {
	c.log.WithField("symbols", c.cfg.Symbols).Info("twitter reader started")
	defer c.log.Info("twitter reader stopped")

	return common.Poll(ctx, common.PollConfig{
		Targets:        c.cfg.Symbols,
		Interval:       c.cfg.CollectionInterval,
		RateLimitDelay: c.cfg.RateLimitDelay,
	}, c.log, func(ctx context.Context, symbol string) error {
		points, err := c.fetch(ctx, symbol)
		if err != nil {
			return err
		}
		n := common.Emit(ctx, in, Source, points)
		logger.LogDataFlowEntry(c.log, "twitter_api", "pipeline", n, "social_sentiment")
		return nil
	})
}

func (c *Connector) fetch(ctx context.Context, symbol string) ([]models.DataPoint, error) {
	maxResults := c.cfg.MaxResults
	if maxResults <= 0 || maxResults > 100 {
		maxResults = 100
	}
	q := url.Values{}
	q.Set("query", "$"+symbol+" -is:retweet lang:en")
	q.Set("max_results", strconv.Itoa(maxResults))
	q.Set("tweet.fields", "created_at,public_metrics")
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/tweets/search/recent?" + q.Encode()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.cfg.BearerToken)

	start := time.Now()
	var resp searchResponse
	if err := common.GetJSON(ctx, c.client, endpoint, header, &resp); err != nil {
		return nil, err
	}
	logger.LogPerformanceEntry(c.log, "twitter_reader", "api_request", time.Since(start), logger.Fields{"symbol": symbol})

	points := make([]models.DataPoint, 0, len(resp.Data))
	for _, tw := range resp.Data {
		score := common.SocialLexicon.Score(tw.Text)
		points = append(points, models.DataPoint{
			Symbol:    symbol,
			Timestamp: tw.CreatedAt.UTC(),
			Price:     score,
			Volume:    tw.PublicMetrics.RetweetCount,
			Source:    Source,
			Category:  models.CategorySentiment,
			Metadata: map[string]interface{}{
				"tweet_id": tw.ID,
				"text":     tw.Text,
				"metrics": map[string]int64{
					"retweet_count": tw.PublicMetrics.RetweetCount,
					"reply_count":   tw.PublicMetrics.ReplyCount,
					"like_count":    tw.PublicMetrics.LikeCount,
					"quote_count":   tw.PublicMetrics.QuoteCount,
				},
				"sentiment_score": score,
			},
		})
	}
	return points, nil
}
