package yahoo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	appconfig "marketpipe/config"
	"marketpipe/logger"
	"marketpipe/models"
)

type recorder struct {
	mu     sync.Mutex
	points []models.DataPoint
}

func (r *recorder) Ingest(_ context.Context, p models.DataPoint) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.points = append(r.points, p)
	return true
}

func TestRunEmitsQuotes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v7/finance/quote" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("symbols"); got != "AAPL,MSFT" {
			t.Errorf("unexpected symbols %q", got)
		}
		_, _ = w.Write([]byte(`{"quoteResponse":{"result":[
			{"symbol":"AAPL","regularMarketPrice":189.5,"regularMarketVolume":1200,"regularMarketTime":1700000000,"bid":189.4,"ask":189.6},
			{"symbol":"MSFT","regularMarketVolume":10},
			{"symbol":"SPY","regularMarketPrice":450.1}
		],"error":null}}`))
	}))
	defer srv.Close()

	cfg := appconfig.Default().Sources.Yahoo
	cfg.Symbols = []string{"AAPL", "MSFT"}
	cfg.BaseURL = srv.URL
	cfg.RateLimitDelay = 0

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec := &recorder{}
	c := New(cfg, logger.Discard())
	if err := runOnce(ctx, cancel, c, rec); err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(rec.points) != 2 {
		t.Fatalf("expected 2 points, got %d", len(rec.points))
	}
	p := rec.points[0]
	if p.Symbol != "AAPL" || p.Price != 189.5 || p.Volume != 1200 || p.Source != "yfinance" || p.Category != models.CategoryPrice {
		t.Fatalf("unexpected point %+v", p)
	}
	if !p.Timestamp.Equal(time.Unix(1700000000, 0)) {
		t.Fatalf("unexpected timestamp %v", p.Timestamp)
	}
	if p.Bid == nil || *p.Bid != 189.4 || p.Ask == nil || *p.Ask != 189.6 {
		t.Fatalf("expected bid/ask, got %+v", p)
	}
	if rec.points[1].Timestamp.IsZero() || rec.points[1].Bid != nil {
		t.Fatalf("expected now timestamp and no bid for SPY, got %+v", rec.points[1])
	}
}

// runOnce runs the connector for a single collection round.
func runOnce(ctx context.Context, cancel context.CancelFunc, c *Connector, rec *recorder) error {
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, rec) }()
	deadline := time.After(2 * time.Second)
	for {
		rec.mu.Lock()
		n := len(rec.points)
		rec.mu.Unlock()
		if n >= 2 {
			cancel()
			return <-done
		}
		select {
		case err := <-done:
			return err
		case <-deadline:
			cancel()
			return <-done
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestNameAndInterval(t *testing.T) {
	c := New(appconfig.Default().Sources.Yahoo, logger.Discard())
	if c.Name() != appconfig.SourceYahoo || c.Interval() != time.Minute {
		t.Fatalf("unexpected name/interval %s %v", c.Name(), c.Interval())
	}
}
