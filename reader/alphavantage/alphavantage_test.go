package alphavantage

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	appconfig "marketpipe/config"
	"marketpipe/logger"
	"marketpipe/models"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("apikey") != "demo" {
			t.Errorf("missing api key in %s", r.URL.RawQuery)
		}
		switch q.Get("function") {
		case "TIME_SERIES_INTRADAY":
			if q.Get("symbol") == "LIMIT" {
				_, _ = w.Write([]byte(`{"Note":"Thank you for using Alpha Vantage! Our standard API call frequency is 5 calls per minute."}`))
				return
			}
			_, _ = w.Write([]byte(`{
				"Meta Data":{"2. Symbol":"IBM"},
				"Time Series (1min)":{
					"2024-01-02 15:59:00":{"1. open":"160.10","2. high":"160.30","3. low":"160.00","4. close":"160.25","5. volume":"1534"},
					"2024-01-02 15:58:00":{"1. open":"159.90","2. high":"160.20","3. low":"159.80","4. close":"160.05","5. volume":"987"}
				}}`))
		case "REAL_GDP":
			_, _ = w.Write([]byte(`{"name":"Real GDP","interval":"quarterly","data":[
				{"date":"2023-07-01","value":"22491.567"},
				{"date":"2023-04-01","value":"."}]}`))
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
}

func testConnector(baseURL string) *Connector {
	cfg := appconfig.Default().Sources.AlphaVantage
	cfg.APIKey = "demo"
	cfg.BaseURL = baseURL
	cfg.Indicators = []string{"REAL_GDP"}
	return New(cfg, logger.Discard())
}

func TestFetchIntraday(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()
	c := testConnector(srv.URL)

	points, err := c.fetchIntraday(context.Background(), "IBM")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(points) != 2 {
		t.Fatalf("expected 2 bars, got %d", len(points))
	}
	first := points[0]
	want := time.Date(2024, 1, 2, 15, 58, 0, 0, time.UTC)
	if !first.Timestamp.Equal(want) {
		t.Fatalf("expected oldest bar first at %v, got %v", want, first.Timestamp)
	}
	if first.Price != 160.05 || first.Volume != 987 || first.Category != models.CategoryIntraday || first.Source != "alphavantage" {
		t.Fatalf("unexpected bar %+v", first)
	}
	if first.Metadata["open"] != 159.9 || first.Metadata["interval"] != "1min" {
		t.Fatalf("unexpected metadata %v", first.Metadata)
	}
}

func TestFetchIntradayRateLimitNote(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()
	c := testConnector(srv.URL)

	_, err := c.fetchIntraday(context.Background(), "LIMIT")
	if err == nil || !strings.Contains(err.Error(), "call frequency") {
		t.Fatalf("expected rate limit error, got %v", err)
	}
}

func TestFetchIndicatorSkipsMissing(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()
	c := testConnector(srv.URL)

	points, err := c.fetchIndicator(context.Background(), "REAL_GDP")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(points) != 1 {
		t.Fatalf("expected 1 point, got %d", len(points))
	}
	p := points[0]
	if p.Symbol != "REAL_GDP" || p.Price != 22491.567 || p.Volume != 0 || p.Category != models.CategoryEconomic {
		t.Fatalf("unexpected point %+v", p)
	}
	if p.Metadata["interval"] != "monthly" {
		t.Fatalf("unexpected metadata %v", p.Metadata)
	}
}

type countingIngester struct{ n int }

func (c *countingIngester) Ingest(context.Context, models.DataPoint) bool {
	c.n++
	return true
}

func TestRunRoutesIndicators(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()
	c := testConnector(srv.URL)
	c.cfg.Symbols = []string{"IBM"}
	c.cfg.RateLimitDelay = 0
	c.cfg.CollectionInterval = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	in := &countingIngester{}
	if err := c.Run(ctx, in); err != nil {
		t.Fatalf("run: %v", err)
	}
	if in.n != 3 {
		t.Fatalf("expected 2 bars and 1 indicator point, got %d", in.n)
	}
}
