package bybit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	appconfig "marketpipe/config"
	"marketpipe/logger"
	"marketpipe/models"
)

func TestFetchTopOfBook(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if r.URL.Path != "/v5/market/orderbook" || q.Get("symbol") != "BTCUSDT" || q.Get("category") != "spot" {
			t.Errorf("unexpected request %s", r.URL.String())
		}
		_, _ = w.Write([]byte(`{"retCode":0,"retMsg":"OK","result":{
			"s":"BTCUSDT","b":[["65000.0","0.75"]],"a":[["65001.0","1.5"]],"ts":1716863719031,"u":230704},
			"retExtInfo":{},"time":1716863719382}`))
	}))
	defer srv.Close()

	cfg := appconfig.Default().Sources.Bybit
	cfg.BaseURL = srv.URL
	p, err := NewQuoteConnector(cfg, logger.Discard()).fetch(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if p.Price != 65000.5 || p.Volume != 2 || p.Category != models.CategoryQuote || p.Source != "bybit" {
		t.Fatalf("unexpected point %+v", p)
	}
	if p.Bid == nil || *p.Bid != 65000 || p.Ask == nil || *p.Ask != 65001 {
		t.Fatalf("unexpected bid/ask %+v", p)
	}
	if !p.Timestamp.Equal(time.UnixMilli(1716863719031)) {
		t.Fatalf("unexpected timestamp %v", p.Timestamp)
	}
}

func TestFetchAPIErrorCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"retCode":10001,"retMsg":"params error: symbol invalid","result":{},"retExtInfo":{},"time":1}`))
	}))
	defer srv.Close()

	cfg := appconfig.Default().Sources.Bybit
	cfg.BaseURL = srv.URL
	if _, err := NewQuoteConnector(cfg, logger.Discard()).fetch(context.Background(), "NOPE"); err == nil {
		t.Fatal("expected error for non-zero retCode")
	}
}

func TestQuotePointEmptyBook(t *testing.T) {
	_, err := quotePoint("BTCUSDT", orderBook{Bids: [][]string{{"1", "1"}}}, 1)
	if !errors.Is(err, errEmptyBook) {
		t.Fatalf("expected errEmptyBook, got %v", err)
	}
	if _, err := quotePoint("BTCUSDT", orderBook{Bids: [][]string{{"1"}}, Asks: [][]string{{"2", "1"}}}, 1); err == nil {
		t.Fatal("expected malformed level error")
	}
}
