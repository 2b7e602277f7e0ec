package quandl

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	appconfig "marketpipe/config"
	"marketpipe/logger"
	"marketpipe/models"
)

func TestFetchDataset(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/datasets/WIKI/AAPL/data.json" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("api_key") != "key" {
			t.Errorf("missing api key")
		}
		_, _ = w.Write([]byte(`{"dataset_data":{
			"column_names":["Date","Open","High"],
			"data":[["2018-03-27",173.68,175.15],["2018-03-26"],["2018-03-23",null,169.92]]}}`))
	}))
	defer srv.Close()

	cfg := appconfig.Default().Sources.Quandl
	cfg.APIKey = "key"
	cfg.BaseURL = srv.URL
	c := New(cfg, logger.Discard())

	points, err := c.fetch(context.Background(), "WIKI/AAPL")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(points) != 2 {
		t.Fatalf("expected short row to be skipped, got %d points", len(points))
	}
	p := points[0]
	if p.Symbol != "WIKI/AAPL" || p.Price != 173.68 || p.Category != models.CategoryEconomic || p.Source != "quandl" {
		t.Fatalf("unexpected point %+v", p)
	}
	if !p.Timestamp.Equal(time.Date(2018, 3, 27, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected timestamp %v", p.Timestamp)
	}
	if cols, ok := p.Metadata["columns"].([]string); !ok || len(cols) != 3 {
		t.Fatalf("unexpected columns %v", p.Metadata["columns"])
	}
	if points[1].Price != 0 {
		t.Fatalf("expected null value to map to 0, got %v", points[1].Price)
	}
}

func TestFetchDatasetHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer srv.Close()

	cfg := appconfig.Default().Sources.Quandl
	cfg.BaseURL = srv.URL
	if _, err := New(cfg, logger.Discard()).fetch(context.Background(), "WIKI/NOPE"); err == nil {
		t.Fatal("expected error on 404")
	}
}
