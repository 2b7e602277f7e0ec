package fred

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	appconfig "marketpipe/config"
	"marketpipe/logger"
)

func TestFetchSkipsMissingObservations(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if r.URL.Path != "/series/observations" || q.Get("series_id") != "UNRATE" || q.Get("file_type") != "json" {
			t.Errorf("unexpected request %s", r.URL.String())
		}
		_, _ = w.Write([]byte(`{"observations":[
			{"realtime_start":"2024-03-01","realtime_end":"2024-03-01","date":"2024-01-01","value":"3.7"},
			{"realtime_start":"2024-03-01","realtime_end":"2024-03-01","date":"2024-02-01","value":"."}]}`))
	}))
	defer srv.Close()

	cfg := appconfig.Default().Sources.FRED
	cfg.APIKey = "key"
	cfg.BaseURL = srv.URL
	points, err := New(cfg, logger.Discard()).fetch(context.Background(), "UNRATE")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(points) != 1 {
		t.Fatalf("expected 1 point, got %d", len(points))
	}
	p := points[0]
	if p.Symbol != "UNRATE" || p.Price != 3.7 || p.Source != "fred" || p.Metadata["realtime_start"] != "2024-03-01" {
		t.Fatalf("unexpected point %+v", p)
	}
}

func TestFetchBadValue(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"observations":[{"date":"2024-01-01","value":"n/a"}]}`))
	}))
	defer srv.Close()

	cfg := appconfig.Default().Sources.FRED
	cfg.BaseURL = srv.URL
	if _, err := New(cfg, logger.Discard()).fetch(context.Background(), "GDP"); err == nil {
		t.Fatal("expected parse error")
	}
}
