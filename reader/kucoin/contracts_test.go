package kucoin

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	appconfig "marketpipe/config"
	"marketpipe/logger"
	"marketpipe/models"
	"marketpipe/reader/common"
)

func kucoinServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/XBTUSDTM") {
			t.Errorf("unexpected request %s", r.URL.String())
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("gw-ratelimit-limit", "2000")
		w.Header().Set("gw-ratelimit-remaining", "1999")
		w.Header().Set("gw-ratelimit-reset", "30000")
		_, _ = w.Write([]byte(body))
	}))
}

func TestFetchOpenInterest(t *testing.T) {
	srv := kucoinServer(t, `{"code":"200000","data":{"symbol":"XBTUSDTM","rootSymbol":"USDT","openInterest":"8231056","markPrice":67000.1}}`)
	defer srv.Close()

	cfg := appconfig.Default().Sources.Kucoin
	cfg.BaseURL = srv.URL
	c := NewContractConnector(cfg, logger.Discard())
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return fixed }

	p, err := c.fetch(context.Background(), "xbtusdtm")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if p.Symbol != "XBTUSDTM" || p.Price != 8231056 || p.Volume != 0 {
		t.Fatalf("unexpected point %+v", p)
	}
	if p.Category != models.CategoryFundamental || p.Source != "kucoin" || !p.Timestamp.Equal(fixed) {
		t.Fatalf("unexpected point %+v", p)
	}
	if p.Metadata["metric"] != "open_interest" {
		t.Fatalf("unexpected metadata %v", p.Metadata)
	}
}

func TestFetchAPIErrorCode(t *testing.T) {
	srv := kucoinServer(t, `{"code":"400100","msg":"Contract does not exist"}`)
	defer srv.Close()

	cfg := appconfig.Default().Sources.Kucoin
	cfg.BaseURL = srv.URL
	if _, err := NewContractConnector(cfg, logger.Discard()).fetch(context.Background(), "XBTUSDTM"); err == nil {
		t.Fatal("expected error for non-success code")
	}
}

func TestOpenInterestPointMissingValue(t *testing.T) {
	_, err := openInterestPoint("XBTUSDTM", "", time.Now())
	if !errors.Is(err, common.ErrMissingValue) {
		t.Fatalf("expected ErrMissingValue, got %v", err)
	}
	p, err := openInterestPoint("XBTUSDTM", "12.5", time.Now())
	if err != nil || p.Price != 12.5 {
		t.Fatalf("unexpected result %+v %v", p, err)
	}
}

func TestNameAndInterval(t *testing.T) {
	cfg := appconfig.Default().Sources.Kucoin
	c := NewContractConnector(cfg, logger.Discard())
	if c.Name() != "kucoin" || c.Interval() != time.Minute {
		t.Fatalf("unexpected name %q or interval %s", c.Name(), c.Interval())
	}
}
