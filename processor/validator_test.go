package processor

import (
	"math"
	"testing"
	"time"

	appconfig "marketpipe/config"
	"marketpipe/logger"
	"marketpipe/models"
)

func newTestValidator() *QualityValidator {
	return NewQualityValidator(appconfig.Default().Pipeline.Validator, logger.Discard())
}

func point(symbol string, price float64, volume int64) models.DataPoint {
	return models.DataPoint{
		Symbol:    symbol,
		Timestamp: time.Now(),
		Price:     price,
		Volume:    volume,
		Source:    "test",
		Category:  models.CategoryPrice,
	}
}

func TestValidateRejectsOutOfDomain(t *testing.T) {
	v := newTestValidator()
	cases := []struct {
		name string
		p    models.DataPoint
	}{
		{"zero price", point("AAPL", 0, 10)},
		{"negative price", point("AAPL", -1, 10)},
		{"negative volume", point("AAPL", 150, -1)},
		{"nan price", point("AAPL", math.NaN(), 10)},
		{"inf price", point("AAPL", math.Inf(1), 10)},
	}
	for _, c := range cases {
		if v.Validate(c.p) {
			t.Errorf("%s: expected rejection", c.name)
		}
	}
	if got := v.HistoryLen("AAPL"); got != 0 {
		t.Fatalf("rejected points must not enter history, got %d", got)
	}
}

func TestValidateAcceptsZeroVolume(t *testing.T) {
	v := newTestValidator()
	if !v.Validate(point("GDP", 27000, 0)) {
		t.Fatal("zero volume should be accepted")
	}
}

func TestAnomalyIsFlaggedButAccepted(t *testing.T) {
	v := newTestValidator()
	for i := 0; i < 11; i++ {
		if !v.Validate(point("AAPL", 100+float64(i%3), 10)) {
			t.Fatalf("stable price %d rejected", i)
		}
	}
	if v.Anomalies() != 0 {
		t.Fatalf("unexpected anomalies during warm-up: %d", v.Anomalies())
	}
	if !v.Validate(point("AAPL", 202, 10)) {
		t.Fatal("anomalous price must still be accepted")
	}
	if v.Anomalies() != 1 {
		t.Fatalf("expected 1 anomaly, got %d", v.Anomalies())
	}
}

func TestNoAnomalyBeforeWarmup(t *testing.T) {
	v := newTestValidator()
	for i := 0; i < 10; i++ {
		v.Validate(point("MSFT", 100, 1))
	}
	// exactly warm-up entries held, so the check does not run yet
	v.Validate(point("MSFT", 1000, 1))
	if v.Anomalies() != 0 {
		t.Fatalf("expected no anomaly at warm-up boundary, got %d", v.Anomalies())
	}
}

func TestHistoryIsPerSymbolAndBounded(t *testing.T) {
	cfg := appconfig.Default().Pipeline.Validator
	cfg.HistorySize = 5
	v := NewQualityValidator(cfg, logger.Discard())
	for i := 0; i < 12; i++ {
		v.Validate(point("AAPL", 10, 1))
	}
	v.Validate(point("SPY", 400, 1))
	if got := v.HistoryLen("AAPL"); got != 5 {
		t.Fatalf("expected history capped at 5, got %d", got)
	}
	if got := v.HistoryLen("SPY"); got != 1 {
		t.Fatalf("expected separate SPY history, got %d", got)
	}
}

func TestMeanOfLastWrapsRing(t *testing.T) {
	h := newPriceHistory(3)
	for _, p := range []float64{1, 2, 3, 4, 5} {
		h.push(p)
	}
	if got := h.meanOfLast(2); got != 4.5 {
		t.Fatalf("expected 4.5, got %v", got)
	}
	if got := h.meanOfLast(10); got != 4 {
		t.Fatalf("expected mean of retained prices 4, got %v", got)
	}
}

func TestCheckLeavesHistoryUntouched(t *testing.T) {
	v := NewQualityValidator(appconfig.ValidatorConfig{HistorySize: 10, Warmup: 0, Window: 5, AnomalyThreshold: 0.5}, logger.Discard())
	p := point("AAPL", 100, 1)
	if !v.Check(p) {
		t.Fatal("expected valid point to pass")
	}
	if got := v.HistoryLen("AAPL"); got != 0 {
		t.Fatalf("Check must not record, got %d", got)
	}
	v.Record(p)
	if got := v.HistoryLen("AAPL"); got != 1 {
		t.Fatalf("expected 1 entry after Record, got %d", got)
	}
}
