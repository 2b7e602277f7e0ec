package processor

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	appconfig "marketpipe/config"
	"marketpipe/logger"
	"marketpipe/models"
)

// priceHistory is a fixed-capacity ring of the most recent accepted prices.
type priceHistory struct {
	prices []float64
	next   int
	full   bool
}

func newPriceHistory(capacity int) *priceHistory {
	return &priceHistory{prices: make([]float64, capacity)}
}

func (h *priceHistory) len() int {
	if h.full {
		return len(h.prices)
	}
	return h.next
}

func (h *priceHistory) push(price float64) {
	h.prices[h.next] = price
	h.next++
	if h.next == len(h.prices) {
		h.next = 0
		h.full = true
	}
}

// meanOfLast returns the mean of the last n prices, oldest entries excluded.
func (h *priceHistory) meanOfLast(n int) float64 {
	size := h.len()
	if n > size {
		n = size
	}
	if n == 0 {
		return 0
	}
	sum := 0.0
	idx := h.next
	for i := 0; i < n; i++ {
		idx--
		if idx < 0 {
			idx = len(h.prices) - 1
		}
		sum += h.prices[idx]
	}
	return sum / float64(n)
}

// QualityValidator accepts or rejects points and flags per-symbol price
// anomalies. Anomalies are logged, not rejected.
type QualityValidator struct {
	cfg appconfig.ValidatorConfig
	log *logger.Log

	mu      sync.Mutex
	history map[string]*priceHistory

	anomalies int64
}

func NewQualityValidator(cfg appconfig.ValidatorConfig, log *logger.Log) *QualityValidator {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 100
	}
	if cfg.Window <= 0 {
		cfg.Window = 10
	}
	if cfg.AnomalyThreshold <= 0 {
		cfg.AnomalyThreshold = 0.5
	}
	if log == nil {
		log = logger.GetLogger()
	}
	return &QualityValidator{
		cfg:     cfg,
		log:     log,
		history: make(map[string]*priceHistory),
	}
}

// Validate reports whether p may enter the pipeline and, when it may,
// appends its price to the symbol history. Internal failures count as a
// rejection.
func (v *QualityValidator) Validate(p models.DataPoint) bool {
	if !v.Check(p) {
		return false
	}
	v.Record(p)
	return true
}

// Check applies the hard rules and the anomaly flag without touching the
// symbol history. Callers that may still drop the point call Record only
// once it is kept.
func (v *QualityValidator) Check(p models.DataPoint) (accepted bool) {
	defer func() {
		if r := recover(); r != nil {
			v.log.WithComponent("validator").WithFields(logger.Fields{
				"symbol": p.Symbol,
				"panic":  fmt.Sprint(r),
			}).Error("validation failed")
			accepted = false
		}
	}()

	if math.IsNaN(p.Price) || math.IsInf(p.Price, 0) || p.Price <= 0 {
		return false
	}
	if p.Volume < 0 {
		return false
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	h, ok := v.history[p.Symbol]
	if !ok || h.len() <= v.cfg.Warmup {
		return true
	}
	mean := h.meanOfLast(v.cfg.Window)
	if mean > 0 {
		deviation := math.Abs(p.Price-mean) / mean
		if deviation > v.cfg.AnomalyThreshold {
			atomic.AddInt64(&v.anomalies, 1)
			v.log.WithComponent("validator").WithPoint(p).WithFields(logger.Fields{
				"price":     p.Price,
				"mean":      mean,
				"deviation": deviation,
			}).Warn("price anomaly detected")
		}
	}
	return true
}

// Record appends the price of an accepted point to its symbol history,
// evicting the oldest entry at capacity.
func (v *QualityValidator) Record(p models.DataPoint) {
	v.mu.Lock()
	defer v.mu.Unlock()

	h, ok := v.history[p.Symbol]
	if !ok {
		h = newPriceHistory(v.cfg.HistorySize)
		v.history[p.Symbol] = h
	}
	h.push(p.Price)
}

// Anomalies returns the number of anomaly flags raised so far.
func (v *QualityValidator) Anomalies() int64 {
	return atomic.LoadInt64(&v.anomalies)
}

// HistoryLen returns how many prices are retained for symbol.
func (v *QualityValidator) HistoryLen(symbol string) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	if h, ok := v.history[symbol]; ok {
		return h.len()
	}
	return 0
}
