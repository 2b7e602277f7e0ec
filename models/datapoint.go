package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

/////////////////////////////////////////////////////////////////////////////
/////////////////////////////////// POINTS //////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// Category tells downstream consumers how to read Price and Volume.
type Category string

const (
	CategoryPrice       Category = "price"
	CategoryTrade       Category = "trade"
	CategoryQuote       Category = "quote"
	CategoryFundamental Category = "fundamental"
	CategorySentiment   Category = "sentiment"
	CategoryEconomic    Category = "economic"
	CategoryIntraday    Category = "intraday"
)

var categories = map[Category]struct{}{
	CategoryPrice:       {},
	CategoryTrade:       {},
	CategoryQuote:       {},
	CategoryFundamental: {},
	CategorySentiment:   {},
	CategoryEconomic:    {},
	CategoryIntraday:    {},
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	_, ok := categories[c]
	return ok
}

// ParseCategory maps a textual category onto a Category.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("unknown category %q", s)
	}
	return c, nil
}

// TopicPrefix is prepended to the lower-cased symbol to form a streaming topic.
const TopicPrefix = "market_data_"

// DataPoint is one timestamped observation from a single source. It is passed
// by value and never modified after construction.
type DataPoint struct {
	Symbol    string                 `json:"symbol"`
	Timestamp time.Time              `json:"timestamp"`
	Price     float64                `json:"price"`
	Volume    int64                  `json:"volume"`
	Bid       *float64               `json:"bid,omitempty"`
	Ask       *float64               `json:"ask,omitempty"`
	Source    string                 `json:"source"`
	Category  Category               `json:"data_type"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// WithTimestamp returns a copy of p stamped with ts.
func (p DataPoint) WithTimestamp(ts time.Time) DataPoint {
	p.Timestamp = ts
	return p
}

// HasTimestamp reports whether the point carries an observation time.
func (p DataPoint) HasTimestamp() bool {
	return !p.Timestamp.IsZero()
}

// Topic returns the streaming topic for the point's symbol.
func (p DataPoint) Topic() string {
	return TopicFor(p.Symbol)
}

// TopicFor derives the streaming topic name for a symbol. Characters outside
// the Kafka topic alphabet are replaced so symbols like "WIKI/AAPL" or "^VIX"
// still map to a legal name.
func TopicFor(symbol string) string {
	s := strings.ToLower(strings.TrimSpace(symbol))
	var b strings.Builder
	b.Grow(len(TopicPrefix) + len(s))
	b.WriteString(TopicPrefix)
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// flatPoint is the wire shape published to the streaming transport.
type flatPoint struct {
	Symbol    string                 `json:"symbol"`
	Timestamp string                 `json:"timestamp"`
	Price     float64                `json:"price"`
	Volume    int64                  `json:"volume"`
	Bid       *float64               `json:"bid"`
	Ask       *float64               `json:"ask"`
	Source    string                 `json:"source"`
	DataType  string                 `json:"data_type"`
	Metadata  map[string]interface{} `json:"metadata"`
}

// MarshalRecord serializes the point as a flat record with an RFC 3339
// timestamp.
func (p DataPoint) MarshalRecord() ([]byte, error) {
	return json.Marshal(flatPoint{
		Symbol:    p.Symbol,
		Timestamp: p.Timestamp.UTC().Format(time.RFC3339Nano),
		Price:     p.Price,
		Volume:    p.Volume,
		Bid:       p.Bid,
		Ask:       p.Ask,
		Source:    p.Source,
		DataType:  string(p.Category),
		Metadata:  p.Metadata,
	})
}

// Float returns a pointer to v, for optional bid/ask fields.
func Float(v float64) *float64 {
	return &v
}
