package common

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrMissingValue marks provider placeholders such as "" or ".".
var ErrMissingValue = errors.New("missing value")

// ParseFloat parses a provider decimal string.
func ParseFloat(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "." {
		return 0, ErrMissingValue
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse %q: %w", s, err)
	}
	f, _ := d.Float64()
	return f, nil
}

// ParseInt parses a decimal string and truncates it toward zero.
func ParseInt(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "." {
		return 0, ErrMissingValue
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse %q: %w", s, err)
	}
	return d.IntPart(), nil
}

// ToFloat converts a decoded JSON value to float64.
func ToFloat(v interface{}) (float64, error) {
	switch n := v.(type) {
	case nil:
		return 0, ErrMissingValue
	case float64:
		return n, nil
	case int64:
		return float64(n), nil
	case int:
		return float64(n), nil
	case json.Number:
		return ParseFloat(n.String())
	case string:
		return ParseFloat(n)
	default:
		return 0, fmt.Errorf("unsupported numeric type %T", v)
	}
}
