package analytics

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ErrInvalidTimestamp is returned when a record timestamp cannot be parsed.
var ErrInvalidTimestamp = errors.New("invalid timestamp")

// Accepted layouts: RFC 3339 from the commerce platform and the
// "YYYY-MM-DD hh:mm:ss[.fff]" form ClickHouse returns (interpreted as UTC).
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
}

// ParseTimestamp parses a raw record timestamp.
func ParseTimestamp(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty", ErrInvalidTimestamp)
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, raw)
}

// amountPrefix matches the leading number of a price string.
var amountPrefix = regexp.MustCompile(`^[+-]?(\d+(\.\d+)?|\.\d+)([eE][+-]?\d+)?`)

// parseAmount reads the leading number of a price string, so "49.99 EUR"
// is 49.99. Input without one counts as zero.
func parseAmount(raw string) decimal.Decimal {
	raw = strings.TrimSpace(raw)
	if d, err := decimal.NewFromString(raw); err == nil {
		return d
	}
	prefix := amountPrefix.FindString(raw)
	if prefix == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(prefix)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// Money is a full-precision amount that is rounded to cents only when encoded.
type Money struct {
	decimal.Decimal
}

// NewMoney wraps d.
func NewMoney(d decimal.Decimal) Money {
	return Money{Decimal: d}
}

// MarshalJSON encodes the amount as a JSON number with two decimals.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.Round(2).StringFixed(2)), nil
}

// Float returns the amount rounded to cents.
func (m Money) Float() float64 {
	return m.Round(2).InexactFloat64()
}

var hundred = decimal.NewFromInt(100)

// percent returns num/den*100 rounded to two decimals, or 0 when den is 0.
func percent(num, den int) float64 {
	if den <= 0 {
		return 0
	}
	return decimal.NewFromInt(int64(num)).
		Mul(hundred).
		Div(decimal.NewFromInt(int64(den))).
		Round(2).
		InexactFloat64()
}

// clampPercent bounds a rate to [0, 100].
func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// average divides total by n, returning zero for n == 0.
func average(total decimal.Decimal, n int) decimal.Decimal {
	if n <= 0 {
		return decimal.Zero
	}
	return total.Div(decimal.NewFromInt(int64(n)))
}
