// Package parse holds the primitive parsers shared by every pipeline
// stage: loosely-typed dates and decimals from the raw vendor payload.
// Failure is expressed as "no value" (zero date, nil decimal) so callers
// can apply their own fallback policy.
package parse

import (
	"encoding/json"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// dateLayouts are tried in order after ISO-8601. First match wins.
var dateLayouts = []string{"02/01/2006", "2006/01/02"}

// Date parses a loosely-typed date value into a civil.Date. The zero Date
// means no value.
func Date(v any) civil.Date {
	s, ok := v.(string)
	if !ok || s == "" {
		return civil.Date{}
	}
	return DateString(s)
}

// DateString parses an ISO-8601, DD/MM/YYYY, or YYYY/MM/DD string.
func DateString(s string) civil.Date {
	if d, err := civil.ParseDate(s); err == nil {
		return d
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return civil.DateOf(t)
		}
	}
	return civil.Date{}
}

// DateSet reports whether d carries a value.
func DateSet(d civil.Date) bool {
	return d != civil.Date{}
}

// Decimal parses a loosely-typed numeric value into an exact decimal.
// nil, empty string, and malformed input all yield nil; whether that is an
// error is the caller's call. Payloads decoded with json.Decoder.UseNumber
// keep full precision; plain float64 values go through NewFromFloat, which
// uses the shortest exact representation.
func Decimal(v any) *decimal.Decimal {
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		if val == "" {
			return nil
		}
		d, err := decimal.NewFromString(val)
		if err != nil {
			return nil
		}
		return &d
	case json.Number:
		d, err := decimal.NewFromString(val.String())
		if err != nil {
			return nil
		}
		return &d
	case float64:
		d := decimal.NewFromFloat(val)
		return &d
	case int:
		d := decimal.NewFromInt(int64(val))
		return &d
	case int64:
		d := decimal.NewFromInt(val)
		return &d
	default:
		return nil
	}
}
