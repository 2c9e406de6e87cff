package pathdb

import (
	"math"
	"strconv"
	"strings"
)

// Normalize is the single coercion applied to every lookup value accepted by
// the store: a String that reads as a finite decimal number becomes a Number,
// so "5" and 5 address the same index entries. Everything else is returned
// unchanged.
func Normalize(v Value) Value {
	switch v := v.(type) {
	case Number:
		return foldZero(v)
	case String:
		if f, ok := parseDecimal(string(v)); ok {
			return foldZero(Number(f))
		}
	}
	return v
}

// foldZero turns -0 into 0, which is the only zero the index knows.
func foldZero(n Number) Number {
	if n == 0 {
		return 0
	}
	return n
}

// ParseLookup normalizes a lookup value that arrived as text (e.g. a URL segment).
func ParseLookup(s string) Value {
	return Normalize(String(s))
}

func parseDecimal(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	// strconv also accepts hex floats, digit separators and Inf/NaN spellings.
	if strings.ContainsAny(s, "xXpP_") {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}
