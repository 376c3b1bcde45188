package listing

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	// priceTokenRe finds currency-annotated amounts inside free text.
	priceTokenRe = regexp.MustCompile(`(?:€|EUR|\$|£)\s?\d[\d.,]*|\d[\d.,]*\s?(?:€|EUR)`)
	ratingRe     = regexp.MustCompile(`(\d(?:[.,]\d)?)\s*(?:out of|von|sur|de|su)\s*5`)
)

// ParsePrice parses a displayed price in either European ("1.234,56 €")
// or US ("€1,234.56") notation.
func ParsePrice(s string) (float64, bool) {
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r == '.', r == ',':
			return r
		default:
			return -1
		}
	}, s)
	s = strings.Trim(s, ".,")
	if s == "" {
		return 0, false
	}

	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")

	switch {
	case lastDot >= 0 && lastComma >= 0:
		// The later separator is the decimal one.
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0:
		s = normalizeSingleSeparator(s, ",")
	case lastDot >= 0:
		s = normalizeSingleSeparator(s, ".")
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

// normalizeSingleSeparator resolves a number that uses only one kind of
// separator. Repeated separators, or exactly three trailing digits, mean
// grouping; anything else is a decimal mark.
func normalizeSingleSeparator(s, sep string) string {
	idx := strings.LastIndex(s, sep)
	if strings.Count(s, sep) > 1 || len(s)-idx-1 == 3 {
		return strings.ReplaceAll(s, sep, "")
	}
	return strings.Replace(s, sep, ".", 1)
}

// FindPrices returns every currency-annotated amount found in text.
func FindPrices(text string) []float64 {
	var out []float64
	for _, tok := range priceTokenRe.FindAllString(text, -1) {
		if v, ok := ParsePrice(tok); ok {
			out = append(out, v)
		}
	}
	return out
}

// ParseRating reads "4.5 out of 5" or "4,5 von 5".
func ParseRating(s string) (float64, bool) {
	m := ratingRe.FindStringSubmatch(strings.ToLower(s))
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.Replace(m[1], ",", ".", 1), 64)
	if err != nil || v < 0 || v > 5 {
		return 0, false
	}
	return v, true
}

func samePrice(a, b float64) bool {
	d := a - b
	return d < 0.005 && d > -0.005
}
