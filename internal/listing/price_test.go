package listing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParsePrice(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"1.234,56 €", 1234.56, true},
		{"€1,234.56", 1234.56, true},
		{"149,99 €", 149.99, true},
		{"$119.95", 119.95, true},
		{"1.299 €", 1299, true},
		{"€1,299", 1299, true},
		{"1 299,00 €", 1299, true},
		{"EUR 12,5", 12.5, true},
		{"1.234.567,89", 1234567.89, true},
		{"0,00 €", 0, false},
		{"gratis", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParsePrice(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		if tt.ok {
			assert.InDelta(t, tt.want, got, 0.001, tt.in)
		}
	}
}

func TestFindPrices(t *testing.T) {
	got := FindPrices("Neu (3) ab 89,00 € und gebraucht ab €75,50 · 7,450 MB/s")
	assert.Len(t, got, 2)
	assert.InDelta(t, 89.0, got[0], 0.001)
	assert.InDelta(t, 75.5, got[1], 0.001)
}

func TestParseRating(t *testing.T) {
	v, ok := ParseRating("4,5 von 5 Sternen")
	assert.True(t, ok)
	assert.InDelta(t, 4.5, v, 0.001)

	v, ok = ParseRating("4.7 out of 5 stars")
	assert.True(t, ok)
	assert.InDelta(t, 4.7, v, 0.001)

	v, ok = ParseRating("5 out of 5")
	assert.True(t, ok)
	assert.InDelta(t, 5.0, v, 0.001)

	_, ok = ParseRating("1.234 ratings")
	assert.False(t, ok)
}
