package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseTier(t *testing.T) {
	tests := []struct {
		in   string
		want Tier
		ok   bool
	}{
		{"A", TierA, true},
		{" b ", TierB, true},
		{"c", TierC, true},
		{"D", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseTier(tt.in)
		assert.Equal(t, tt.want, got, tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
	}
}

func TestPriceCacheEntry_Fresh(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	var nilEntry *PriceCacheEntry
	assert.False(t, nilEntry.Fresh(now))

	e := &PriceCacheEntry{ExpiresAt: now.Add(time.Minute)}
	assert.True(t, e.Fresh(now))

	e.ExpiresAt = now
	assert.False(t, e.Fresh(now), "expiry instant is not fresh")
}

func TestAlternativeCandidate_KnownPrice(t *testing.T) {
	var c *AlternativeCandidate
	_, ok := c.KnownPrice()
	assert.False(t, ok)

	c = &AlternativeCandidate{}
	_, ok = c.KnownPrice()
	assert.False(t, ok)

	zero := 0.0
	c.Price = &zero
	_, ok = c.KnownPrice()
	assert.False(t, ok)

	p := 129.9
	c.Price = &p
	got, ok := c.KnownPrice()
	assert.True(t, ok)
	assert.InDelta(t, 129.9, got, 0.001)
}
