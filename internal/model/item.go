package model

import (
	"strings"
	"time"
)

// Tier is the refresh-priority bucket of an item.
type Tier string

const (
	TierA Tier = "A" // refreshed daily
	TierB Tier = "B" // refreshed every 96 hours
	TierC Tier = "C" // on-demand only
)

// ParseTier normalizes a tier string. The second return is false for
// anything other than A, B or C.
func ParseTier(s string) (Tier, bool) {
	switch Tier(strings.ToUpper(strings.TrimSpace(s))) {
	case TierA:
		return TierA, true
	case TierB:
		return TierB, true
	case TierC:
		return TierC, true
	}
	return "", false
}

// Item is a catalog component whose marketplace price is kept fresh.
type Item struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	ComponentType string `json:"component_type"`
	BuildID       string `json:"build_id,omitempty"`

	ExternalKey   string  `json:"external_key"`
	Price         float64 `json:"price"`
	OriginalPrice float64 `json:"original_price"`
	Tier          Tier    `json:"tier"`

	PriceSource    string     `json:"price_source,omitempty"`
	PriceUpdatedAt *time.Time `json:"price_updated_at,omitempty"`
	CacheExpiresAt *time.Time `json:"cache_expires_at,omitempty"`

	Substituted         bool   `json:"substituted"`
	SubstitutionReason  string `json:"substitution_reason,omitempty"`
	OriginalExternalKey string `json:"original_external_key,omitempty"`

	AlternativeQuery string `json:"alternative_query,omitempty"`
}

// ItemSnapshot is a copy of an item taken just before its first
// substitution. It is kept until the item is restored.
type ItemSnapshot struct {
	ID        string    `json:"id"`
	ItemID    string    `json:"item_id"`
	Item      Item      `json:"item"`
	CreatedAt time.Time `json:"created_at"`
}

// ItemFilter narrows item listings and substitution stats.
type ItemFilter struct {
	Tier        Tier   `json:"tier,omitempty"`
	BuildID     string `json:"build_id,omitempty"`
	Substituted *bool  `json:"substituted,omitempty"`
	Limit       int    `json:"limit,omitempty"`
}

// SubstitutionStats summarizes substitutions within a scope.
type SubstitutionStats struct {
	Scope       ItemFilter     `json:"scope"`
	Total       int            `json:"total"`
	Substituted int            `json:"substituted"`
	ByReason    map[string]int `json:"by_reason"`
	ByTier      map[Tier]int   `json:"by_tier"`
}
