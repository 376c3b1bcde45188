package model

import "time"

// AlternativeCategory groups interchangeable alternatives independent of
// any one original item.
type AlternativeCategory struct {
	ID            int64  `json:"id" yaml:"id"`
	Name          string `json:"name" yaml:"name"`
	Description   string `json:"description,omitempty" yaml:"description"`
	ComponentType string `json:"component_type" yaml:"component_type"`
}

// AlternativeCandidate is one ranked substitute, scoped either to a
// category or to an original external key.
type AlternativeCandidate struct {
	ID              int64      `json:"id" yaml:"-"`
	CategoryID      *int64     `json:"category_id,omitempty" yaml:"category_id"`
	OriginalKey     string     `json:"original_key,omitempty" yaml:"original_key"`
	AlternativeKey  string     `json:"alternative_key" yaml:"alternative_key"`
	AlternativeName string     `json:"alternative_name" yaml:"alternative_name"`
	Price           *float64   `json:"price,omitempty" yaml:"price"`
	Rating          *float64   `json:"rating,omitempty" yaml:"rating"`
	Priority        int        `json:"priority" yaml:"priority"`
	Active          bool       `json:"active" yaml:"-"`
	PriceCheckedAt  *time.Time `json:"price_checked_at,omitempty" yaml:"-"`

	// ComponentType is filled from the joined category when known.
	ComponentType string `json:"component_type,omitempty" yaml:"-"`
}

// KnownPrice returns the cached price if it is positive.
func (c *AlternativeCandidate) KnownPrice() (float64, bool) {
	if c == nil || c.Price == nil || *c.Price <= 0 {
		return 0, false
	}
	return *c.Price, true
}
