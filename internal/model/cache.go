package model

import "time"

// PriceCacheEntry is the last known price for an external key.
type PriceCacheEntry struct {
	ExternalKey string    `json:"external_key"`
	Price       float64   `json:"price"`
	Source      string    `json:"source"`
	SourceURL   string    `json:"source_url,omitempty"`
	CheckedAt   time.Time `json:"checked_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Fresh reports whether the entry may still be served at now.
func (e *PriceCacheEntry) Fresh(now time.Time) bool {
	return e != nil && now.Before(e.ExpiresAt)
}
