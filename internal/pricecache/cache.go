// Package pricecache is the TTL-keyed store of last-known prices per
// external key. It fails open: storage errors read as a miss.
package pricecache

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/partwise/pricing-cli/internal/model"
)

// DefaultTTL is how long a fetched price may be served from cache.
const DefaultTTL = 24 * time.Hour

// Backend is the subset of the store used by the cache.
type Backend interface {
	GetPriceCache(ctx context.Context, externalKey string) (*model.PriceCacheEntry, error)
	UpsertPriceCache(ctx context.Context, entry model.PriceCacheEntry) error
	DeleteStalePriceCache(ctx context.Context, expiredBefore time.Time) (int, error)
}

// Cache serves and records prices.
type Cache struct {
	backend Backend
	ttl     time.Duration
	log     *zap.Logger

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.nowFunc = now }
}

// New creates a Cache over backend.
func New(backend Backend, opts ...Option) *Cache {
	c := &Cache{
		backend: backend,
		ttl:     DefaultTTL,
		log:     zap.L().With(zap.String("component", "pricecache")),
		nowFunc: time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// TTL returns the configured time-to-live.
func (c *Cache) TTL() time.Duration { return c.ttl }

// Get returns the entry for key only while now is before its expiry.
func (c *Cache) Get(ctx context.Context, key string) (*model.PriceCacheEntry, bool) {
	if key == "" {
		return nil, false
	}
	entry, err := c.backend.GetPriceCache(ctx, key)
	if err != nil {
		c.log.Warn("cache read failed, treating as miss",
			zap.String("external_key", key), zap.Error(err))
		return nil, false
	}
	if !entry.Fresh(c.nowFunc()) {
		return nil, false
	}
	return entry, true
}

// Put records a price for key, expiring TTL after checkedAt. Write
// failures are logged; the resolved price is still valid for the caller.
func (c *Cache) Put(ctx context.Context, key string, price float64, source, url string, checkedAt time.Time) *model.PriceCacheEntry {
	entry := model.PriceCacheEntry{
		ExternalKey: key,
		Price:       price,
		Source:      source,
		SourceURL:   url,
		CheckedAt:   checkedAt.UTC(),
		ExpiresAt:   checkedAt.UTC().Add(c.ttl),
	}
	if err := c.backend.UpsertPriceCache(ctx, entry); err != nil {
		c.log.Warn("cache write failed",
			zap.String("external_key", key), zap.String("source", source), zap.Error(err))
	}
	return &entry
}

// Cleanup deletes entries that expired more than grace ago.
func (c *Cache) Cleanup(ctx context.Context, grace time.Duration) (int, error) {
	cutoff := c.nowFunc().Add(-grace)
	n, err := c.backend.DeleteStalePriceCache(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	c.log.Info("pruned stale cache entries", zap.Int("deleted", n), zap.Time("cutoff", cutoff))
	return n, nil
}
