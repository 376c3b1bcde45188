// Package source resolves a marketplace price for an external key by
// consulting the price cache and then an ordered chain of providers.
package source

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/partwise/pricing-cli/internal/listing"
	"github.com/partwise/pricing-cli/internal/resilience"
)

// Provider names accepted in sources.order.
const (
	ProviderMarketplace = "marketplace"
	ProviderJina        = "jina"
	ProviderFirecrawl   = "firecrawl"
)

// minMarkupBytes is the smallest body that can plausibly be a product page.
const minMarkupBytes = 512

// Quote is one provider's reading of a listing.
type Quote struct {
	Source  string         `json:"source"`
	URL     string         `json:"url"`
	Listing listing.Result `json:"listing"`
}

// Price returns the quoted price, if the listing was in stock.
func (q *Quote) Price() (float64, bool) {
	if q == nil || !q.Listing.InStock() {
		return 0, false
	}
	return *q.Listing.Price, true
}

// PriceProvider looks up one listing against one data source. A provider
// makes exactly one attempt per call; the chain decides what happens next.
type PriceProvider interface {
	Name() string
	Lookup(ctx context.Context, key string) (*Quote, error)
}

// checkProxiedMarkup runs block detection and extraction over markup that
// a proxy fetched on our behalf. status is the upstream status if known.
func checkProxiedMarkup(source, key, target string, status int, markup string) (*Quote, error) {
	body := []byte(markup)
	if status == 0 {
		status = http.StatusOK
	}
	if blocked, kind := listing.DetectBlock(&http.Response{StatusCode: status, Header: http.Header{}}, body); blocked {
		return nil, &resilience.RateLimitError{Source: source, StatusCode: status, Reason: string(kind)}
	}
	switch {
	case status == http.StatusNotFound || status == http.StatusGone:
		res := listing.FetchErrorResult(eris.Wrapf(listing.ErrNotFound, "%s: upstream status %d", source, status))
		res.ExternalKey, res.URL = key, target
		return &Quote{Source: source, URL: target, Listing: res}, nil
	case resilience.IsTransientHTTPStatus(status):
		return nil, resilience.NewTransientError(eris.Errorf("%s: upstream status %d", source, status), status)
	case status >= 400:
		return nil, eris.Errorf("%s: upstream status %d", source, status)
	}
	if len(body) < minMarkupBytes {
		return nil, eris.Errorf("%s: empty page", source)
	}
	return &Quote{Source: source, URL: target, Listing: listing.CheckMarkup(key, target, body)}, nil
}

// classifyAPIError maps a proxy's HTTP failure onto the resilience taxonomy.
func classifyAPIError(source string, err error, status int, retryAfter time.Duration) error {
	switch {
	case resilience.IsRateLimitHTTPStatus(status):
		return &resilience.RateLimitError{Source: source, StatusCode: status, RetryAfter: retryAfter, Reason: "api quota"}
	case resilience.IsTransientHTTPStatus(status):
		return resilience.NewTransientError(err, status)
	default:
		return err
	}
}
