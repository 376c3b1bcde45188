package listing

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// DefaultBaseURL is the marketplace storefront product pages live under.
const DefaultBaseURL = "https://www.amazon.de"

// Resolver performs live availability checks against product pages.
type Resolver struct {
	fetcher Fetcher
	baseURL string
	log     *zap.Logger
}

// NewResolver creates a Resolver. An empty baseURL uses DefaultBaseURL.
func NewResolver(fetcher Fetcher, baseURL string) *Resolver {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Resolver{
		fetcher: fetcher,
		baseURL: strings.TrimRight(baseURL, "/"),
		log:     zap.L().With(zap.String("component", "listing")),
	}
}

// ProductURL returns the product page URL for an external key.
func (r *Resolver) ProductURL(key string) string {
	return ProductURL(r.baseURL, key)
}

// ProductURL builds the canonical product page URL under baseURL.
func ProductURL(baseURL, key string) string {
	return strings.TrimRight(baseURL, "/") + "/dp/" + url.PathEscape(strings.TrimSpace(key))
}

// CheckListing fetches the product page for key once and extracts the
// selected-variant state. Errors never escape: they are reported in
// Result.Err with Available=false.
func (r *Resolver) CheckListing(ctx context.Context, key string) Result {
	res, err := r.Lookup(ctx, key)
	if err != nil {
		res = FetchErrorResult(err)
		res.ExternalKey = key
		res.URL = r.ProductURL(key)
	}
	r.log.Debug("listing checked",
		zap.String("external_key", key),
		zap.Bool("available", res.Available),
		zap.String("reason", res.Reason),
		zap.Strings("debug", res.DebugInfo),
	)
	return res
}

// Lookup is CheckListing for callers that need the fetch error itself,
// for example to honor a rate-limit backoff. A missing page is not an
// error: it yields a definitive unavailable Result.
func (r *Resolver) Lookup(ctx context.Context, key string) (Result, error) {
	if strings.TrimSpace(key) == "" {
		return Result{}, eris.New("listing: empty external key")
	}
	target := r.ProductURL(key)
	markup, err := r.fetcher.Fetch(ctx, target)
	if err != nil {
		if eris.Is(err, ErrNotFound) {
			res := FetchErrorResult(err)
			res.ExternalKey, res.URL = key, target
			return res, nil
		}
		return Result{}, err
	}
	return CheckMarkup(key, target, markup), nil
}

// CheckMarkup runs extraction over markup obtained elsewhere, such as a
// proxy or scrape API, and labels it with key and url.
func CheckMarkup(key, target string, markup []byte) Result {
	res := Extract(markup)
	res.ExternalKey = key
	res.URL = target
	return res
}

// FetchErrorResult converts a fetch error into a non-definitive Result,
// except for a missing page which is a definitive "unavailable".
func FetchErrorResult(err error) Result {
	if errors.Is(err, ErrNotFound) {
		return Result{Reason: ReasonNotFound, DebugInfo: []string{err.Error()}}
	}
	return Result{Reason: ReasonFetchError, Err: err.Error()}
}
