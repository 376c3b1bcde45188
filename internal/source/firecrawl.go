package source

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/partwise/pricing-cli/internal/listing"
	"github.com/partwise/pricing-cli/pkg/firecrawl"
)

// FirecrawlProvider scrapes the product page through Firecrawl and extracts
// the listing from the raw markup.
type FirecrawlProvider struct {
	client  firecrawl.Client
	baseURL string
	country string
	waitFor int
}

// NewFirecrawlProvider creates a FirecrawlProvider. country pins the scrape
// location (e.g. "DE"); waitForMs lets client-side price widgets render.
func NewFirecrawlProvider(client firecrawl.Client, baseURL, country string, waitForMs int) *FirecrawlProvider {
	if baseURL == "" {
		baseURL = listing.DefaultBaseURL
	}
	return &FirecrawlProvider{client: client, baseURL: baseURL, country: country, waitFor: waitForMs}
}

// Name implements PriceProvider.
func (p *FirecrawlProvider) Name() string { return ProviderFirecrawl }

// Lookup implements PriceProvider.
func (p *FirecrawlProvider) Lookup(ctx context.Context, key string) (*Quote, error) {
	target := listing.ProductURL(p.baseURL, key)
	req := firecrawl.ScrapeRequest{
		URL:     target,
		Formats: []string{firecrawl.FormatRawHTML},
		WaitFor: p.waitFor,
	}
	if p.country != "" {
		req.Location = &firecrawl.Location{Country: p.country}
	}

	resp, err := p.client.Scrape(ctx, req)
	if err != nil {
		var apiErr *firecrawl.APIError
		if eris.As(err, &apiErr) {
			return nil, classifyAPIError(ProviderFirecrawl, err, apiErr.StatusCode, apiErr.RetryAfter)
		}
		return nil, err
	}
	return checkProxiedMarkup(ProviderFirecrawl, key, target, resp.Data.Metadata.StatusCode, resp.Data.RawHTML)
}
