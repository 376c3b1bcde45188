package source

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/partwise/pricing-cli/internal/listing"
	"github.com/partwise/pricing-cli/pkg/jina"
)

// JinaProvider fetches the product page through Jina Reader and extracts
// the listing from the returned markup.
type JinaProvider struct {
	client  jina.Client
	baseURL string
}

// NewJinaProvider creates a JinaProvider for product pages under baseURL.
func NewJinaProvider(client jina.Client, baseURL string) *JinaProvider {
	if baseURL == "" {
		baseURL = listing.DefaultBaseURL
	}
	return &JinaProvider{client: client, baseURL: baseURL}
}

// Name implements PriceProvider.
func (p *JinaProvider) Name() string { return ProviderJina }

// Lookup implements PriceProvider.
func (p *JinaProvider) Lookup(ctx context.Context, key string) (*Quote, error) {
	target := listing.ProductURL(p.baseURL, key)
	resp, err := p.client.Read(ctx, target, jina.WithReturnFormat("html"), jina.WithNoCache())
	if err != nil {
		var apiErr *jina.APIError
		if eris.As(err, &apiErr) {
			return nil, classifyAPIError(ProviderJina, err, apiErr.StatusCode, apiErr.RetryAfter)
		}
		return nil, err
	}
	status := 0
	if resp.Code != 0 && resp.Code != 200 {
		status = resp.Code
	}
	return checkProxiedMarkup(ProviderJina, key, target, status, resp.Data.Markup())
}
