package source

import (
	"context"

	"github.com/partwise/pricing-cli/internal/listing"
)

// MarketplaceProvider reads the product page directly.
type MarketplaceProvider struct {
	resolver *listing.Resolver
}

// NewMarketplaceProvider wraps a listing resolver as a PriceProvider.
func NewMarketplaceProvider(resolver *listing.Resolver) *MarketplaceProvider {
	return &MarketplaceProvider{resolver: resolver}
}

// Name implements PriceProvider.
func (p *MarketplaceProvider) Name() string { return ProviderMarketplace }

// Lookup implements PriceProvider.
func (p *MarketplaceProvider) Lookup(ctx context.Context, key string) (*Quote, error) {
	res, err := p.resolver.Lookup(ctx, key)
	if err != nil {
		return nil, err
	}
	return &Quote{Source: ProviderMarketplace, URL: res.URL, Listing: res}, nil
}
