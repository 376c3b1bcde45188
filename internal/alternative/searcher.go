package alternative

import (
	"context"
	"regexp"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/partwise/pricing-cli/internal/listing"
	"github.com/partwise/pricing-cli/internal/model"
	"github.com/partwise/pricing-cli/pkg/jina"
)

// Searcher finds an in-stock listing for a free-text phrase. A nil
// candidate with a nil error means nothing in stock matched.
type Searcher interface {
	Search(ctx context.Context, phrase string) (*model.AlternativeCandidate, error)
}

// ListingChecker performs a single live listing check.
type ListingChecker interface {
	CheckListing(ctx context.Context, key string) listing.Result
}

var productPathRe = regexp.MustCompile(`/(?:dp|gp/product|gp/aw/d)/([A-Z0-9]{10})(?:[/?]|$)`)

// ExternalKeyFromURL extracts the product key from a marketplace URL.
func ExternalKeyFromURL(u string) (string, bool) {
	m := productPathRe.FindStringSubmatch(u)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// JinaSearcher searches the marketplace domain through Jina Search and
// verifies each hit with a live listing check.
type JinaSearcher struct {
	client  jina.Client
	checker ListingChecker
	site    string
	maxHits int
}

// NewJinaSearcher creates a JinaSearcher restricted to site. At most
// maxHits results are verified per phrase (default 3).
func NewJinaSearcher(client jina.Client, checker ListingChecker, site string, maxHits int) *JinaSearcher {
	if maxHits <= 0 {
		maxHits = 3
	}
	return &JinaSearcher{client: client, checker: checker, site: site, maxHits: maxHits}
}

// Search implements Searcher.
func (s *JinaSearcher) Search(ctx context.Context, phrase string) (*model.AlternativeCandidate, error) {
	var opts []jina.SearchOption
	if s.site != "" {
		opts = append(opts, jina.WithSiteFilter(s.site))
	}
	resp, err := s.client.Search(ctx, phrase, opts...)
	if err != nil {
		return nil, eris.Wrapf(err, "alternative: search %q", phrase)
	}

	seen := make(map[string]bool)
	checked := 0
	for _, hit := range resp.Data {
		if checked >= s.maxHits {
			break
		}
		key, ok := ExternalKeyFromURL(hit.URL)
		if !ok || seen[key] {
			continue
		}
		seen[key] = true
		checked++

		res := s.checker.CheckListing(ctx, key)
		if !res.InStock() {
			zap.L().Debug("alternative: search hit not in stock",
				zap.String("phrase", phrase),
				zap.String("external_key", key),
				zap.String("reason", res.Reason),
			)
			continue
		}
		name := res.Title
		if name == "" {
			name = hit.Title
		}
		return &model.AlternativeCandidate{
			AlternativeKey:  key,
			AlternativeName: name,
			Price:           res.Price,
			Rating:          res.Rating,
			Active:          true,
		}, nil
	}
	return nil, nil
}
