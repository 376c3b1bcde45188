package alternative

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/partwise/pricing-cli/internal/listing"
	"github.com/partwise/pricing-cli/pkg/jina"
	"github.com/partwise/pricing-cli/pkg/jina/mocks"
)

func TestExternalKeyFromURL(t *testing.T) {
	tests := []struct {
		url  string
		key  string
		want bool
	}{
		{"https://www.amazon.de/dp/B0C7W8GZMJ", "B0C7W8GZMJ", true},
		{"https://www.amazon.de/ASUS-Dual-GeForce/dp/B0C7W8GZMJ/ref=sr_1_1", "B0C7W8GZMJ", true},
		{"https://www.amazon.de/gp/product/B0C7W8GZMJ?th=1", "B0C7W8GZMJ", true},
		{"https://www.amazon.de/s?k=rtx+4070", "", false},
		{"https://www.amazon.de/dp/short", "", false},
	}
	for _, tt := range tests {
		key, ok := ExternalKeyFromURL(tt.url)
		assert.Equal(t, tt.want, ok, tt.url)
		assert.Equal(t, tt.key, key, tt.url)
	}
}

func TestJinaSearcher_FirstInStockHit(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("Search", mock.Anything, "rtx 4070", mock.Anything).Return(&jina.SearchResponse{Data: []jina.SearchResult{
		{Title: "Search page", URL: "https://www.amazon.de/s?k=rtx"},
		{Title: "Card A", URL: "https://www.amazon.de/dp/B0AAAAAAAA"},
		{Title: "Card A again", URL: "https://www.amazon.de/gp/product/B0AAAAAAAA"},
		{Title: "Card B", URL: "https://www.amazon.de/dp/B0BBBBBBBB"},
	}}, nil)
	checker := &fakeChecker{results: map[string]listing.Result{
		"B0BBBBBBBB": {Available: true, Price: ptr(579.0), Rating: ptr(4.7), Reason: listing.ReasonInStock},
	}}

	s := NewJinaSearcher(client, checker, "amazon.de", 3)
	got, err := s.Search(context.Background(), "rtx 4070")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "B0BBBBBBBB", got.AlternativeKey)
	assert.Equal(t, "Card B", got.AlternativeName)
	assert.InDelta(t, 4.7, *got.Rating, 0.001)
	assert.Equal(t, []string{"B0AAAAAAAA", "B0BBBBBBBB"}, checker.calls)
}

func TestJinaSearcher_RespectsMaxHits(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("Search", mock.Anything, mock.Anything, mock.Anything).Return(&jina.SearchResponse{Data: []jina.SearchResult{
		{URL: "https://www.amazon.de/dp/B0AAAAAAAA"},
		{URL: "https://www.amazon.de/dp/B0BBBBBBBB"},
	}}, nil)
	checker := &fakeChecker{results: map[string]listing.Result{
		"B0BBBBBBBB": {Available: true, Price: ptr(10.0)},
	}}

	got, err := NewJinaSearcher(client, checker, "", 1).Search(context.Background(), "q")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Len(t, checker.calls, 1)
}

func TestJinaSearcher_SearchError(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("Search", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("quota"))

	_, err := NewJinaSearcher(client, &fakeChecker{}, "amazon.de", 0).Search(context.Background(), "q")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota")
}
