// Package listing checks a single marketplace product page for
// availability and the price of the currently selected variant.
//
// Fetching and extraction are separate: Fetcher retrieves markup, Extract
// is a pure function over that markup.
package listing

import (
	"github.com/rotisserie/eris"
)

// Reasons reported in Result.Reason.
const (
	ReasonInStock        = "in_stock"
	ReasonNoBuyButton    = "no_buy_button"
	ReasonUnavailableMsg = "unavailable_marker"
	ReasonAmbiguousPrice = "ambiguous_price"
	ReasonNoPrice        = "no_price"
	ReasonNotFound       = "not_found"
	ReasonFetchError     = "fetch_error"
)

var (
	// ErrUnavailable is returned by callers that turn a definitive
	// "not purchasable" result into an error.
	ErrUnavailable = eris.New("listing: unavailable")

	// ErrNotFound is returned by fetchers when the product page is gone.
	ErrNotFound = eris.New("listing: not found")
)

// Result is the outcome of one availability check. Available means a
// direct buy affordance was present and nothing on the page contradicted it.
type Result struct {
	ExternalKey string   `json:"external_key,omitempty"`
	URL         string   `json:"url,omitempty"`
	Available   bool     `json:"available"`
	Price       *float64 `json:"price,omitempty"`
	Title       string   `json:"title,omitempty"`
	Rating      *float64 `json:"rating,omitempty"`
	Reason      string   `json:"reason"`
	DebugInfo   []string `json:"debug_info,omitempty"`
	Err         string   `json:"error,omitempty"`
}

// Definitive reports whether the page was read successfully, so that
// Available=false means "not purchasable" rather than "could not tell".
func (r Result) Definitive() bool {
	return r.Err == ""
}

// InStock reports whether the listing is purchasable at a known price.
func (r Result) InStock() bool {
	return r.Available && r.Price != nil
}

func (r *Result) debugf(msg string) {
	r.DebugInfo = append(r.DebugInfo, msg)
}
