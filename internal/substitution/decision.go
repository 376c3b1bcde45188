// Package substitution decides whether a refreshed listing is acceptable
// and applies or reverses substitutions of an item's listing.
package substitution

import (
	"fmt"
	"math"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/partwise/pricing-cli/internal/listing"
	"github.com/partwise/pricing-cli/internal/model"
)

// Action is the outcome of Evaluate.
type Action string

const (
	ActionKeep        Action = "keep"
	ActionUpdatePrice Action = "update_price"
	ActionSubstitute  Action = "substitute"
	ActionUnresolved  Action = "unresolved"
)

// Decision is the evaluation of one listing result against an item.
type Decision struct {
	Action   Action  `json:"action"`
	NewPrice float64 `json:"new_price,omitempty"`
	Diff     float64 `json:"diff,omitempty"`
	Pct      float64 `json:"pct,omitempty"`
	Reason   string  `json:"reason"`
}

// Tolerance bounds acceptable price movement relative to the item's
// original price.
type Tolerance struct {
	MaxIncrease        float64 `json:"max_increase"`
	MaxIncreasePct     float64 `json:"max_increase_pct"`
	UpdateThresholdPct float64 `json:"update_threshold_pct"`
	MinRating          float64 `json:"min_rating"`
}

// DefaultTolerance returns €50 / 20% tolerance, a 1% update threshold
// and a 3.0 minimum rating.
func DefaultTolerance() Tolerance {
	return Tolerance{
		MaxIncrease:        50,
		MaxIncreasePct:     20,
		UpdateThresholdPct: 1,
		MinRating:          3.0,
	}
}

// Compare returns the absolute and percentage difference of price over
// original. pct is zero when original is unknown.
func Compare(original, price float64) (diff, pct float64) {
	diff = price - original
	if original > 0 {
		pct = diff / original * 100
	}
	return diff, pct
}

// Exceeded reports whether price is outside tolerance relative to original.
func (t Tolerance) Exceeded(original, price float64) bool {
	diff, pct := Compare(original, price)
	return diff > t.MaxIncrease || pct > t.MaxIncreasePct
}

// Evaluate applies the decision rules in order: unavailable or out of
// tolerance asks for a substitute, a missing price is unresolved, a move
// beyond the update threshold updates the price, anything else is kept.
func Evaluate(tol Tolerance, item *model.Item, res listing.Result) Decision {
	if !res.Available {
		reason := "unavailable"
		if res.Reason != "" {
			reason += " (" + res.Reason + ")"
		}
		return Decision{Action: ActionSubstitute, Reason: reason}
	}
	if res.Price == nil {
		return Decision{Action: ActionUnresolved, Reason: "no price on listing"}
	}

	price := *res.Price
	diff, pct := Compare(item.OriginalPrice, price)
	d := Decision{NewPrice: price, Diff: round2(diff), Pct: round2(pct)}
	switch {
	case diff > tol.MaxIncrease || pct > tol.MaxIncreasePct:
		d.Action = ActionSubstitute
		d.Reason = fmt.Sprintf("price increase %+.2f (%+.1f%%) exceeds tolerance", diff, pct)
	case math.Abs(pct) > tol.UpdateThresholdPct:
		d.Action = ActionUpdatePrice
		d.Reason = fmt.Sprintf("price moved %+.1f%%", pct)
	default:
		d.Action = ActionKeep
		d.Reason = "price within threshold"
	}
	return d
}

// ErrCandidateRejected wraps the reason a candidate failed validation.
var ErrCandidateRejected = eris.New("substitution: candidate rejected")

// ValidateCandidate checks that cand may replace item: same component type,
// rating at least the minimum when known, and a known price that passes
// the same tolerance check against the item's original price.
func ValidateCandidate(tol Tolerance, item *model.Item, cand *model.AlternativeCandidate) error {
	if cand == nil {
		return eris.Wrap(ErrCandidateRejected, "no candidate")
	}
	if cand.AlternativeKey == "" || cand.AlternativeKey == item.ExternalKey {
		return eris.Wrapf(ErrCandidateRejected, "candidate %q is not a different listing", cand.AlternativeKey)
	}
	if !sameComponentType(item, cand) {
		return eris.Wrapf(ErrCandidateRejected, "component type %q does not match %q", cand.ComponentType, item.ComponentType)
	}
	if cand.Rating != nil && *cand.Rating < tol.MinRating {
		return eris.Wrapf(ErrCandidateRejected, "rating %.1f below %.1f", *cand.Rating, tol.MinRating)
	}
	price, ok := cand.KnownPrice()
	if !ok {
		return eris.Wrap(ErrCandidateRejected, "candidate price unknown")
	}
	if tol.Exceeded(item.OriginalPrice, price) {
		diff, pct := Compare(item.OriginalPrice, price)
		return eris.Wrapf(ErrCandidateRejected, "candidate price %.2f is %+.2f (%+.1f%%) over original", price, diff, pct)
	}
	return nil
}

// sameComponentType treats a candidate scoped to the item's own key
// without a category as matching.
func sameComponentType(item *model.Item, cand *model.AlternativeCandidate) bool {
	if cand.ComponentType == "" {
		return cand.OriginalKey != "" && (cand.OriginalKey == item.ExternalKey || cand.OriginalKey == item.OriginalExternalKey)
	}
	return strings.EqualFold(cand.ComponentType, item.ComponentType)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
