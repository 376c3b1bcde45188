package refresh

import (
	"slices"
	"strings"

	"github.com/partwise/pricing-cli/internal/model"
)

// TierRules decides an item's refresh tier from its component type and
// current price.
type TierRules struct {
	ATypes       []string `json:"a_types"`
	AMinPrice    float64  `json:"a_min_price"`
	AAnyMinPrice float64  `json:"a_any_min_price"`
	BTypes       []string `json:"b_types"`
	BMinPrice    float64  `json:"b_min_price"`
}

// DefaultTierRules promotes expensive CPUs and GPUs to A and the other
// core parts to B.
func DefaultTierRules() TierRules {
	return TierRules{
		ATypes:       []string{"cpu", "gpu"},
		AMinPrice:    150,
		AAnyMinPrice: 500,
		BTypes:       []string{"motherboard", "ram", "ssd", "psu"},
		BMinPrice:    80,
	}
}

// Assign returns the tier for item.
func (r TierRules) Assign(item *model.Item) model.Tier {
	switch {
	case hasType(r.ATypes, item.ComponentType) && item.Price >= r.AMinPrice:
		return model.TierA
	case r.AAnyMinPrice > 0 && item.Price >= r.AAnyMinPrice:
		return model.TierA
	case hasType(r.BTypes, item.ComponentType):
		return model.TierB
	case r.BMinPrice > 0 && item.Price >= r.BMinPrice:
		return model.TierB
	default:
		return model.TierC
	}
}

func hasType(types []string, t string) bool {
	t = strings.ToLower(strings.TrimSpace(t))
	return t != "" && slices.ContainsFunc(types, func(s string) bool { return strings.EqualFold(s, t) })
}
