package refresh

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/partwise/pricing-cli/internal/model"
)

func TestTierRules_Assign(t *testing.T) {
	r := DefaultTierRules()
	tests := []struct {
		typ   string
		price float64
		want  model.Tier
	}{
		{"gpu", 450, model.TierA},
		{"CPU", 150, model.TierA},
		{"cpu", 149.99, model.TierC},
		{"monitor", 520, model.TierA},
		{"ram", 40, model.TierB},
		{"case", 95, model.TierB},
		{"case", 60, model.TierC},
		{"", 0, model.TierC},
	}
	for _, tt := range tests {
		got := r.Assign(&model.Item{ComponentType: tt.typ, Price: tt.price})
		assert.Equal(t, tt.want, got, "%s @ %.2f", tt.typ, tt.price)
	}
}
