package substitution

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/partwise/pricing-cli/internal/listing"
	"github.com/partwise/pricing-cli/internal/model"
)

func ptr[T any](v T) *T { return &v }

func available(price float64) listing.Result {
	return listing.Result{Available: true, Price: &price, Reason: listing.ReasonInStock}
}

func TestEvaluate(t *testing.T) {
	item := &model.Item{ID: "it-1", OriginalPrice: 150, Price: 150, Tier: model.TierA}
	tol := DefaultTolerance()

	tests := []struct {
		name   string
		res    listing.Result
		action Action
		price  float64
	}{
		{"ten percent up updates", available(165), ActionUpdatePrice, 165},
		{"forty percent up substitutes", available(210), ActionSubstitute, 210},
		{"exactly twenty percent updates", available(180), ActionUpdatePrice, 180},
		{"over fifty euro substitutes", available(200.01), ActionSubstitute, 200.01},
		{"drop updates", available(120), ActionUpdatePrice, 120},
		{"within one percent keeps", available(151), ActionKeep, 151},
		{"unavailable substitutes", listing.Result{Reason: listing.ReasonNoBuyButton}, ActionSubstitute, 0},
		{"unavailable with price substitutes", listing.Result{Price: ptr(149.0), Reason: listing.ReasonAmbiguousPrice}, ActionSubstitute, 0},
		{"no price unresolved", listing.Result{Available: true}, ActionUnresolved, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Evaluate(tol, item, tt.res)
			assert.Equal(t, tt.action, d.Action)
			assert.InDelta(t, tt.price, d.NewPrice, 0.001)
			assert.NotEmpty(t, d.Reason)
		})
	}
}

func TestEvaluate_AbsoluteTriggerOnExpensiveItem(t *testing.T) {
	// +55 is under 20% of 1000 but over the absolute limit.
	item := &model.Item{OriginalPrice: 1000}
	d := Evaluate(DefaultTolerance(), item, available(1055))
	assert.Equal(t, ActionSubstitute, d.Action)
	assert.InDelta(t, 55, d.Diff, 0.001)
	assert.InDelta(t, 5.5, d.Pct, 0.001)
}

func TestEvaluate_PercentTriggerOnCheapItem(t *testing.T) {
	item := &model.Item{OriginalPrice: 20}
	d := Evaluate(DefaultTolerance(), item, available(25))
	assert.Equal(t, ActionSubstitute, d.Action)
}

func TestEvaluate_UsesOriginalNotCurrentPrice(t *testing.T) {
	// Current price already drifted; tolerance is anchored to the original.
	item := &model.Item{OriginalPrice: 150, Price: 175}
	d := Evaluate(DefaultTolerance(), item, available(185))
	assert.Equal(t, ActionSubstitute, d.Action)
}

func TestEvaluate_UnknownOriginalUsesAbsoluteOnly(t *testing.T) {
	d := Evaluate(DefaultTolerance(), &model.Item{}, available(40))
	assert.Equal(t, ActionKeep, d.Action)
}

func TestValidateCandidate(t *testing.T) {
	tol := DefaultTolerance()
	item := &model.Item{ExternalKey: "B0ORIG", ComponentType: "gpu", OriginalPrice: 150}

	tests := []struct {
		name string
		cand *model.AlternativeCandidate
		ok   bool
	}{
		{"passes", &model.AlternativeCandidate{AlternativeKey: "B0ALT", ComponentType: "gpu", Price: ptr(170.0), Rating: ptr(4.2)}, true},
		{"rating unknown passes", &model.AlternativeCandidate{AlternativeKey: "B0ALT", ComponentType: "GPU", Price: ptr(120.0)}, true},
		{"key scoped without category passes", &model.AlternativeCandidate{AlternativeKey: "B0ALT", OriginalKey: "B0ORIG", Price: ptr(120.0)}, true},
		{"nil", nil, false},
		{"same key", &model.AlternativeCandidate{AlternativeKey: "B0ORIG", ComponentType: "gpu", Price: ptr(120.0)}, false},
		{"wrong type", &model.AlternativeCandidate{AlternativeKey: "B0ALT", ComponentType: "cpu", Price: ptr(120.0)}, false},
		{"no type no scope", &model.AlternativeCandidate{AlternativeKey: "B0ALT", Price: ptr(120.0)}, false},
		{"low rating", &model.AlternativeCandidate{AlternativeKey: "B0ALT", ComponentType: "gpu", Price: ptr(120.0), Rating: ptr(2.9)}, false},
		{"no price", &model.AlternativeCandidate{AlternativeKey: "B0ALT", ComponentType: "gpu"}, false},
		{"zero price", &model.AlternativeCandidate{AlternativeKey: "B0ALT", ComponentType: "gpu", Price: ptr(0.0)}, false},
		{"too expensive", &model.AlternativeCandidate{AlternativeKey: "B0ALT", ComponentType: "gpu", Price: ptr(185.0)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCandidate(tol, item, tt.cand)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrCandidateRejected))
		})
	}
}

func TestTolerance_Exceeded(t *testing.T) {
	tol := Tolerance{MaxIncrease: 50, MaxIncreasePct: 10}
	assert.False(t, tol.Exceeded(100, 110))
	assert.True(t, tol.Exceeded(100, 110.5))
	assert.True(t, tol.Exceeded(1000, 1050.01))
}
