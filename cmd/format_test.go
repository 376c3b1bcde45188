package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/partwise/pricing-cli/internal/listing"
	"github.com/partwise/pricing-cli/internal/model"
	"github.com/partwise/pricing-cli/internal/monitoring"
	"github.com/partwise/pricing-cli/internal/refresh"
	"github.com/partwise/pricing-cli/internal/substitution"
)

func TestFormatItemResults(t *testing.T) {
	results := []refresh.ItemResult{
		{ItemID: "abc12345-6789-0000-0000-000000000000", ExternalKey: "B0GPU00001", Outcome: refresh.OutcomePriceUpdated,
			OldPrice: 150, NewPrice: 165, Source: "marketplace", Reason: "price moved +10.0%"},
		{ItemID: "def12345-6789-0000-0000-000000000000", ExternalKey: "B0GPU00002", Outcome: refresh.OutcomeSubstituted,
			OldPrice: 150, NewPrice: 149, SubstitutedKey: "B0GPU00003", Reason: "unavailable", Source: "jina", FromCache: true},
		{ItemID: "x", Outcome: refresh.OutcomeFailed, Error: "load item: store: not found"},
	}

	var buf bytes.Buffer
	formatItemResults(&buf, results)

	out := buf.String()
	assert.Contains(t, out, "OUTCOME")
	assert.Contains(t, out, "abc12345 ")
	assert.NotContains(t, out, "abc12345-6789")
	assert.Contains(t, out, "price_updated")
	assert.Contains(t, out, "165.00")
	assert.Contains(t, out, "-> B0GPU00003")
	assert.Contains(t, out, "jina (cache)")
	assert.Contains(t, out, "store: not found")
}

func TestFormatBatchSummary(t *testing.T) {
	start := time.Date(2026, 8, 3, 3, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	formatBatchSummary(&buf, &refresh.BatchReport{
		Job: "refresh_tier_A", Total: 10, Success: 7, Substituted: 2, Unresolved: 2, Failed: 1,
		StartedAt: start, FinishedAt: start.Add(95 * time.Second),
	})
	assert.Equal(t, "refresh_tier_A: 10 items, 7 ok, 2 substituted, 2 unresolved, 1 failed in 1m35s\n", buf.String())
}

func TestFormatProposal(t *testing.T) {
	price := 149.0
	var buf bytes.Buffer
	formatProposal(&buf, &refresh.Proposal{
		Item:      &model.Item{Name: "RTX 4070", ExternalKey: "B0GPU00001", OriginalPrice: 150},
		Listing:   listing.Result{Reason: listing.ReasonNoBuyButton},
		Decision:  substitution.Decision{Action: substitution.ActionSubstitute, Reason: "unavailable (no_buy_button)"},
		Candidate: &model.AlternativeCandidate{AlternativeKey: "B0GPU00002", AlternativeName: "RX 7800", Price: &price},
	})
	out := buf.String()
	assert.Contains(t, out, "available=false reason=no_buy_button")
	assert.Contains(t, out, "Decision:  substitute")
	assert.Contains(t, out, "Proposed:  B0GPU00002 (RX 7800) at 149.00")
}

func TestFormatStats(t *testing.T) {
	var buf bytes.Buffer
	formatStats(&buf, &model.SubstitutionStats{
		Total:       12,
		Substituted: 3,
		ByReason:    map[string]int{"unavailable (no_buy_button)": 2, "operator confirmed substitution": 1},
		ByTier:      map[model.Tier]int{model.TierA: 3},
	})
	out := buf.String()
	assert.Contains(t, out, "Substituted 3 of 12 items")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("unavailable")), bytes.Index(buf.Bytes(), []byte("operator")))
	assert.Contains(t, out, "By tier: A=3 B=0 C=0")
}

func TestFormatJobRuns(t *testing.T) {
	start := time.Date(2026, 8, 3, 3, 0, 0, 0, time.UTC)
	done := start.Add(42 * time.Second)
	var buf bytes.Buffer
	formatJobRuns(&buf, []model.JobRun{
		{Job: "refresh_tier_a", Status: model.JobRunComplete, Trigger: "schedule", StartedAt: start, CompletedAt: &done},
		{Job: "cache_cleanup", Status: model.JobRunRunning, Trigger: "manual", StartedAt: start},
	})
	out := buf.String()
	assert.Contains(t, out, "refresh_tier_a")
	assert.Contains(t, out, "2026-08-03 03:00")
	assert.Contains(t, out, "42s")
	assert.Contains(t, out, "running")
}

func TestFormatAlerts(t *testing.T) {
	var buf bytes.Buffer
	formatAlerts(&buf, []monitoring.Alert{
		{Type: monitoring.AlertJobFailure, Severity: "high", Message: "1 scheduler job(s) failed in last 24h: assign_tiers"},
	})
	out := buf.String()
	assert.Contains(t, out, "SEVERITY")
	assert.Contains(t, out, "job_failure")
	assert.Contains(t, out, "assign_tiers")
}

func TestTruncateText(t *testing.T) {
	assert.Equal(t, "short", truncateText("short", 10))
	assert.Equal(t, "abcdefg...", truncateText("abcdefghijklmnop", 10))
}
