package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/partwise/pricing-cli/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func ptr[T any](v T) *T { return &v }

// --- Items ---

func TestSQLite_CreateAndGetItem(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	item := &model.Item{Name: "Ryzen 7 7800X3D", ComponentType: "cpu", ExternalKey: "B0BTZB7F88", Price: 389}
	require.NoError(t, st.CreateItem(ctx, item))
	assert.NotEmpty(t, item.ID)

	got, err := st.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TierC, got.Tier)
	assert.InDelta(t, 389.0, got.OriginalPrice, 0.001)
	assert.Nil(t, got.PriceUpdatedAt)
	assert.False(t, got.Substituted)
}

func TestSQLite_GetItem_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)

	_, err := st.GetItem(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNotFound))
}

func TestSQLite_UpdateItem_KeepsOriginalPrice(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	item := &model.Item{ExternalKey: "K1", Price: 100}
	require.NoError(t, st.CreateItem(ctx, item))

	now := time.Now().UTC().Truncate(time.Second)
	item.Price = 120
	item.OriginalPrice = 999
	item.PriceSource = "marketplace"
	item.PriceUpdatedAt = &now
	require.NoError(t, st.UpdateItem(ctx, item))

	got, err := st.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.InDelta(t, 120.0, got.Price, 0.001)
	assert.InDelta(t, 100.0, got.OriginalPrice, 0.001)
	require.NotNil(t, got.PriceUpdatedAt)
	assert.True(t, now.Equal(*got.PriceUpdatedAt))
}

func TestSQLite_UpdateItem_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)

	err := st.UpdateItem(context.Background(), &model.Item{ID: "nope", ExternalKey: "K"})
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNotFound))
}

func TestSQLite_ListItems_OrderAndFilter(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	old := time.Now().Add(-48 * time.Hour)
	recent := time.Now().Add(-1 * time.Hour)

	items := []*model.Item{
		{ID: "a-recent", ExternalKey: "K1", Tier: model.TierA, PriceUpdatedAt: &recent},
		{ID: "a-never", ExternalKey: "K2", Tier: model.TierA},
		{ID: "a-old", ExternalKey: "K3", Tier: model.TierA, PriceUpdatedAt: &old},
		{ID: "b-one", ExternalKey: "K4", Tier: model.TierB},
	}
	for _, it := range items {
		require.NoError(t, st.CreateItem(ctx, it))
	}

	got, err := st.ListItems(ctx, model.ItemFilter{Tier: model.TierA})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "a-never", got[0].ID)
	assert.Equal(t, "a-old", got[1].ID)
	assert.Equal(t, "a-recent", got[2].ID)

	got, err = st.ListItems(ctx, model.ItemFilter{Tier: model.TierA, Limit: 1})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestSQLite_SubstituteAndRestore(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	item := &model.Item{ExternalKey: "ORIG", Name: "Original", Price: 150, Tier: model.TierA}
	require.NoError(t, st.CreateItem(ctx, item))
	before := *item

	item.ExternalKey = "ALT"
	item.Name = "Alternative"
	item.Price = 140
	item.Substituted = true
	item.SubstitutionReason = "unavailable"
	item.OriginalExternalKey = "ORIG"
	require.NoError(t, st.SubstituteItem(ctx, item, model.ItemSnapshot{ItemID: item.ID, Item: before}))

	// A second substitution keeps the first snapshot.
	second := *item
	second.ExternalKey = "ALT2"
	require.NoError(t, st.SubstituteItem(ctx, &second, model.ItemSnapshot{ItemID: item.ID, Item: *item}))

	snap, err := st.GetSnapshot(ctx, item.ID)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, "ORIG", snap.Item.ExternalKey)
	assert.InDelta(t, 150.0, snap.Item.Price, 0.001)

	restored := second
	restored.ExternalKey = snap.Item.ExternalKey
	restored.Name = snap.Item.Name
	restored.Price = snap.Item.Price
	restored.Substituted = false
	restored.SubstitutionReason = ""
	restored.OriginalExternalKey = ""
	require.NoError(t, st.RestoreItem(ctx, &restored))

	got, err := st.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, "ORIG", got.ExternalKey)
	assert.False(t, got.Substituted)

	snap, err = st.GetSnapshot(ctx, item.ID)
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestSQLite_SubstitutionStats(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	for _, it := range []*model.Item{
		{ExternalKey: "K1", Tier: model.TierA, BuildID: "b1", Substituted: true, SubstitutionReason: "unavailable"},
		{ExternalKey: "K2", Tier: model.TierA, BuildID: "b1", Substituted: true, SubstitutionReason: "price_increase"},
		{ExternalKey: "K3", Tier: model.TierB, BuildID: "b1"},
		{ExternalKey: "K4", Tier: model.TierB, BuildID: "b2", Substituted: true, SubstitutionReason: "unavailable"},
	} {
		require.NoError(t, st.CreateItem(ctx, it))
	}

	stats, err := st.SubstitutionStats(ctx, model.ItemFilter{BuildID: "b1"})
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.Substituted)
	assert.Equal(t, 1, stats.ByReason["unavailable"])
	assert.Equal(t, 1, stats.ByReason["price_increase"])
	assert.Equal(t, 2, stats.ByTier[model.TierA])

	stats, err = st.SubstitutionStats(ctx, model.ItemFilter{})
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, 3, stats.Substituted)
}

// --- Price cache ---

func TestSQLite_PriceCache_UpsertAndGet(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	entry := model.PriceCacheEntry{
		ExternalKey: "K1", Price: 99.9, Source: "marketplace",
		CheckedAt: now, ExpiresAt: now.Add(24 * time.Hour),
	}
	require.NoError(t, st.UpsertPriceCache(ctx, entry))

	entry.Price = 89.9
	entry.Source = "jina"
	require.NoError(t, st.UpsertPriceCache(ctx, entry))

	got, err := st.GetPriceCache(ctx, "K1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.InDelta(t, 89.9, got.Price, 0.001)
	assert.Equal(t, "jina", got.Source)
	assert.True(t, got.Fresh(now))
}

func TestSQLite_PriceCache_Missing(t *testing.T) {
	st := newTestSQLiteStore(t)

	got, err := st.GetPriceCache(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLite_DeleteStalePriceCache(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	require.NoError(t, st.UpsertPriceCache(ctx, model.PriceCacheEntry{
		ExternalKey: "stale", Price: 1, Source: "s", CheckedAt: now, ExpiresAt: now.Add(-10 * 24 * time.Hour),
	}))
	require.NoError(t, st.UpsertPriceCache(ctx, model.PriceCacheEntry{
		ExternalKey: "grace", Price: 1, Source: "s", CheckedAt: now, ExpiresAt: now.Add(-2 * 24 * time.Hour),
	}))

	n, err := st.DeleteStalePriceCache(ctx, now.Add(-7*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := st.GetPriceCache(ctx, "grace")
	require.NoError(t, err)
	assert.NotNil(t, got)
}

// --- Alternatives ---

func TestSQLite_ListCandidates_Ordering(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	cat := &model.AlternativeCategory{Name: "ssd-1tb", ComponentType: "ssd"}
	require.NoError(t, st.UpsertCategory(ctx, cat))
	require.NotZero(t, cat.ID)

	// Re-upserting the same name keeps the id.
	again := &model.AlternativeCategory{Name: "ssd-1tb", ComponentType: "ssd", Description: "1TB NVMe"}
	require.NoError(t, st.UpsertCategory(ctx, again))
	assert.Equal(t, cat.ID, again.ID)

	cands := []*model.AlternativeCandidate{
		{CategoryID: &cat.ID, AlternativeKey: "C", Priority: 1, Active: true},
		{CategoryID: &cat.ID, AlternativeKey: "B", Priority: 1, Price: ptr(80.0), Active: true},
		{CategoryID: &cat.ID, AlternativeKey: "A", Priority: 0, Price: ptr(95.0), Active: true},
		{CategoryID: &cat.ID, AlternativeKey: "off", Priority: 0, Active: false},
		{OriginalKey: "ORIG", AlternativeKey: "D", Priority: 5, Price: ptr(70.0), Active: true},
	}
	for _, c := range cands {
		require.NoError(t, st.CreateCandidate(ctx, c))
	}

	got, err := st.ListCandidates(ctx, "ORIG", "ssd")
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, "A", got[0].AlternativeKey)
	assert.Equal(t, "B", got[1].AlternativeKey)
	assert.Equal(t, "C", got[2].AlternativeKey)
	assert.Equal(t, "D", got[3].AlternativeKey)
	assert.Equal(t, "ssd", got[0].ComponentType)

	got, err = st.ListCandidates(ctx, "ORIG", "")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "D", got[0].AlternativeKey)
}

func TestSQLite_UpdateCandidatePrice(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	c := &model.AlternativeCandidate{OriginalKey: "ORIG", AlternativeKey: "ALT", Active: true, Rating: ptr(4.2)}
	require.NoError(t, st.CreateCandidate(ctx, c))

	require.NoError(t, st.UpdateCandidatePrice(ctx, c.ID, 55.5, nil, time.Now()))

	got, err := st.ListCandidates(ctx, "ORIG", "")
	require.NoError(t, err)
	require.Len(t, got, 1)
	price, ok := got[0].KnownPrice()
	assert.True(t, ok)
	assert.InDelta(t, 55.5, price, 0.001)
	require.NotNil(t, got[0].Rating)
	assert.InDelta(t, 4.2, *got[0].Rating, 0.001)
	assert.NotNil(t, got[0].PriceCheckedAt)

	err = st.UpdateCandidatePrice(ctx, 9999, 1, nil, time.Now())
	assert.True(t, eris.Is(err, ErrNotFound))
}

// --- Job runs ---

func TestSQLite_JobRuns(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	first, err := st.StartJobRun(ctx, "refresh_tier_a", "schedule")
	require.NoError(t, err)
	require.NoError(t, st.FinishJobRun(ctx, first.ID, model.JobRunFailed, nil, "boom"))

	time.Sleep(2 * time.Millisecond)
	second, err := st.StartJobRun(ctx, "refresh_tier_a", "manual")
	require.NoError(t, err)
	summary := json.RawMessage(`{"total":3}`)
	require.NoError(t, st.FinishJobRun(ctx, second.ID, model.JobRunComplete, summary, ""))

	_, err = st.StartJobRun(ctx, "cache_cleanup", "schedule")
	require.NoError(t, err)

	runs, err := st.LatestJobRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	assert.Equal(t, "cache_cleanup", runs[0].Job)
	assert.Equal(t, model.JobRunRunning, runs[0].Status)
	assert.Nil(t, runs[0].CompletedAt)

	assert.Equal(t, second.ID, runs[1].ID)
	assert.Equal(t, model.JobRunComplete, runs[1].Status)
	assert.Equal(t, "manual", runs[1].Trigger)
	assert.JSONEq(t, `{"total":3}`, string(runs[1].Summary))
	assert.NotNil(t, runs[1].CompletedAt)
}
