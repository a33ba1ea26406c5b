package service

import (
	"context"
	"testing"
	"time"

	"github.com/recallstack/memory-infra/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOnContentAdded_UpdatesVoiceProfileForVoiceWorthyTypes(t *testing.T) {
	ctx := context.Background()
	stack := newTestStack()

	resp, err := stack.aggregator.Ingest(ctx, "u1", ingestReq(
		model.ContentTypeArticle, "Brand Voice",
		"We speak with clarity and optimism. Keep sentences crisp."))
	require.NoError(t, err)
	require.NotEmpty(t, resp.EntryID)

	profile, err := stack.voice.GetProfile(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, profile)
	assert.Equal(t, 1, profile.SampleSize)
	assert.Greater(t, profile.Confidence, 0.0)
}

func TestOnContentAdded_SkipsVoiceForNonTextTypes(t *testing.T) {
	ctx := context.Background()
	stack := newTestStack()

	result, err := stack.compounding.OnContentAdded(ctx, "u1", "e1", "some clip transcript", model.ContentTypeVideo)
	require.NoError(t, err)
	assert.False(t, result.VoiceProfileUpdated)
	assert.Equal(t, 0.0, result.ConfidenceDelta)

	profile, err := stack.voice.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, profile)
}

func TestOnContentAdded_ReportsConfidenceDelta(t *testing.T) {
	ctx := context.Background()
	stack := newTestStack()

	first, err := stack.compounding.OnContentAdded(ctx, "u1", "e1", "steady morning writing", model.ContentTypeTextSnippet)
	require.NoError(t, err)
	assert.InDelta(t, 0.8, first.ConfidenceDelta, 1e-9, "first sample reports the full confidence")

	second, err := stack.compounding.OnContentAdded(ctx, "u1", "e2", "steady evening writing", model.ContentTypeTextSnippet)
	require.NoError(t, err)
	assert.InDelta(t, 0.1, second.ConfidenceDelta, 1e-9)
}

func TestOnContentAdded_LogsEvent(t *testing.T) {
	ctx := context.Background()
	stack := newTestStack()

	_, err := stack.compounding.OnContentAdded(ctx, "u1", "e1", "note", model.ContentTypeLink)
	require.NoError(t, err)

	events, err := stack.compounding.History(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, model.EventContentAdded, events[0].EventType)
	assert.Equal(t, "e1", events[0].Details["entry_id"])
}

func TestOnContentAccessed_TouchesEntryAndResetsDecay(t *testing.T) {
	ctx := context.Background()
	stack := newTestStack()

	resp, err := stack.aggregator.Ingest(ctx, "u1", ingestReq(model.ContentTypeDocument, "Doc", "body text"))
	require.NoError(t, err)
	require.NoError(t, stack.records.UpdateDecay(ctx, "u1", resp.EntryID, 0.3))

	require.NoError(t, stack.compounding.OnContentAccessed(ctx, "u1", resp.EntryID, "retrieval"))

	entry, err := stack.records.Get(ctx, "u1", resp.EntryID)
	require.NoError(t, err)
	assert.Equal(t, 1, entry.AccessCount)
	assert.Equal(t, 1.0, entry.RelevanceDecay)
	require.NotNil(t, entry.LastAccessedAt)

	events, err := stack.compounding.History(ctx, "u1", 1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, model.EventContentAccessed, events[0].EventType)
	assert.Equal(t, "retrieval", events[0].Details["context"])
}

func TestDecayStaleEntries_AppliesRateWithFloor(t *testing.T) {
	ctx := context.Background()
	stack := newTestStack()

	stale := &model.MemoryEntry{
		ID: "old", UserID: "u1", ContentType: model.ContentTypeDocument,
		Title: "old", ContentPreview: "p", Content: "c", EmbeddingID: "old",
		IndexedAt:      time.Now().UTC().Add(-60 * 24 * time.Hour),
		RelevanceDecay: 1.0,
	}
	fresh := &model.MemoryEntry{
		ID: "new", UserID: "u1", ContentType: model.ContentTypeDocument,
		Title: "new", ContentPreview: "p", Content: "c", EmbeddingID: "new",
		IndexedAt:      time.Now().UTC(),
		RelevanceDecay: 1.0,
	}
	floored := &model.MemoryEntry{
		ID: "floored", UserID: "u1", ContentType: model.ContentTypeDocument,
		Title: "floored", ContentPreview: "p", Content: "c", EmbeddingID: "floored",
		IndexedAt:      time.Now().UTC().Add(-60 * 24 * time.Hour),
		RelevanceDecay: model.DecayFloor,
	}
	for _, e := range []*model.MemoryEntry{stale, fresh, floored} {
		require.NoError(t, stack.records.Upsert(ctx, e))
	}

	decayed, err := stack.compounding.DecayStaleEntries(ctx, "u1", DecayAfter, DecayRate)
	require.NoError(t, err)
	assert.Equal(t, 2, decayed)

	got, _ := stack.records.Get(ctx, "u1", "old")
	assert.InDelta(t, 0.95, got.RelevanceDecay, 1e-9)
	got, _ = stack.records.Get(ctx, "u1", "new")
	assert.Equal(t, 1.0, got.RelevanceDecay, "fresh entries never decay")
	got, _ = stack.records.Get(ctx, "u1", "floored")
	assert.Equal(t, model.DecayFloor, got.RelevanceDecay, "decay never drops below the floor")
}

func TestDecayStaleEntries_RecentAccessPreventsDecay(t *testing.T) {
	ctx := context.Background()
	stack := newTestStack()

	now := time.Now().UTC()
	entry := &model.MemoryEntry{
		ID: "e1", UserID: "u1", ContentType: model.ContentTypeDocument,
		Title: "t", ContentPreview: "p", Content: "c", EmbeddingID: "e1",
		IndexedAt:      now.Add(-60 * 24 * time.Hour),
		LastAccessedAt: &now,
		RelevanceDecay: 1.0,
	}
	require.NoError(t, stack.records.Upsert(ctx, entry))

	decayed, err := stack.compounding.DecayStaleEntries(ctx, "u1", DecayAfter, DecayRate)
	require.NoError(t, err)
	assert.Equal(t, 0, decayed)
}

func TestDecayStaleEntries_ZeroWindowDecaysEverything(t *testing.T) {
	ctx := context.Background()
	stack := newTestStack()

	resp, err := stack.aggregator.Ingest(ctx, "u1", ingestReq(model.ContentTypeTextSnippet, "Snippet", "a fresh snippet"))
	require.NoError(t, err)

	decayed, err := stack.compounding.DecayStaleEntries(ctx, "u1", 0, 0.5)
	require.NoError(t, err)
	assert.Equal(t, 1, decayed)

	got, err := stack.records.Get(ctx, "u1", resp.EntryID)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, got.RelevanceDecay, 1e-9)
}

func TestFindNewConnections_GrowsWithoutShrinking(t *testing.T) {
	ctx := context.Background()
	stack := newTestStack()
	content := "pricing strategy deck for the spring launch"

	first, err := stack.aggregator.Ingest(ctx, "u1", ingestReq(model.ContentTypeDocument, "Deck v1", content))
	require.NoError(t, err)
	second, err := stack.aggregator.Ingest(ctx, "u1", ingestReq(model.ContentTypeDocument, "Deck v2", content))
	require.NoError(t, err)

	// Replace the auto-discovered link with a manually planted one: the
	// re-linking pass must restore the similarity link without dropping it.
	require.NoError(t, stack.records.UpdateRelatedEntries(ctx, "u1", first.EntryID, []string{"manual-link"}))

	newLinks, err := stack.compounding.FindNewConnections(ctx, "u1")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, newLinks, 1)

	entry, err := stack.records.Get(ctx, "u1", first.EntryID)
	require.NoError(t, err)
	assert.Contains(t, entry.RelatedEntries, "manual-link")
	assert.Contains(t, entry.RelatedEntries, second.EntryID)
}

func TestMergeNearDuplicates(t *testing.T) {
	ctx := context.Background()
	stack := newTestStack()
	content := "weekly newsletter draft about compounding habits"

	first, err := stack.aggregator.Ingest(ctx, "u1", ingestReq(model.ContentTypeDocument, "Draft", content, "draft"))
	require.NoError(t, err)
	second, err := stack.aggregator.Ingest(ctx, "u1", ingestReq(model.ContentTypeDocument, "Draft copy", content, "copy"))
	require.NoError(t, err)

	// Force distinct indexing times so the survivor choice is unambiguous.
	older, _ := stack.records.Get(ctx, "u1", first.EntryID)
	older.IndexedAt = older.IndexedAt.Add(-time.Hour)
	require.NoError(t, stack.records.Upsert(ctx, older))

	merged, err := stack.compounding.MergeNearDuplicates(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, merged, 1)
	assert.Equal(t, second.EntryID, merged[0].SurvivorID, "the later entry survives")
	assert.Equal(t, first.EntryID, merged[0].RemovedID)

	gone, err := stack.records.Get(ctx, "u1", first.EntryID)
	require.NoError(t, err)
	assert.Nil(t, gone)
	vec, err := stack.vectors.GetVector(ctx, "u1", first.EntryID)
	require.NoError(t, err)
	assert.Nil(t, vec, "vector removed with the record")

	survivor, err := stack.records.Get(ctx, "u1", second.EntryID)
	require.NoError(t, err)
	assert.Equal(t, []string{"copy", "draft"}, survivor.Tags, "tags union, survivor first")
	assert.NotContains(t, survivor.RelatedEntries, first.EntryID, "links to merged entries are dropped")

	events, err := stack.compounding.History(ctx, "u1", 1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, model.EventMergeDuplicates, events[0].EventType)
}

func TestMergeNearDuplicates_DistinctContentUntouched(t *testing.T) {
	ctx := context.Background()
	stack := newTestStack()

	_, err := stack.aggregator.Ingest(ctx, "u1", ingestReq(model.ContentTypeDocument, "A", "completely different topic about gardening tools"))
	require.NoError(t, err)
	_, err = stack.aggregator.Ingest(ctx, "u1", ingestReq(model.ContentTypeDocument, "B", "unrelated notes on orchestra rehearsal schedules"))
	require.NoError(t, err)

	merged, err := stack.compounding.MergeNearDuplicates(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, merged)

	entries, err := stack.records.ListAll(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestRunScheduled_SweepsAllUsers(t *testing.T) {
	ctx := context.Background()
	stack := newTestStack()

	for _, userID := range []string{"u1", "u2"} {
		entry := &model.MemoryEntry{
			ID: userID + "-old", UserID: userID, ContentType: model.ContentTypeDocument,
			Title: "t", ContentPreview: "p", Content: "c", EmbeddingID: userID + "-old",
			IndexedAt:      time.Now().UTC().Add(-60 * 24 * time.Hour),
			RelevanceDecay: 1.0,
		}
		require.NoError(t, stack.records.Upsert(ctx, entry))
	}

	stack.compounding.RunScheduled(ctx, model.EventDecay)

	for _, userID := range []string{"u1", "u2"} {
		entry, err := stack.records.Get(ctx, userID, userID+"-old")
		require.NoError(t, err)
		assert.Less(t, entry.RelevanceDecay, 1.0)
	}
}
