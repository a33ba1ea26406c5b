package service

import (
	"context"
	"testing"
	"time"

	"github.com/recallstack/memory-infra/internal/model"
	registryvector "github.com/recallstack/memory-infra/internal/registry/vector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompact_DefaultOnlyDecaysAndRelinks(t *testing.T) {
	ctx := context.Background()
	stack := newTestStack()

	old := &model.MemoryEntry{
		ID: "old", UserID: "u1", ContentType: model.ContentTypeDocument,
		Title: "old", ContentPreview: "p", Content: "c", EmbeddingID: "old",
		IndexedAt:      time.Now().UTC().Add(-120 * 24 * time.Hour),
		RelevanceDecay: 1.0,
	}
	require.NoError(t, stack.records.Upsert(ctx, old))

	result, err := stack.maintenance.Compact(ctx, "u1", false, false)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Decayed)
	assert.Empty(t, result.Removed, "removal requires remove_stale")
	assert.Empty(t, result.Merged, "merging requires merge_duplicates")

	entry, err := stack.records.Get(ctx, "u1", "old")
	require.NoError(t, err)
	require.NotNil(t, entry, "entry survives a default compact")
}

func TestCompact_RemoveStaleDeletesLongUntouched(t *testing.T) {
	ctx := context.Background()
	stack := newTestStack()

	veryOld := &model.MemoryEntry{
		ID: "very-old", UserID: "u1", ContentType: model.ContentTypeDocument,
		Title: "t", ContentPreview: "p", Content: "c", EmbeddingID: "very-old",
		IndexedAt:      time.Now().UTC().Add(-120 * 24 * time.Hour),
		RelevanceDecay: 1.0,
	}
	require.NoError(t, stack.records.Upsert(ctx, veryOld))
	require.NoError(t, stack.vectors.Upsert(ctx, "u1", "very-old", []float32{1, 0}, registryvector.Payload{Type: "document"}))

	merelyStale := &model.MemoryEntry{
		ID: "merely-stale", UserID: "u1", ContentType: model.ContentTypeDocument,
		Title: "t", ContentPreview: "p", Content: "c", EmbeddingID: "merely-stale",
		IndexedAt:      time.Now().UTC().Add(-45 * 24 * time.Hour),
		RelevanceDecay: 1.0,
	}
	require.NoError(t, stack.records.Upsert(ctx, merelyStale))

	result, err := stack.maintenance.Compact(ctx, "u1", true, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"very-old"}, result.Removed, "only entries past 90 days are removed")

	gone, err := stack.records.Get(ctx, "u1", "very-old")
	require.NoError(t, err)
	assert.Nil(t, gone)
	vec, err := stack.vectors.GetVector(ctx, "u1", "very-old")
	require.NoError(t, err)
	assert.Nil(t, vec)

	kept, err := stack.records.Get(ctx, "u1", "merely-stale")
	require.NoError(t, err)
	require.NotNil(t, kept)
	assert.Less(t, kept.RelevanceDecay, 1.0, "stale but kept entries still decay")
}

func TestCompact_MergeDuplicates(t *testing.T) {
	ctx := context.Background()
	stack := newTestStack()
	content := "press release draft for the fall launch event"

	_, err := stack.aggregator.Ingest(ctx, "u1", ingestReq(model.ContentTypeDocument, "Draft", content))
	require.NoError(t, err)
	_, err = stack.aggregator.Ingest(ctx, "u1", ingestReq(model.ContentTypeDocument, "Draft copy", content))
	require.NoError(t, err)

	result, err := stack.maintenance.Compact(ctx, "u1", false, true)
	require.NoError(t, err)
	require.Len(t, result.Merged, 1)

	entries, err := stack.records.ListAll(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
