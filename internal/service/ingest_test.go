package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/recallstack/memory-infra/internal/model"
	registrystore "github.com/recallstack/memory-infra/internal/registry/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIngest_PersistsEntryAndIndexesVector(t *testing.T) {
	ctx := context.Background()
	stack := newTestStack()

	resp, err := stack.aggregator.Ingest(ctx, "u1", ingestReq(
		model.ContentTypeArticle, "Brand Voice",
		"We speak with clarity and optimism. Keep sentences crisp.", "voice"))
	require.NoError(t, err)
	assert.True(t, resp.Indexed)
	assert.Equal(t, resp.EntryID, resp.EmbeddingID)
	assert.NotNil(t, resp.RelatedEntries)

	entry, err := stack.records.Get(ctx, "u1", resp.EntryID)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, model.ContentTypeArticle, entry.ContentType)
	assert.Equal(t, 1.0, entry.RelevanceDecay)
	assert.Equal(t, 0, entry.AccessCount)
	assert.Equal(t, []string{"voice"}, entry.Tags)
	assert.Equal(t, EstimateTokens(entry.Content), resp.TokenCount)

	vec, err := stack.vectors.GetVector(ctx, "u1", resp.EntryID)
	require.NoError(t, err)
	assert.NotNil(t, vec)
}

func TestIngest_TruncatesPreview(t *testing.T) {
	ctx := context.Background()
	stack := newTestStack()
	content := strings.Repeat("a", 1200)

	resp, err := stack.aggregator.Ingest(ctx, "u1", ingestReq(model.ContentTypeDocument, "Long", content))
	require.NoError(t, err)

	entry, err := stack.records.Get(ctx, "u1", resp.EntryID)
	require.NoError(t, err)
	assert.Len(t, entry.ContentPreview, model.PreviewLength)
	assert.Equal(t, content, entry.Content, "full content survives truncation")
	assert.Equal(t, 300, resp.TokenCount)
}

func TestIngest_LinksSimilarEntries(t *testing.T) {
	ctx := context.Background()
	stack := newTestStack()
	content := "quarterly revenue forecast assumptions spreadsheet"

	first, err := stack.aggregator.Ingest(ctx, "u1", ingestReq(model.ContentTypeDocument, "Forecast v1", content))
	require.NoError(t, err)
	second, err := stack.aggregator.Ingest(ctx, "u1", ingestReq(model.ContentTypeDocument, "Forecast v2", content))
	require.NoError(t, err)

	assert.Contains(t, second.RelatedEntries, first.EntryID)

	// The first entry gains a symmetric back-link.
	entry, err := stack.records.Get(ctx, "u1", first.EntryID)
	require.NoError(t, err)
	assert.Contains(t, entry.RelatedEntries, second.EntryID)
}

func TestIngest_Validation(t *testing.T) {
	ctx := context.Background()
	stack := newTestStack()

	cases := []struct {
		name  string
		req   *model.IngestRequest
		field string
	}{
		{"unknown content type", ingestReq("tweet", "t", "c"), "content_type"},
		{"empty title", ingestReq(model.ContentTypeDocument, "", "c"), "title"},
		{"title too long", ingestReq(model.ContentTypeDocument, strings.Repeat("t", 201), "c"), "title"},
		{"empty content", ingestReq(model.ContentTypeDocument, "t", ""), "content"},
		{"content too long", ingestReq(model.ContentTypeDocument, "t", strings.Repeat("c", 100001)), "content"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := stack.aggregator.Ingest(ctx, "u1", tc.req)
			var verr *registrystore.ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tc.field, verr.Field)
		})
	}
}

// upsertFailStore refuses to persist entries, simulating a database outage
// that strikes after the vector upsert.
type upsertFailStore struct {
	*fakeRecordStore
}

func (s *upsertFailStore) Upsert(context.Context, *model.MemoryEntry) error {
	return &registrystore.StorageError{Op: "upsert", Err: errors.New("disk full")}
}

func TestIngest_StoreFailureLeavesNoOrphanVector(t *testing.T) {
	ctx := context.Background()
	stack := newTestStack()
	records := &upsertFailStore{fakeRecordStore: stack.records}
	aggregator := NewAggregator(records, stack.indexer, stack.compounding)

	_, err := aggregator.Ingest(ctx, "u1", ingestReq(model.ContentTypeDocument, "Doc", "body text"))
	require.Error(t, err)

	stored, err := stack.vectors.All(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, stored, "the vector is removed when the record never lands")
}

type eventFailStore struct {
	*fakeRecordStore
}

func (s *eventFailStore) AddCompoundingEvent(context.Context, string, string, map[string]interface{}) error {
	return &registrystore.StorageError{Op: "add_compounding_event", Err: errors.New("disk full")}
}

func TestIngest_CompoundingFailureRollsBackRecordAndVector(t *testing.T) {
	ctx := context.Background()
	stack := newTestStack()
	records := &eventFailStore{fakeRecordStore: stack.records}
	compounding := NewCompounding(records, stack.vectors, stack.voice, stack.cache)
	aggregator := NewAggregator(records, stack.indexer, compounding)

	_, err := aggregator.Ingest(ctx, "u1", ingestReq(model.ContentTypeDocument, "Doc", "body text"))
	require.Error(t, err)

	entries, err := stack.records.ListAll(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, entries)
	stored, err := stack.vectors.All(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestIngestBulk_CapturesPerEntryFailures(t *testing.T) {
	ctx := context.Background()
	stack := newTestStack()

	resp, err := stack.aggregator.IngestBulk(ctx, "u1", []model.IngestRequest{
		*ingestReq(model.ContentTypeDocument, "ok one", "first valid entry"),
		*ingestReq(model.ContentTypeDocument, "", "missing title"),
		*ingestReq(model.ContentTypeDocument, "ok two", "second valid entry"),
	})
	require.NoError(t, err)
	assert.Len(t, resp.Successful, 2)
	require.Len(t, resp.Failed, 1)
	assert.Equal(t, 1, resp.Failed[0].Index)
	assert.NotEmpty(t, resp.Failed[0].Error)

	entries, err := stack.records.ListAll(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, entries, 2, "valid entries around the failure still land")
}

func TestIngestBulk_RejectsOversizedBatch(t *testing.T) {
	ctx := context.Background()
	stack := newTestStack()

	batch := make([]model.IngestRequest, model.MaxBulkEntries+1)
	for i := range batch {
		batch[i] = *ingestReq(model.ContentTypeDocument, "t", "c")
	}
	_, err := stack.aggregator.IngestBulk(ctx, "u1", batch)
	var verr *registrystore.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "entries", verr.Field)

	_, err = stack.aggregator.IngestBulk(ctx, "u1", nil)
	require.True(t, errors.As(err, &verr))
}
