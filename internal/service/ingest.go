package service

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/recallstack/memory-infra/internal/model"
	registrystore "github.com/recallstack/memory-infra/internal/registry/store"
	registryvector "github.com/recallstack/memory-infra/internal/registry/vector"
	"github.com/recallstack/memory-infra/internal/telemetry"
)

const (
	maxTitleLength   = 200
	maxContentLength = 100000
)

// Aggregator runs the ingest pipeline: validate, embed and index, persist the
// durable record, then hand the entry to the compounding engine.
type Aggregator struct {
	records     registrystore.RecordStore
	indexer     *Indexer
	compounding *Compounding
}

// NewAggregator creates the ingest pipeline.
func NewAggregator(records registrystore.RecordStore, indexer *Indexer, compounding *Compounding) *Aggregator {
	return &Aggregator{records: records, indexer: indexer, compounding: compounding}
}

// ValidateIngest checks an ingest request against the declared field bounds.
func ValidateIngest(req *model.IngestRequest) error {
	if !req.ContentType.Valid() {
		return &registrystore.ValidationError{Field: "content_type", Message: fmt.Sprintf("unknown content type %q", req.ContentType)}
	}
	if req.Title == "" {
		return &registrystore.ValidationError{Field: "title", Message: "must not be empty"}
	}
	if len(req.Title) > maxTitleLength {
		return &registrystore.ValidationError{Field: "title", Message: fmt.Sprintf("must be at most %d characters", maxTitleLength)}
	}
	if req.Content == "" {
		return &registrystore.ValidationError{Field: "content", Message: "must not be empty"}
	}
	if len(req.Content) > maxContentLength {
		return &registrystore.ValidationError{Field: "content", Message: fmt.Sprintf("must be at most %d characters", maxContentLength)}
	}
	return nil
}

// Ingest indexes one piece of content and returns the stored entry's identity
// along with what compounding found for it.
func (a *Aggregator) Ingest(ctx context.Context, userID string, req *model.IngestRequest) (*model.IngestResponse, error) {
	start := time.Now()
	if err := ValidateIngest(req); err != nil {
		return nil, err
	}

	entryID := uuid.NewString()
	indexResult, err := a.indexer.IndexTextContent(ctx, userID, entryID, req.Content, registryvector.Payload{
		Type:      string(req.ContentType),
		Title:     req.Title,
		CreatedAt: time.Now().UTC(),
		Extra:     req.Metadata,
	})
	if err != nil {
		return nil, err
	}

	preview := req.Content
	if len(preview) > model.PreviewLength {
		preview = preview[:model.PreviewLength]
	}
	tags := req.Tags
	if tags == nil {
		tags = []string{}
	}
	entry := &model.MemoryEntry{
		ID:             indexResult.DocID,
		UserID:         userID,
		ContentType:    req.ContentType,
		Title:          req.Title,
		ContentPreview: preview,
		Content:        req.Content,
		EmbeddingID:    indexResult.EmbeddingID,
		IndexedAt:      indexResult.IndexedAt,
		AccessCount:    0,
		RelevanceDecay: 1.0,
		SourceURL:      req.SourceURL,
		SourceMetadata: req.Metadata,
		RelatedEntries: []string{},
		Tags:           tags,
		TokenCount:     EstimateTokens(req.Content),
	}
	if err := a.records.Upsert(ctx, entry); err != nil {
		a.rollbackIngest(ctx, userID, entry.ID, false)
		return nil, err
	}

	if _, err := a.compounding.OnContentAdded(ctx, userID, entry.ID, req.Content, req.ContentType); err != nil {
		a.rollbackIngest(ctx, userID, entry.ID, true)
		return nil, err
	}

	if telemetry.IngestedEntriesTotal != nil {
		telemetry.IngestedEntriesTotal.Inc()
	}
	related, err := a.compounding.Related(ctx, userID, entry.ID)
	if err != nil {
		return nil, err
	}
	return &model.IngestResponse{
		EntryID:          entry.ID,
		Indexed:          true,
		EmbeddingID:      entry.EmbeddingID,
		TokenCount:       entry.TokenCount,
		RelatedEntries:   related,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
	}, nil
}

// rollbackIngest undoes a partially ingested entry so the record store and the
// vector index never disagree about which entries exist.
func (a *Aggregator) rollbackIngest(ctx context.Context, userID, entryID string, recordStored bool) {
	if recordStored {
		if _, err := a.records.Delete(ctx, userID, entryID); err != nil {
			log.Warn("Failed to roll back memory record", "user_id", userID, "entry_id", entryID, "err", err)
		}
	}
	if _, err := a.indexer.DeleteIndexedContent(ctx, userID, entryID); err != nil {
		log.Warn("Failed to roll back indexed vector", "user_id", userID, "entry_id", entryID, "err", err)
	}
}

// IngestBulk processes entries in order. A failing entry is recorded with its
// index and does not abort the rest of the batch.
func (a *Aggregator) IngestBulk(ctx context.Context, userID string, entries []model.IngestRequest) (*model.BulkIngestResponse, error) {
	if len(entries) == 0 {
		return nil, &registrystore.ValidationError{Field: "entries", Message: "must not be empty"}
	}
	if len(entries) > model.MaxBulkEntries {
		return nil, &registrystore.ValidationError{Field: "entries", Message: fmt.Sprintf("must contain at most %d entries", model.MaxBulkEntries)}
	}

	start := time.Now()
	resp := &model.BulkIngestResponse{
		Successful: []model.IngestResponse{},
		Failed:     []model.BulkIngestFailure{},
	}
	for i := range entries {
		single, err := a.Ingest(ctx, userID, &entries[i])
		if err != nil {
			resp.Failed = append(resp.Failed, model.BulkIngestFailure{Index: i, Error: err.Error()})
			continue
		}
		resp.Successful = append(resp.Successful, *single)
	}
	resp.TotalProcessingTimeMs = time.Since(start).Milliseconds()
	return resp, nil
}
