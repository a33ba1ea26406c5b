package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	registryembed "github.com/recallstack/memory-infra/internal/registry/embed"
	registrystore "github.com/recallstack/memory-infra/internal/registry/store"
	registryvector "github.com/recallstack/memory-infra/internal/registry/vector"
)

// Indexer embeds content and writes it to the vector index.
type Indexer struct {
	vectors  registryvector.VectorStore
	embedder registryembed.Embedder
}

// NewIndexer creates an indexer over the given vector store and embedder.
func NewIndexer(vectors registryvector.VectorStore, embedder registryembed.Embedder) *Indexer {
	return &Indexer{vectors: vectors, embedder: embedder}
}

// IndexResult reports the outcome of indexing one piece of content.
type IndexResult struct {
	DocID       string
	EmbeddingID string
	IndexedAt   time.Time
	TokenCount  int
}

// IndexTextContent embeds content and upserts it under docID, generating an
// ID when none is given. The embedding ID equals the doc ID.
func (ix *Indexer) IndexTextContent(ctx context.Context, userID, docID, content string, payload registryvector.Payload) (*IndexResult, error) {
	vec, err := registryembed.EmbedText(ctx, ix.embedder, content)
	if err != nil {
		return nil, &registrystore.CapabilityError{Capability: "embedding", Err: err}
	}
	if docID == "" {
		docID = uuid.NewString()
	}
	if err := ix.vectors.Init(ctx, userID); err != nil {
		return nil, err
	}
	if err := ix.vectors.Upsert(ctx, userID, docID, vec, payload); err != nil {
		return nil, err
	}
	return &IndexResult{
		DocID:       docID,
		EmbeddingID: docID,
		IndexedAt:   time.Now().UTC(),
		TokenCount:  EstimateTokens(content),
	}, nil
}

// DeleteIndexedContent removes the document from the vector index and reports
// whether it existed.
func (ix *Indexer) DeleteIndexedContent(ctx context.Context, userID, docID string) (bool, error) {
	return ix.vectors.Delete(ctx, userID, docID)
}
