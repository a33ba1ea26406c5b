package vector

import (
	"context"
	"fmt"
	"time"
)

// Payload mirrors the key metadata stored alongside each vector so type
// filtering works without a record-store join. Extra holds any additional
// metadata the caller attached; search never reads it.
type Payload struct {
	Type      string                 `json:"type"`
	Title     string                 `json:"title"`
	CreatedAt time.Time              `json:"created_at"`
	Extra     map[string]interface{} `json:"extra,omitempty"`
}

// SearchResult is a single vector search hit.
type SearchResult struct {
	DocID   string  `json:"doc_id"`
	Score   float64 `json:"score"`
	Payload Payload `json:"payload"`
}

// StoredVector is one (doc_id, vector, payload) tuple from an enumeration.
type StoredVector struct {
	DocID   string
	Vector  []float32
	Payload Payload
}

// VectorStore is a per-user logical collection of vectors with cosine
// similarity search. Operations on missing collections or documents return
// zero values, never errors.
type VectorStore interface {
	// Init ensures the user's collection exists. Idempotent.
	Init(ctx context.Context, userID string) error

	// Upsert stores or replaces the vector and payload for doc_id.
	Upsert(ctx context.Context, userID, docID string, vec []float32, payload Payload) error

	// Search returns at most limit results with score >= threshold, sorted
	// by score descending; ties break by doc_id ascending. An empty
	// typeFilter matches all payload types.
	Search(ctx context.Context, userID string, query []float32, limit int, threshold float64, typeFilter string) ([]SearchResult, error)

	// Delete removes the document; reports whether one was removed.
	Delete(ctx context.Context, userID, docID string) (bool, error)

	// GetVector returns the stored vector, or nil when absent.
	GetVector(ctx context.Context, userID, docID string) ([]float32, error)

	// All enumerates the user's collection, for compounding scans.
	All(ctx context.Context, userID string) ([]StoredVector, error)

	// Name returns the plugin name (e.g. "memory", "qdrant").
	Name() string
}

// Loader creates a VectorStore from config.
type Loader func(ctx context.Context) (VectorStore, error)

// Plugin represents a vector store plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a vector store plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered vector store plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named vector store plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown vector store %q; valid: %v", name, Names())
}
