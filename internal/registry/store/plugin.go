package store

import (
	"context"
	"fmt"
	"time"

	"github.com/recallstack/memory-infra/internal/model"
)

// Sort keys accepted by List. Unrecognized keys fall back to indexed_at.
const (
	SortByIndexedAt      = "indexed_at"
	SortByLastAccessedAt = "last_accessed_at"
	SortByRelevanceDecay = "relevance_decay"
)

// AccessUpdate describes one access-path write: touch last_accessed_at,
// bump access_count, and optionally reset decay to 1.0.
type AccessUpdate struct {
	At         time.Time
	Increment  int
	ResetDecay bool
}

// Stats is the per-user aggregate computed by the store.
type Stats struct {
	TotalEntries  int
	TotalTokens   int
	EntriesByType map[string]int
	Oldest        *time.Time
	Newest        *time.Time
}

// RecordStore is the durable per-user store for memory entries and the
// append-only compounding-event log. Every operation is scoped by user_id;
// implementations must never let one user observe another's rows.
// All mutations are single-statement conditional updates so concurrent
// writers cannot leave a row in a mixed state.
type RecordStore interface {
	// Upsert inserts or replaces the entry keyed by its ID.
	Upsert(ctx context.Context, entry *model.MemoryEntry) error

	// Get returns the entry, or nil when it does not exist for this user.
	Get(ctx context.Context, userID, entryID string) (*model.MemoryEntry, error)

	// List returns a typed, paginated page sorted descending by sortBy.
	List(ctx context.Context, userID, contentType string, limit, offset int, sortBy string) ([]model.MemoryEntry, error)

	// ListAll enumerates every entry of the user, for maintenance scans.
	ListAll(ctx context.Context, userID string) ([]model.MemoryEntry, error)

	// Delete removes the entry; reports whether a row was removed.
	Delete(ctx context.Context, userID, entryID string) (bool, error)

	// UpdateAccess applies an access-path write to the entry.
	UpdateAccess(ctx context.Context, userID, entryID string, update AccessUpdate) error

	// UpdateRelatedEntries replaces the entry's link set.
	UpdateRelatedEntries(ctx context.Context, userID, entryID string, related []string) error

	// UpdateDecay sets relevance_decay. Callers enforce the floor.
	UpdateDecay(ctx context.Context, userID, entryID string, decay float64) error

	// UpdateContentFields replaces title, preview, and tags (merge path).
	UpdateContentFields(ctx context.Context, userID, entryID, title, preview string, tags []string) error

	// AddCompoundingEvent appends one event to the user's log.
	AddCompoundingEvent(ctx context.Context, userID, eventType string, details map[string]interface{}) error

	// CompoundingEvents returns up to limit events, newest first.
	CompoundingEvents(ctx context.Context, userID string, limit int) ([]model.CompoundingEvent, error)

	// GetStats aggregates the user's entries grouped by content type.
	GetStats(ctx context.Context, userID string) (*Stats, error)

	// ListUserIDs enumerates users with at least one entry, for maintenance.
	ListUserIDs(ctx context.Context) ([]string, error)

	// Name returns the plugin name (e.g. "sqlite", "postgres").
	Name() string
}

// Loader creates a RecordStore from config.
type Loader func(ctx context.Context) (RecordStore, error)

// Plugin represents a record store plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a record store plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered record store plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named record store plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown record store %q; valid: %v", name, Names())
}
