package service

import (
	"context"
	"sort"
	"time"

	"github.com/recallstack/memory-infra/internal/model"
	embedlocal "github.com/recallstack/memory-infra/internal/plugin/embed/local"
	vectormemory "github.com/recallstack/memory-infra/internal/plugin/vector/memory"
	voicelocal "github.com/recallstack/memory-infra/internal/plugin/voice/local"
	registrystore "github.com/recallstack/memory-infra/internal/registry/store"
)

// testStack wires the full service stack over in-process backends.
type testStack struct {
	records     *fakeRecordStore
	vectors     *vectormemory.Store
	voice       *voicelocal.Store
	cache       *mapCache
	indexer     *Indexer
	compounding *Compounding
	aggregator  *Aggregator
	builder     *ContextBuilder
	stats       *Stats
	maintenance *Maintenance
}

func newTestStack() *testStack {
	records := newFakeRecordStore()
	vectors := vectormemory.New()
	embedder := embedlocal.New(256)
	voice := voicelocal.New()
	cache := newMapCache()

	indexer := NewIndexer(vectors, embedder)
	compounding := NewCompounding(records, vectors, voice, cache)
	return &testStack{
		records:     records,
		vectors:     vectors,
		voice:       voice,
		cache:       cache,
		indexer:     indexer,
		compounding: compounding,
		aggregator:  NewAggregator(records, indexer, compounding),
		builder:     NewContextBuilder(records, vectors, embedder, voice),
		stats:       NewStats(records, vectors, voice),
		maintenance: NewMaintenance(records, vectors, compounding),
	}
}

func ingestReq(contentType model.ContentType, title, content string, tags ...string) *model.IngestRequest {
	return &model.IngestRequest{
		ContentType: contentType,
		Title:       title,
		Content:     content,
		Tags:        tags,
	}
}

// fakeRecordStore is an in-memory RecordStore for unit tests, so services can
// be exercised without a database.
type fakeRecordStore struct {
	entries map[string]map[string]*model.MemoryEntry
	events  map[string][]model.CompoundingEvent
}

func newFakeRecordStore() *fakeRecordStore {
	return &fakeRecordStore{
		entries: map[string]map[string]*model.MemoryEntry{},
		events:  map[string][]model.CompoundingEvent{},
	}
}

func (f *fakeRecordStore) Name() string { return "fake" }

func (f *fakeRecordStore) Upsert(_ context.Context, entry *model.MemoryEntry) error {
	user, ok := f.entries[entry.UserID]
	if !ok {
		user = map[string]*model.MemoryEntry{}
		f.entries[entry.UserID] = user
	}
	cp := *entry
	user[entry.ID] = &cp
	return nil
}

func (f *fakeRecordStore) Get(_ context.Context, userID, entryID string) (*model.MemoryEntry, error) {
	entry, ok := f.entries[userID][entryID]
	if !ok {
		return nil, nil
	}
	cp := *entry
	return &cp, nil
}

func (f *fakeRecordStore) List(_ context.Context, userID, contentType string, limit, offset int, sortBy string) ([]model.MemoryEntry, error) {
	var out []model.MemoryEntry
	for _, entry := range f.entries[userID] {
		if contentType != "" && string(entry.ContentType) != contentType {
			continue
		}
		out = append(out, *entry)
	}
	sort.Slice(out, func(i, j int) bool {
		switch sortBy {
		case registrystore.SortByLastAccessedAt:
			return out[i].LastTouched().After(out[j].LastTouched())
		case registrystore.SortByRelevanceDecay:
			return out[i].RelevanceDecay > out[j].RelevanceDecay
		default:
			if !out[i].IndexedAt.Equal(out[j].IndexedAt) {
				return out[i].IndexedAt.After(out[j].IndexedAt)
			}
			return out[i].ID < out[j].ID
		}
	})
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeRecordStore) ListAll(_ context.Context, userID string) ([]model.MemoryEntry, error) {
	var out []model.MemoryEntry
	for _, entry := range f.entries[userID] {
		out = append(out, *entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeRecordStore) Delete(_ context.Context, userID, entryID string) (bool, error) {
	if _, ok := f.entries[userID][entryID]; !ok {
		return false, nil
	}
	delete(f.entries[userID], entryID)
	return true, nil
}

func (f *fakeRecordStore) UpdateAccess(_ context.Context, userID, entryID string, update registrystore.AccessUpdate) error {
	entry, ok := f.entries[userID][entryID]
	if !ok {
		return nil
	}
	at := update.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	entry.LastAccessedAt = &at
	entry.AccessCount += update.Increment
	if update.ResetDecay {
		entry.RelevanceDecay = 1.0
	}
	return nil
}

func (f *fakeRecordStore) UpdateRelatedEntries(_ context.Context, userID, entryID string, related []string) error {
	if entry, ok := f.entries[userID][entryID]; ok {
		entry.RelatedEntries = append([]string{}, related...)
	}
	return nil
}

func (f *fakeRecordStore) UpdateDecay(_ context.Context, userID, entryID string, decay float64) error {
	if entry, ok := f.entries[userID][entryID]; ok {
		entry.RelevanceDecay = decay
	}
	return nil
}

func (f *fakeRecordStore) UpdateContentFields(_ context.Context, userID, entryID, title, preview string, tags []string) error {
	if entry, ok := f.entries[userID][entryID]; ok {
		entry.Title = title
		entry.ContentPreview = preview
		entry.Tags = append([]string{}, tags...)
	}
	return nil
}

func (f *fakeRecordStore) AddCompoundingEvent(_ context.Context, userID, eventType string, details map[string]interface{}) error {
	f.events[userID] = append(f.events[userID], model.CompoundingEvent{
		ID:        int64(len(f.events[userID]) + 1),
		UserID:    userID,
		EventType: eventType,
		Timestamp: time.Now().UTC(),
		Details:   details,
	})
	return nil
}

func (f *fakeRecordStore) CompoundingEvents(_ context.Context, userID string, limit int) ([]model.CompoundingEvent, error) {
	events := f.events[userID]
	out := make([]model.CompoundingEvent, 0, len(events))
	for i := len(events) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, events[i])
	}
	return out, nil
}

func (f *fakeRecordStore) GetStats(_ context.Context, userID string) (*registrystore.Stats, error) {
	stats := &registrystore.Stats{EntriesByType: map[string]int{}}
	for _, entry := range f.entries[userID] {
		stats.TotalEntries++
		stats.TotalTokens += entry.TokenCount
		stats.EntriesByType[string(entry.ContentType)]++
		indexedAt := entry.IndexedAt
		if stats.Oldest == nil || indexedAt.Before(*stats.Oldest) {
			t := indexedAt
			stats.Oldest = &t
		}
		if stats.Newest == nil || indexedAt.After(*stats.Newest) {
			t := indexedAt
			stats.Newest = &t
		}
	}
	return stats, nil
}

func (f *fakeRecordStore) ListUserIDs(_ context.Context) ([]string, error) {
	var out []string
	for userID, entries := range f.entries {
		if len(entries) > 0 {
			out = append(out, userID)
		}
	}
	sort.Strings(out)
	return out, nil
}

var _ registrystore.RecordStore = (*fakeRecordStore)(nil)

// mapCache is a plain map RelatedCache for tests.
type mapCache struct {
	data map[string][]string
}

func newMapCache() *mapCache {
	return &mapCache{data: map[string][]string{}}
}

func (c *mapCache) Get(_ context.Context, userID, entryID string) ([]string, bool) {
	related, ok := c.data[userID+":"+entryID]
	return related, ok
}

func (c *mapCache) Set(_ context.Context, userID, entryID string, related []string) {
	c.data[userID+":"+entryID] = append([]string{}, related...)
}

func (c *mapCache) Remove(_ context.Context, userID, entryID string) {
	delete(c.data, userID+":"+entryID)
}
