// Package metrics decorates a RecordStore with Prometheus latency metrics.
package metrics

import (
	"context"
	"time"

	"github.com/recallstack/memory-infra/internal/model"
	"github.com/recallstack/memory-infra/internal/registry/store"
	"github.com/recallstack/memory-infra/internal/telemetry"
)

// Wrap returns a RecordStore that records StoreLatency for every operation.
func Wrap(inner store.RecordStore) store.RecordStore {
	return &metricsStore{inner: inner}
}

type metricsStore struct {
	inner store.RecordStore
}

func observe(op string, start time.Time) {
	telemetry.StoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *metricsStore) Upsert(ctx context.Context, entry *model.MemoryEntry) error {
	defer observe("upsert", time.Now())
	return m.inner.Upsert(ctx, entry)
}

func (m *metricsStore) Get(ctx context.Context, userID, entryID string) (*model.MemoryEntry, error) {
	defer observe("get", time.Now())
	return m.inner.Get(ctx, userID, entryID)
}

func (m *metricsStore) List(ctx context.Context, userID, contentType string, limit, offset int, sortBy string) ([]model.MemoryEntry, error) {
	defer observe("list", time.Now())
	return m.inner.List(ctx, userID, contentType, limit, offset, sortBy)
}

func (m *metricsStore) ListAll(ctx context.Context, userID string) ([]model.MemoryEntry, error) {
	defer observe("list_all", time.Now())
	return m.inner.ListAll(ctx, userID)
}

func (m *metricsStore) Delete(ctx context.Context, userID, entryID string) (bool, error) {
	defer observe("delete", time.Now())
	return m.inner.Delete(ctx, userID, entryID)
}

func (m *metricsStore) UpdateAccess(ctx context.Context, userID, entryID string, update store.AccessUpdate) error {
	defer observe("update_access", time.Now())
	return m.inner.UpdateAccess(ctx, userID, entryID, update)
}

func (m *metricsStore) UpdateRelatedEntries(ctx context.Context, userID, entryID string, related []string) error {
	defer observe("update_related_entries", time.Now())
	return m.inner.UpdateRelatedEntries(ctx, userID, entryID, related)
}

func (m *metricsStore) UpdateDecay(ctx context.Context, userID, entryID string, decay float64) error {
	defer observe("update_decay", time.Now())
	return m.inner.UpdateDecay(ctx, userID, entryID, decay)
}

func (m *metricsStore) UpdateContentFields(ctx context.Context, userID, entryID, title, preview string, tags []string) error {
	defer observe("update_content_fields", time.Now())
	return m.inner.UpdateContentFields(ctx, userID, entryID, title, preview, tags)
}

func (m *metricsStore) AddCompoundingEvent(ctx context.Context, userID, eventType string, details map[string]interface{}) error {
	defer observe("add_compounding_event", time.Now())
	return m.inner.AddCompoundingEvent(ctx, userID, eventType, details)
}

func (m *metricsStore) CompoundingEvents(ctx context.Context, userID string, limit int) ([]model.CompoundingEvent, error) {
	defer observe("compounding_events", time.Now())
	return m.inner.CompoundingEvents(ctx, userID, limit)
}

func (m *metricsStore) GetStats(ctx context.Context, userID string) (*store.Stats, error) {
	defer observe("get_stats", time.Now())
	return m.inner.GetStats(ctx, userID)
}

func (m *metricsStore) ListUserIDs(ctx context.Context) ([]string, error) {
	defer observe("list_user_ids", time.Now())
	return m.inner.ListUserIDs(ctx)
}

func (m *metricsStore) Name() string {
	return m.inner.Name()
}

var _ store.RecordStore = (*metricsStore)(nil)
