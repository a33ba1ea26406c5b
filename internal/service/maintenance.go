package service

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/recallstack/memory-infra/internal/config"
	"github.com/recallstack/memory-infra/internal/model"
	registrystore "github.com/recallstack/memory-infra/internal/registry/store"
	registryvector "github.com/recallstack/memory-infra/internal/registry/vector"
	"github.com/robfig/cron/v3"
)

// CompactRemovalAfter is how long an entry can go untouched before compaction
// with remove_stale is allowed to delete it.
const CompactRemovalAfter = 90 * 24 * time.Hour

// Maintenance runs on-demand compaction and the scheduled background sweeps.
type Maintenance struct {
	records     registrystore.RecordStore
	vectors     registryvector.VectorStore
	compounding *Compounding
}

// NewMaintenance creates the maintenance service.
func NewMaintenance(records registrystore.RecordStore, vectors registryvector.VectorStore, compounding *Compounding) *Maintenance {
	return &Maintenance{records: records, vectors: vectors, compounding: compounding}
}

// Compact runs a full maintenance pass for one user: decay stale entries,
// optionally remove long-untouched ones, optionally merge near-duplicates,
// and finish with a re-linking pass.
func (m *Maintenance) Compact(ctx context.Context, userID string, removeStale, mergeDuplicates bool) (*model.CompactResult, error) {
	decayed, err := m.compounding.DecayStaleEntries(ctx, userID, DecayAfter, DecayRate)
	if err != nil {
		return nil, err
	}

	removed := []string{}
	if removeStale {
		entries, err := m.records.ListAll(ctx, userID)
		if err != nil {
			return nil, err
		}
		threshold := time.Now().UTC().Add(-CompactRemovalAfter)
		for i := range entries {
			entry := &entries[i]
			if !entry.LastTouched().Before(threshold) {
				continue
			}
			if _, err := m.records.Delete(ctx, userID, entry.ID); err != nil {
				return nil, err
			}
			if _, err := m.vectors.Delete(ctx, userID, entry.ID); err != nil {
				return nil, err
			}
			removed = append(removed, entry.ID)
		}
	}

	merged := []model.MergePair{}
	if mergeDuplicates {
		merged, err = m.compounding.MergeNearDuplicates(ctx, userID)
		if err != nil {
			return nil, err
		}
		if merged == nil {
			merged = []model.MergePair{}
		}
	}

	newLinks, err := m.compounding.FindNewConnections(ctx, userID)
	if err != nil {
		return nil, err
	}

	return &model.CompactResult{
		Decayed:        decayed,
		Removed:        removed,
		Merged:         merged,
		NewConnections: newLinks,
	}, nil
}

// StartScheduler wires the nightly decay, weekly re-linking, and monthly
// duplicate-merge sweeps onto a cron scheduler and starts it. The returned
// stop function halts the scheduler and waits for running jobs.
func (m *Maintenance) StartScheduler(ctx context.Context, cfg *config.Config) (func(), error) {
	c := cron.New()

	jobs := []struct {
		spec string
		kind string
	}{
		{cfg.DecaySchedule, model.EventDecay},
		{cfg.ReclusterSchedule, model.EventRecluster},
		{cfg.MergeSchedule, model.EventMergeDuplicates},
	}
	for _, job := range jobs {
		kind := job.kind
		if _, err := c.AddFunc(job.spec, func() {
			m.compounding.RunScheduled(ctx, kind)
		}); err != nil {
			return nil, err
		}
		log.Info("Scheduled maintenance", "kind", kind, "schedule", job.spec)
	}

	c.Start()
	return func() {
		<-c.Stop().Done()
	}, nil
}
