package service

import (
	"context"
	"sort"
	"time"

	"github.com/charmbracelet/log"
	"github.com/recallstack/memory-infra/internal/model"
	registrycache "github.com/recallstack/memory-infra/internal/registry/cache"
	registrystore "github.com/recallstack/memory-infra/internal/registry/store"
	registryvector "github.com/recallstack/memory-infra/internal/registry/vector"
	registryvoice "github.com/recallstack/memory-infra/internal/registry/voice"
	"github.com/recallstack/memory-infra/internal/telemetry"
)

const (
	// LinkThreshold is the minimum similarity for a related-entry link.
	LinkThreshold = 0.8
	// LinkLimit caps how many related entries one link pass considers.
	LinkLimit = 10
	// MergeThreshold is the minimum similarity to treat two entries as duplicates.
	MergeThreshold = 0.95
	// DecayAfter is how long an entry can go untouched before it decays.
	DecayAfter = 30 * 24 * time.Hour
	// DecayRate is the multiplicative decay applied to stale entries.
	DecayRate = 0.95
)

// Compounding is the engine that makes memory improve with use: it links
// related entries on ingest, decays untouched ones, re-links on schedule,
// merges near-duplicates, and keeps the voice profile fed.
type Compounding struct {
	records registrystore.RecordStore
	vectors registryvector.VectorStore
	voice   registryvoice.ProfileStore
	related registrycache.RelatedCache
}

// NewCompounding creates the compounding engine.
func NewCompounding(records registrystore.RecordStore, vectors registryvector.VectorStore, voice registryvoice.ProfileStore, related registrycache.RelatedCache) *Compounding {
	return &Compounding{records: records, vectors: vectors, voice: voice, related: related}
}

// OnContentAdded links the new entry into the graph, folds voice-worthy
// content into the voice profile, and logs a content_added event.
func (c *Compounding) OnContentAdded(ctx context.Context, userID, entryID, content string, contentType model.ContentType) (*model.CompoundingResult, error) {
	start := time.Now()

	newConnections, err := c.updateRelatedEntries(ctx, userID, entryID)
	if err != nil {
		return nil, err
	}

	voiceUpdated := false
	confidenceDelta := 0.0
	if contentType.VoiceWorthy() {
		before, err := c.voice.GetProfile(ctx, userID)
		if err != nil {
			return nil, &registrystore.CapabilityError{Capability: "voice profile", Err: err}
		}
		after, err := c.voice.UpdateProfile(ctx, userID, content)
		if err != nil {
			return nil, &registrystore.CapabilityError{Capability: "voice profile", Err: err}
		}
		voiceUpdated = true
		if before != nil {
			confidenceDelta = after.Confidence - before.Confidence
		} else {
			confidenceDelta = after.Confidence
		}
	}

	err = c.records.AddCompoundingEvent(ctx, userID, model.EventContentAdded, map[string]interface{}{
		"entry_id":        entryID,
		"new_connections": newConnections,
	})
	if err != nil {
		return nil, err
	}

	return &model.CompoundingResult{
		UserID:              userID,
		VoiceProfileUpdated: voiceUpdated,
		NewConnectionsFound: newConnections,
		ConfidenceDelta:     confidenceDelta,
		ProcessingTimeMs:    time.Since(start).Milliseconds(),
	}, nil
}

// OnContentAccessed records an access: touch the entry, reset its decay, and
// log a content_accessed event.
func (c *Compounding) OnContentAccessed(ctx context.Context, userID, entryID, accessContext string) error {
	update := registrystore.AccessUpdate{At: time.Now().UTC(), Increment: 1, ResetDecay: true}
	if err := c.records.UpdateAccess(ctx, userID, entryID, update); err != nil {
		return err
	}
	details := map[string]interface{}{"entry_id": entryID}
	if accessContext != "" {
		details["context"] = accessContext
	}
	return c.records.AddCompoundingEvent(ctx, userID, model.EventContentAccessed, details)
}

// DecayStaleEntries multiplies the decay of every entry untouched for
// decayAfter by decayRate, never dropping below the floor. Returns how many
// entries decayed. Callers normally pass DecayAfter and DecayRate.
func (c *Compounding) DecayStaleEntries(ctx context.Context, userID string, decayAfter time.Duration, decayRate float64) (int, error) {
	entries, err := c.records.ListAll(ctx, userID)
	if err != nil {
		return 0, err
	}
	threshold := time.Now().UTC().Add(-decayAfter)
	decayed := 0
	for i := range entries {
		entry := &entries[i]
		if !entry.LastTouched().Before(threshold) {
			continue
		}
		newDecay := entry.RelevanceDecay * decayRate
		if newDecay < model.DecayFloor {
			newDecay = model.DecayFloor
		}
		if err := c.records.UpdateDecay(ctx, userID, entry.ID, newDecay); err != nil {
			return decayed, err
		}
		decayed++
	}
	if decayed > 0 {
		err := c.records.AddCompoundingEvent(ctx, userID, model.EventDecay, map[string]interface{}{
			"decayed":    decayed,
			"decay_rate": decayRate,
		})
		if err != nil {
			return decayed, err
		}
	}
	return decayed, nil
}

// FindNewConnections re-runs similarity linking over every entry, growing
// link sets without shrinking them. Returns the number of new links.
func (c *Compounding) FindNewConnections(ctx context.Context, userID string) (int, error) {
	entries, err := c.records.ListAll(ctx, userID)
	if err != nil {
		return 0, err
	}
	newLinks := 0
	for i := range entries {
		entry := &entries[i]
		found, err := c.findRelated(ctx, userID, entry.ID, LinkThreshold)
		if err != nil {
			return newLinks, err
		}
		merged, added := mergeLinks(entry.RelatedEntries, found)
		if added == 0 {
			continue
		}
		if err := c.records.UpdateRelatedEntries(ctx, userID, entry.ID, merged); err != nil {
			return newLinks, err
		}
		c.related.Set(ctx, userID, entry.ID, merged)
		newLinks += added
	}
	if newLinks > 0 {
		err := c.records.AddCompoundingEvent(ctx, userID, model.EventRecluster, map[string]interface{}{
			"new_links": newLinks,
		})
		if err != nil {
			return newLinks, err
		}
	}
	return newLinks, nil
}

// MergeNearDuplicates collapses entry pairs above MergeThreshold into the
// entry indexed later, unioning tags and deleting the earlier one from both
// stores. Entries are visited in ID order so reruns are deterministic.
func (c *Compounding) MergeNearDuplicates(ctx context.Context, userID string) ([]model.MergePair, error) {
	entries, err := c.records.ListAll(ctx, userID)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*model.MemoryEntry, len(entries))
	ids := make([]string, 0, len(entries))
	for i := range entries {
		byID[entries[i].ID] = &entries[i]
		ids = append(ids, entries[i].ID)
	}
	sort.Strings(ids)

	var merged []model.MergePair
	seen := map[string]bool{}
	for _, entryID := range ids {
		if seen[entryID] {
			continue
		}
		entry := byID[entryID]
		queryVec, err := c.vectors.GetVector(ctx, userID, entryID)
		if err != nil {
			return merged, err
		}
		if queryVec == nil {
			continue
		}
		results, err := c.vectors.Search(ctx, userID, queryVec, LinkLimit, MergeThreshold, "")
		if err != nil {
			return merged, err
		}
		for _, result := range results {
			if result.DocID == entryID || seen[result.DocID] {
				continue
			}
			other, ok := byID[result.DocID]
			if !ok {
				continue
			}
			survivor, removed := entry, other
			if other.IndexedAt.After(entry.IndexedAt) {
				survivor, removed = other, entry
			}
			tags := mergeTags(survivor.Tags, removed.Tags)
			if err := c.records.UpdateContentFields(ctx, userID, survivor.ID, survivor.Title, survivor.ContentPreview, tags); err != nil {
				return merged, err
			}
			if _, err := c.records.Delete(ctx, userID, removed.ID); err != nil {
				return merged, err
			}
			if _, err := c.vectors.Delete(ctx, userID, removed.ID); err != nil {
				return merged, err
			}
			c.related.Remove(ctx, userID, removed.ID)
			merged = append(merged, model.MergePair{SurvivorID: survivor.ID, RemovedID: removed.ID})
			seen[removed.ID] = true
			if removed.ID == entryID {
				break
			}
		}
		seen[entryID] = true
	}

	if len(merged) > 0 {
		if err := c.dropRemovedLinks(ctx, userID, merged); err != nil {
			return merged, err
		}
		err := c.records.AddCompoundingEvent(ctx, userID, model.EventMergeDuplicates, map[string]interface{}{
			"merged": merged,
		})
		if err != nil {
			return merged, err
		}
	}
	return merged, nil
}

// History returns up to limit compounding events, newest first.
func (c *Compounding) History(ctx context.Context, userID string, limit int) ([]model.CompoundingEvent, error) {
	return c.records.CompoundingEvents(ctx, userID, limit)
}

// RunScheduled executes one scheduled maintenance kind for every known user.
// Failures for one user are logged and do not stop the sweep.
func (c *Compounding) RunScheduled(ctx context.Context, kind string) {
	userIDs, err := c.records.ListUserIDs(ctx)
	if err != nil {
		log.Error("Maintenance: listing users failed", "kind", kind, "err", err)
		return
	}
	for _, userID := range userIDs {
		var err error
		switch kind {
		case model.EventDecay:
			_, err = c.DecayStaleEntries(ctx, userID, DecayAfter, DecayRate)
		case model.EventRecluster:
			_, err = c.FindNewConnections(ctx, userID)
		case model.EventMergeDuplicates:
			_, err = c.MergeNearDuplicates(ctx, userID)
		}
		if err != nil {
			log.Error("Maintenance: run failed", "kind", kind, "user", userID, "err", err)
		}
	}
	if telemetry.CompoundingRunsTotal != nil {
		telemetry.CompoundingRunsTotal.WithLabelValues(kind).Inc()
	}
	log.Info("Maintenance: sweep complete", "kind", kind, "users", len(userIDs))
}

// updateRelatedEntries links the entry to its neighbors above LinkThreshold
// and back-links each neighbor symmetrically.
func (c *Compounding) updateRelatedEntries(ctx context.Context, userID, entryID string) (int, error) {
	related, err := c.findRelated(ctx, userID, entryID, LinkThreshold)
	if err != nil {
		return 0, err
	}
	if err := c.records.UpdateRelatedEntries(ctx, userID, entryID, related); err != nil {
		return 0, err
	}
	for _, otherID := range related {
		other, err := c.records.Get(ctx, userID, otherID)
		if err != nil {
			return 0, err
		}
		if other == nil || contains(other.RelatedEntries, entryID) {
			continue
		}
		backlinks := append(append([]string{}, other.RelatedEntries...), entryID)
		if err := c.records.UpdateRelatedEntries(ctx, userID, otherID, backlinks); err != nil {
			return 0, err
		}
		c.related.Set(ctx, userID, otherID, backlinks)
	}
	c.related.Set(ctx, userID, entryID, related)
	return len(related), nil
}

// findRelated returns the IDs most similar to the entry, excluding itself.
func (c *Compounding) findRelated(ctx context.Context, userID, entryID string, threshold float64) ([]string, error) {
	queryVec, err := c.vectors.GetVector(ctx, userID, entryID)
	if err != nil {
		return nil, err
	}
	if queryVec == nil {
		return []string{}, nil
	}
	results, err := c.vectors.Search(ctx, userID, queryVec, LinkLimit, threshold, "")
	if err != nil {
		return nil, err
	}
	related := make([]string, 0, len(results))
	for _, r := range results {
		if r.DocID != entryID {
			related = append(related, r.DocID)
		}
	}
	return related, nil
}

// Related returns the entry's link list, preferring the advisory cache and
// falling back to the record store on a miss.
func (c *Compounding) Related(ctx context.Context, userID, entryID string) ([]string, error) {
	if related, ok := c.related.Get(ctx, userID, entryID); ok {
		return related, nil
	}
	entry, err := c.records.Get(ctx, userID, entryID)
	if err != nil {
		return nil, err
	}
	if entry == nil || entry.RelatedEntries == nil {
		return []string{}, nil
	}
	return entry.RelatedEntries, nil
}

// dropRemovedLinks strips merged-away IDs out of every surviving link set.
func (c *Compounding) dropRemovedLinks(ctx context.Context, userID string, merged []model.MergePair) error {
	removed := make(map[string]bool, len(merged))
	for _, pair := range merged {
		removed[pair.RemovedID] = true
	}
	entries, err := c.records.ListAll(ctx, userID)
	if err != nil {
		return err
	}
	for i := range entries {
		entry := &entries[i]
		kept := entry.RelatedEntries[:0:0]
		dropped := false
		for _, id := range entry.RelatedEntries {
			if removed[id] {
				dropped = true
				continue
			}
			kept = append(kept, id)
		}
		if !dropped {
			continue
		}
		if kept == nil {
			kept = []string{}
		}
		if err := c.records.UpdateRelatedEntries(ctx, userID, entry.ID, kept); err != nil {
			return err
		}
		c.related.Set(ctx, userID, entry.ID, kept)
	}
	return nil
}

// mergeLinks unions found into existing preserving order, reporting how many
// links were added.
func mergeLinks(existing, found []string) ([]string, int) {
	seen := make(map[string]bool, len(existing))
	merged := make([]string, 0, len(existing)+len(found))
	for _, id := range existing {
		if !seen[id] {
			seen[id] = true
			merged = append(merged, id)
		}
	}
	added := 0
	for _, id := range found {
		if !seen[id] {
			seen[id] = true
			merged = append(merged, id)
			added++
		}
	}
	return merged, added
}

// mergeTags unions tags preserving first-seen order.
func mergeTags(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, t := range append(append([]string{}, a...), b...) {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

func contains(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}
