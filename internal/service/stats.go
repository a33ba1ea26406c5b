package service

import (
	"context"
	"math"
	"time"

	"github.com/recallstack/memory-infra/internal/model"
	registrystore "github.com/recallstack/memory-infra/internal/registry/store"
	registryvector "github.com/recallstack/memory-infra/internal/registry/vector"
	registryvoice "github.com/recallstack/memory-infra/internal/registry/voice"
)

// StaleAfter is how long an entry can go untouched before it counts as stale.
const StaleAfter = 30 * 24 * time.Hour

// healthDiversityTarget is the content-type count at which diversity maxes out.
const healthDiversityTarget = 5.0

// Stats aggregates per-user memory statistics and the health report.
type Stats struct {
	records registrystore.RecordStore
	vectors registryvector.VectorStore
	voice   registryvoice.ProfileStore
}

// NewStats creates the stats service.
func NewStats(records registrystore.RecordStore, vectors registryvector.VectorStore, voice registryvoice.ProfileStore) *Stats {
	return &Stats{records: records, vectors: vectors, voice: voice}
}

// GetStats returns the aggregate view over the user's memory, including the
// voice profile confidence and the time of the last compounding event.
func (s *Stats) GetStats(ctx context.Context, userID string) (*model.MemoryStats, error) {
	agg, err := s.records.GetStats(ctx, userID)
	if err != nil {
		return nil, err
	}

	confidence := 0.0
	profile, err := s.voice.GetProfile(ctx, userID)
	if err != nil {
		return nil, &registrystore.CapabilityError{Capability: "voice profile", Err: err}
	}
	if profile != nil {
		confidence = profile.Confidence
	}

	var lastRun *time.Time
	events, err := s.records.CompoundingEvents(ctx, userID, 1)
	if err != nil {
		return nil, err
	}
	if len(events) > 0 {
		ts := events[0].Timestamp
		lastRun = &ts
	}

	return &model.MemoryStats{
		UserID:                 userID,
		TotalEntries:           agg.TotalEntries,
		EntriesByType:          agg.EntriesByType,
		TotalTokensIndexed:     agg.TotalTokens,
		MemoryHealthScore:      healthScore(len(agg.EntriesByType), agg.TotalEntries, agg.Newest),
		OldestEntry:            agg.Oldest,
		NewestEntry:            agg.Newest,
		VoiceProfileConfidence: confidence,
		LastCompoundingRun:     lastRun,
	}, nil
}

// GetHealthReport extends stats with stale entries, near-duplicate candidate
// pairs, and maintenance recommendations.
func (s *Stats) GetHealthReport(ctx context.Context, userID string) (*model.MemoryHealthReport, error) {
	stats, err := s.GetStats(ctx, userID)
	if err != nil {
		return nil, err
	}
	entries, err := s.records.ListAll(ctx, userID)
	if err != nil {
		return nil, err
	}

	staleEntries := []string{}
	threshold := time.Now().UTC().Add(-StaleAfter)
	for i := range entries {
		if entries[i].LastTouched().Before(threshold) {
			staleEntries = append(staleEntries, entries[i].ID)
		}
	}

	duplicates, err := s.duplicateCandidates(ctx, userID)
	if err != nil {
		return nil, err
	}

	recommendations := []string{}
	if len(staleEntries) > 5 {
		recommendations = append(recommendations, "Consider pruning stale entries to keep memory fresh.")
	}
	if stats.TotalEntries < 5 {
		recommendations = append(recommendations, "Add more content to improve retrieval quality.")
	}
	if len(stats.EntriesByType) < 2 {
		recommendations = append(recommendations, "Diversity is low; add more content types.")
	}

	return &model.MemoryHealthReport{
		Stats:               *stats,
		Recommendations:     recommendations,
		StaleEntries:        staleEntries,
		DuplicateCandidates: duplicates,
	}, nil
}

// duplicateCandidates scans the vector index for entry pairs at or above the
// merge threshold. Each pair is reported once, lower ID first.
func (s *Stats) duplicateCandidates(ctx context.Context, userID string) ([]model.DuplicateCandidate, error) {
	stored, err := s.vectors.All(ctx, userID)
	if err != nil {
		return nil, err
	}
	candidates := []model.DuplicateCandidate{}
	reported := map[[2]string]bool{}
	for _, sv := range stored {
		results, err := s.vectors.Search(ctx, userID, sv.Vector, LinkLimit, MergeThreshold, "")
		if err != nil {
			return nil, err
		}
		for _, r := range results {
			if r.DocID == sv.DocID {
				continue
			}
			pair := [2]string{sv.DocID, r.DocID}
			if pair[0] > pair[1] {
				pair[0], pair[1] = pair[1], pair[0]
			}
			if reported[pair] {
				continue
			}
			reported[pair] = true
			candidates = append(candidates, model.DuplicateCandidate{
				EntryID:    pair[0],
				OtherID:    pair[1],
				Similarity: r.Score,
			})
		}
	}
	return candidates, nil
}

// healthScore blends content-type diversity with whether anything has ever
// been indexed, scaled to 0..100 and rounded to two decimals.
func healthScore(typeCount, totalEntries int, newest *time.Time) float64 {
	if totalEntries == 0 {
		return 0
	}
	diversity := float64(typeCount) / healthDiversityTarget
	if diversity > 1 {
		diversity = 1
	}
	recency := 0.5
	if newest != nil {
		recency = 1.0
	}
	score := (0.6*diversity + 0.4*recency) * 100
	return math.Round(score*100) / 100
}
