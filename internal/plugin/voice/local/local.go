// Package local is the in-process voice profiler: a keyword-frequency
// analyzer that grows confidence as more samples arrive.
package local

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/recallstack/memory-infra/internal/model"
	registryvoice "github.com/recallstack/memory-infra/internal/registry/voice"
)

const (
	initialConfidence = 0.8
	confidenceStep    = 0.1
	maxConfidence     = 0.95
	maxKeywords       = 10
	minKeywordLength  = 5
)

func init() {
	registryvoice.Register(registryvoice.Plugin{
		Name: "local",
		Loader: func(_ context.Context) (registryvoice.ProfileStore, error) {
			return New(), nil
		},
	})
}

// Store keeps voice profiles in memory, one per user.
type Store struct {
	mu       sync.Mutex
	profiles map[string]*model.VoiceProfile
}

// New returns an empty voice profile store.
func New() *Store {
	return &Store{profiles: map[string]*model.VoiceProfile{}}
}

func (s *Store) GetProfile(_ context.Context, userID string) (*model.VoiceProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (s *Store) UpdateProfile(_ context.Context, userID, content string) (*model.VoiceProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.profiles[userID]
	if !ok {
		p := buildProfile(userID, extractKeywords(content), 1, initialConfidence, time.Now().UTC())
		s.profiles[userID] = p
		cp := *p
		return &cp, nil
	}

	merged := appendUnique(existing.ToneKeywords, extractKeywords(content))
	if len(merged) > maxKeywords {
		merged = merged[:maxKeywords]
	}
	confidence := existing.Confidence + confidenceStep
	if confidence > maxConfidence {
		confidence = maxConfidence
	}
	p := buildProfile(userID, merged, existing.SampleSize+1, confidence, existing.CreatedAt)
	s.profiles[userID] = p
	cp := *p
	return &cp, nil
}

func buildProfile(userID string, keywords []string, sampleSize int, confidence float64, createdAt time.Time) *model.VoiceProfile {
	return &model.VoiceProfile{
		UserID:       userID,
		ToneKeywords: keywords,
		VocabularyPatterns: map[string][]string{
			"common_words":      head(keywords, 5),
			"preferred_phrases": slice(keywords, 5, 8),
			"words_to_avoid":    {},
		},
		SentenceStructure: map[string]interface{}{
			"avg_length":    "medium",
			"formality":     "mixed",
			"grammar_style": "modern",
		},
		ScriptPacing: map[string]interface{}{
			"hook_length":     "short",
			"beat_pattern":    "steady",
			"pause_placement": "balanced",
		},
		StorytellingPatterns: map[string]interface{}{
			"structure":       "problem-solution",
			"transitions":     []string{"next", "then", "finally"},
			"narrative_style": "insight-driven",
		},
		CTAStyle: map[string]interface{}{
			"approach": "direct",
			"examples": []string{"Try this next.", "Let me know if you'd like a template."},
		},
		SampleSize: sampleSize,
		Confidence: confidence,
		Version:    sampleSize,
		CreatedAt:  createdAt,
	}
}

// extractKeywords returns the most frequent words longer than four characters,
// ties broken by first appearance in the text.
func extractKeywords(content string) []string {
	counts := map[string]int{}
	var order []string
	for _, w := range strings.Fields(content) {
		w = strings.ToLower(strings.Trim(w, ".,!?;:"))
		if len(w) < minKeywordLength {
			continue
		}
		if counts[w] == 0 {
			order = append(order, w)
		}
		counts[w]++
	}
	rank := make(map[string]int, len(order))
	for i, w := range order {
		rank[w] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		if counts[order[i]] != counts[order[j]] {
			return counts[order[i]] > counts[order[j]]
		}
		return rank[order[i]] < rank[order[j]]
	})
	return head(order, maxKeywords)
}

func appendUnique(existing, extra []string) []string {
	seen := make(map[string]bool, len(existing))
	out := make([]string, 0, len(existing)+len(extra))
	for _, w := range existing {
		if !seen[w] {
			seen[w] = true
			out = append(out, w)
		}
	}
	for _, w := range extra {
		if !seen[w] {
			seen[w] = true
			out = append(out, w)
		}
	}
	return out
}

func head(s []string, n int) []string {
	if len(s) > n {
		s = s[:n]
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}

func slice(s []string, from, to int) []string {
	if from > len(s) {
		from = len(s)
	}
	if to > len(s) {
		to = len(s)
	}
	out := make([]string, to-from)
	copy(out, s[from:to])
	return out
}

var _ registryvoice.ProfileStore = (*Store)(nil)
