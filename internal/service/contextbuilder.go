package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/recallstack/memory-infra/internal/model"
	registryembed "github.com/recallstack/memory-infra/internal/registry/embed"
	registrystore "github.com/recallstack/memory-infra/internal/registry/store"
	registryvector "github.com/recallstack/memory-infra/internal/registry/vector"
	registryvoice "github.com/recallstack/memory-infra/internal/registry/voice"
)

const (
	maxQueryLength = 1000

	// SimilarityWeight and RecencyWeight blend vector similarity with recency
	// into the combined relevance score.
	SimilarityWeight = 0.7
	RecencyWeight    = 0.3

	// SuggestThreshold is the minimum similarity for suggested related context.
	SuggestThreshold = 0.5
)

// ContextBuilder assembles ranked, token-budgeted context for prompts.
type ContextBuilder struct {
	records  registrystore.RecordStore
	vectors  registryvector.VectorStore
	embedder registryembed.Embedder
	voice    registryvoice.ProfileStore
}

// NewContextBuilder creates a context builder.
func NewContextBuilder(records registrystore.RecordStore, vectors registryvector.VectorStore, embedder registryembed.Embedder, voice registryvoice.ProfileStore) *ContextBuilder {
	return &ContextBuilder{records: records, vectors: vectors, embedder: embedder, voice: voice}
}

// ValidateContextRequest applies defaults and checks the request bounds.
func ValidateContextRequest(req *model.ContextRequest) error {
	req.ApplyDefaults()
	if req.Query == "" {
		return &registrystore.ValidationError{Field: "query", Message: "must not be empty"}
	}
	if len(req.Query) > maxQueryLength {
		return &registrystore.ValidationError{Field: "query", Message: fmt.Sprintf("must be at most %d characters", maxQueryLength)}
	}
	if req.MaxTokens < 100 || req.MaxTokens > 8000 {
		return &registrystore.ValidationError{Field: "max_tokens", Message: "must be between 100 and 8000"}
	}
	if req.MaxSources < 1 || req.MaxSources > 20 {
		return &registrystore.ValidationError{Field: "max_sources", Message: "must be between 1 and 20"}
	}
	if *req.MinRelevance < 0 || *req.MinRelevance > 1 {
		return &registrystore.ValidationError{Field: "min_relevance", Message: "must be between 0.0 and 1.0"}
	}
	switch req.Format {
	case model.FormatMarkdown, model.FormatPlain, model.FormatXML:
	default:
		return &registrystore.ValidationError{Field: "format", Message: fmt.Sprintf("unknown format %q", req.Format)}
	}
	return nil
}

type rankedSource struct {
	combined float64
	score    float64
	entry    *model.MemoryEntry
}

// RetrieveContext runs the full retrieval pipeline: embed the query, search
// above min_relevance, blend similarity with recency, then pack excerpts into
// the token budget. When nothing clears the threshold it falls back to the
// most recent entries so a prompt is never empty-handed.
func (b *ContextBuilder) RetrieveContext(ctx context.Context, userID string, req *model.ContextRequest) (*model.RetrievedContext, error) {
	start := time.Now()
	if err := ValidateContextRequest(req); err != nil {
		return nil, err
	}

	queryVec, err := registryembed.EmbedText(ctx, b.embedder, req.Query)
	if err != nil {
		return nil, &registrystore.CapabilityError{Capability: "embedding", Err: err}
	}
	candidateLimit := 3 * req.MaxSources
	if candidateLimit < 20 {
		candidateLimit = 20
	}
	results, err := b.vectors.Search(ctx, userID, queryVec, candidateLimit, *req.MinRelevance, "")
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	sourcesConsidered := len(results)
	var ranked []rankedSource
	for _, result := range results {
		entry, err := b.records.Get(ctx, userID, result.DocID)
		if err != nil {
			return nil, err
		}
		if entry == nil {
			continue
		}
		if len(req.ContentTypes) > 0 && !contains(req.ContentTypes, string(entry.ContentType)) {
			continue
		}
		if req.RecencyDays > 0 && entry.IndexedAt.Before(now.AddDate(0, 0, -req.RecencyDays)) {
			continue
		}
		combined := SimilarityWeight*result.Score + RecencyWeight*RecencyScore(entry.IndexedAt, now)
		ranked = append(ranked, rankedSource{combined: combined, score: result.Score, entry: entry})
	}
	sortRanked(ranked)

	var sources []model.ContextSource
	totalTokens := 0
	if len(ranked) == 0 {
		// Fallback: most recent entries, scored by recency alone. The
		// content-type and recency filters deliberately do not apply here.
		entries, err := b.records.List(ctx, userID, "", req.MaxSources, 0, registrystore.SortByIndexedAt)
		if err != nil {
			return nil, err
		}
		for i := range entries {
			entry := &entries[i]
			cost := EstimateTokens(entry.ContentPreview)
			if totalTokens+cost > req.MaxTokens {
				continue
			}
			sources = append(sources, sourceFrom(entry, RecencyScore(entry.IndexedAt, now)))
			totalTokens += cost
		}
	} else {
		for _, r := range ranked {
			cost := EstimateTokens(r.entry.ContentPreview)
			if totalTokens+cost > req.MaxTokens {
				continue
			}
			sources = append(sources, sourceFrom(r.entry, r.combined))
			totalTokens += cost
			if len(sources) >= req.MaxSources {
				break
			}
		}
	}
	if sources == nil {
		sources = []model.ContextSource{}
	}

	var voiceSummary *string
	if req.WantsVoiceProfile() {
		profile, err := b.voice.GetProfile(ctx, userID)
		if err != nil {
			return nil, &registrystore.CapabilityError{Capability: "voice profile", Err: err}
		}
		if profile != nil {
			s := voiceSummaryText(profile)
			voiceSummary = &s
		}
	}

	return &model.RetrievedContext{
		Query:             req.Query,
		Sources:           sources,
		ContextText:       formatContext(req.Format, sources),
		TokenCount:        totalTokens,
		VoiceSummary:      voiceSummary,
		RetrievalTimeMs:   time.Since(start).Milliseconds(),
		SourcesConsidered: sourcesConsidered,
		SourcesIncluded:   len(sources),
	}, nil
}

// BuildVoiceContext synthesizes the voice profile into prompt guidance, or
// returns nil when the user has no profile yet.
func (b *ContextBuilder) BuildVoiceContext(ctx context.Context, userID string) (*model.VoiceContext, error) {
	profile, err := b.voice.GetProfile(ctx, userID)
	if err != nil {
		return nil, &registrystore.CapabilityError{Capability: "voice profile", Err: err}
	}
	if profile == nil {
		return nil, nil
	}
	return &model.VoiceContext{
		ProfileSummary:  fmt.Sprintf("User voice profile with %d samples.", profile.SampleSize),
		ToneGuidance:    strings.Join(headStrings(profile.ToneKeywords, 5), ", "),
		VocabularyHints: orEmpty(profile.VocabularyPatterns["common_words"]),
		PhrasesToUse:    orEmpty(profile.VocabularyPatterns["preferred_phrases"]),
		ThingsToAvoid:   orEmpty(profile.VocabularyPatterns["words_to_avoid"]),
		ExampleExcerpts: []string{},
		Confidence:      profile.Confidence,
	}, nil
}

// SuggestRelated returns the entries most similar to the given one, above
// SuggestThreshold, excluding the entry itself. An unknown entry yields an
// empty list rather than an error.
func (b *ContextBuilder) SuggestRelated(ctx context.Context, userID, entryID string, limit int) ([]model.ContextSource, error) {
	queryVec, err := b.vectors.GetVector(ctx, userID, entryID)
	if err != nil {
		return nil, err
	}
	sources := []model.ContextSource{}
	if queryVec == nil {
		return sources, nil
	}
	results, err := b.vectors.Search(ctx, userID, queryVec, limit, SuggestThreshold, "")
	if err != nil {
		return nil, err
	}
	for _, result := range results {
		if result.DocID == entryID {
			continue
		}
		entry, err := b.records.Get(ctx, userID, result.DocID)
		if err != nil {
			return nil, err
		}
		if entry == nil {
			continue
		}
		sources = append(sources, sourceFrom(entry, result.Score))
	}
	return sources, nil
}

// Preview renders a prompt template with the retrieved context substituted
// for {{context}} and the query for {{query}}.
func (b *ContextBuilder) Preview(ctx context.Context, userID string, req *model.ContextRequest, promptTemplate string) (*model.PreviewResult, error) {
	retrieved, err := b.RetrieveContext(ctx, userID, req)
	if err != nil {
		return nil, err
	}
	finalPrompt := strings.ReplaceAll(promptTemplate, "{{context}}", retrieved.ContextText)
	finalPrompt = strings.ReplaceAll(finalPrompt, "{{query}}", req.Query)
	sourcesUsed := make([]string, 0, len(retrieved.Sources))
	for _, s := range retrieved.Sources {
		sourcesUsed = append(sourcesUsed, s.EntryID)
	}
	return &model.PreviewResult{
		FinalPrompt: finalPrompt,
		TokenCount:  EstimateTokens(finalPrompt),
		SourcesUsed: sourcesUsed,
	}, nil
}

func sourceFrom(entry *model.MemoryEntry, score float64) model.ContextSource {
	return model.ContextSource{
		EntryID:        entry.ID,
		Title:          entry.Title,
		ContentType:    string(entry.ContentType),
		RelevanceScore: score,
		Excerpt:        entry.ContentPreview,
		SourceURL:      entry.SourceURL,
	}
}

// sortRanked orders by combined score descending, entry ID ascending on ties.
func sortRanked(ranked []rankedSource) {
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].combined != ranked[j].combined {
			return ranked[i].combined > ranked[j].combined
		}
		return ranked[i].entry.ID < ranked[j].entry.ID
	})
}

func voiceSummaryText(profile *model.VoiceProfile) string {
	return fmt.Sprintf("Tone: %s. Confidence: %.2f",
		strings.Join(headStrings(profile.ToneKeywords, 5), ", "), profile.Confidence)
}

func formatContext(format string, sources []model.ContextSource) string {
	switch format {
	case model.FormatXML:
		parts := []string{"<context>"}
		for _, s := range sources {
			parts = append(parts, fmt.Sprintf(
				"  <source id=%q type=%q>\n    <title>%s</title>\n    <excerpt>%s</excerpt>\n  </source>",
				s.EntryID, s.ContentType, s.Title, s.Excerpt))
		}
		parts = append(parts, "</context>")
		return strings.Join(parts, "\n")
	case model.FormatPlain:
		parts := make([]string, 0, len(sources))
		for i, s := range sources {
			parts = append(parts, fmt.Sprintf("[%d] %s — %s", i+1, s.Title, s.Excerpt))
		}
		return strings.Join(parts, "\n\n")
	default:
		parts := make([]string, 0, len(sources))
		for _, s := range sources {
			parts = append(parts, fmt.Sprintf("### %s\n%s", s.Title, s.Excerpt))
		}
		return strings.Join(parts, "\n\n")
	}
}

func headStrings(s []string, n int) []string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
