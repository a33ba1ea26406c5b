package model

import "time"

// IngestRequest is the body of POST /api/memory/ingest.
type IngestRequest struct {
	ContentType ContentType            `json:"content_type"`
	Title       string                 `json:"title"`
	Content     string                 `json:"content"`
	SourceURL   *string                `json:"source_url,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	Tags        []string               `json:"tags,omitempty"`
}

// IngestResponse reports the outcome of a single ingest.
type IngestResponse struct {
	EntryID          string   `json:"entry_id"`
	Indexed          bool     `json:"indexed"`
	EmbeddingID      string   `json:"embedding_id"`
	TokenCount       int      `json:"token_count"`
	RelatedEntries   []string `json:"related_entries"`
	ProcessingTimeMs int64    `json:"processing_time_ms"`
}

// MaxBulkEntries caps the size of one bulk ingest request.
const MaxBulkEntries = 50

// BulkIngestRequest is the body of POST /api/memory/ingest/bulk.
type BulkIngestRequest struct {
	Entries []IngestRequest `json:"entries"`
}

// BulkIngestFailure records a failed entry within a bulk ingest.
type BulkIngestFailure struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

// BulkIngestResponse reports per-entry outcomes; failures do not abort the batch.
type BulkIngestResponse struct {
	Successful            []IngestResponse    `json:"successful"`
	Failed                []BulkIngestFailure `json:"failed"`
	TotalProcessingTimeMs int64               `json:"total_processing_time_ms"`
}

// Context output formats.
const (
	FormatMarkdown = "markdown"
	FormatPlain    = "plain"
	FormatXML      = "xml"
)

// ContextRequest is the body of POST /api/context/retrieve.
type ContextRequest struct {
	Query               string   `json:"query"`
	MaxTokens           int      `json:"max_tokens"`
	MaxSources          int      `json:"max_sources"`
	ContentTypes        []string `json:"content_types,omitempty"`
	RecencyDays         int      `json:"recency_days,omitempty"`
	MinRelevance        *float64 `json:"min_relevance,omitempty"`
	IncludeVoiceProfile *bool    `json:"include_voice_profile,omitempty"`
	Format              string   `json:"format,omitempty"`
}

// WantsVoiceProfile reports the include_voice_profile flag, defaulting to true.
func (r *ContextRequest) WantsVoiceProfile() bool {
	return r.IncludeVoiceProfile == nil || *r.IncludeVoiceProfile
}

// ApplyDefaults fills unset numeric fields with their declared defaults.
func (r *ContextRequest) ApplyDefaults() {
	if r.MaxTokens == 0 {
		r.MaxTokens = 2000
	}
	if r.MaxSources == 0 {
		r.MaxSources = 5
	}
	if r.MinRelevance == nil {
		minRelevance := 0.5
		r.MinRelevance = &minRelevance
	}
	if r.Format == "" {
		r.Format = FormatMarkdown
	}
}

// ContextSource is one excerpt included in a retrieved context.
type ContextSource struct {
	EntryID        string  `json:"entry_id"`
	Title          string  `json:"title"`
	ContentType    string  `json:"content_type"`
	RelevanceScore float64 `json:"relevance_score"`
	Excerpt        string  `json:"excerpt"`
	SourceURL      *string `json:"source_url,omitempty"`
}

// RetrievedContext is the formatted, token-budgeted retrieval result.
type RetrievedContext struct {
	Query             string          `json:"query"`
	Sources           []ContextSource `json:"sources"`
	ContextText       string          `json:"context_text"`
	TokenCount        int             `json:"token_count"`
	VoiceSummary      *string         `json:"voice_summary,omitempty"`
	RetrievalTimeMs   int64           `json:"retrieval_time_ms"`
	SourcesConsidered int             `json:"sources_considered"`
	SourcesIncluded   int             `json:"sources_included"`
}

// VoiceContextRequest is the body of POST /api/context/voice.
type VoiceContextRequest struct {
	SampleText      *string `json:"sample_text,omitempty"`
	IncludeExamples *bool   `json:"include_examples,omitempty"`
	MaxExamples     int     `json:"max_examples,omitempty"`
}

// VoiceContext is a synthesized view of the voice profile for prompt writers.
type VoiceContext struct {
	ProfileSummary  string   `json:"profile_summary"`
	ToneGuidance    string   `json:"tone_guidance"`
	VocabularyHints []string `json:"vocabulary_hints"`
	PhrasesToUse    []string `json:"phrases_to_use"`
	ThingsToAvoid   []string `json:"things_to_avoid"`
	ExampleExcerpts []string `json:"example_excerpts"`
	Confidence      float64  `json:"confidence"`
}

// MemoryStats is the aggregate view over one user's memory.
type MemoryStats struct {
	UserID                 string         `json:"user_id"`
	TotalEntries           int            `json:"total_entries"`
	EntriesByType          map[string]int `json:"entries_by_type"`
	TotalTokensIndexed     int            `json:"total_tokens_indexed"`
	MemoryHealthScore      float64        `json:"memory_health_score"`
	OldestEntry            *time.Time     `json:"oldest_entry,omitempty"`
	NewestEntry            *time.Time     `json:"newest_entry,omitempty"`
	VoiceProfileConfidence float64        `json:"voice_profile_confidence"`
	LastCompoundingRun     *time.Time     `json:"last_compounding_run,omitempty"`
}

// DuplicateCandidate is a near-duplicate pair surfaced by the health report.
type DuplicateCandidate struct {
	EntryID    string  `json:"entry_id"`
	OtherID    string  `json:"other_id"`
	Similarity float64 `json:"similarity"`
}

// MemoryHealthReport extends stats with maintenance recommendations.
type MemoryHealthReport struct {
	Stats               MemoryStats          `json:"stats"`
	Recommendations     []string             `json:"recommendations"`
	StaleEntries        []string             `json:"stale_entries"`
	DuplicateCandidates []DuplicateCandidate `json:"duplicate_candidates"`
}

// CompactResult reports the outcome of POST /api/memory/compact.
type CompactResult struct {
	Decayed        int         `json:"decayed"`
	Removed        []string    `json:"removed"`
	Merged         []MergePair `json:"merged"`
	NewConnections int         `json:"new_connections"`
}

// MergePair records one duplicate merge: the surviving entry and the removed one.
type MergePair struct {
	SurvivorID string `json:"survivor_id"`
	RemovedID  string `json:"removed_id"`
}

// CompoundingResult reports what one on_content_added pass did.
type CompoundingResult struct {
	UserID              string  `json:"user_id"`
	VoiceProfileUpdated bool    `json:"voice_profile_updated"`
	NewConnectionsFound int     `json:"new_connections_found"`
	StaleEntriesDecayed int     `json:"stale_entries_decayed"`
	ConfidenceDelta     float64 `json:"confidence_delta"`
	ProcessingTimeMs    int64   `json:"processing_time_ms"`
}

// PreviewResult is the body returned by POST /api/context/preview.
type PreviewResult struct {
	FinalPrompt string   `json:"final_prompt"`
	TokenCount  int      `json:"token_count"`
	SourcesUsed []string `json:"sources_used"`
}
