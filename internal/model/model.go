package model

import (
	"time"
)

// ContentType classifies what kind of content a memory entry holds.
type ContentType string

const (
	ContentTypeDocument      ContentType = "document"
	ContentTypeVideo         ContentType = "video"
	ContentTypeAudio         ContentType = "audio"
	ContentTypeLink          ContentType = "link"
	ContentTypeTextSnippet   ContentType = "text_snippet"
	ContentTypeYouTubeVideo  ContentType = "youtube_video"
	ContentTypeInstagramPost ContentType = "instagram_post"
	ContentTypeNotionPage    ContentType = "notion_page"
	ContentTypeArticle       ContentType = "article"
)

// ContentTypes lists every valid content type.
var ContentTypes = []ContentType{
	ContentTypeDocument,
	ContentTypeVideo,
	ContentTypeAudio,
	ContentTypeLink,
	ContentTypeTextSnippet,
	ContentTypeYouTubeVideo,
	ContentTypeInstagramPost,
	ContentTypeNotionPage,
	ContentTypeArticle,
}

// Valid reports whether t is one of the declared content types.
func (t ContentType) Valid() bool {
	for _, ct := range ContentTypes {
		if t == ct {
			return true
		}
	}
	return false
}

// VoiceWorthy reports whether content of this type feeds the voice profile.
func (t ContentType) VoiceWorthy() bool {
	switch t {
	case ContentTypeDocument, ContentTypeTextSnippet, ContentTypeArticle, ContentTypeNotionPage:
		return true
	}
	return false
}

// DecayFloor is the minimum relevance decay; entries never decay below it.
const DecayFloor = 0.1

// PreviewLength is the maximum content preview length in bytes.
const PreviewLength = 500

// MemoryEntry is the durable unit of memory.
// Content is stored but never serialized in list/get responses; clients see
// the preview. Collection-typed fields are serialized as JSON text columns;
// the store is the only layer aware of that encoding.
type MemoryEntry struct {
	ID             string                 `json:"id" gorm:"primaryKey"`
	UserID         string                 `json:"user_id" gorm:"not null;index:idx_memory_user_type,priority:1"`
	ContentType    ContentType            `json:"content_type" gorm:"not null;index:idx_memory_user_type,priority:2"`
	Title          string                 `json:"title" gorm:"not null"`
	ContentPreview string                 `json:"content_preview" gorm:"not null"`
	Content        string                 `json:"-" gorm:"not null"`
	EmbeddingID    string                 `json:"embedding_id" gorm:"not null"`
	IndexedAt      time.Time              `json:"indexed_at" gorm:"not null;index"`
	LastAccessedAt *time.Time             `json:"last_accessed_at,omitempty"`
	AccessCount    int                    `json:"access_count" gorm:"not null;default:0"`
	RelevanceDecay float64                `json:"relevance_decay" gorm:"not null;default:1.0"`
	SourceURL      *string                `json:"source_url,omitempty"`
	SourceMetadata map[string]interface{} `json:"source_metadata,omitempty" gorm:"serializer:json"`
	RelatedEntries []string               `json:"related_entries" gorm:"serializer:json"`
	Tags           []string               `json:"tags" gorm:"serializer:json"`
	TokenCount     int                    `json:"token_count" gorm:"not null;default:1"`
}

// TableName implements gorm.Tabler.
func (MemoryEntry) TableName() string { return "memory_entries" }

// LastTouched returns the later of last access and indexing time.
func (e *MemoryEntry) LastTouched() time.Time {
	if e.LastAccessedAt != nil && e.LastAccessedAt.After(e.IndexedAt) {
		return *e.LastAccessedAt
	}
	return e.IndexedAt
}

// CompoundingEvent is one row of the per-user append-only compounding log.
type CompoundingEvent struct {
	ID        int64                  `json:"-" gorm:"primaryKey;autoIncrement"`
	UserID    string                 `json:"user_id" gorm:"not null;index:idx_event_user_ts,priority:1"`
	EventType string                 `json:"event_type" gorm:"not null"`
	Timestamp time.Time              `json:"timestamp" gorm:"not null;index:idx_event_user_ts,priority:2,sort:desc"`
	Details   map[string]interface{} `json:"details" gorm:"serializer:json"`
}

// TableName implements gorm.Tabler.
func (CompoundingEvent) TableName() string { return "compounding_events" }

// Compounding event kinds.
const (
	EventContentAdded    = "content_added"
	EventContentAccessed = "content_accessed"
	EventDecay           = "decay"
	EventRecluster       = "recluster"
	EventMergeDuplicates = "merge_duplicates"
)

// VoiceProfile is the per-user stylistic summary. The core reads sample_size
// and confidence; the descriptive fields are opaque to it.
type VoiceProfile struct {
	UserID               string                 `json:"user_id"`
	ToneKeywords         []string               `json:"tone_keywords"`
	VocabularyPatterns   map[string][]string    `json:"vocabulary_patterns"`
	SentenceStructure    map[string]interface{} `json:"sentence_structure"`
	ScriptPacing         map[string]interface{} `json:"script_pacing"`
	StorytellingPatterns map[string]interface{} `json:"storytelling_patterns"`
	CTAStyle             map[string]interface{} `json:"cta_style"`
	SampleSize           int                    `json:"sample_size"`
	Confidence           float64                `json:"confidence"`
	Version              int                    `json:"version"`
	CreatedAt            time.Time              `json:"created_at"`
}
