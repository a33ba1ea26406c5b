package config

import (
	"context"
	"time"
)

// ListenerConfig holds the network settings for the HTTP listener.
type ListenerConfig struct {
	Port              int
	ReadHeaderTimeout time.Duration
}

type contextKey struct{}

// WithContext returns a new context carrying the given Config.
func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, contextKey{}, cfg)
}

// FromContext retrieves the Config from the context.
func FromContext(ctx context.Context) *Config {
	cfg, _ := ctx.Value(contextKey{}).(*Config)
	return cfg
}

// Config holds all configuration for the memory infrastructure service.
type Config struct {
	// Datastore backend type: "sqlite" or "postgres".
	DatastoreType string

	// StoragePath is the sqlite database file path.
	StoragePath string

	// DBURL is the postgres connection URL.
	DBURL string

	// Run datastore migrations on startup.
	DatastoreMigrateAtStart bool

	// DB pool (postgres only)
	DBMaxOpenConns int
	DBMaxIdleConns int

	// Vector index backend type: "memory" or "qdrant".
	VectorType string

	// Run vector migrations on startup.
	VectorMigrateAtStart bool

	// Qdrant
	QdrantHost           string
	QdrantPort           int
	QdrantCollectionName string
	QdrantAPIKey         string
	QdrantUseTLS         bool
	QdrantStartupTimeout time.Duration

	// Embedding type: "local" or "openai".
	EmbedType string

	// EmbeddingDimension is the vector dimension for the local embedder.
	EmbeddingDimension int

	// OpenAI
	OpenAIAPIKey     string
	OpenAIModelName  string
	OpenAIBaseURL    string
	OpenAIDimensions int

	// Voice profile backend type: "local".
	VoiceType string

	// Advisory related-entries cache backend: "ristretto", "redis", or "none".
	CacheType string

	// Redis
	RedisURL string

	// CacheTTL bounds how long cached related-entry lists are kept (redis only).
	CacheTTL time.Duration

	// Background maintenance (decay / recluster / merge) scheduling.
	MaintenanceEnabled bool
	DecaySchedule      string
	ReclusterSchedule  string
	MergeSchedule      string

	// Server
	Listener    ListenerConfig
	CORSEnabled bool
	CORSOrigins string
	MaxBodySize int64

	// MetricsLabels is a comma-separated list of key=value pairs added as
	// constant labels to all Prometheus metrics.
	MetricsLabels string

	// Graceful shutdown drain timeout (seconds)
	DrainTimeout int
}

// DefaultConfig returns a Config with sensible defaults.
// No environment variable is mandatory: the defaults run fully in-process
// (sqlite file store, in-memory vector index, local embedder).
func DefaultConfig() Config {
	return Config{
		DatastoreType:           "sqlite",
		StoragePath:             "memory.db",
		DatastoreMigrateAtStart: true,
		DBMaxOpenConns:          25,
		DBMaxIdleConns:          5,
		VectorType:              "memory",
		VectorMigrateAtStart:    true,
		QdrantHost:              "localhost",
		QdrantPort:              6334,
		QdrantCollectionName:    "memory-infra",
		QdrantStartupTimeout:    30 * time.Second,
		EmbedType:               "local",
		EmbeddingDimension:      512,
		OpenAIModelName:         "text-embedding-3-small",
		OpenAIBaseURL:           "https://api.openai.com/v1",
		VoiceType:               "local",
		CacheType:               "ristretto",
		CacheTTL:                10 * time.Minute,
		DecaySchedule:           "0 3 * * *",
		ReclusterSchedule:       "0 4 * * 0",
		MergeSchedule:           "0 5 1 * *",
		Listener: ListenerConfig{
			Port:              8080,
			ReadHeaderTimeout: 5 * time.Second,
		},
		CORSOrigins:  "http://localhost:3000",
		MaxBodySize:  4 * 1024 * 1024,
		DrainTimeout: 30,
	}
}
