package serve

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/recallstack/memory-infra/internal/config"
	registrycache "github.com/recallstack/memory-infra/internal/registry/cache"
	registryembed "github.com/recallstack/memory-infra/internal/registry/embed"
	registrystore "github.com/recallstack/memory-infra/internal/registry/store"
	registryvector "github.com/recallstack/memory-infra/internal/registry/vector"
	registryvoice "github.com/recallstack/memory-infra/internal/registry/voice"
	"github.com/urfave/cli/v3"

	// Import all plugins to trigger init() registration
	_ "github.com/recallstack/memory-infra/internal/plugin/cache/noop"
	_ "github.com/recallstack/memory-infra/internal/plugin/cache/redis"
	_ "github.com/recallstack/memory-infra/internal/plugin/cache/ristretto"
	_ "github.com/recallstack/memory-infra/internal/plugin/embed/local"
	_ "github.com/recallstack/memory-infra/internal/plugin/embed/openai"
	_ "github.com/recallstack/memory-infra/internal/plugin/route/system"
	_ "github.com/recallstack/memory-infra/internal/plugin/store/sqlstore"
	_ "github.com/recallstack/memory-infra/internal/plugin/vector/memory"
	_ "github.com/recallstack/memory-infra/internal/plugin/vector/qdrant"
	_ "github.com/recallstack/memory-infra/internal/plugin/voice/local"
)

// Command returns the serve sub-command.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	var readHeaderTimeoutSecs int = 5
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the memory infrastructure HTTP server",
		Flags: flags(&cfg, &readHeaderTimeoutSecs),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg.Listener.ReadHeaderTimeout = time.Duration(readHeaderTimeoutSecs) * time.Second
			return run(config.WithContext(ctx, &cfg), cfg)
		},
	}
}

func flags(cfg *config.Config, readHeaderTimeoutSecs *int) []cli.Flag {
	return []cli.Flag{

		// ── Server ────────────────────────────────────────────────
		&cli.IntFlag{
			Name:        "port",
			Category:    "Server:",
			Sources:     cli.EnvVars("MEMORY_INFRA_PORT"),
			Destination: &cfg.Listener.Port,
			Value:       cfg.Listener.Port,
			Usage:       "HTTP server port (0 = OS-assigned random port)",
		},
		&cli.IntFlag{
			Name:        "read-header-timeout-seconds",
			Category:    "Server:",
			Sources:     cli.EnvVars("MEMORY_INFRA_READ_HEADER_TIMEOUT_SECONDS"),
			Destination: readHeaderTimeoutSecs,
			Value:       *readHeaderTimeoutSecs,
			Usage:       "HTTP read header timeout in seconds",
		},
		&cli.BoolFlag{
			Name:        "cors-enabled",
			Category:    "Server:",
			Sources:     cli.EnvVars("MEMORY_INFRA_CORS_ENABLED"),
			Destination: &cfg.CORSEnabled,
			Usage:       "Enable CORS headers",
		},
		&cli.StringFlag{
			Name:        "cors-origins",
			Category:    "Server:",
			Sources:     cli.EnvVars("MEMORY_INFRA_CORS_ORIGINS"),
			Destination: &cfg.CORSOrigins,
			Value:       cfg.CORSOrigins,
			Usage:       "Comma-separated list of allowed CORS origins",
		},
		&cli.Int64Flag{
			Name:        "max-body-size",
			Category:    "Server:",
			Sources:     cli.EnvVars("MEMORY_INFRA_MAX_BODY_SIZE"),
			Destination: &cfg.MaxBodySize,
			Value:       cfg.MaxBodySize,
			Usage:       "Maximum request body size in bytes",
		},
		&cli.IntFlag{
			Name:        "drain-timeout-seconds",
			Category:    "Server:",
			Sources:     cli.EnvVars("MEMORY_INFRA_DRAIN_TIMEOUT_SECONDS"),
			Destination: &cfg.DrainTimeout,
			Value:       cfg.DrainTimeout,
			Usage:       "Graceful shutdown drain timeout in seconds",
		},

		// ── Database ───────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "db-kind",
			Category:    "Database:",
			Sources:     cli.EnvVars("MEMORY_INFRA_DB_KIND"),
			Destination: &cfg.DatastoreType,
			Value:       cfg.DatastoreType,
			Usage:       "Backend store (" + strings.Join(registrystore.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "storage-path",
			Category:    "Database:",
			Sources:     cli.EnvVars("MEMORY_INFRA_STORAGE_PATH"),
			Destination: &cfg.StoragePath,
			Value:       cfg.StoragePath,
			Usage:       "SQLite database file path",
		},
		&cli.StringFlag{
			Name:        "db-url",
			Category:    "Database:",
			Sources:     cli.EnvVars("MEMORY_INFRA_DB_URL"),
			Destination: &cfg.DBURL,
			Usage:       "Postgres connection URL",
		},
		&cli.BoolFlag{
			Name:        "db-migrate-at-start",
			Category:    "Database:",
			Sources:     cli.EnvVars("MEMORY_INFRA_DB_MIGRATE_AT_START"),
			Destination: &cfg.DatastoreMigrateAtStart,
			Value:       cfg.DatastoreMigrateAtStart,
			Usage:       "Run datastore migrations on startup",
		},
		&cli.IntFlag{
			Name:        "db-max-open-conns",
			Category:    "Database:",
			Sources:     cli.EnvVars("MEMORY_INFRA_DB_MAX_OPEN_CONNS"),
			Destination: &cfg.DBMaxOpenConns,
			Value:       cfg.DBMaxOpenConns,
			Usage:       "Maximum number of open database connections",
		},
		&cli.IntFlag{
			Name:        "db-max-idle-conns",
			Category:    "Database:",
			Sources:     cli.EnvVars("MEMORY_INFRA_DB_MAX_IDLE_CONNS"),
			Destination: &cfg.DBMaxIdleConns,
			Value:       cfg.DBMaxIdleConns,
			Usage:       "Maximum number of idle database connections",
		},

		// ── Vector Index ──────────────────────────────────────────
		&cli.StringFlag{
			Name:        "vector-kind",
			Category:    "Vector Index:",
			Sources:     cli.EnvVars("MEMORY_INFRA_VECTOR_KIND"),
			Destination: &cfg.VectorType,
			Value:       cfg.VectorType,
			Usage:       "Vector index backend (" + strings.Join(registryvector.Names(), "|") + ")",
		},
		&cli.BoolFlag{
			Name:        "vector-migrate-at-start",
			Category:    "Vector Index:",
			Sources:     cli.EnvVars("MEMORY_INFRA_VECTOR_MIGRATE_AT_START"),
			Destination: &cfg.VectorMigrateAtStart,
			Value:       cfg.VectorMigrateAtStart,
			Usage:       "Ensure the vector collection exists on startup",
		},
		&cli.StringFlag{
			Name:        "qdrant-host",
			Category:    "Vector Index:",
			Sources:     cli.EnvVars("MEMORY_INFRA_QDRANT_HOST"),
			Destination: &cfg.QdrantHost,
			Value:       cfg.QdrantHost,
			Usage:       "Qdrant host",
		},
		&cli.IntFlag{
			Name:        "qdrant-port",
			Category:    "Vector Index:",
			Sources:     cli.EnvVars("MEMORY_INFRA_QDRANT_PORT"),
			Destination: &cfg.QdrantPort,
			Value:       cfg.QdrantPort,
			Usage:       "Qdrant gRPC port",
		},
		&cli.StringFlag{
			Name:        "qdrant-collection",
			Category:    "Vector Index:",
			Sources:     cli.EnvVars("MEMORY_INFRA_QDRANT_COLLECTION"),
			Destination: &cfg.QdrantCollectionName,
			Value:       cfg.QdrantCollectionName,
			Usage:       "Qdrant collection name",
		},
		&cli.StringFlag{
			Name:        "qdrant-api-key",
			Category:    "Vector Index:",
			Sources:     cli.EnvVars("MEMORY_INFRA_QDRANT_API_KEY"),
			Destination: &cfg.QdrantAPIKey,
			Usage:       "Qdrant API key",
		},
		&cli.BoolFlag{
			Name:        "qdrant-tls",
			Category:    "Vector Index:",
			Sources:     cli.EnvVars("MEMORY_INFRA_QDRANT_TLS"),
			Destination: &cfg.QdrantUseTLS,
			Usage:       "Use TLS for the Qdrant connection",
		},

		// ── Embedding ─────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "embedding-kind",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("MEMORY_INFRA_EMBEDDING_KIND"),
			Destination: &cfg.EmbedType,
			Value:       cfg.EmbedType,
			Usage:       "Embedding provider (" + strings.Join(registryembed.Names(), "|") + ")",
		},
		&cli.IntFlag{
			Name:        "embedding-dimension",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("MEMORY_INFRA_EMBEDDING_DIMENSION"),
			Destination: &cfg.EmbeddingDimension,
			Value:       cfg.EmbeddingDimension,
			Usage:       "Vector dimension for the local embedder",
		},
		&cli.StringFlag{
			Name:        "embedding-openai-api-key",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("MEMORY_INFRA_OPENAI_API_KEY", "OPENAI_API_KEY"),
			Destination: &cfg.OpenAIAPIKey,
			Usage:       "OpenAI API key",
		},
		&cli.StringFlag{
			Name:        "embedding-openai-model",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("MEMORY_INFRA_OPENAI_MODEL"),
			Destination: &cfg.OpenAIModelName,
			Value:       cfg.OpenAIModelName,
			Usage:       "OpenAI embedding model name",
		},
		&cli.StringFlag{
			Name:        "embedding-openai-base-url",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("MEMORY_INFRA_OPENAI_BASE_URL"),
			Destination: &cfg.OpenAIBaseURL,
			Value:       cfg.OpenAIBaseURL,
			Usage:       "OpenAI API base URL",
		},

		// ── Voice Profile ─────────────────────────────────────────
		&cli.StringFlag{
			Name:        "voice-kind",
			Category:    "Voice Profile:",
			Sources:     cli.EnvVars("MEMORY_INFRA_VOICE_KIND"),
			Destination: &cfg.VoiceType,
			Value:       cfg.VoiceType,
			Usage:       "Voice profile backend (" + strings.Join(registryvoice.Names(), "|") + ")",
		},

		// ── Cache ─────────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "cache-kind",
			Category:    "Cache:",
			Sources:     cli.EnvVars("MEMORY_INFRA_CACHE_KIND"),
			Destination: &cfg.CacheType,
			Value:       cfg.CacheType,
			Usage:       "Related-entries cache backend (" + strings.Join(registrycache.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "redis-url",
			Category:    "Cache:",
			Sources:     cli.EnvVars("MEMORY_INFRA_REDIS_URL"),
			Destination: &cfg.RedisURL,
			Usage:       "Redis connection URL",
		},
		&cli.DurationFlag{
			Name:        "cache-ttl",
			Category:    "Cache:",
			Sources:     cli.EnvVars("MEMORY_INFRA_CACHE_TTL"),
			Destination: &cfg.CacheTTL,
			Value:       cfg.CacheTTL,
			Usage:       "How long cached related-entry lists are kept",
		},

		// ── Maintenance ───────────────────────────────────────────
		&cli.BoolFlag{
			Name:        "maintenance-enabled",
			Category:    "Maintenance:",
			Sources:     cli.EnvVars("MEMORY_INFRA_MAINTENANCE_ENABLED"),
			Destination: &cfg.MaintenanceEnabled,
			Usage:       "Run the scheduled decay, re-linking, and merge sweeps",
		},
		&cli.StringFlag{
			Name:        "decay-schedule",
			Category:    "Maintenance:",
			Sources:     cli.EnvVars("MEMORY_INFRA_DECAY_SCHEDULE"),
			Destination: &cfg.DecaySchedule,
			Value:       cfg.DecaySchedule,
			Usage:       "Cron schedule for the decay sweep",
		},
		&cli.StringFlag{
			Name:        "recluster-schedule",
			Category:    "Maintenance:",
			Sources:     cli.EnvVars("MEMORY_INFRA_RECLUSTER_SCHEDULE"),
			Destination: &cfg.ReclusterSchedule,
			Value:       cfg.ReclusterSchedule,
			Usage:       "Cron schedule for the re-linking sweep",
		},
		&cli.StringFlag{
			Name:        "merge-schedule",
			Category:    "Maintenance:",
			Sources:     cli.EnvVars("MEMORY_INFRA_MERGE_SCHEDULE"),
			Destination: &cfg.MergeSchedule,
			Value:       cfg.MergeSchedule,
			Usage:       "Cron schedule for the duplicate-merge sweep",
		},

		// ── Monitoring ────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "metrics-labels",
			Category:    "Monitoring:",
			Sources:     cli.EnvVars("MEMORY_INFRA_METRICS_LABELS"),
			Destination: &cfg.MetricsLabels,
			Value:       "service=memory-infra",
			Usage:       "Comma-separated key=value pairs added as constant labels to all Prometheus metrics. Supports ${VAR} expansion.",
		},
	}
}

func run(ctx context.Context, cfg config.Config) error {
	srv, err := StartServer(ctx, &cfg)
	if err != nil {
		return err
	}

	<-ctx.Done()
	log.Info("Shutting down...")

	drainCtx, drainCancel := context.WithTimeout(context.Background(), time.Duration(cfg.DrainTimeout)*time.Second)
	defer drainCancel()
	if err := srv.Shutdown(drainCtx); err != nil {
		log.Error("Shutdown error", "err", err)
	}
	log.Info("Server stopped")
	return nil
}

func maxBodySizeMiddleware(maxBodySize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodySize)
		c.Next()
	}
}
