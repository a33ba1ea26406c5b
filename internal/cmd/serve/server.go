package serve

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/recallstack/memory-infra/internal/config"
	"github.com/recallstack/memory-infra/internal/plugin/route/contextapi"
	"github.com/recallstack/memory-infra/internal/plugin/route/memoryapi"
	routesystem "github.com/recallstack/memory-infra/internal/plugin/route/system"
	storemetrics "github.com/recallstack/memory-infra/internal/plugin/store/metrics"
	registrycache "github.com/recallstack/memory-infra/internal/registry/cache"
	registryembed "github.com/recallstack/memory-infra/internal/registry/embed"
	registrymigrate "github.com/recallstack/memory-infra/internal/registry/migrate"
	registryroute "github.com/recallstack/memory-infra/internal/registry/route"
	registrystore "github.com/recallstack/memory-infra/internal/registry/store"
	registryvector "github.com/recallstack/memory-infra/internal/registry/vector"
	registryvoice "github.com/recallstack/memory-infra/internal/registry/voice"
	"github.com/recallstack/memory-infra/internal/service"
	"github.com/recallstack/memory-infra/internal/telemetry"
)

// Server holds the running HTTP server and its subsystems.
type Server struct {
	Config  *config.Config
	Records registrystore.RecordStore
	Router  *gin.Engine

	// Port is the actual listen port; differs from the configured port
	// when the config asked for port 0.
	Port int

	httpServer    *http.Server
	stopScheduler func()
}

// Shutdown stops the maintenance scheduler and drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.stopScheduler != nil {
		s.stopScheduler()
	}
	return s.httpServer.Shutdown(ctx)
}

// StartServer initializes all subsystems and starts the HTTP server.
// Use cfg.Listener.Port=0 for a random port. Actual port: Server.Port.
func StartServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	log.Info("Starting memory infrastructure",
		"httpPort", cfg.Listener.Port,
		"db", cfg.DatastoreType,
		"vector", cfg.VectorType,
		"embedding", cfg.EmbedType,
		"cache", cfg.CacheType,
	)

	// Initialize Prometheus metrics with configured constant labels.
	metricsLabels, err := telemetry.ParseMetricsLabels(cfg.MetricsLabels)
	if err != nil {
		return nil, fmt.Errorf("invalid --metrics-labels: %w", err)
	}
	telemetry.InitMetrics(metricsLabels)

	// Run migrations
	if err := registrymigrate.RunAll(ctx); err != nil {
		return nil, fmt.Errorf("migrations failed: %w", err)
	}

	// Initialize the record store
	storeLoader, err := registrystore.Select(cfg.DatastoreType)
	if err != nil {
		return nil, err
	}
	records, err := storeLoader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize record store: %w", err)
	}
	records = storemetrics.Wrap(records)

	// Initialize the vector index
	vectorLoader, err := registryvector.Select(cfg.VectorType)
	if err != nil {
		return nil, err
	}
	vectors, err := vectorLoader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize vector index: %w", err)
	}

	// Initialize the embedder
	embedLoader, err := registryembed.Select(cfg.EmbedType)
	if err != nil {
		return nil, err
	}
	embedder, err := embedLoader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	// Initialize the voice profile store
	voiceLoader, err := registryvoice.Select(cfg.VoiceType)
	if err != nil {
		return nil, err
	}
	voice, err := voiceLoader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize voice profile store: %w", err)
	}

	// Initialize the advisory related-entries cache. A broken cache is not
	// fatal: fall back to the no-op backend.
	related := loadCache(ctx, cfg)

	// Wire services
	indexer := service.NewIndexer(vectors, embedder)
	compounding := service.NewCompounding(records, vectors, voice, related)
	aggregator := service.NewAggregator(records, indexer, compounding)
	builder := service.NewContextBuilder(records, vectors, embedder, voice)
	stats := service.NewStats(records, vectors, voice)
	maintenance := service.NewMaintenance(records, vectors, compounding)

	// Set up gin
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(telemetry.AccessLogMiddleware("/healthz", "/ready", "/metrics"))
	router.Use(telemetry.MetricsMiddleware())
	router.Use(maxBodySizeMiddleware(cfg.MaxBodySize))
	if cfg.CORSEnabled {
		router.Use(corsMiddleware(cfg.CORSOrigins))
	}

	// Mount registered route plugins (system endpoints), then the API routes.
	for _, loader := range registryroute.Loaders() {
		if err := loader(router); err != nil {
			return nil, fmt.Errorf("failed to load routes: %w", err)
		}
	}
	memoryapi.MountRoutes(router, memoryapi.Deps{
		Records:     records,
		Vectors:     vectors,
		Aggregator:  aggregator,
		Compounding: compounding,
		Stats:       stats,
		Maintenance: maintenance,
	})
	contextapi.MountRoutes(router, builder)

	// Start the background maintenance scheduler.
	var stopScheduler func()
	if cfg.MaintenanceEnabled {
		stopScheduler, err = maintenance.StartScheduler(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to start maintenance scheduler: %w", err)
		}
	}

	// Start the listener.
	ln, err := net.Listen("tcp", ":"+strconv.Itoa(cfg.Listener.Port))
	if err != nil {
		return nil, err
	}
	httpServer := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: cfg.Listener.ReadHeaderTimeout,
	}
	go func() {
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", "err", err)
		}
	}()

	port := ln.Addr().(*net.TCPAddr).Port
	log.Info("Server listening", "port", port)

	routesystem.MarkReady()
	return &Server{
		Config:        cfg,
		Records:       records,
		Router:        router,
		Port:          port,
		httpServer:    httpServer,
		stopScheduler: stopScheduler,
	}, nil
}

func loadCache(ctx context.Context, cfg *config.Config) registrycache.RelatedCache {
	cacheLoader, err := registrycache.Select(cfg.CacheType)
	if err != nil {
		log.Warn("Cache not available", "cache", cfg.CacheType, "err", err)
		return noopRelatedCache(ctx)
	}
	related, err := cacheLoader(ctx)
	if err != nil {
		log.Warn("Failed to initialize cache", "cache", cfg.CacheType, "err", err)
		return noopRelatedCache(ctx)
	}
	return related
}

func noopRelatedCache(ctx context.Context) registrycache.RelatedCache {
	loader, err := registrycache.Select("none")
	if err != nil {
		panic("no-op cache plugin not registered")
	}
	related, err := loader(ctx)
	if err != nil {
		panic("no-op cache failed to load: " + err.Error())
	}
	return related
}
