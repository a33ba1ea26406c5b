package migrate

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/recallstack/memory-infra/internal/config"
	registrymigrate "github.com/recallstack/memory-infra/internal/registry/migrate"
	"github.com/urfave/cli/v3"

	// Import plugins to trigger init() registration of their migrators.
	// Store and vector plugins register migrators alongside their primary interface.
	_ "github.com/recallstack/memory-infra/internal/plugin/store/sqlstore"
	_ "github.com/recallstack/memory-infra/internal/plugin/vector/qdrant"
)

// Command returns the migrate sub-command.
func Command() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Run database and vector index migrations",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "db-kind",
				Sources: cli.EnvVars("MEMORY_INFRA_DB_KIND"),
				Usage:   "Backend store (sqlite|postgres)",
				Value:   "sqlite",
			},
			&cli.StringFlag{
				Name:    "storage-path",
				Sources: cli.EnvVars("MEMORY_INFRA_STORAGE_PATH"),
				Usage:   "SQLite database file path",
				Value:   "memory.db",
			},
			&cli.StringFlag{
				Name:    "db-url",
				Sources: cli.EnvVars("MEMORY_INFRA_DB_URL"),
				Usage:   "Postgres connection URL",
			},
			&cli.StringFlag{
				Name:    "vector-kind",
				Sources: cli.EnvVars("MEMORY_INFRA_VECTOR_KIND"),
				Usage:   "Vector index backend (memory|qdrant)",
				Value:   "memory",
			},
			&cli.StringFlag{
				Name:    "qdrant-host",
				Sources: cli.EnvVars("MEMORY_INFRA_QDRANT_HOST"),
				Usage:   "Qdrant host",
				Value:   "localhost",
			},
			&cli.StringFlag{
				Name:    "qdrant-collection",
				Sources: cli.EnvVars("MEMORY_INFRA_QDRANT_COLLECTION"),
				Usage:   "Qdrant collection name",
				Value:   "memory-infra",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := config.DefaultConfig()
			cfg.DatastoreType = cmd.String("db-kind")
			cfg.StoragePath = cmd.String("storage-path")
			cfg.DBURL = cmd.String("db-url")
			cfg.VectorType = cmd.String("vector-kind")
			cfg.QdrantHost = cmd.String("qdrant-host")
			cfg.QdrantCollectionName = cmd.String("qdrant-collection")
			ctx = config.WithContext(ctx, &cfg)

			log.Info("Running migrations...")
			if err := registrymigrate.RunAll(ctx); err != nil {
				return err
			}
			log.Info("All migrations completed successfully")
			return nil
		},
	}
}
