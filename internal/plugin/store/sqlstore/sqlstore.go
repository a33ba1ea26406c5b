// Package sqlstore implements the record store over GORM, registering both
// the sqlite (file path, default) and postgres (DSN) backends.
package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/recallstack/memory-infra/internal/config"
	"github.com/recallstack/memory-infra/internal/model"
	registrymigrate "github.com/recallstack/memory-infra/internal/registry/migrate"
	registrystore "github.com/recallstack/memory-infra/internal/registry/store"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

func init() {
	registrystore.Register(registrystore.Plugin{
		Name: "sqlite",
		Loader: func(ctx context.Context) (registrystore.RecordStore, error) {
			cfg := config.FromContext(ctx)
			if cfg == nil || cfg.StoragePath == "" {
				return nil, fmt.Errorf("sqlite store: storage path is required")
			}
			db, err := gorm.Open(sqlite.Open(cfg.StoragePath), gormConfig())
			if err != nil {
				return nil, fmt.Errorf("failed to open sqlite database: %w", err)
			}
			return &Store{db: db, name: "sqlite"}, nil
		},
	})
	registrystore.Register(registrystore.Plugin{
		Name: "postgres",
		Loader: func(ctx context.Context) (registrystore.RecordStore, error) {
			cfg := config.FromContext(ctx)
			if cfg == nil || cfg.DBURL == "" {
				return nil, fmt.Errorf("postgres store: MEMORY_INFRA_DB_URL is required")
			}
			db, err := gorm.Open(postgres.Open(cfg.DBURL), gormConfig())
			if err != nil {
				return nil, fmt.Errorf("failed to connect to postgres: %w", err)
			}
			sqlDB, err := db.DB()
			if err != nil {
				return nil, fmt.Errorf("failed to get underlying db: %w", err)
			}
			sqlDB.SetMaxOpenConns(cfg.DBMaxOpenConns)
			sqlDB.SetMaxIdleConns(cfg.DBMaxIdleConns)
			return &Store{db: db, name: "postgres"}, nil
		},
	})

	registrymigrate.Register(registrymigrate.Plugin{Order: 100, Migrator: &schemaMigrator{}})
}

func gormConfig() *gorm.Config {
	return &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)}
}

type schemaMigrator struct{}

func (m *schemaMigrator) Name() string { return "sql-schema" }
func (m *schemaMigrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg == nil || !cfg.DatastoreMigrateAtStart {
		return nil
	}

	var db *gorm.DB
	var err error
	switch cfg.DatastoreType {
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(cfg.StoragePath), gormConfig())
	case "postgres":
		db, err = gorm.Open(postgres.Open(cfg.DBURL), gormConfig())
	default:
		return nil
	}
	if err != nil {
		return fmt.Errorf("migration: failed to connect: %w", err)
	}
	defer func() {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			_ = sqlDB.Close()
		}
	}()

	log.Info("Running migration", "name", m.Name(), "backend", cfg.DatastoreType)
	if err := db.WithContext(ctx).AutoMigrate(&model.MemoryEntry{}, &model.CompoundingEvent{}); err != nil {
		return fmt.Errorf("migration: auto-migrate failed: %w", err)
	}
	return nil
}

// Store implements RecordStore over GORM. Every mutation is a single
// statement conditioned on (user_id, id), so concurrent writers serialize
// at the database row and never interleave field state.
type Store struct {
	db   *gorm.DB
	name string
}

func (s *Store) Name() string { return s.name }

func (s *Store) Upsert(ctx context.Context, entry *model.MemoryEntry) error {
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, UpdateAll: true}).
		Create(entry).Error
	return storageErr("upsert", err)
}

func (s *Store) Get(ctx context.Context, userID, entryID string) (*model.MemoryEntry, error) {
	var entry model.MemoryEntry
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND id = ?", userID, entryID).
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("get", err)
	}
	return &entry, nil
}

func (s *Store) List(ctx context.Context, userID, contentType string, limit, offset int, sortBy string) ([]model.MemoryEntry, error) {
	switch sortBy {
	case registrystore.SortByIndexedAt, registrystore.SortByLastAccessedAt, registrystore.SortByRelevanceDecay:
	default:
		sortBy = registrystore.SortByIndexedAt
	}
	q := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if contentType != "" {
		q = q.Where("content_type = ?", contentType)
	}
	var entries []model.MemoryEntry
	err := q.Order(sortBy + " DESC").Limit(limit).Offset(offset).Find(&entries).Error
	if err != nil {
		return nil, storageErr("list", err)
	}
	return entries, nil
}

func (s *Store) ListAll(ctx context.Context, userID string) ([]model.MemoryEntry, error) {
	var entries []model.MemoryEntry
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("id ASC").Find(&entries).Error
	if err != nil {
		return nil, storageErr("list_all", err)
	}
	return entries, nil
}

func (s *Store) Delete(ctx context.Context, userID, entryID string) (bool, error) {
	res := s.db.WithContext(ctx).
		Where("user_id = ? AND id = ?", userID, entryID).
		Delete(&model.MemoryEntry{})
	if res.Error != nil {
		return false, storageErr("delete", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) UpdateAccess(ctx context.Context, userID, entryID string, update registrystore.AccessUpdate) error {
	at := update.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	values := map[string]interface{}{
		"last_accessed_at": at,
		"access_count":     gorm.Expr("access_count + ?", update.Increment),
	}
	if update.ResetDecay {
		values["relevance_decay"] = 1.0
	}
	err := s.db.WithContext(ctx).Model(&model.MemoryEntry{}).
		Where("user_id = ? AND id = ?", userID, entryID).
		Updates(values).Error
	return storageErr("update_access", err)
}

func (s *Store) UpdateRelatedEntries(ctx context.Context, userID, entryID string, related []string) error {
	if related == nil {
		related = []string{}
	}
	err := s.db.WithContext(ctx).Model(&model.MemoryEntry{}).
		Where("user_id = ? AND id = ?", userID, entryID).
		Update("related_entries", related).Error
	return storageErr("update_related_entries", err)
}

func (s *Store) UpdateDecay(ctx context.Context, userID, entryID string, decay float64) error {
	err := s.db.WithContext(ctx).Model(&model.MemoryEntry{}).
		Where("user_id = ? AND id = ?", userID, entryID).
		Update("relevance_decay", decay).Error
	return storageErr("update_decay", err)
}

func (s *Store) UpdateContentFields(ctx context.Context, userID, entryID, title, preview string, tags []string) error {
	if tags == nil {
		tags = []string{}
	}
	err := s.db.WithContext(ctx).Model(&model.MemoryEntry{}).
		Where("user_id = ? AND id = ?", userID, entryID).
		Updates(map[string]interface{}{
			"title":           title,
			"content_preview": preview,
			"tags":            tags,
		}).Error
	return storageErr("update_content_fields", err)
}

func (s *Store) AddCompoundingEvent(ctx context.Context, userID, eventType string, details map[string]interface{}) error {
	event := model.CompoundingEvent{
		UserID:    userID,
		EventType: eventType,
		Timestamp: time.Now().UTC(),
		Details:   details,
	}
	err := s.db.WithContext(ctx).Create(&event).Error
	return storageErr("add_compounding_event", err)
}

func (s *Store) CompoundingEvents(ctx context.Context, userID string, limit int) ([]model.CompoundingEvent, error) {
	var events []model.CompoundingEvent
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("timestamp DESC, id DESC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, storageErr("compounding_events", err)
	}
	return events, nil
}

type statsRow struct {
	ContentType string
	Count       int
	Tokens      int
	Oldest      *time.Time
	Newest      *time.Time
}

func (s *Store) GetStats(ctx context.Context, userID string) (*registrystore.Stats, error) {
	var rows []statsRow
	err := s.db.WithContext(ctx).Model(&model.MemoryEntry{}).
		Select("content_type, COUNT(*) AS count, SUM(token_count) AS tokens, MIN(indexed_at) AS oldest, MAX(indexed_at) AS newest").
		Where("user_id = ?", userID).
		Group("content_type").
		Scan(&rows).Error
	if err != nil {
		return nil, storageErr("stats", err)
	}

	stats := &registrystore.Stats{EntriesByType: map[string]int{}}
	for _, row := range rows {
		stats.TotalEntries += row.Count
		stats.TotalTokens += row.Tokens
		stats.EntriesByType[row.ContentType] = row.Count
		if row.Oldest != nil && (stats.Oldest == nil || row.Oldest.Before(*stats.Oldest)) {
			oldest := *row.Oldest
			stats.Oldest = &oldest
		}
		if row.Newest != nil && (stats.Newest == nil || row.Newest.After(*stats.Newest)) {
			newest := *row.Newest
			stats.Newest = &newest
		}
	}
	return stats, nil
}

func (s *Store) ListUserIDs(ctx context.Context) ([]string, error) {
	var userIDs []string
	err := s.db.WithContext(ctx).Model(&model.MemoryEntry{}).
		Distinct("user_id").
		Order("user_id ASC").
		Pluck("user_id", &userIDs).Error
	if err != nil {
		return nil, storageErr("list_user_ids", err)
	}
	return userIDs, nil
}

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &registrystore.StorageError{Op: op, Err: err}
}

var _ registrystore.RecordStore = (*Store)(nil)
