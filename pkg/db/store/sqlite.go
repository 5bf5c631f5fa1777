package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/mwantia/filer/pkg/db/migrations"
	"github.com/mwantia/filer/pkg/db/models"
	"github.com/mwantia/filer/pkg/log"
	"github.com/mwantia/filer/pkg/metadata"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// SQLiteStore implements MetadataStore using SQLite
type SQLiteStore struct {
	db          *gorm.DB
	path        string
	busyTimeout time.Duration
	log         log.LoggerService
}

// DB returns the underlying GORM database instance
func (s *SQLiteStore) DB() *gorm.DB {
	return s.db
}

// SQLiteConfig holds SQLite-specific configuration
type SQLiteConfig struct {
	Path        string
	BusyTimeout time.Duration
	LogLevel    logger.LogLevel
}

// NewSQLiteStore creates a new SQLite-backed metadata store
func NewSQLiteStore(cfg SQLiteConfig, log log.LoggerService) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	// Default to silent logging
	if cfg.LogLevel == 0 {
		cfg.LogLevel = logger.Silent
	}

	db, err := gorm.Open(sqlite.Open(cfg.Path), &gorm.Config{
		Logger: logger.Default.LogMode(cfg.LogLevel),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	return &SQLiteStore{
		db:          db,
		path:        cfg.Path,
		busyTimeout: cfg.BusyTimeout,
		log:         log,
	}, nil
}

// Connect initializes the database connection
func (s *SQLiteStore) Connect(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}

	// Configure connection pool
	sqlDB.SetMaxOpenConns(1) // SQLite only supports 1 writer
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping sqlite database '%s': %w", s.path, err)
	}

	if s.busyTimeout > 0 {
		pragma := fmt.Sprintf("PRAGMA busy_timeout = %d", s.busyTimeout.Milliseconds())
		if err := s.db.WithContext(ctx).Exec(pragma).Error; err != nil {
			return fmt.Errorf("failed to configure busy timeout: %w", err)
		}
	}

	s.log.Debug("Connected to sqlite index at '%s'", s.path)
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}
	return sqlDB.Close()
}

// Migrate runs all pending schema migrations
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	applied, err := migrations.NewMigrator(s.db).Migrate(ctx)
	if err != nil {
		return err
	}
	if applied > 0 {
		s.log.Info("Applied %d schema migration(s)", applied)
	}
	return nil
}

// Health checks database connectivity
func (s *SQLiteStore) Health(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// Index operations

func (s *SQLiteStore) Record(ctx context.Context, record *metadata.Record) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}

	file, err := toModel(record)
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "path"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"id", "size", "md5_hash", "mimetype", "visibility", "backing",
				"modified_at", "created_at", "updated_at",
			}),
		}).
		Create(file).Error
	if err != nil {
		return fmt.Errorf("failed to record '%s': %w", record.Path, err)
	}

	s.log.Debug("Recorded '%s' on %v", record.Path, record.Backing.Names())
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, path string) (*metadata.Record, error) {
	var file models.File
	err := s.db.WithContext(ctx).Where("path = ?", path).First(&file).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get '%s': %w", path, err)
	}
	return fromModel(&file)
}

func (s *SQLiteStore) Exists(ctx context.Context, path string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.File{}).Where("path = ?", path).Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check '%s': %w", path, err)
	}
	return count > 0, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, path string) error {
	err := s.db.WithContext(ctx).Where("path = ?", path).Delete(&models.File{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete '%s': %w", path, err)
	}
	return nil
}

func (s *SQLiteStore) Rename(ctx context.Context, oldPath, newPath string) error {
	if oldPath == newPath {
		_, err := s.Get(ctx, oldPath)
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var file models.File
		if err := tx.Where("path = ?", oldPath).First(&file).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("failed to get '%s': %w", oldPath, err)
		}

		if err := tx.Where("path = ?", newPath).Delete(&models.File{}).Error; err != nil {
			return fmt.Errorf("failed to replace '%s': %w", newPath, err)
		}

		err := tx.Model(&models.File{}).
			Where("id = ?", file.ID).
			Update("path", newPath).Error
		if err != nil {
			return fmt.Errorf("failed to rename '%s' to '%s': %w", oldPath, newPath, err)
		}

		return nil
	})
}

// List returns the records below prefix. Without recursion only direct
// children are returned; directories are not materialized.
func (s *SQLiteStore) List(ctx context.Context, prefix string, recursive bool) ([]*metadata.Record, error) {
	dir := strings.Trim(prefix, "/")
	if dir != "" {
		dir += "/"
	}

	query := s.db.WithContext(ctx).Order("path ASC")
	if dir != "" {
		query = query.Where("path LIKE ? ESCAPE '\\'", escapeLike(dir)+"%")
	}

	var files []models.File
	if err := query.Find(&files).Error; err != nil {
		return nil, fmt.Errorf("failed to list '%s': %w", prefix, err)
	}

	records := make([]*metadata.Record, 0, len(files))
	for i := range files {
		if !recursive && strings.Contains(strings.TrimPrefix(files[i].Path, dir), "/") {
			continue
		}

		record, err := fromModel(&files[i])
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	return records, nil
}

func (s *SQLiteStore) SetVisibility(ctx context.Context, path string, visibility metadata.Visibility) error {
	if _, err := metadata.ParseVisibility(string(visibility)); err != nil {
		return err
	}

	result := s.db.WithContext(ctx).
		Model(&models.File{}).
		Where("path = ?", path).
		Update("visibility", string(visibility))
	if result.Error != nil {
		return fmt.Errorf("failed to set visibility of '%s': %w", path, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func toModel(record *metadata.Record) (*models.File, error) {
	if record.Backing.IsEmpty() {
		return nil, &metadata.ConstructionError{Path: record.Path, Field: "backing", Reason: "must contain at least one backend"}
	}

	if _, err := metadata.ParseVisibility(string(record.Visibility)); err != nil {
		return nil, &metadata.ConstructionError{Path: record.Path, Field: "visibility", Reason: err.Error()}
	}

	backing, err := json.Marshal(record.Backing)
	if err != nil {
		return nil, fmt.Errorf("failed to encode backing of '%s': %w", record.Path, err)
	}

	return &models.File{
		ID:         record.ID,
		Path:       record.Path,
		Size:       record.Size,
		MD5Hash:    record.Hash,
		Mimetype:   record.Mimetype,
		Visibility: string(record.Visibility),
		Backing:    string(backing),
		ModifiedAt: record.Timestamp,
		CreatedAt:  record.CreatedAt,
		UpdatedAt:  record.UpdatedAt,
	}, nil
}

func fromModel(file *models.File) (*metadata.Record, error) {
	backing := metadata.NewBackingLocation()
	if err := json.Unmarshal([]byte(file.Backing), backing); err != nil {
		return nil, fmt.Errorf("failed to decode backing of '%s': %w", file.Path, err)
	}

	size := file.Size
	return metadata.Restore(metadata.Structured{
		ID:         file.ID,
		Path:       file.Path,
		Hash:       file.MD5Hash,
		Mimetype:   file.Mimetype,
		Visibility: file.Visibility,
		Size:       &size,
		Backing:    backing,
		Timestamp:  unix(file.ModifiedAt),
		CreatedAt:  unix(file.CreatedAt),
		UpdatedAt:  unix(file.UpdatedAt),
	})
}

func unix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}
