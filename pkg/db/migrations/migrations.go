package migrations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mwantia/filer/pkg/db/models"
	"gorm.io/gorm"
)

// ErrNothingToRollback is returned by Rollback on an index without any
// applied migration.
var ErrNothingToRollback = errors.New("no applied migration to roll back")

type Migration struct {
	Version     int
	Description string
	Up          func(*gorm.DB) error
	Down        func(*gorm.DB) error
}

type MigrationStatus struct {
	Version     int
	Description string
	Applied     bool
	AppliedAt   time.Time
}

type schemaVersion struct {
	Version     int    `gorm:"primaryKey;autoIncrement:false"`
	Description string `gorm:"type:text"`
	AppliedAt   time.Time
}

func (schemaVersion) TableName() string {
	return "schema_versions"
}

// Migrator applies the versioned schema of the metadata index. Every step
// runs in its own transaction together with its history entry.
type Migrator struct {
	db     *gorm.DB
	schema []Migration
}

func NewMigrator(db *gorm.DB) *Migrator {
	return &Migrator{
		db:     db,
		schema: schema(),
	}
}

// Migrate applies every pending migration in version order and returns how
// many were applied.
func (m *Migrator) Migrate(ctx context.Context) (int, error) {
	applied, err := m.applied(ctx)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, migration := range m.schema {
		if _, ok := applied[migration.Version]; ok {
			continue
		}

		err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := migration.Up(tx); err != nil {
				return err
			}
			return tx.Create(&schemaVersion{
				Version:     migration.Version,
				Description: migration.Description,
				AppliedAt:   time.Now().UTC(),
			}).Error
		})
		if err != nil {
			return count, fmt.Errorf("migration %d (%s) failed: %w", migration.Version, migration.Description, err)
		}
		count++
	}

	return count, nil
}

// Rollback reverts the most recently applied migration and returns it.
func (m *Migrator) Rollback(ctx context.Context) (*Migration, error) {
	if err := m.ensureHistory(ctx); err != nil {
		return nil, err
	}

	var last schemaVersion
	err := m.db.WithContext(ctx).Order("version DESC").First(&last).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNothingToRollback
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query schema history: %w", err)
	}

	migration := m.find(last.Version)
	if migration == nil {
		return nil, fmt.Errorf("applied migration %d is unknown to this build", last.Version)
	}

	err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := migration.Down(tx); err != nil {
			return err
		}
		return tx.Delete(&last).Error
	})
	if err != nil {
		return nil, fmt.Errorf("rollback of migration %d failed: %w", migration.Version, err)
	}
	return migration, nil
}

func (m *Migrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}

	statuses := make([]MigrationStatus, 0, len(m.schema))
	for _, migration := range m.schema {
		status := MigrationStatus{
			Version:     migration.Version,
			Description: migration.Description,
		}
		if at, ok := applied[migration.Version]; ok {
			status.Applied = true
			status.AppliedAt = at
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

func (m *Migrator) applied(ctx context.Context) (map[int]time.Time, error) {
	if err := m.ensureHistory(ctx); err != nil {
		return nil, err
	}

	var history []schemaVersion
	if err := m.db.WithContext(ctx).Find(&history).Error; err != nil {
		return nil, fmt.Errorf("failed to query schema history: %w", err)
	}

	applied := make(map[int]time.Time, len(history))
	for _, h := range history {
		applied[h.Version] = h.AppliedAt
	}
	return applied, nil
}

func (m *Migrator) ensureHistory(ctx context.Context) error {
	if err := m.db.WithContext(ctx).AutoMigrate(&schemaVersion{}); err != nil {
		return fmt.Errorf("failed to create schema history: %w", err)
	}
	return nil
}

func (m *Migrator) find(version int) *Migration {
	for i := range m.schema {
		if m.schema[i].Version == version {
			return &m.schema[i]
		}
	}
	return nil
}

func schema() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create file index",
			Up: func(db *gorm.DB) error {
				return db.AutoMigrate(&models.File{})
			},
			Down: func(db *gorm.DB) error {
				return db.Migrator().DropTable(&models.File{})
			},
		},
		{
			Version:     2,
			Description: "Index file modification time",
			Up: func(db *gorm.DB) error {
				return db.Exec("CREATE INDEX IF NOT EXISTS idx_files_modified_at ON files (modified_at)").Error
			},
			Down: func(db *gorm.DB) error {
				return db.Exec("DROP INDEX IF EXISTS idx_files_modified_at").Error
			},
		},
	}
}
