package database

import (
	"errors"
	"time"

	"github.com/pubky-canva/indexer/internal/canvas"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationNormalizeNullCursors = "2026-05-20_normalize_null_cursors"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

// Migrations are forward-only: applied once, recorded by name, never undone.
func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationNormalizeNullCursors, apply: normalizeNullCursors},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// Rows imported from databases that predate the NOT NULL cursor default may
// carry NULL cursors, which the watcher would treat as a fresh user forever.
func normalizeNullCursors(db *gorm.DB) error {
	return db.Model(&canvas.User{}).
		Where("cursor IS NULL").
		Update("cursor", "").Error
}
