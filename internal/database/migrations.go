package database

import (
	"errors"
	"time"

	"github.com/jiwar-association/backend/internal/magiclink"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationClearConsumedTokenRows = "2026-07-14_clear_consumed_token_rows"

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

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationClearConsumedTokenRows, apply: clearConsumedTokenRows},
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

// clearConsumedTokenRows removes rows left behind by the old mark-used
// convention; consumption now deletes the row outright.
func clearConsumedTokenRows(db *gorm.DB) error {
	return db.Where("used = ?", true).Delete(&magiclink.MagicToken{}).Error
}
