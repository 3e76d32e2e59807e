package database

import (
	"fmt"

	sqlite "github.com/glebarez/sqlite"
	"github.com/jiwar-association/backend/internal/magiclink"
	"github.com/jiwar-association/backend/internal/members"
	"github.com/jiwar-association/backend/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OpenSQLite establishes a SQLite connection and performs schema migrations.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	// The unique telegram_id index cannot be created while duplicate rows
	// from the pre-index era exist, so the dedupe runs first.
	if err := dedupeMemberTelegramIDs(db); err != nil && logger != nil {
		logger.Warn("member dedupe failed", zap.Error(err))
	}

	if err := db.AutoMigrate(
		&magiclink.MagicToken{},
		&members.Profile{},
		&users.Record{},
		&migrationRecord{},
	); err != nil {
		return nil, err
	}

	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("path", path))
	}

	return db, nil
}

func dedupeMemberTelegramIDs(db *gorm.DB) error {
	if !db.Migrator().HasTable(&members.Profile{}) {
		return nil
	}
	const query = `DELETE FROM members WHERE profile_id NOT IN (
		SELECT MIN(profile_id) FROM members GROUP BY telegram_id
	);`
	return db.Exec(query).Error
}
