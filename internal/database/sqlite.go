package database

import (
	"fmt"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// OpenSQLite establishes a SQLite connection, migrates the given models and
// applies the named data migrations.
func OpenSQLite(path string, log *zap.Logger, models ...any) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	schema := append([]any{&migrationRecord{}}, models...)
	if err := db.AutoMigrate(schema...); err != nil {
		return nil, err
	}

	if err := applyMigrations(db, log); err != nil {
		return nil, err
	}

	if log != nil {
		log.Info("database initialized", zap.String("path", path), zap.Int("models", len(models)))
	}

	return db, nil
}
