package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/feedsync/internal/feed"
	"github.com/MarcoPoloResearchLab/feedsync/internal/posts"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationClampCachedLikeCounts = "2026-10-01_clamp_cached_like_counts"
	migrationClampServerLikeCounts = "2026-10-01_clamp_server_like_counts"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	model any
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationClampCachedLikeCounts, model: &posts.PostEntity{}, apply: clampCachedLikeCounts},
		{name: migrationClampServerLikeCounts, model: &feed.Post{}, apply: clampServerLikeCounts},
	}

	for _, migration := range migrations {
		if !db.Migrator().HasTable(migration.model) {
			continue
		}
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

func clampCachedLikeCounts(db *gorm.DB) error {
	return db.Model(&posts.PostEntity{}).
		Where("likes < 0").
		Update("likes", 0).Error
}

func clampServerLikeCounts(db *gorm.DB) error {
	return db.Model(&feed.Post{}).
		Where("likes < 0").
		Update("likes", 0).Error
}
