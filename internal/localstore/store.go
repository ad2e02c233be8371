package localstore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/MarcoPoloResearchLab/feedsync/internal/live"
	"github.com/MarcoPoloResearchLab/feedsync/internal/posts"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// upsertBatchSize keeps each INSERT well under SQLite's bound variable limit.
const upsertBatchSize = 500

var errMissingDatabase = errors.New("database handle is required")

// Config bundles the dependencies of a Store.
type Config struct {
	Database *gorm.DB
	Logger   *zap.Logger
}

// Store is the sqlite-backed post cache. Every successful mutation republishes
// the full cache, newest id first, to observers.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
	feed   *live.Value[[]posts.PostEntity]
	// serializes write-then-reload so snapshots are published in write order
	writeMu sync.Mutex
}

// New loads the current cache contents and returns a Store publishing them.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	store := &Store{db: cfg.Database, logger: logger}
	snapshot, err := store.loadAll(ctx)
	if err != nil {
		return nil, err
	}
	store.feed = live.NewValue(snapshot)
	return store, nil
}

// ObserveAll exposes the live cache contents.
func (s *Store) ObserveAll() live.Feed[[]posts.PostEntity] {
	return s.feed
}

// InsertOrReplace upserts the entities by id in one transaction and publishes
// a single snapshot once every entity is written.
func (s *Store) InsertOrReplace(ctx context.Context, entities ...posts.PostEntity) error {
	if len(entities) == 0 {
		return nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).CreateInBatches(&entities, upsertBatchSize).Error
	})
	if err != nil {
		s.logger.Error("post upsert failed", zap.Int("count", len(entities)), zap.Error(err))
		return fmt.Errorf("localstore: upsert posts: %w", err)
	}
	return s.republish(ctx)
}

// DeleteByID removes the post with the given id; a missing id is a no-op.
func (s *Store) DeleteByID(ctx context.Context, id int64) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	result := s.db.WithContext(ctx).Where("id = ?", id).Delete(&posts.PostEntity{})
	if result.Error != nil {
		s.logger.Error("post delete failed", zap.Int64("post_id", id), zap.Error(result.Error))
		return fmt.Errorf("localstore: delete post %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return nil
	}
	return s.republish(ctx)
}

// LowestPendingID returns the smallest id in the reserved range, or 0 if none.
func (s *Store) LowestPendingID(ctx context.Context) (int64, error) {
	var lowest int64
	err := s.db.WithContext(ctx).
		Model(&posts.PostEntity{}).
		Where("id >= ?", posts.ReservedIDFloor).
		Select("COALESCE(MIN(id), 0)").
		Scan(&lowest).Error
	if err != nil {
		return 0, fmt.Errorf("localstore: lowest pending id: %w", err)
	}
	return lowest, nil
}

func (s *Store) republish(ctx context.Context) error {
	snapshot, err := s.loadAll(ctx)
	if err != nil {
		return err
	}
	s.feed.Publish(snapshot)
	return nil
}

func (s *Store) loadAll(ctx context.Context) ([]posts.PostEntity, error) {
	var entities []posts.PostEntity
	if err := s.db.WithContext(ctx).Order("id DESC").Find(&entities).Error; err != nil {
		s.logger.Error("post load failed", zap.Error(err))
		return nil, fmt.Errorf("localstore: load posts: %w", err)
	}
	return entities, nil
}
