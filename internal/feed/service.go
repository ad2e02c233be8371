package feed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/feedsync/internal/posts"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew  = "feed.service.new"
	opListPosts   = "feed.list_posts"
	opSavePost    = "feed.save_post"
	opRemovePost  = "feed.remove_post"
	opSetReaction = "feed.set_reaction"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service owns the server-side copy of the feed and per-actor likes.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:     cfg.Database,
		clock:  clock,
		logger: logger,
	}, nil
}

// ListPosts returns every post, newest first, with LikedByMe evaluated for actor.
func (s *Service) ListPosts(ctx context.Context, actor string) ([]posts.Post, error) {
	if s.db == nil {
		s.logError(opListPosts, "missing_database", errMissingDatabase)
		return nil, newServiceError(opListPosts, "missing_database", errMissingDatabase)
	}

	var stored []Post
	if err := s.db.WithContext(ctx).Order("id DESC").Find(&stored).Error; err != nil {
		s.logError(opListPosts, "query_failed", err)
		return nil, newServiceError(opListPosts, "query_failed", err)
	}

	var likedIDs []int64
	if err := s.db.WithContext(ctx).
		Model(&Like{}).
		Where("actor_id = ?", actor).
		Pluck("post_id", &likedIDs).Error; err != nil {
		s.logError(opListPosts, "likes_query_failed", err, zap.String("actor", actor))
		return nil, newServiceError(opListPosts, "likes_query_failed", err)
	}
	liked := make(map[int64]struct{}, len(likedIDs))
	for _, id := range likedIDs {
		liked[id] = struct{}{}
	}

	result := make([]posts.Post, 0, len(stored))
	for _, post := range stored {
		_, likedByMe := liked[post.ID]
		result = append(result, post.toDto(likedByMe))
	}
	return result, nil
}

// SavePost creates a post when the incoming id is zero or locally reserved and
// updates the content of an existing post otherwise.
func (s *Service) SavePost(ctx context.Context, actor string, dto posts.Post) (posts.Post, error) {
	if s.db == nil {
		s.logError(opSavePost, "missing_database", errMissingDatabase)
		return posts.Post{}, newServiceError(opSavePost, "missing_database", errMissingDatabase)
	}
	if err := validateActor(actor); err != nil {
		return posts.Post{}, newServiceError(opSavePost, "invalid_actor", err)
	}
	if strings.TrimSpace(dto.Content) == "" {
		return posts.Post{}, newServiceError(opSavePost, "empty_content", fmt.Errorf("%w: empty content", ErrInvalidPost))
	}
	if dto.ID < 0 {
		return posts.Post{}, newServiceError(opSavePost, "invalid_id", fmt.Errorf("%w: negative id %d", ErrInvalidPost, dto.ID))
	}

	var saved posts.Post
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if dto.ID == 0 || posts.IsPendingID(dto.ID) {
			created := Post{
				Author:           strings.TrimSpace(dto.Author),
				AuthorAvatar:     dto.AuthorAvatar,
				PublishedSeconds: s.clock().UTC().Unix(),
			}
			if created.Author == "" {
				created.Author = actor
			}
			created.applyContent(dto)
			if err := tx.Create(&created).Error; err != nil {
				s.logError(opSavePost, "insert_failed", err, zap.String("actor", actor))
				return newServiceError(opSavePost, "insert_failed", err)
			}
			saved = created.toDto(false)
			return nil
		}

		var existing Post
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", dto.ID).Take(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newServiceError(opSavePost, "not_found", ErrPostNotFound)
		}
		if err != nil {
			s.logError(opSavePost, "select_failed", err, zap.Int64("post_id", dto.ID))
			return newServiceError(opSavePost, "select_failed", err)
		}
		existing.applyContent(dto)
		if err := tx.Save(&existing).Error; err != nil {
			s.logError(opSavePost, "update_failed", err, zap.Int64("post_id", dto.ID))
			return newServiceError(opSavePost, "update_failed", err)
		}
		likedByMe, err := hasLike(tx, existing.ID, actor)
		if err != nil {
			s.logError(opSavePost, "likes_query_failed", err, zap.Int64("post_id", dto.ID))
			return newServiceError(opSavePost, "likes_query_failed", err)
		}
		saved = existing.toDto(likedByMe)
		return nil
	})
	if txErr != nil {
		return posts.Post{}, txErr
	}
	return saved, nil
}

// RemovePost deletes a post together with its likes.
func (s *Service) RemovePost(ctx context.Context, id int64) error {
	if s.db == nil {
		s.logError(opRemovePost, "missing_database", errMissingDatabase)
		return newServiceError(opRemovePost, "missing_database", errMissingDatabase)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("id = ?", id).Delete(&Post{})
		if result.Error != nil {
			s.logError(opRemovePost, "delete_failed", result.Error, zap.Int64("post_id", id))
			return newServiceError(opRemovePost, "delete_failed", result.Error)
		}
		if result.RowsAffected == 0 {
			return newServiceError(opRemovePost, "not_found", ErrPostNotFound)
		}
		if err := tx.Where("post_id = ?", id).Delete(&Like{}).Error; err != nil {
			s.logError(opRemovePost, "likes_delete_failed", err, zap.Int64("post_id", id))
			return newServiceError(opRemovePost, "likes_delete_failed", err)
		}
		return nil
	})
}

// LikePost records that actor likes the post. Repeated likes are no-ops.
func (s *Service) LikePost(ctx context.Context, actor string, id int64) (posts.Post, error) {
	return s.setReaction(ctx, actor, id, true)
}

// UnlikePost withdraws the actor's like. Withdrawing a missing like is a no-op.
func (s *Service) UnlikePost(ctx context.Context, actor string, id int64) (posts.Post, error) {
	return s.setReaction(ctx, actor, id, false)
}

func (s *Service) setReaction(ctx context.Context, actor string, id int64, liked bool) (posts.Post, error) {
	if s.db == nil {
		s.logError(opSetReaction, "missing_database", errMissingDatabase)
		return posts.Post{}, newServiceError(opSetReaction, "missing_database", errMissingDatabase)
	}
	if err := validateActor(actor); err != nil {
		return posts.Post{}, newServiceError(opSetReaction, "invalid_actor", err)
	}

	var updated posts.Post
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var post Post
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).Take(&post).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newServiceError(opSetReaction, "not_found", ErrPostNotFound)
		}
		if err != nil {
			s.logError(opSetReaction, "select_failed", err, zap.Int64("post_id", id))
			return newServiceError(opSetReaction, "select_failed", err)
		}

		alreadyLiked, err := hasLike(tx, id, actor)
		if err != nil {
			s.logError(opSetReaction, "likes_query_failed", err, zap.Int64("post_id", id))
			return newServiceError(opSetReaction, "likes_query_failed", err)
		}

		switch {
		case liked && !alreadyLiked:
			like := Like{PostID: id, ActorID: actor, CreatedAtSeconds: s.clock().UTC().Unix()}
			if err := tx.Create(&like).Error; err != nil {
				s.logError(opSetReaction, "like_insert_failed", err, zap.Int64("post_id", id))
				return newServiceError(opSetReaction, "like_insert_failed", err)
			}
			post.Likes++
		case !liked && alreadyLiked:
			if err := tx.Where("post_id = ? AND actor_id = ?", id, actor).Delete(&Like{}).Error; err != nil {
				s.logError(opSetReaction, "like_delete_failed", err, zap.Int64("post_id", id))
				return newServiceError(opSetReaction, "like_delete_failed", err)
			}
			if post.Likes > 0 {
				post.Likes--
			}
		default:
			updated = post.toDto(alreadyLiked)
			return nil
		}

		if err := tx.Model(&Post{}).Where("id = ?", id).Update("likes", post.Likes).Error; err != nil {
			s.logError(opSetReaction, "count_update_failed", err, zap.Int64("post_id", id))
			return newServiceError(opSetReaction, "count_update_failed", err)
		}
		updated = post.toDto(liked)
		return nil
	})
	if txErr != nil {
		return posts.Post{}, txErr
	}
	return updated, nil
}

func hasLike(tx *gorm.DB, postID int64, actor string) (bool, error) {
	var count int64
	if err := tx.Model(&Like{}).Where("post_id = ? AND actor_id = ?", postID, actor).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func validateActor(actor string) error {
	trimmed := strings.TrimSpace(actor)
	if trimmed == "" {
		return fmt.Errorf("%w: empty", ErrInvalidActor)
	}
	if len(trimmed) > maxIdentifierLength {
		return fmt.Errorf("%w: exceeds %d characters", ErrInvalidActor, maxIdentifierLength)
	}
	return nil
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil {
		return noOpLogger
	}
	if s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("feed service error", attrs...)
}
