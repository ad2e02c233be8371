package posts

import (
	"context"

	"github.com/MarcoPoloResearchLab/feedsync/internal/live"
	"go.uber.org/zap"
)

const (
	opFetchAll   = "posts.fetch_all"
	opSave       = "posts.save"
	opRemoveByID = "posts.remove_by_id"
	opLikeByID   = "posts.like_by_id"
)

// LocalStore is the durable cache the repository writes through.
type LocalStore interface {
	PendingIDSource
	ObserveAll() live.Feed[[]PostEntity]
	InsertOrReplace(ctx context.Context, entities ...PostEntity) error
	DeleteByID(ctx context.Context, id int64) error
}

// Response is the outcome of one remote call that reached the server.
type Response[T any] struct {
	Successful    bool
	StatusCode    int
	StatusMessage string
	Body          *T
}

// RemoteService is the posts API.
type RemoteService interface {
	GetAll(ctx context.Context) (Response[[]Post], error)
	Save(ctx context.Context, post Post) (Response[Post], error)
	RemoveByID(ctx context.Context, id int64) (Response[struct{}], error)
	LikeByID(ctx context.Context, id int64) (Response[Post], error)
	DislikeByID(ctx context.Context, id int64) (Response[Post], error)
}

// RepositoryConfig bundles the collaborators of a Repository.
type RepositoryConfig struct {
	Store  LocalStore
	Remote RemoteService
	Logger *zap.Logger
}

// Repository mediates between the local cache and the remote posts service.
// The cache is the source of truth for readers; mutations are written locally
// before the remote call and are never rolled back when that call fails.
//
// Concurrent LikeByID calls for the same id may read the same snapshot and
// write contradictory toggles; the last store write wins.
type Repository struct {
	store   LocalStore
	remote  RemoteService
	logger  *zap.Logger
	data    live.Feed[[]Post]
	pending *PendingIDs
}

// NewRepository wires the repository and starts the one-shot pending id refresh.
func NewRepository(cfg RepositoryConfig) (*Repository, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.Remote == nil {
		return nil, errMissingRemote
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	repo := &Repository{
		store:   cfg.Store,
		remote:  cfg.Remote,
		logger:  logger,
		data:    live.Map(cfg.Store.ObserveAll(), ToDtos),
		pending: NewPendingIDs(),
	}
	go repo.pending.Refresh(context.Background(), cfg.Store, logger)
	return repo, nil
}

// Data exposes the cached posts as a live sequence.
func (r *Repository) Data() live.Feed[[]Post] {
	return r.data
}

// LowestPendingID returns the lowest locally reserved id known, or InitialPendingID.
func (r *Repository) LowestPendingID() int64 {
	return r.pending.Value()
}

// Ready is closed once the startup pending id refresh has finished.
func (r *Repository) Ready() <-chan struct{} {
	return r.pending.Done()
}

// FetchAll merges every post returned by the server into the cache.
// Cached posts missing from the response are left untouched.
func (r *Repository) FetchAll(ctx context.Context) error {
	response, err := r.remote.GetAll(ctx)
	if err != nil {
		return r.fail(opFetchAll, err)
	}
	body, err := requireBody(response)
	if err != nil {
		return r.fail(opFetchAll, err)
	}
	if err := r.store.InsertOrReplace(ctx, ToEntities(*body)...); err != nil {
		return r.fail(opFetchAll, err)
	}
	return nil
}

// Save sends post to the server and caches the post the server returns,
// which may carry a different id than the input.
func (r *Repository) Save(ctx context.Context, post Post) error {
	response, err := r.remote.Save(ctx, post)
	if err != nil {
		return r.fail(opSave, err, zap.Int64("post_id", post.ID))
	}
	body, err := requireBody(response)
	if err != nil {
		return r.fail(opSave, err, zap.Int64("post_id", post.ID))
	}
	if err := r.store.InsertOrReplace(ctx, FromDto(*body)); err != nil {
		return r.fail(opSave, err, zap.Int64("post_id", body.ID))
	}
	return nil
}

// RemoveByID deletes the post from the cache and then from the server.
// A failed server call leaves the cache without the post.
func (r *Repository) RemoveByID(ctx context.Context, id int64) error {
	if err := r.store.DeleteByID(ctx, id); err != nil {
		return r.fail(opRemoveByID, err, zap.Int64("post_id", id))
	}
	response, err := r.remote.RemoveByID(ctx, id)
	if err != nil {
		return r.fail(opRemoveByID, err, zap.Int64("post_id", id))
	}
	if !response.Successful {
		return r.fail(opRemoveByID, NewAPIError(response.StatusCode, response.StatusMessage), zap.Int64("post_id", id))
	}
	return nil
}

// LikeByID toggles the like flag of a cached post, writes the result to the
// cache and then reports the new state to the server. The local write is kept
// when the server call fails.
func (r *Repository) LikeByID(ctx context.Context, id int64) error {
	target, ok := findByID(r.data.Current(), id)
	if !ok {
		return r.fail(opLikeByID, errPostNotFound, zap.Int64("post_id", id))
	}

	toggled := target.toggleLike()
	if err := r.store.InsertOrReplace(ctx, FromDto(toggled)); err != nil {
		return r.fail(opLikeByID, err, zap.Int64("post_id", id))
	}

	var (
		response Response[Post]
		err      error
	)
	if toggled.LikedByMe {
		response, err = r.remote.LikeByID(ctx, id)
	} else {
		response, err = r.remote.DislikeByID(ctx, id)
	}
	if err != nil {
		return r.fail(opLikeByID, err, zap.Int64("post_id", id))
	}
	if !response.Successful {
		return r.fail(opLikeByID, NewAPIError(response.StatusCode, response.StatusMessage), zap.Int64("post_id", id))
	}
	return nil
}

func requireBody[T any](response Response[T]) (*T, error) {
	if !response.Successful || response.Body == nil {
		return nil, NewAPIError(response.StatusCode, response.StatusMessage)
	}
	return response.Body, nil
}

func findByID(snapshot []Post, id int64) (Post, bool) {
	for _, post := range snapshot {
		if post.ID == id {
			return post, true
		}
	}
	return Post{}, false
}

func (r *Repository) fail(operation string, cause error, fields ...zap.Field) error {
	failure := Classify(cause)
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("kind", string(failure.Kind())),
		zap.Error(cause),
	}
	attrs = append(attrs, fields...)
	r.logger.Warn("posts repository operation failed", attrs...)
	return failure
}
