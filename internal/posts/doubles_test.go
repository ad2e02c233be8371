package posts

import (
	"context"
	"sort"
	"sync"

	"github.com/MarcoPoloResearchLab/feedsync/internal/live"
)

type memoryStore struct {
	mu        sync.Mutex
	entities  map[int64]PostEntity
	feed      *live.Value[[]PostEntity]
	inserts   int
	events    *[]string
	lowest    int64
	lowestErr error
	insertErr error
}

func newMemoryStore(events *[]string, initial ...PostEntity) *memoryStore {
	store := &memoryStore{
		entities: make(map[int64]PostEntity),
		feed:     live.NewValue[[]PostEntity](nil),
		events:   events,
	}
	for _, entity := range initial {
		store.entities[entity.ID] = entity
	}
	store.publishLocked()
	return store
}

func (s *memoryStore) ObserveAll() live.Feed[[]PostEntity] {
	return s.feed
}

func (s *memoryStore) InsertOrReplace(_ context.Context, entities ...PostEntity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("store.insert")
	if s.insertErr != nil {
		return s.insertErr
	}
	s.inserts++
	for _, entity := range entities {
		s.entities[entity.ID] = entity
	}
	s.publishLocked()
	return nil
}

func (s *memoryStore) DeleteByID(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("store.delete")
	delete(s.entities, id)
	s.publishLocked()
	return nil
}

func (s *memoryStore) LowestPendingID(context.Context) (int64, error) {
	return s.lowest, s.lowestErr
}

func (s *memoryStore) get(id int64) (PostEntity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entity, ok := s.entities[id]
	return entity, ok
}

func (s *memoryStore) ids() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int64, 0, len(s.entities))
	for id := range s.entities {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (s *memoryStore) record(event string) {
	if s.events != nil {
		*s.events = append(*s.events, event)
	}
}

func (s *memoryStore) publishLocked() {
	snapshot := make([]PostEntity, 0, len(s.entities))
	for _, entity := range s.entities {
		snapshot = append(snapshot, entity)
	}
	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].ID > snapshot[j].ID })
	s.feed.Publish(snapshot)
}

type stubRemote struct {
	events *[]string

	getAll    func() (Response[[]Post], error)
	save      func(Post) (Response[Post], error)
	remove    func(int64) (Response[struct{}], error)
	like      func(int64) (Response[Post], error)
	dislike   func(int64) (Response[Post], error)
	onRemove  func()
	calls     []string
	savedPost *Post
}

func (r *stubRemote) GetAll(context.Context) (Response[[]Post], error) {
	r.record("remote.get_all")
	if r.getAll == nil {
		return Response[[]Post]{Successful: true, StatusCode: 200, Body: &[]Post{}}, nil
	}
	return r.getAll()
}

func (r *stubRemote) Save(_ context.Context, post Post) (Response[Post], error) {
	r.record("remote.save")
	r.savedPost = &post
	if r.save == nil {
		return Response[Post]{Successful: true, StatusCode: 200, Body: &post}, nil
	}
	return r.save(post)
}

func (r *stubRemote) RemoveByID(_ context.Context, id int64) (Response[struct{}], error) {
	r.record("remote.remove")
	if r.onRemove != nil {
		r.onRemove()
	}
	if r.remove == nil {
		return Response[struct{}]{Successful: true, StatusCode: 200}, nil
	}
	return r.remove(id)
}

func (r *stubRemote) LikeByID(_ context.Context, id int64) (Response[Post], error) {
	r.record("remote.like")
	if r.like == nil {
		return Response[Post]{Successful: true, StatusCode: 200}, nil
	}
	return r.like(id)
}

func (r *stubRemote) DislikeByID(_ context.Context, id int64) (Response[Post], error) {
	r.record("remote.dislike")
	if r.dislike == nil {
		return Response[Post]{Successful: true, StatusCode: 200}, nil
	}
	return r.dislike(id)
}

func (r *stubRemote) record(call string) {
	r.calls = append(r.calls, call)
	if r.events != nil {
		*r.events = append(*r.events, call)
	}
}

func failedResponse[T any](code int, message string) Response[T] {
	return Response[T]{Successful: false, StatusCode: code, StatusMessage: message}
}
