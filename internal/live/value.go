package live

import (
	"context"
	"sync"
)

// Feed is a continuously observable value: readers can take the current snapshot
// or subscribe to every subsequent snapshot.
type Feed[T any] interface {
	Current() T
	Subscribe(ctx context.Context) (<-chan T, func())
}

// Value holds the latest published snapshot and fans it out to subscribers.
// Subscribers only ever see the most recent snapshot; intermediate values are
// dropped when a subscriber falls behind.
type Value[T any] struct {
	mu          sync.RWMutex
	current     T
	subscribers map[int64]*subscriber[T]
	nextID      int64
}

type subscriber[T any] struct {
	id     int64
	stream chan T
}

// NewValue constructs a Value seeded with the initial snapshot.
func NewValue[T any](initial T) *Value[T] {
	return &Value[T]{
		current:     initial,
		subscribers: make(map[int64]*subscriber[T]),
	}
}

// Current returns the most recently published snapshot.
func (v *Value[T]) Current() T {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.current
}

// Subscribe registers a subscriber that immediately receives the current snapshot.
// The subscription ends when ctx is done or the returned cleanup is called.
func (v *Value[T]) Subscribe(ctx context.Context) (<-chan T, func()) {
	sub := &subscriber[T]{stream: make(chan T, 1)}

	v.mu.Lock()
	v.nextID++
	sub.id = v.nextID
	v.subscribers[sub.id] = sub
	sub.stream <- v.current
	v.mu.Unlock()

	done := make(chan struct{})
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			close(done)
			v.unregister(sub.id)
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			cleanup()
		case <-done:
		}
	}()
	return sub.stream, cleanup
}

// Publish replaces the current snapshot and delivers it to every subscriber.
func (v *Value[T]) Publish(snapshot T) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.current = snapshot
	for _, sub := range v.subscribers {
		select {
		case <-sub.stream:
		default:
		}
		sub.stream <- snapshot
	}
}

func (v *Value[T]) unregister(id int64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if sub, ok := v.subscribers[id]; ok {
		delete(v.subscribers, id)
		close(sub.stream)
	}
}

type mapped[S, T any] struct {
	source  Feed[S]
	project func(S) T
}

// Map projects every snapshot of source through project.
func Map[S, T any](source Feed[S], project func(S) T) Feed[T] {
	return &mapped[S, T]{source: source, project: project}
}

func (m *mapped[S, T]) Current() T {
	return m.project(m.source.Current())
}

func (m *mapped[S, T]) Subscribe(ctx context.Context) (<-chan T, func()) {
	upstream, cleanup := m.source.Subscribe(ctx)
	out := make(chan T, 1)
	go func() {
		defer close(out)
		for snapshot := range upstream {
			projected := m.project(snapshot)
			select {
			case <-out:
			default:
			}
			out <- projected
		}
	}()
	return out, cleanup
}
