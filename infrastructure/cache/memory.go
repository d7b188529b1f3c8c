package cache

import (
	"context"
	"sync"
	"time"

	"publish-pipeline/domain/model"
	"publish-pipeline/domain/repository"
)

type memoryLocker struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

// NewMemoryLocker is the single-process fallback used when Redis is not configured.
func NewMemoryLocker() repository.ILocker {
	return &memoryLocker{slots: make(map[string]chan struct{})}
}

func (l *memoryLocker) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[key]
	if !ok {
		s = make(chan struct{}, 1)
		l.slots[key] = s
	}
	return s
}

func (l *memoryLocker) Lock(ctx context.Context, key string) (func(), error) {
	s := l.slot(key)
	select {
	case s <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-s }) }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type memoryState struct {
	data    model.OAuthState
	expires time.Time
}

type memoryStateStore struct {
	mu     sync.Mutex
	states map[string]memoryState
	now    func() time.Time
}

func NewMemoryStateStore() repository.IOAuthStateStore {
	return &memoryStateStore{states: make(map[string]memoryState), now: time.Now}
}

func (s *memoryStateStore) SaveState(ctx context.Context, state string, data model.OAuthState, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for k, v := range s.states {
		if now.After(v.expires) {
			delete(s.states, k)
		}
	}
	s.states[state] = memoryState{data: data, expires: now.Add(ttl)}
	return nil
}

func (s *memoryStateStore) TakeState(ctx context.Context, state string) (*model.OAuthState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.states[state]
	if !ok {
		return nil, nil
	}
	delete(s.states, state)
	if s.now().After(v.expires) {
		return nil, nil
	}
	return &v.data, nil
}
