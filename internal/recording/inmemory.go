package recording

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type InMemoryStore struct {
	mu         sync.RWMutex
	recordings map[string]Recording
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{recordings: make(map[string]Recording)}
}

func (s *InMemoryStore) Create(_ context.Context, userID, title string) (Recording, error) {
	now := time.Now().UTC()
	rec := Recording{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     NormalizeTitle(title),
		Status:    StatusRecording,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.recordings[rec.ID] = rec
	return clone(rec), nil
}

func (s *InMemoryStore) Get(_ context.Context, id string) (Recording, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.recordings[id]
	if !ok {
		return Recording{}, ErrNotFound
	}
	return clone(rec), nil
}

func (s *InMemoryStore) Update(_ context.Context, id string, patch Patch) (Recording, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recordings[id]
	if !ok {
		return Recording{}, ErrNotFound
	}
	if err := applyPatch(&rec, patch, time.Now().UTC()); err != nil {
		return Recording{}, err
	}
	s.recordings[id] = rec
	return clone(rec), nil
}

func (s *InMemoryStore) ListByUser(_ context.Context, userID string, limit int) ([]Recording, error) {
	s.mu.RLock()
	out := make([]Recording, 0)
	for _, rec := range s.recordings {
		if rec.UserID == userID {
			out = append(out, clone(rec))
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit = normalizeLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recordings[id]; !ok {
		return ErrNotFound
	}
	delete(s.recordings, id)
	return nil
}

func (s *InMemoryStore) Close() error { return nil }
