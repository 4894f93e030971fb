package storage

import (
	"context"
	"slices"
	"strings"
	"sync"
)

type memoryStore struct {
	mu     sync.RWMutex
	polls  map[string]PollRecord
	closed bool
}

// NewMemory returns an empty process-local store.
func NewMemory() Store {
	return &memoryStore{polls: map[string]PollRecord{}}
}

func (s *memoryStore) PutPoll(_ context.Context, rec PollRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	rec.Version = s.polls[rec.ID].Version + 1
	s.polls[rec.ID] = rec.Clone()
	return nil
}

func (s *memoryStore) GetPoll(_ context.Context, id string) (PollRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return PollRecord{}, false, ErrClosed
	}
	rec, ok := s.polls[id]
	if !ok {
		return PollRecord{}, false, nil
	}
	return rec.Clone(), true, nil
}

func (s *memoryStore) UpdatePoll(_ context.Context, rec PollRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	cur, ok := s.polls[rec.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Version != rec.Version {
		return ErrConflict
	}
	rec.Version++
	s.polls[rec.ID] = rec.Clone()
	return nil
}

func (s *memoryStore) ListPendingReminders(_ context.Context) ([]PollRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	return pending(s.polls), nil
}

func (s *memoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// pending collects records with armed, unsent selections ordered by id.
func pending(polls map[string]PollRecord) []PollRecord {
	var out []PollRecord
	for _, rec := range polls {
		if rec.HasPending() {
			out = append(out, rec.Clone())
		}
	}
	slices.SortFunc(out, func(a, b PollRecord) int { return strings.Compare(a.ID, b.ID) })
	return out
}
