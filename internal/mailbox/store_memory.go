package mailbox

import (
	"context"
	"sync"
	"time"
)

type memRecord struct {
	offer    string
	answer   string
	deadline time.Time
}

// MemoryStore is the single-instance store used when no Redis is
// configured, and by tests.
type MemoryStore struct {
	mu    sync.Mutex
	boxes map[string]*memRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{boxes: make(map[string]*memRecord)}
}

func (s *MemoryStore) CreateOffer(_ context.Context, code, offer string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked()
	if _, ok := s.boxes[code]; ok {
		return ErrCodeTaken
	}
	s.boxes[code] = &memRecord{offer: offer, deadline: time.Now().Add(ttl)}
	return nil
}

func (s *MemoryStore) Offer(_ context.Context, code string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked()
	rec, ok := s.boxes[code]
	if !ok {
		return "", ErrNotFound
	}
	return rec.offer, nil
}

func (s *MemoryStore) SetAnswer(_ context.Context, code, answer string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked()
	rec, ok := s.boxes[code]
	if !ok {
		return ErrNotFound
	}
	if rec.answer != "" {
		return ErrHasAnswer
	}
	rec.answer = answer
	return nil
}

func (s *MemoryStore) Answer(_ context.Context, code string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked()
	rec, ok := s.boxes[code]
	if !ok {
		return "", ErrNotFound
	}
	if rec.answer == "" {
		return "", ErrNoAnswer
	}
	return rec.answer, nil
}

func (s *MemoryStore) expireLocked() {
	now := time.Now()
	for code, rec := range s.boxes {
		if now.After(rec.deadline) {
			delete(s.boxes, code)
		}
	}
}
