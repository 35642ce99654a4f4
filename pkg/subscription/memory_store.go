package subscription

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memoryStore is the in-memory Store used by tests and single-node setups.
type memoryStore struct {
	mu   sync.RWMutex
	rows map[uuid.UUID]Subscription
}

// NewMemoryStore returns an empty in-memory Store.
func NewMemoryStore() Store {
	return &memoryStore{rows: make(map[uuid.UUID]Subscription)}
}

func (s *memoryStore) Get(ctx context.Context, userID uuid.UUID) (*Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.rows[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return &row, nil
}

func (s *memoryStore) Create(ctx context.Context, sub *Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rows[sub.UserID]; exists {
		return ErrAlreadyExists
	}
	s.rows[sub.UserID] = *sub
	return nil
}

func (s *memoryStore) Update(ctx context.Context, sub *Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.rows[sub.UserID]
	if !ok {
		return ErrNotFound
	}
	if stored.Version != sub.Version {
		return ErrVersionConflict
	}

	sub.Version++
	sub.UpdatedAt = time.Now().UTC()
	s.rows[sub.UserID] = *sub
	return nil
}
