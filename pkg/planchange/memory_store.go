package planchange

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memoryStore keeps change records in process memory, newest last.
type memoryStore struct {
	mu      sync.Mutex
	records map[uuid.UUID][]PendingChange
}

// NewMemoryStore returns an empty in-memory Store.
func NewMemoryStore() Store {
	return &memoryStore{records: make(map[uuid.UUID][]PendingChange)}
}

func (s *memoryStore) GetPending(ctx context.Context, userID uuid.UUID) (*PendingChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i := s.pendingIndex(userID); i >= 0 {
		change := s.records[userID][i]
		return &change, nil
	}
	return nil, ErrNoPendingChange
}

func (s *memoryStore) ReplacePending(ctx context.Context, change *PendingChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i := s.pendingIndex(change.UserID); i >= 0 {
		s.records[change.UserID][i].Status = StatusCancelled
	}

	stored := *change
	stored.Status = StatusPending
	s.records[change.UserID] = append(s.records[change.UserID], stored)
	return nil
}

func (s *memoryStore) ClosePending(ctx context.Context, userID uuid.UUID, status ChangeStatus, closedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.pendingIndex(userID)
	if i < 0 {
		return ErrNoPendingChange
	}
	s.records[userID][i].Status = status
	return nil
}

func (s *memoryStore) History(ctx context.Context, userID uuid.UUID) ([]PendingChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	history := slices.Clone(s.records[userID])
	slices.Reverse(history)
	return history, nil
}

// pendingIndex returns the index of the live pending row, or -1. Callers
// hold s.mu.
func (s *memoryStore) pendingIndex(userID uuid.UUID) int {
	for i, change := range s.records[userID] {
		if change.Status == StatusPending {
			return i
		}
	}
	return -1
}
