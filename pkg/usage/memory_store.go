package usage

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/ringline/billingkit/pkg/plan"
)

type periodKeyPair struct {
	userID    uuid.UUID
	periodKey string
}

// memoryStore keeps counters in process memory. Single mutex: the write
// volume of one process's tests and dev setups never justifies sharding.
type memoryStore struct {
	mu       sync.Mutex
	counters map[periodKeyPair]map[plan.Feature]int64
}

// NewMemoryStore returns an empty in-memory CounterStore.
func NewMemoryStore() CounterStore {
	return &memoryStore{counters: make(map[periodKeyPair]map[plan.Feature]int64)}
}

func (s *memoryStore) Used(ctx context.Context, userID uuid.UUID, periodKey string, feature plan.Feature) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters[periodKeyPair{userID, periodKey}][feature], nil
}

func (s *memoryStore) Add(ctx context.Context, userID uuid.UUID, periodKey string, feature plan.Feature, amount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bucket(userID, periodKey)[feature] += amount
	return nil
}

func (s *memoryStore) AddIfUnder(ctx context.Context, userID uuid.UUID, periodKey string, feature plan.Feature, amount, max int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bucket := s.bucket(userID, periodKey)
	if bucket[feature]+amount > max {
		return false, nil
	}
	bucket[feature] += amount
	return true, nil
}

func (s *memoryStore) Sub(ctx context.Context, userID uuid.UUID, periodKey string, feature plan.Feature, amount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bucket := s.bucket(userID, periodKey)
	bucket[feature] -= amount
	if bucket[feature] < 0 {
		bucket[feature] = 0
	}
	return nil
}

func (s *memoryStore) Snapshot(ctx context.Context, userID uuid.UUID, periodKey string) (map[plan.Feature]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[plan.Feature]int64)
	for feature, used := range s.counters[periodKeyPair{userID, periodKey}] {
		out[feature] = used
	}
	return out, nil
}

// bucket returns the mutable counter map for a period, creating it lazily.
// Callers must hold s.mu.
func (s *memoryStore) bucket(userID uuid.UUID, periodKey string) map[plan.Feature]int64 {
	key := periodKeyPair{userID, periodKey}
	bucket, ok := s.counters[key]
	if !ok {
		bucket = make(map[plan.Feature]int64)
		s.counters[key] = bucket
	}
	return bucket
}
