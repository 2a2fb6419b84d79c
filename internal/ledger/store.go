package ledger

import (
	"context"
	"sync"
	"time"
)

// Entry is one cached connector response with an absolute expiry.
type Entry struct {
	Payload   []byte    `json:"payload"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Store is the persistence backend shared by the content cache and the quota
// ledger. The memory store backs tests and single-process runs; the redis
// store shares counters across processes.
type Store interface {
	GetEntry(ctx context.Context, key string) (*Entry, error)
	PutEntry(ctx context.Context, key string, entry Entry) error
	IncrCounter(ctx context.Context, day, api string) (int64, error)
	GetCounter(ctx context.Context, day, api string) (int64, error)
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu       sync.RWMutex
	entries  map[string]Entry
	counters map[string]int64
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries:  make(map[string]Entry),
		counters: make(map[string]int64),
	}
}

func (s *MemoryStore) GetEntry(ctx context.Context, key string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[key]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

func (s *MemoryStore) PutEntry(ctx context.Context, key string, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = entry
	return nil
}

func (s *MemoryStore) IncrCounter(ctx context.Context, day, api string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := day + ":" + api
	s.counters[k]++
	return s.counters[k], nil
}

func (s *MemoryStore) GetCounter(ctx context.Context, day, api string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.counters[day+":"+api], nil
}
