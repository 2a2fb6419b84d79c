package approval

import (
	"context"
	"sort"
	"sync"

	"github.com/adpilot/adpilot/internal/errs"
)

// Repository persists approval requests, the append-only decision log,
// and ready-for-application records.
type Repository interface {
	SaveRequest(ctx context.Context, r *Request) error
	GetRequest(ctx context.Context, id string) (*Request, error)
	ListRequests(ctx context.Context, status RequestStatus) ([]*Request, error)
	AppendDecision(ctx context.Context, d *Decision) error
	SaveReady(ctx context.Context, rec *ReadyRecord) error
}

// MemoryRepository is a map-backed Repository for tests and offline runs.
type MemoryRepository struct {
	mu        sync.RWMutex
	requests  map[string]*Request
	decisions []Decision
	ready     map[string]*ReadyRecord
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		requests: make(map[string]*Request),
		ready:    make(map[string]*ReadyRecord),
	}
}

func (m *MemoryRepository) SaveRequest(_ context.Context, r *Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *r
	clone.Mutations = append([]Mutation(nil), r.Mutations...)
	clone.CurrentApprovals = append([]string(nil), r.CurrentApprovals...)
	clone.Decisions = append([]Decision(nil), r.Decisions...)
	clone.Notifications = append([]Notification(nil), r.Notifications...)
	m.requests[r.ID] = &clone
	return nil
}

func (m *MemoryRepository) GetRequest(_ context.Context, id string) (*Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, errs.New(errs.ValidationFailed, "approval request %s not found", id)
	}
	clone := *r
	clone.Mutations = append([]Mutation(nil), r.Mutations...)
	clone.CurrentApprovals = append([]string(nil), r.CurrentApprovals...)
	clone.Decisions = append([]Decision(nil), r.Decisions...)
	clone.Notifications = append([]Notification(nil), r.Notifications...)
	return &clone, nil
}

func (m *MemoryRepository) ListRequests(_ context.Context, status RequestStatus) ([]*Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Request
	for _, r := range m.requests {
		if status != "" && r.Status != status {
			continue
		}
		clone := *r
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryRepository) AppendDecision(_ context.Context, d *Decision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decisions = append(m.decisions, *d)
	return nil
}

func (m *MemoryRepository) SaveReady(_ context.Context, rec *ReadyRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ready[rec.RequestID] = rec
	return nil
}

// Ready returns the ready-for-application record for a request, if any.
func (m *MemoryRepository) Ready(id string) (*ReadyRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.ready[id]
	return rec, ok
}

// Decisions returns the full decision log.
func (m *MemoryRepository) Decisions() []Decision {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Decision(nil), m.decisions...)
}
