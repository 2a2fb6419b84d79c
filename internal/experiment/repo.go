package experiment

import (
	"context"
	"sort"
	"sync"

	"github.com/adpilot/adpilot/internal/errs"
)

// Repository persists experiments, their metric points, and the audit log.
// The engine is the only writer; variants are stored under the experiment id
// so lookups never chase cyclic references.
type Repository interface {
	Save(ctx context.Context, exp *Experiment) error
	Get(ctx context.Context, id string) (*Experiment, error)
	List(ctx context.Context, product string) ([]*Experiment, error)
	UpsertMetric(ctx context.Context, point MetricPoint) error
	ListMetrics(ctx context.Context, experimentID string) ([]MetricPoint, error)
	AppendAudit(ctx context.Context, entry AuditEntry) error
	ListAudit(ctx context.Context, experimentID string) ([]AuditEntry, error)
}

// MemoryRepository is the in-process Repository used by tests and by CLI
// runs without a database.
type MemoryRepository struct {
	mu          sync.RWMutex
	experiments map[string]*Experiment
	metrics     map[string]MetricPoint // key: exp|variant|date
	audit       map[string][]AuditEntry
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		experiments: make(map[string]*Experiment),
		metrics:     make(map[string]MetricPoint),
		audit:       make(map[string][]AuditEntry),
	}
}

func (r *MemoryRepository) Save(ctx context.Context, exp *Experiment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *exp
	cp.Variants = append([]Variant(nil), exp.Variants...)
	r.experiments[exp.ID] = &cp
	return nil
}

func (r *MemoryRepository) Get(ctx context.Context, id string) (*Experiment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	exp, ok := r.experiments[id]
	if !ok {
		return nil, errs.New(errs.ValidationFailed, "experiment %s not found", id)
	}
	cp := *exp
	cp.Variants = append([]Variant(nil), exp.Variants...)
	return &cp, nil
}

func (r *MemoryRepository) List(ctx context.Context, product string) ([]*Experiment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Experiment
	for _, exp := range r.experiments {
		if product != "" && exp.Product != product {
			continue
		}
		cp := *exp
		cp.Variants = append([]Variant(nil), exp.Variants...)
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *MemoryRepository) UpsertMetric(ctx context.Context, point MetricPoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := point.ExperimentID + "|" + point.VariantID + "|" + point.Date
	r.metrics[key] = point
	return nil
}

func (r *MemoryRepository) ListMetrics(ctx context.Context, experimentID string) ([]MetricPoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []MetricPoint
	for _, p := range r.metrics {
		if p.ExperimentID == experimentID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		return out[i].VariantID < out[j].VariantID
	})
	return out, nil
}

func (r *MemoryRepository) AppendAudit(ctx context.Context, entry AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.audit[entry.ExperimentID] = append(r.audit[entry.ExperimentID], entry)
	return nil
}

func (r *MemoryRepository) ListAudit(ctx context.Context, experimentID string) ([]AuditEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]AuditEntry(nil), r.audit[experimentID]...), nil
}
