package experiment

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/adpilot/adpilot/internal/clock"
	"github.com/adpilot/adpilot/internal/errs"
	"github.com/adpilot/adpilot/internal/stats"
)

// Engine owns the experiment lifecycle. All mutation of a single experiment
// is serialized through a per-experiment lock; different experiments proceed
// independently.
type Engine struct {
	repo  Repository
	clock clock.Clock
	rng   *rand.Rand

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewEngine assembles an engine over the given repository, clock, and PRNG.
func NewEngine(repo Repository, clk clock.Clock, rng *rand.Rand) *Engine {
	return &Engine{
		repo:  repo,
		clock: clk,
		rng:   rng,
		locks: make(map[string]*sync.Mutex),
	}
}

func (e *Engine) lockFor(id string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()

	l, ok := e.locks[id]
	if !ok {
		l = &sync.Mutex{}
		e.locks[id] = l
	}
	return l
}

// CreateParams is the operator input to Create.
type CreateParams struct {
	Type            Type
	Product         string
	TargetID        string
	TargetMetric    Metric
	Variants        []Variant
	MinSampleSize   int64
	ConfidenceLevel float64
	Guards          *GuardConfig
	Actor           string
}

// Create validates the parameters and persists a draft experiment. Draft
// experiments may have any number of variants, including none.
func (e *Engine) Create(ctx context.Context, p CreateParams) (*Experiment, error) {
	switch p.Type {
	case TypeRSA, TypeLandingPage:
	default:
		return nil, errs.New(errs.ValidationFailed, "unknown experiment type %q", p.Type)
	}
	switch p.TargetMetric {
	case MetricCTR, MetricCVR, MetricCWSClickRate:
	default:
		return nil, errs.New(errs.ValidationFailed, "unknown target metric %q", p.TargetMetric)
	}
	if p.Product == "" {
		return nil, errs.New(errs.ValidationFailed, "product is required")
	}
	if p.ConfidenceLevel <= 0 || p.ConfidenceLevel >= 1 {
		return nil, errs.New(errs.ValidationFailed, "confidence level %f outside (0,1)", p.ConfidenceLevel)
	}

	guards := DefaultGuards()
	if p.Guards != nil {
		guards = *p.Guards
	}

	now := e.clock.Now()
	exp := &Experiment{
		ID:              uuid.NewString(),
		Type:            p.Type,
		Product:         p.Product,
		TargetID:        p.TargetID,
		Status:          StatusDraft,
		TargetMetric:    p.TargetMetric,
		Variants:        p.Variants,
		MinSampleSize:   p.MinSampleSize,
		ConfidenceLevel: p.ConfidenceLevel,
		Guards:          guards,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	for i := range exp.Variants {
		if exp.Variants[i].ID == "" {
			exp.Variants[i].ID = uuid.NewString()
		}
	}

	if err := e.repo.Save(ctx, exp); err != nil {
		return nil, errs.Wrap(errs.StorageFailure, err, "failed to save experiment")
	}
	if err := e.audit(ctx, exp, "create", StatusDraft, StatusDraft, p.Actor, ""); err != nil {
		return nil, err
	}

	log.Info().Str("experiment", exp.ID).Str("product", exp.Product).Msg("experiment created")
	return exp, nil
}

// Start transitions draft -> active after evaluating every start guard.
// Any failed critical guard refuses the start and names the guard.
func (e *Engine) Start(ctx context.Context, id, actor string) (*Experiment, error) {
	return e.transition(ctx, id, actor, StatusActive, "start", func(exp *Experiment) error {
		if exp.Status != StatusDraft {
			return errs.New(errs.StateConflict, "transition:%s->active", exp.Status)
		}
		checks := evaluateGuards(exp)
		if failed := firstCriticalFailure(checks); failed != nil {
			return errs.New(errs.GuardrailViolation, "%s", failed.Name).
				WithContext("detail", failed.Description)
		}
		now := e.clock.Now()
		exp.StartAt = &now
		return nil
	})
}

// Pause transitions active -> paused.
func (e *Engine) Pause(ctx context.Context, id, actor string) (*Experiment, error) {
	return e.transition(ctx, id, actor, StatusPaused, "pause", nil)
}

// Resume transitions paused -> active.
func (e *Engine) Resume(ctx context.Context, id, actor string) (*Experiment, error) {
	return e.transition(ctx, id, actor, StatusActive, "resume", func(exp *Experiment) error {
		if exp.Status != StatusPaused {
			return errs.New(errs.StateConflict, "transition:%s->active", exp.Status)
		}
		return nil
	})
}

// Complete transitions active -> completed with a declared winner. The
// winner must name an existing variant (id or name) or the reserved string
// "control".
func (e *Engine) Complete(ctx context.Context, id, winner, actor string) (*Experiment, error) {
	return e.transition(ctx, id, actor, StatusCompleted, "complete", func(exp *Experiment) error {
		var v *Variant
		if winner == WinnerControl {
			v = exp.Control()
		} else {
			v = exp.VariantByID(winner)
		}
		if v == nil {
			return errs.New(errs.ValidationFailed, "winner %q matches no variant", winner)
		}
		exp.WinnerVariantID = v.ID
		now := e.clock.Now()
		exp.EndAt = &now
		return nil
	})
}

// Abort transitions active|paused -> aborted.
func (e *Engine) Abort(ctx context.Context, id, actor string) (*Experiment, error) {
	return e.transition(ctx, id, actor, StatusAborted, "abort", func(exp *Experiment) error {
		now := e.clock.Now()
		exp.EndAt = &now
		return nil
	})
}

// transition serializes a lifecycle move under the experiment lock and
// appends one audit row.
func (e *Engine) transition(ctx context.Context, id, actor string, to Status, action string, prepare func(*Experiment) error) (*Experiment, error) {
	lock := e.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	exp, err := e.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	from := exp.Status
	if !CanTransition(from, to) {
		return nil, errs.New(errs.StateConflict, "transition:%s->%s", from, to)
	}
	if prepare != nil {
		if err := prepare(exp); err != nil {
			return nil, err
		}
	}

	exp.Status = to
	exp.UpdatedAt = e.clock.Now()
	if err := e.repo.Save(ctx, exp); err != nil {
		return nil, errs.Wrap(errs.StorageFailure, err, "failed to save experiment %s", id)
	}
	if err := e.audit(ctx, exp, action, from, to, actor, exp.WinnerVariantID); err != nil {
		return nil, err
	}

	log.Info().Str("experiment", id).Str("from", string(from)).Str("to", string(to)).Msg("experiment transition")
	return exp, nil
}

// RecordMetrics upserts one metric point. Recording the same
// (experiment, variant, date) twice is equivalent to recording it once.
func (e *Engine) RecordMetrics(ctx context.Context, point MetricPoint) error {
	lock := e.lockFor(point.ExperimentID)
	lock.Lock()
	defer lock.Unlock()

	exp, err := e.repo.Get(ctx, point.ExperimentID)
	if err != nil {
		return err
	}
	if exp.Status.Terminal() {
		return errs.New(errs.StateConflict, "experiment %s is %s", exp.ID, exp.Status)
	}
	if exp.VariantByID(point.VariantID) == nil {
		return errs.New(errs.ValidationFailed, "variant %s not part of experiment %s", point.VariantID, exp.ID)
	}
	if point.Date == "" {
		return errs.New(errs.ValidationFailed, "metric date is required")
	}

	point.RecordedAt = e.clock.Now()
	if err := e.repo.UpsertMetric(ctx, point); err != nil {
		return errs.Wrap(errs.StorageFailure, err, "failed to upsert metric")
	}
	return nil
}

// VariantAnalysis is the per-variant slice of an analysis.
type VariantAnalysis struct {
	VariantID   string            `json:"variant_id"`
	Name        string            `json:"name"`
	IsControl   bool              `json:"is_control"`
	Impressions int64             `json:"impressions"`
	Clicks      int64             `json:"clicks"`
	Conversions int64             `json:"conversions"`
	Rate        float64           `json:"rate"`
	ZTest       *stats.ZTestResult `json:"z_test,omitempty"`
	Bayes       *stats.BayesResult `json:"bayes,omitempty"`
}

// Analysis is the full analyze output for one experiment.
type Analysis struct {
	ExperimentID string            `json:"experiment_id"`
	TargetMetric Metric            `json:"target_metric"`
	Variants     []VariantAnalysis `json:"variants"`
	Allocation   []float64         `json:"thompson_allocation,omitempty"`
	Decision     stats.Decision    `json:"decision"`
	Recommendation string          `json:"recommendation"`
}

// Analyze aggregates recorded metrics and runs the statistical engine
// against control. Too little data is not an error: the decision comes back
// as continue.
func (e *Engine) Analyze(ctx context.Context, id string, peek int) (*Analysis, error) {
	lock := e.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	exp, err := e.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	control := exp.Control()
	if control == nil {
		return nil, errs.New(errs.ValidationFailed, "experiment %s has no control variant", id)
	}

	points, err := e.repo.ListMetrics(ctx, id)
	if err != nil {
		return nil, errs.Wrap(errs.StorageFailure, err, "failed to load metrics for %s", id)
	}

	totals := make(map[string]*MetricPoint)
	for _, p := range points {
		t, ok := totals[p.VariantID]
		if !ok {
			t = &MetricPoint{ExperimentID: id, VariantID: p.VariantID}
			totals[p.VariantID] = t
		}
		t.Impressions += p.Impressions
		t.Clicks += p.Clicks
		t.Cost += p.Cost
		t.Conversions += p.Conversions
		t.ConversionValue += p.ConversionValue
	}

	alpha := 1 - exp.ConfidenceLevel
	controlProp := proportionFor(exp.TargetMetric, totals[control.ID])

	analysis := &Analysis{
		ExperimentID: id,
		TargetMetric: exp.TargetMetric,
		Decision:     stats.DecisionContinue,
	}

	arms := []stats.Proportion{controlProp}
	bestZ := 0.0
	for _, v := range exp.Variants {
		t := totals[v.ID]
		va := VariantAnalysis{
			VariantID: v.ID,
			Name:      v.Name,
			IsControl: v.IsControl,
		}
		if t != nil {
			va.Impressions = t.Impressions
			va.Clicks = t.Clicks
			va.Conversions = t.Conversions
		}
		prop := proportionFor(exp.TargetMetric, t)
		va.Rate = prop.Rate()

		if !v.IsControl {
			arms = append(arms, prop)
			if zt, err := stats.TwoProportionZTest(controlProp, prop, alpha, false); err == nil {
				va.ZTest = zt
				if zt.Z > bestZ {
					bestZ = zt.Z
				}
			}
			if bayes, err := stats.BayesianAB(e.rng, controlProp, prop, 0); err == nil {
				va.Bayes = bayes
			}
		}
		analysis.Variants = append(analysis.Variants, va)
	}

	if alloc, err := stats.ThompsonAllocation(e.rng, arms, 0); err == nil {
		analysis.Allocation = alloc
	}

	sampleFloor := exp.MinSampleSize
	total := controlProp.Trials
	for _, arm := range arms[1:] {
		total += arm.Trials
	}
	if total < sampleFloor {
		analysis.Decision = stats.DecisionContinue
		analysis.Recommendation = fmt.Sprintf("collect more data: %d of %d minimum samples", total, sampleFloor)
		return analysis, nil
	}

	cfg := stats.DefaultSequentialConfig()
	cfg.Alpha = alpha
	if peek < 1 {
		peek = 1
	}
	if peek > cfg.Peeks {
		peek = cfg.Peeks
	}
	if seq, err := stats.SequentialDecision(cfg, bestZ, peek); err == nil {
		analysis.Decision = seq.Decision
	}

	switch analysis.Decision {
	case stats.DecisionStopSuccess:
		analysis.Recommendation = "stop: a variant beats control at the sequential boundary"
	case stats.DecisionStopFutility:
		analysis.Recommendation = "stop: unlikely to reach significance, keep control"
	default:
		analysis.Recommendation = "continue collecting data"
	}
	return analysis, nil
}

// Get returns one experiment.
func (e *Engine) Get(ctx context.Context, id string) (*Experiment, error) {
	return e.repo.Get(ctx, id)
}

// List returns experiments, optionally filtered by product.
func (e *Engine) List(ctx context.Context, product string) ([]*Experiment, error) {
	return e.repo.List(ctx, product)
}

// AuditTrail returns the immutable audit log for an experiment.
func (e *Engine) AuditTrail(ctx context.Context, id string) ([]AuditEntry, error) {
	return e.repo.ListAudit(ctx, id)
}

func (e *Engine) audit(ctx context.Context, exp *Experiment, action string, from, to Status, actor, detail string) error {
	entry := AuditEntry{
		ExperimentID: exp.ID,
		Action:       action,
		FromStatus:   from,
		ToStatus:     to,
		Actor:        actor,
		Detail:       detail,
		Timestamp:    e.clock.Now(),
	}
	if err := e.repo.AppendAudit(ctx, entry); err != nil {
		return errs.Wrap(errs.StorageFailure, err, "failed to append audit row")
	}
	return nil
}

// proportionFor maps aggregated metrics onto the successes/trials pair the
// target metric defines.
func proportionFor(metric Metric, t *MetricPoint) stats.Proportion {
	if t == nil {
		return stats.Proportion{}
	}
	switch metric {
	case MetricCVR:
		return stats.Proportion{Successes: t.Conversions, Trials: t.Clicks}
	default: // ctr and cws_click_rate are click-through rates
		return stats.Proportion{Successes: t.Clicks, Trials: t.Impressions}
	}
}
