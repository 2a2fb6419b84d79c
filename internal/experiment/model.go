package experiment

import (
	"time"
)

// Status is the experiment lifecycle state.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusAborted   Status = "aborted"
)

// Type distinguishes RSA tests from landing-page tests.
type Type string

const (
	TypeRSA         Type = "rsa"
	TypeLandingPage Type = "landing_page"
)

// Metric is the target metric an experiment optimizes.
type Metric string

const (
	MetricCTR          Metric = "ctr"
	MetricCVR          Metric = "cvr"
	MetricCWSClickRate Metric = "cws_click_rate"
)

// WinnerControl is the reserved winner name for declaring control the winner.
const WinnerControl = "control"

// Experiment is one A/B test over ad or landing-page variants.
type Experiment struct {
	ID              string    `json:"id" db:"id"`
	Type            Type      `json:"type" db:"type"`
	Product         string    `json:"product" db:"product"`
	TargetID        string    `json:"target_id" db:"target_id"`
	Status          Status    `json:"status" db:"status"`
	TargetMetric    Metric    `json:"target_metric" db:"target_metric"`
	Variants        []Variant `json:"variants"`
	MinSampleSize   int64     `json:"min_sample_size" db:"min_sample_size"`
	ConfidenceLevel float64   `json:"confidence_level" db:"confidence_level"`
	Guards          GuardConfig `json:"guards"`
	StartAt         *time.Time `json:"start_at,omitempty" db:"start_at"`
	EndAt           *time.Time `json:"end_at,omitempty" db:"end_at"`
	WinnerVariantID string     `json:"winner_variant_id,omitempty" db:"winner_variant_id"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
}

// Variant is one arm of an experiment. RSA and landing-page extensions are
// both carried; only the fields matching the experiment type are used.
type Variant struct {
	ID                  string  `json:"id" db:"variant_id"`
	Name                string  `json:"name" db:"name"`
	IsControl           bool    `json:"is_control" db:"is_control"`
	Weight              float64 `json:"weight" db:"weight"`
	SimilarityToControl float64 `json:"similarity_to_control" db:"similarity_to_control"`

	// RSA extension.
	Headlines    []string `json:"headlines,omitempty"`
	Descriptions []string `json:"descriptions,omitempty"`
	FinalURLs    []string `json:"final_urls,omitempty"`
	Labels       []string `json:"labels,omitempty"`

	// Landing-page extension.
	ContentPath  string            `json:"content_path,omitempty"`
	Headline     string            `json:"headline,omitempty"`
	Subheadline  string            `json:"subheadline,omitempty"`
	CTA          string            `json:"cta,omitempty"`
	RoutingRules map[string]string `json:"routing_rules,omitempty"`
}

// MetricPoint is one day of observed metrics for a variant. The
// (experiment, variant, date) tuple is the primary key; recording the same
// tuple twice overwrites in place.
type MetricPoint struct {
	ExperimentID    string    `json:"experiment_id" db:"experiment_id"`
	VariantID       string    `json:"variant_id" db:"variant_id"`
	Date            string    `json:"date" db:"date"`
	Impressions     int64     `json:"impressions" db:"impressions"`
	Clicks          int64     `json:"clicks" db:"clicks"`
	Cost            float64   `json:"cost" db:"cost"`
	Conversions     int64     `json:"conversions" db:"conversions"`
	ConversionValue float64   `json:"conversion_value" db:"conversion_value"`
	RecordedAt      time.Time `json:"recorded_at" db:"recorded_at"`
}

// AuditEntry is one immutable row in the experiment audit log.
type AuditEntry struct {
	ExperimentID string    `json:"experiment_id" db:"experiment_id"`
	Action       string    `json:"action" db:"action"`
	FromStatus   Status    `json:"from_status" db:"from_status"`
	ToStatus     Status    `json:"to_status" db:"to_status"`
	Actor        string    `json:"actor" db:"actor"`
	Detail       string    `json:"detail,omitempty" db:"detail"`
	Timestamp    time.Time `json:"timestamp" db:"timestamp"`
}

// GuardConfig is the set of start-time guards.
type GuardConfig struct {
	MinSampleBudget  int64   `json:"min_sample_budget"`
	MinDurationDays  int     `json:"min_duration_days"`
	MaxSimilarity    float64 `json:"max_similarity"`
	DailySpendCeiling float64 `json:"daily_spend_ceiling"`
}

// DefaultGuards returns the production guard thresholds.
func DefaultGuards() GuardConfig {
	return GuardConfig{
		MinSampleBudget:   1000,
		MinDurationDays:   7,
		MaxSimilarity:     0.9,
		DailySpendCeiling: 250.0,
	}
}

// Control returns the control variant, or nil when absent.
func (e *Experiment) Control() *Variant {
	for i := range e.Variants {
		if e.Variants[i].IsControl {
			return &e.Variants[i]
		}
	}
	return nil
}

// VariantByID finds a variant by id or name.
func (e *Experiment) VariantByID(id string) *Variant {
	for i := range e.Variants {
		if e.Variants[i].ID == id || e.Variants[i].Name == id {
			return &e.Variants[i]
		}
	}
	return nil
}

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusAborted
}

// validTransitions is the lifecycle FSM: monotone except active<->paused.
var validTransitions = map[Status][]Status{
	StatusDraft:  {StatusActive},
	StatusActive: {StatusPaused, StatusCompleted, StatusAborted},
	StatusPaused: {StatusActive, StatusAborted},
}

// CanTransition reports whether from -> to is a legal lifecycle move.
func CanTransition(from, to Status) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
