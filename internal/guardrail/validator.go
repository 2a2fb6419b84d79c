package guardrail

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/adpilot/adpilot/internal/clock"
	"github.com/adpilot/adpilot/internal/errs"
	"github.com/adpilot/adpilot/internal/telemetry"
)

// Result is the outcome of validating one proposal.
type Result struct {
	ProposalHash string      `json:"proposal_hash"`
	Passed       bool        `json:"passed"`
	CanOverride  bool        `json:"can_override"`
	Violations   []Violation `json:"violations"`
	ValidatedAt  time.Time   `json:"validated_at"`
}

// AuditRow is one append-only record of a validation.
type AuditRow struct {
	ID             int64     `json:"id" db:"id"`
	ProposalHash   string    `json:"proposal_hash" db:"proposal_hash"`
	Passed         bool      `json:"passed" db:"passed"`
	ViolationCount int       `json:"violation_count" db:"violation_count"`
	CanOverride    bool      `json:"can_override" db:"can_override"`
	ViolationsJSON string    `json:"violations_json" db:"violations_json"`
	ProposalJSON   string    `json:"proposal_json" db:"proposal_json"`
	Timestamp      time.Time `json:"timestamp" db:"timestamp"`
}

// AuditLog persists validation audit rows.
type AuditLog interface {
	Append(ctx context.Context, row *AuditRow) error
	List(ctx context.Context, limit int) ([]AuditRow, error)
}

// Validator runs every rule against a proposal and records the outcome.
// Exactly one audit row is written per validation, pass or fail.
type Validator struct {
	rules []Rule
	audit AuditLog
	clock clock.Clock
}

// NewValidator creates a validator over the given rule chain.
func NewValidator(rules []Rule, audit AuditLog, clk clock.Clock) *Validator {
	return &Validator{rules: rules, audit: audit, clock: clk}
}

// Validate runs the rules in order and appends the audit row. A rule error
// aborts validation with no audit row and no result.
func (v *Validator) Validate(ctx context.Context, p *Proposal) (*Result, error) {
	result := &Result{
		ProposalHash: p.Hash(),
		ValidatedAt:  v.clock.Now(),
	}

	for _, rule := range v.rules {
		violations, err := rule.Validate(ctx, p)
		if err != nil {
			return nil, errs.Wrap(errs.StorageFailure, err, "guardrail rule %s failed", rule.Name())
		}
		result.Violations = append(result.Violations, violations...)
	}

	result.Passed = len(result.Violations) == 0
	result.CanOverride = !hasCritical(result.Violations)

	if err := v.appendAudit(ctx, p, result); err != nil {
		return nil, err
	}

	outcome := "passed"
	if !result.Passed {
		outcome = "failed"
	}
	telemetry.GuardrailValidations.WithLabelValues(outcome).Inc()
	log.Info().
		Str("proposal", result.ProposalHash).
		Bool("passed", result.Passed).
		Bool("can_override", result.CanOverride).
		Int("violations", len(result.Violations)).
		Msg("guardrail validation")
	return result, nil
}

func (v *Validator) appendAudit(ctx context.Context, p *Proposal, result *Result) error {
	violationsJSON, err := json.Marshal(result.Violations)
	if err != nil {
		return errs.Wrap(errs.StorageFailure, err, "marshaling violations for audit")
	}
	proposalJSON, err := json.Marshal(p)
	if err != nil {
		return errs.Wrap(errs.StorageFailure, err, "marshaling proposal for audit")
	}

	row := &AuditRow{
		ProposalHash:   result.ProposalHash,
		Passed:         result.Passed,
		ViolationCount: len(result.Violations),
		CanOverride:    result.CanOverride,
		ViolationsJSON: string(violationsJSON),
		ProposalJSON:   string(proposalJSON),
		Timestamp:      result.ValidatedAt,
	}
	if err := v.audit.Append(ctx, row); err != nil {
		return errs.Wrap(errs.StorageFailure, err, "appending guardrail audit row")
	}
	return nil
}

func hasCritical(violations []Violation) bool {
	for _, v := range violations {
		if v.Severity == ViolationCritical {
			return true
		}
	}
	return false
}

// MemoryAuditLog is an in-memory AuditLog for tests and offline runs.
type MemoryAuditLog struct {
	mu   sync.Mutex
	rows []AuditRow
	next int64
}

// NewMemoryAuditLog creates an empty in-memory audit log.
func NewMemoryAuditLog() *MemoryAuditLog {
	return &MemoryAuditLog{next: 1}
}

func (m *MemoryAuditLog) Append(_ context.Context, row *AuditRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row.ID = m.next
	m.next++
	m.rows = append(m.rows, *row)
	return nil
}

func (m *MemoryAuditLog) List(_ context.Context, limit int) ([]AuditRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 || limit > len(m.rows) {
		limit = len(m.rows)
	}
	out := make([]AuditRow, limit)
	copy(out, m.rows[len(m.rows)-limit:])
	return out, nil
}
