package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/adpilot/adpilot/internal/errs"
	"github.com/adpilot/adpilot/internal/guardrail"
)

// guardrailAudit implements guardrail.AuditLog for PostgreSQL.
type guardrailAudit struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewGuardrailAudit creates the append-only validation log.
func NewGuardrailAudit(db *sqlx.DB, timeout time.Duration) guardrail.AuditLog {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &guardrailAudit{db: db, timeout: timeout}
}

func (r *guardrailAudit) Append(ctx context.Context, row *guardrail.AuditRow) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	err := r.db.QueryRowxContext(ctx, `
		INSERT INTO guardrail_validations
			(proposal_hash, passed, violation_count, can_override, violations_json, proposal_json, timestamp)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING id`,
		row.ProposalHash, row.Passed, row.ViolationCount, row.CanOverride,
		row.ViolationsJSON, row.ProposalJSON, row.Timestamp).
		Scan(&row.ID)
	if err != nil {
		return errs.Wrap(errs.StorageFailure, err, "appending guardrail validation row")
	}
	return nil
}

func (r *guardrailAudit) List(ctx context.Context, limit int) ([]guardrail.AuditRow, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryxContext(ctx, `
		SELECT id, proposal_hash, passed, violation_count, can_override,
		       violations_json, proposal_json, timestamp
		FROM guardrail_validations
		ORDER BY id DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, errs.Wrap(errs.StorageFailure, err, "listing guardrail validations")
	}
	defer rows.Close()

	var out []guardrail.AuditRow
	for rows.Next() {
		var row guardrail.AuditRow
		if err := rows.StructScan(&row); err != nil {
			return nil, errs.Wrap(errs.StorageFailure, err, "scanning guardrail validation row")
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// qualitySource reads keyword_quality_daily, a table populated outside the
// core. The score is impression-weighted over the trailing 30 days.
type qualitySource struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewQualitySource creates the read-only quality-score collaborator.
func NewQualitySource(db *sqlx.DB, timeout time.Duration) guardrail.QualityScoreSource {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &qualitySource{db: db, timeout: timeout}
}

func (r *qualitySource) QualityScore(ctx context.Context, campaignID string) (float64, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var score *float64
	err := r.db.QueryRowxContext(ctx, `
		SELECT SUM(quality_score * impressions) / NULLIF(SUM(impressions), 0)
		FROM keyword_quality_daily
		WHERE campaign_id = $1 AND date >= CURRENT_DATE - INTERVAL '30 days'`,
		campaignID).Scan(&score)
	if err != nil {
		return 0, false, errs.Wrap(errs.StorageFailure, err, "reading quality score for %s", campaignID)
	}
	if score == nil {
		return 0, false, nil
	}
	return *score, true, nil
}

// healthSource reads landing_page_health, another external collaborator.
type healthSource struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewHealthSource creates the read-only landing-page-health collaborator.
func NewHealthSource(db *sqlx.DB, timeout time.Duration) guardrail.LandingPageHealthSource {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &healthSource{db: db, timeout: timeout}
}

func (r *healthSource) WorstHealth(ctx context.Context, campaignID string) (float64, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var health *float64
	err := r.db.QueryRowxContext(ctx, `
		SELECT MIN(health_score)
		FROM landing_page_health
		WHERE campaign_id = $1`, campaignID).Scan(&health)
	if err != nil {
		return 0, false, errs.Wrap(errs.StorageFailure, err, "reading landing page health for %s", campaignID)
	}
	if health == nil {
		return 0, false, nil
	}
	return *health, true, nil
}

// claimsSource reads claims_validations.
type claimsSource struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewClaimsSource creates the read-only claims-validation collaborator.
func NewClaimsSource(db *sqlx.DB, timeout time.Duration) guardrail.ClaimsSource {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &claimsSource{db: db, timeout: timeout}
}

func (r *claimsSource) LastValidated(ctx context.Context, campaignID string) (time.Time, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var at *time.Time
	err := r.db.QueryRowxContext(ctx, `
		SELECT validated_at FROM claims_validations WHERE campaign_id = $1`,
		campaignID).Scan(&at)
	if err != nil {
		if err == sql.ErrNoRows {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, errs.Wrap(errs.StorageFailure, err, "reading claims validation for %s", campaignID)
	}
	if at == nil {
		return time.Time{}, false, nil
	}
	return *at, true, nil
}
