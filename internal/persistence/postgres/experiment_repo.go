package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/adpilot/adpilot/internal/errs"
	"github.com/adpilot/adpilot/internal/experiment"
)

// experimentRepo implements experiment.Repository for PostgreSQL.
type experimentRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewExperimentRepo creates a PostgreSQL experiment repository.
func NewExperimentRepo(db *sqlx.DB, timeout time.Duration) experiment.Repository {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &experimentRepo{db: db, timeout: timeout}
}

// variantContent is the JSONB payload under experiment_variants.content.
type variantContent struct {
	Headlines    []string          `json:"headlines,omitempty"`
	Descriptions []string          `json:"descriptions,omitempty"`
	FinalURLs    []string          `json:"final_urls,omitempty"`
	Labels       []string          `json:"labels,omitempty"`
	ContentPath  string            `json:"content_path,omitempty"`
	Headline     string            `json:"headline,omitempty"`
	Subheadline  string            `json:"subheadline,omitempty"`
	CTA          string            `json:"cta,omitempty"`
	RoutingRules map[string]string `json:"routing_rules,omitempty"`
}

func (r *experimentRepo) Save(ctx context.Context, exp *experiment.Experiment) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	guardsJSON, err := json.Marshal(exp.Guards)
	if err != nil {
		return errs.Wrap(errs.StorageFailure, err, "marshaling guard config")
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return errs.Wrap(errs.StorageFailure, err, "beginning transaction")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO experiments
			(id, type, product, target_id, status, target_metric,
			 min_sample_size, confidence_level, guards, start_at, end_at,
			 winner_variant_id, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			start_at = EXCLUDED.start_at,
			end_at = EXCLUDED.end_at,
			winner_variant_id = EXCLUDED.winner_variant_id,
			updated_at = EXCLUDED.updated_at`,
		exp.ID, exp.Type, exp.Product, exp.TargetID, exp.Status, exp.TargetMetric,
		exp.MinSampleSize, exp.ConfidenceLevel, guardsJSON, exp.StartAt, exp.EndAt,
		exp.WinnerVariantID, exp.CreatedAt, exp.UpdatedAt)
	if err != nil {
		return errs.Wrap(errs.StorageFailure, err, "upserting experiment %s", exp.ID)
	}

	for _, v := range exp.Variants {
		content, err := json.Marshal(variantContent{
			Headlines:    v.Headlines,
			Descriptions: v.Descriptions,
			FinalURLs:    v.FinalURLs,
			Labels:       v.Labels,
			ContentPath:  v.ContentPath,
			Headline:     v.Headline,
			Subheadline:  v.Subheadline,
			CTA:          v.CTA,
			RoutingRules: v.RoutingRules,
		})
		if err != nil {
			return errs.Wrap(errs.StorageFailure, err, "marshaling variant content")
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO experiment_variants
				(test_id, variant_id, name, is_control, weight, similarity_to_control, content)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
			ON CONFLICT (test_id, variant_id) DO UPDATE SET
				name = EXCLUDED.name,
				is_control = EXCLUDED.is_control,
				weight = EXCLUDED.weight,
				similarity_to_control = EXCLUDED.similarity_to_control,
				content = EXCLUDED.content`,
			exp.ID, v.ID, v.Name, v.IsControl, v.Weight, v.SimilarityToControl, content)
		if err != nil {
			return errs.Wrap(errs.StorageFailure, err, "upserting variant %s", v.ID)
		}
	}

	if err := tx.Commit(); err != nil {
		return errs.Wrap(errs.StorageFailure, err, "committing experiment save")
	}
	return nil
}

func (r *experimentRepo) Get(ctx context.Context, id string) (*experiment.Experiment, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	row := r.db.QueryRowxContext(ctx, `
		SELECT id, type, product, target_id, status, target_metric,
		       min_sample_size, confidence_level, guards, start_at, end_at,
		       winner_variant_id, created_at, updated_at
		FROM experiments WHERE id = $1`, id)

	exp, err := scanExperiment(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errs.New(errs.ValidationFailed, "experiment %s not found", id)
		}
		return nil, errs.Wrap(errs.StorageFailure, err, "reading experiment %s", id)
	}

	if exp.Variants, err = r.loadVariants(ctx, id); err != nil {
		return nil, err
	}
	return exp, nil
}

func (r *experimentRepo) List(ctx context.Context, product string) ([]*experiment.Experiment, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, type, product, target_id, status, target_metric,
		       min_sample_size, confidence_level, guards, start_at, end_at,
		       winner_variant_id, created_at, updated_at
		FROM experiments`
	args := []interface{}{}
	if product != "" {
		query += ` WHERE product = $1`
		args = append(args, product)
	}
	query += ` ORDER BY created_at, id`

	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, errs.Wrap(errs.StorageFailure, err, "listing experiments")
	}
	defer rows.Close()

	var out []*experiment.Experiment
	for rows.Next() {
		exp, err := scanExperiment(rows)
		if err != nil {
			return nil, errs.Wrap(errs.StorageFailure, err, "scanning experiment row")
		}
		if exp.Variants, err = r.loadVariants(ctx, exp.ID); err != nil {
			return nil, err
		}
		out = append(out, exp)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.StorageFailure, err, "iterating experiment rows")
	}
	return out, nil
}

func (r *experimentRepo) UpsertMetric(ctx context.Context, p experiment.MetricPoint) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO experiment_metrics
			(date, test_id, variant_id, impressions, clicks, cost, conversions, conversion_value, recorded_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (date, test_id, variant_id) DO UPDATE SET
			impressions = EXCLUDED.impressions,
			clicks = EXCLUDED.clicks,
			cost = EXCLUDED.cost,
			conversions = EXCLUDED.conversions,
			conversion_value = EXCLUDED.conversion_value,
			recorded_at = EXCLUDED.recorded_at`,
		p.Date, p.ExperimentID, p.VariantID, p.Impressions, p.Clicks,
		p.Cost, p.Conversions, p.ConversionValue, p.RecordedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23503" {
			return errs.New(errs.ValidationFailed, "metric for unknown experiment %s", p.ExperimentID)
		}
		return errs.Wrap(errs.StorageFailure, err, "upserting metric point")
	}
	return nil
}

func (r *experimentRepo) ListMetrics(ctx context.Context, experimentID string) ([]experiment.MetricPoint, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	rows, err := r.db.QueryxContext(ctx, `
		SELECT to_char(date, 'YYYY-MM-DD') AS date, test_id, variant_id,
		       impressions, clicks, cost, conversions, conversion_value, recorded_at
		FROM experiment_metrics
		WHERE test_id = $1
		ORDER BY date, variant_id`, experimentID)
	if err != nil {
		return nil, errs.Wrap(errs.StorageFailure, err, "listing metrics for %s", experimentID)
	}
	defer rows.Close()

	var out []experiment.MetricPoint
	for rows.Next() {
		var p experiment.MetricPoint
		err := rows.Scan(&p.Date, &p.ExperimentID, &p.VariantID,
			&p.Impressions, &p.Clicks, &p.Cost, &p.Conversions,
			&p.ConversionValue, &p.RecordedAt)
		if err != nil {
			return nil, errs.Wrap(errs.StorageFailure, err, "scanning metric row")
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *experimentRepo) AppendAudit(ctx context.Context, entry experiment.AuditEntry) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO experiment_audit (experiment_id, action, from_status, to_status, actor, detail, ts)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		entry.ExperimentID, entry.Action, entry.FromStatus, entry.ToStatus,
		entry.Actor, entry.Detail, entry.Timestamp)
	if err != nil {
		return errs.Wrap(errs.StorageFailure, err, "appending experiment audit row")
	}
	return nil
}

func (r *experimentRepo) ListAudit(ctx context.Context, experimentID string) ([]experiment.AuditEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	rows, err := r.db.QueryxContext(ctx, `
		SELECT experiment_id, action, from_status, to_status, actor, detail, ts
		FROM experiment_audit
		WHERE experiment_id = $1
		ORDER BY ts, id`, experimentID)
	if err != nil {
		return nil, errs.Wrap(errs.StorageFailure, err, "listing audit for %s", experimentID)
	}
	defer rows.Close()

	var out []experiment.AuditEntry
	for rows.Next() {
		var e experiment.AuditEntry
		err := rows.Scan(&e.ExperimentID, &e.Action, &e.FromStatus, &e.ToStatus,
			&e.Actor, &e.Detail, &e.Timestamp)
		if err != nil {
			return nil, errs.Wrap(errs.StorageFailure, err, "scanning audit row")
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *experimentRepo) loadVariants(ctx context.Context, experimentID string) ([]experiment.Variant, error) {
	rows, err := r.db.QueryxContext(ctx, `
		SELECT variant_id, name, is_control, weight, similarity_to_control, content
		FROM experiment_variants
		WHERE test_id = $1
		ORDER BY is_control DESC, name`, experimentID)
	if err != nil {
		return nil, errs.Wrap(errs.StorageFailure, err, "loading variants for %s", experimentID)
	}
	defer rows.Close()

	var out []experiment.Variant
	for rows.Next() {
		var v experiment.Variant
		var contentJSON []byte
		err := rows.Scan(&v.ID, &v.Name, &v.IsControl, &v.Weight, &v.SimilarityToControl, &contentJSON)
		if err != nil {
			return nil, errs.Wrap(errs.StorageFailure, err, "scanning variant row")
		}
		if len(contentJSON) > 0 {
			var content variantContent
			if err := json.Unmarshal(contentJSON, &content); err != nil {
				return nil, errs.Wrap(errs.StorageFailure, err, "unmarshaling variant content")
			}
			v.Headlines = content.Headlines
			v.Descriptions = content.Descriptions
			v.FinalURLs = content.FinalURLs
			v.Labels = content.Labels
			v.ContentPath = content.ContentPath
			v.Headline = content.Headline
			v.Subheadline = content.Subheadline
			v.CTA = content.CTA
			v.RoutingRules = content.RoutingRules
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// rowScanner covers both sqlx.Row and sqlx.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanExperiment(row rowScanner) (*experiment.Experiment, error) {
	var exp experiment.Experiment
	var guardsJSON []byte

	err := row.Scan(&exp.ID, &exp.Type, &exp.Product, &exp.TargetID, &exp.Status,
		&exp.TargetMetric, &exp.MinSampleSize, &exp.ConfidenceLevel, &guardsJSON,
		&exp.StartAt, &exp.EndAt, &exp.WinnerVariantID, &exp.CreatedAt, &exp.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(guardsJSON) > 0 {
		if err := json.Unmarshal(guardsJSON, &exp.Guards); err != nil {
			return nil, err
		}
	}
	return &exp, nil
}
