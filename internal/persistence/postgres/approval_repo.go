package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/adpilot/adpilot/internal/approval"
	"github.com/adpilot/adpilot/internal/errs"
)

// approvalRepo implements approval.Repository for PostgreSQL. Requests are
// stored whole as JSONB with status and timestamps lifted into columns for
// filtering; the decision log is append-only.
type approvalRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewApprovalRepo creates a PostgreSQL approval repository.
func NewApprovalRepo(db *sqlx.DB, timeout time.Duration) approval.Repository {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &approvalRepo{db: db, timeout: timeout}
}

func (r *approvalRepo) SaveRequest(ctx context.Context, req *approval.Request) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	payload, err := json.Marshal(req)
	if err != nil {
		return errs.Wrap(errs.StorageFailure, err, "marshaling approval request")
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO approval_requests (id, payload, status, created_at, expires_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (id) DO UPDATE SET
			payload = EXCLUDED.payload,
			status = EXCLUDED.status`,
		req.ID, payload, req.Status, req.CreatedAt, req.ExpiresAt)
	if err != nil {
		return errs.Wrap(errs.StorageFailure, err, "saving approval request %s", req.ID)
	}
	return nil
}

func (r *approvalRepo) GetRequest(ctx context.Context, id string) (*approval.Request, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var payload []byte
	err := r.db.QueryRowxContext(ctx,
		`SELECT payload FROM approval_requests WHERE id = $1`, id).Scan(&payload)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errs.New(errs.ValidationFailed, "approval request %s not found", id)
		}
		return nil, errs.Wrap(errs.StorageFailure, err, "reading approval request %s", id)
	}

	var req approval.Request
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, errs.Wrap(errs.StorageFailure, err, "unmarshaling approval request %s", id)
	}
	return &req, nil
}

func (r *approvalRepo) ListRequests(ctx context.Context, status approval.RequestStatus) ([]*approval.Request, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT payload FROM approval_requests`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += ` ORDER BY created_at, id`

	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, errs.Wrap(errs.StorageFailure, err, "listing approval requests")
	}
	defer rows.Close()

	var out []*approval.Request
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, errs.Wrap(errs.StorageFailure, err, "scanning approval request row")
		}
		var req approval.Request
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, errs.Wrap(errs.StorageFailure, err, "unmarshaling approval request")
		}
		out = append(out, &req)
	}
	return out, rows.Err()
}

func (r *approvalRepo) AppendDecision(ctx context.Context, d *approval.Decision) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO approval_decisions (request_id, approver, approved, comment, decided_at)
		VALUES ($1,$2,$3,$4,$5)`,
		d.RequestID, d.Approver, d.Approved, d.Comment, d.DecidedAt)
	if err != nil {
		return errs.Wrap(errs.StorageFailure, err, "appending approval decision")
	}
	return nil
}

func (r *approvalRepo) SaveReady(ctx context.Context, rec *approval.ReadyRecord) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	payload, err := json.Marshal(rec)
	if err != nil {
		return errs.Wrap(errs.StorageFailure, err, "marshaling ready record")
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO approval_ready (request_id, payload, approved_at)
		VALUES ($1,$2,$3)
		ON CONFLICT (request_id) DO UPDATE SET
			payload = EXCLUDED.payload,
			approved_at = EXCLUDED.approved_at`,
		rec.RequestID, payload, rec.ApprovedAt)
	if err != nil {
		return errs.Wrap(errs.StorageFailure, err, "saving ready record for %s", rec.RequestID)
	}
	return nil
}
