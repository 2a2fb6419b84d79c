package approval

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/adpilot/adpilot/internal/clock"
	"github.com/adpilot/adpilot/internal/config"
	"github.com/adpilot/adpilot/internal/errs"
	"github.com/adpilot/adpilot/internal/telemetry"
)

// SystemActor is the synthetic approver recorded on auto-approvals.
const SystemActor = "system"

// Workflow runs the approval lifecycle: submit, vote, cancel, expiration
// sweep, escalation. Per-request mutation is serialized.
type Workflow struct {
	repo   Repository
	policy *config.ApprovalPolicy
	clock  clock.Clock
	admins map[string]bool

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewWorkflow creates a workflow. admins may cancel any request.
func NewWorkflow(repo Repository, policy *config.ApprovalPolicy, clk clock.Clock, admins []string) *Workflow {
	adminSet := make(map[string]bool, len(admins))
	for _, a := range admins {
		adminSet[a] = true
	}
	return &Workflow{
		repo:   repo,
		policy: policy,
		clock:  clk,
		admins: adminSet,
		locks:  make(map[string]*sync.Mutex),
	}
}

// SubmitInput describes a new approval request.
type SubmitInput struct {
	Title       string
	Description string
	Requester   string
	Mutations   []Mutation
}

// Submit grades the mutation set, creates the request, and applies the
// auto-approval path when policy permits.
func (w *Workflow) Submit(ctx context.Context, in SubmitInput) (*Request, error) {
	if in.Requester == "" {
		return nil, errs.New(errs.ValidationFailed, "requester is required")
	}
	if len(in.Mutations) == 0 {
		return nil, errs.New(errs.ValidationFailed, "a request needs at least one mutation")
	}

	severity := GradeSeverity(in.Mutations, w.policy.BudgetTiers)
	row, ok := w.policy.Matrix[string(severity)]
	if !ok {
		return nil, errs.New(errs.ConfigInvalid, "approval matrix has no row for severity %s", severity)
	}

	now := w.clock.Now()
	req := &Request{
		ID:                uuid.NewString(),
		Title:             in.Title,
		Description:       in.Description,
		Requester:         in.Requester,
		Mutations:         in.Mutations,
		BudgetDelta:       TotalBudgetDelta(in.Mutations),
		Severity:          severity,
		Status:            StatusPending,
		RequiredApprovals: row.RequiredApprovals,
		CreatedAt:         now,
		ExpiresAt:         now.Add(time.Duration(w.policy.ExpirationHours) * time.Hour),
	}

	if w.autoApprovable(req) {
		decision := Decision{
			RequestID: req.ID,
			Approver:  SystemActor,
			Approved:  true,
			Comment:   "auto-approved under policy",
			DecidedAt: now,
		}
		req.Status = StatusApproved
		req.AutoApproved = true
		req.CurrentApprovals = []string{SystemActor}
		req.Decisions = []Decision{decision}
		req.ResolvedAt = &now

		if err := w.repo.AppendDecision(ctx, &decision); err != nil {
			return nil, errs.Wrap(errs.StorageFailure, err, "recording auto-approval decision")
		}
		if err := w.persistReady(ctx, req); err != nil {
			return nil, err
		}
	}

	if err := w.repo.SaveRequest(ctx, req); err != nil {
		return nil, errs.Wrap(errs.StorageFailure, err, "saving approval request")
	}

	telemetry.ApprovalDecisions.WithLabelValues(string(req.Status)).Inc()
	log.Info().
		Str("request", req.ID).
		Str("severity", string(req.Severity)).
		Str("status", string(req.Status)).
		Float64("budget_delta", req.BudgetDelta).
		Bool("auto_approved", req.AutoApproved).
		Msg("approval request submitted")
	return req, nil
}

// autoApprovable applies all four auto-approval conditions.
func (w *Workflow) autoApprovable(req *Request) bool {
	auto := w.policy.AutoApprove
	if !auto.Enabled || req.Severity != SeverityLow || req.BudgetDelta > auto.MaxBudgetDelta {
		return false
	}
	for _, u := range auto.Allowlist {
		if u == req.Requester {
			return true
		}
	}
	return false
}

// Vote records one approve/reject decision. Rejection is terminal
// immediately; approval resolves once the required count is reached.
func (w *Workflow) Vote(ctx context.Context, requestID, approver string, approve bool, comment string) (*Request, error) {
	unlock := w.lock(requestID)
	defer unlock()

	req, err := w.repo.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}

	if err := w.expireIfDue(ctx, req); err != nil {
		return nil, err
	}
	if req.Status.Terminal() {
		return nil, errs.New(errs.StateConflict, "request %s is %s and accepts no votes", requestID, req.Status)
	}

	row := w.policy.Matrix[string(req.Severity)]
	if !contains(row.Approvers, approver) {
		return nil, errs.New(errs.Unauthorized, "%s is not an approver for %s requests", approver, req.Severity)
	}
	if req.HasApprovalFrom(approver) {
		return nil, errs.New(errs.ValidationFailed, "%s already approved request %s", approver, requestID)
	}

	now := w.clock.Now()
	decision := Decision{
		RequestID: requestID,
		Approver:  approver,
		Approved:  approve,
		Comment:   comment,
		DecidedAt: now,
	}
	req.Decisions = append(req.Decisions, decision)

	if approve {
		req.CurrentApprovals = append(req.CurrentApprovals, approver)
		if len(req.CurrentApprovals) >= req.RequiredApprovals {
			req.Status = StatusApproved
			req.ResolvedAt = &now
		}
	} else {
		req.Status = StatusRejected
		req.ResolvedAt = &now
	}

	if err := w.repo.AppendDecision(ctx, &decision); err != nil {
		return nil, errs.Wrap(errs.StorageFailure, err, "recording decision")
	}
	if req.Status == StatusApproved {
		if err := w.persistReady(ctx, req); err != nil {
			return nil, err
		}
	}
	if err := w.repo.SaveRequest(ctx, req); err != nil {
		return nil, errs.Wrap(errs.StorageFailure, err, "saving approval request")
	}

	telemetry.ApprovalDecisions.WithLabelValues(string(req.Status)).Inc()
	log.Info().
		Str("request", requestID).
		Str("approver", approver).
		Bool("approved", approve).
		Str("status", string(req.Status)).
		Msg("approval vote recorded")
	return req, nil
}

// Cancel terminates a pending request. Only the originator or an
// administrator may cancel.
func (w *Workflow) Cancel(ctx context.Context, requestID, actor string) (*Request, error) {
	unlock := w.lock(requestID)
	defer unlock()

	req, err := w.repo.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status.Terminal() {
		return nil, errs.New(errs.StateConflict, "request %s is already %s", requestID, req.Status)
	}
	if actor != req.Requester && !w.admins[actor] {
		return nil, errs.New(errs.Unauthorized, "%s may not cancel request %s", actor, requestID)
	}

	now := w.clock.Now()
	req.Status = StatusCancelled
	req.ResolvedAt = &now
	if err := w.repo.SaveRequest(ctx, req); err != nil {
		return nil, errs.Wrap(errs.StorageFailure, err, "saving cancelled request")
	}

	telemetry.ApprovalDecisions.WithLabelValues(string(StatusCancelled)).Inc()
	return req, nil
}

// List returns requests, optionally filtered by status, after sweeping
// expirations and escalations over the pending set.
func (w *Workflow) List(ctx context.Context, status RequestStatus) ([]*Request, error) {
	if err := w.Sweep(ctx); err != nil {
		return nil, err
	}
	return w.repo.ListRequests(ctx, status)
}

// Sweep expires overdue pending requests and appends escalation
// notifications for pending requests past their escalation window.
func (w *Workflow) Sweep(ctx context.Context) error {
	pending, err := w.repo.ListRequests(ctx, StatusPending)
	if err != nil {
		return err
	}

	for _, req := range pending {
		unlock := w.lock(req.ID)

		current, err := w.repo.GetRequest(ctx, req.ID)
		if err != nil {
			unlock()
			return err
		}
		if current.Status != StatusPending {
			unlock()
			continue
		}

		changed := false
		if err := w.expireIfDue(ctx, current); err != nil {
			unlock()
			return err
		}
		if current.Status == StatusExpired {
			changed = true
		} else if w.escalateIfDue(current) {
			changed = true
		}

		if changed {
			if err := w.repo.SaveRequest(ctx, current); err != nil {
				unlock()
				return errs.Wrap(errs.StorageFailure, err, "saving swept request %s", current.ID)
			}
		}
		unlock()
	}
	return nil
}

// expireIfDue marks the request expired in memory when past its deadline.
// The caller persists.
func (w *Workflow) expireIfDue(_ context.Context, req *Request) error {
	if req.Status != StatusPending || w.clock.Now().Before(req.ExpiresAt) {
		return nil
	}
	now := w.clock.Now()
	req.Status = StatusExpired
	req.ResolvedAt = &now
	telemetry.ApprovalDecisions.WithLabelValues(string(StatusExpired)).Inc()
	log.Warn().Str("request", req.ID).Msg("approval request expired")
	return nil
}

// escalateIfDue appends one escalation notification per elapsed window.
func (w *Workflow) escalateIfDue(req *Request) bool {
	row := w.policy.Matrix[string(req.Severity)]
	if row.EscalationAfterHours <= 0 {
		return false
	}

	window := time.Duration(row.EscalationAfterHours * float64(time.Hour))
	due := req.CreatedAt.Add(window)
	for _, n := range req.Notifications {
		if !n.SentAt.Before(due) {
			return false
		}
	}
	if w.clock.Now().Before(due) {
		return false
	}

	req.Notifications = append(req.Notifications, Notification{
		RequestID: req.ID,
		Audience:  row.Approvers,
		Message:   fmt.Sprintf("request %q (%s) awaiting approval for over %.0f hours", req.Title, req.Severity, row.EscalationAfterHours),
		SentAt:    w.clock.Now(),
	})
	log.Warn().Str("request", req.ID).Str("severity", string(req.Severity)).Msg("approval request escalated")
	return true
}

func (w *Workflow) persistReady(ctx context.Context, req *Request) error {
	rec := &ReadyRecord{
		RequestID:  req.ID,
		Mutations:  req.Mutations,
		ApprovedAt: w.clock.Now(),
		ApprovedBy: append([]string(nil), req.CurrentApprovals...),
	}
	if err := w.repo.SaveReady(ctx, rec); err != nil {
		return errs.Wrap(errs.StorageFailure, err, "saving ready-for-application record")
	}
	return nil
}

func (w *Workflow) lock(requestID string) func() {
	w.mu.Lock()
	l, ok := w.locks[requestID]
	if !ok {
		l = &sync.Mutex{}
		w.locks[requestID] = l
	}
	w.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
