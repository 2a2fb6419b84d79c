package approval

import (
	"time"
)

// RequestStatus is the lifecycle state of an approval request.
type RequestStatus string

const (
	StatusPending   RequestStatus = "PENDING"
	StatusApproved  RequestStatus = "APPROVED"
	StatusRejected  RequestStatus = "REJECTED"
	StatusCancelled RequestStatus = "CANCELLED"
	StatusExpired   RequestStatus = "EXPIRED"
)

// Terminal reports whether the status accepts no further votes.
func (s RequestStatus) Terminal() bool {
	switch s {
	case StatusApproved, StatusRejected, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// Severity grades a request and selects its approval-matrix row.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// MutationKind classifies one proposed change.
type MutationKind string

const (
	MutationBudget   MutationKind = "budget"
	MutationBid      MutationKind = "bid"
	MutationKeyword  MutationKind = "keyword"
	MutationNegative MutationKind = "negative"
	MutationCreative MutationKind = "creative"
	MutationDelete   MutationKind = "delete"
)

// Mutation is one proposed change within a request.
type Mutation struct {
	Kind        MutationKind `json:"kind"`
	EntityType  string       `json:"entity_type"`
	EntityID    string       `json:"entity_id"`
	Field       string       `json:"field,omitempty"`
	OldValue    string       `json:"old_value,omitempty"`
	NewValue    string       `json:"new_value,omitempty"`
	BudgetDelta float64      `json:"budget_delta,omitempty"`
}

// Decision is one vote or system action on a request.
type Decision struct {
	RequestID string    `json:"request_id"`
	Approver  string    `json:"approver"`
	Approved  bool      `json:"approved"`
	Comment   string    `json:"comment,omitempty"`
	DecidedAt time.Time `json:"decided_at"`
}

// Notification records an escalation event appended after the matrix
// row's escalation window elapses without a terminal outcome.
type Notification struct {
	RequestID string    `json:"request_id"`
	Audience  []string  `json:"audience"`
	Message   string    `json:"message"`
	SentAt    time.Time `json:"sent_at"`
}

// Request is one approval request with its vote state.
type Request struct {
	ID               string     `json:"id"`
	Title            string     `json:"title"`
	Description      string     `json:"description,omitempty"`
	Requester        string     `json:"requester"`
	Mutations        []Mutation `json:"mutations"`
	BudgetDelta      float64    `json:"budget_delta"`
	Severity         Severity   `json:"severity"`
	Status           RequestStatus `json:"status"`
	RequiredApprovals int       `json:"required_approvals"`
	CurrentApprovals []string   `json:"current_approvals"`
	Decisions        []Decision `json:"decisions"`
	Notifications    []Notification `json:"notifications"`
	AutoApproved     bool       `json:"auto_approved"`
	CreatedAt        time.Time  `json:"created_at"`
	ExpiresAt        time.Time  `json:"expires_at"`
	ResolvedAt       *time.Time `json:"resolved_at,omitempty"`
}

// HasApprovalFrom reports whether the approver already voted approve.
func (r *Request) HasApprovalFrom(approver string) bool {
	for _, a := range r.CurrentApprovals {
		if a == approver {
			return true
		}
	}
	return false
}

// ReadyRecord is persisted on approval with the sanctioned mutation set,
// ready for a downstream applier to pick up.
type ReadyRecord struct {
	RequestID  string     `json:"request_id"`
	Mutations  []Mutation `json:"mutations"`
	ApprovedAt time.Time  `json:"approved_at"`
	ApprovedBy []string   `json:"approved_by"`
}
