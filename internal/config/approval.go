package config

import (
	"os"

	"gopkg.in/yaml.v2"

	"github.com/adpilot/adpilot/internal/errs"
)

// ApprovalPolicy drives severity grading and the approval matrix.
type ApprovalPolicy struct {
	// BudgetTiers maps severity names to the budget-delta dollar floor that
	// triggers them.
	BudgetTiers BudgetTiers `yaml:"budget_tiers"`
	// Matrix maps severity to the approval requirements.
	Matrix map[string]MatrixRow `yaml:"matrix"`
	// AutoApprove controls synthetic LOW-severity approvals.
	AutoApprove AutoApprovePolicy `yaml:"auto_approve"`
	// ExpirationHours is how long a request stays votable.
	ExpirationHours int `yaml:"expiration_hours"`
}

// BudgetTiers are the severity thresholds on absolute budget delta.
type BudgetTiers struct {
	Low      float64 `yaml:"low"`
	Medium   float64 `yaml:"medium"`
	High     float64 `yaml:"high"`
	Critical float64 `yaml:"critical"`
}

// MatrixRow is one approval-matrix entry.
type MatrixRow struct {
	RequiredApprovals    int      `yaml:"required_approvals"`
	Approvers            []string `yaml:"approvers"`
	EscalationAfterHours float64  `yaml:"escalation_after_hours"`
}

// AutoApprovePolicy gates the synthetic system approval path.
type AutoApprovePolicy struct {
	Enabled        bool     `yaml:"enabled"`
	Allowlist      []string `yaml:"allowlist"`
	MaxBudgetDelta float64  `yaml:"max_budget_delta"`
}

// DefaultApprovalPolicy returns the production policy.
func DefaultApprovalPolicy() *ApprovalPolicy {
	return &ApprovalPolicy{
		BudgetTiers: BudgetTiers{
			Low:      100.0,
			Medium:   1000.0,
			High:     5000.0,
			Critical: 10000.0,
		},
		Matrix: map[string]MatrixRow{
			"LOW":      {RequiredApprovals: 1, Approvers: []string{"marketing-lead"}, EscalationAfterHours: 24},
			"MEDIUM":   {RequiredApprovals: 1, Approvers: []string{"marketing-lead", "growth-manager"}, EscalationAfterHours: 12},
			"HIGH":     {RequiredApprovals: 2, Approvers: []string{"marketing-lead", "growth-manager", "finance"}, EscalationAfterHours: 6},
			"CRITICAL": {RequiredApprovals: 3, Approvers: []string{"marketing-lead", "growth-manager", "finance", "founder"}, EscalationAfterHours: 2},
		},
		AutoApprove: AutoApprovePolicy{
			Enabled:        false,
			Allowlist:      nil,
			MaxBudgetDelta: 100.0,
		},
		ExpirationHours: 48,
	}
}

// LoadApprovalPolicy reads an approval policy, merging over defaults.
func LoadApprovalPolicy(path string) (*ApprovalPolicy, error) {
	cfg := DefaultApprovalPolicy()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, errs.Wrap(errs.ConfigInvalid, err, "failed to read approval policy %s", path)
	}

	var override ApprovalPolicy
	if err := yaml.UnmarshalStrict(data, &override); err != nil {
		return nil, errs.Wrap(errs.ConfigInvalid, err, "failed to parse approval YAML %s", path)
	}

	if override.BudgetTiers != (BudgetTiers{}) {
		cfg.BudgetTiers = override.BudgetTiers
	}
	if len(override.Matrix) > 0 {
		cfg.Matrix = override.Matrix
	}
	if override.AutoApprove.Enabled || len(override.AutoApprove.Allowlist) > 0 {
		cfg.AutoApprove = override.AutoApprove
	}
	if override.ExpirationHours > 0 {
		cfg.ExpirationHours = override.ExpirationHours
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks tier ordering and matrix completeness.
func (c *ApprovalPolicy) Validate() error {
	t := c.BudgetTiers
	if !(t.Low < t.Medium && t.Medium < t.High && t.High < t.Critical) {
		return errs.New(errs.ConfigInvalid, "budget tiers must be strictly increasing")
	}
	for _, sev := range []string{"LOW", "MEDIUM", "HIGH", "CRITICAL"} {
		row, ok := c.Matrix[sev]
		if !ok {
			return errs.New(errs.ConfigInvalid, "approval matrix missing severity %s", sev)
		}
		if row.RequiredApprovals < 1 {
			return errs.New(errs.ConfigInvalid, "approval matrix %s requires at least one approval", sev)
		}
		if len(row.Approvers) < row.RequiredApprovals {
			return errs.New(errs.ConfigInvalid, "approval matrix %s has fewer approvers than required approvals", sev)
		}
	}
	if c.ExpirationHours <= 0 {
		return errs.New(errs.ConfigInvalid, "expiration_hours must be positive")
	}
	return nil
}
