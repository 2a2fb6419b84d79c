package guardrail

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adpilot/adpilot/internal/clock"
	"github.com/adpilot/adpilot/internal/config"
)

type guardrailFixture struct {
	validator *Validator
	audit     *MemoryAuditLog
	qs        *MemoryQualityScores
	lp        *MemoryLandingPageHealth
	claims    *MemoryClaims
	clk       *clock.Fixed
}

func newFixture(t *testing.T, cfg *config.GuardrailConstraints) *guardrailFixture {
	t.Helper()
	if cfg == nil {
		cfg = config.DefaultGuardrails()
	}
	f := &guardrailFixture{
		audit:  NewMemoryAuditLog(),
		qs:     NewMemoryQualityScores(),
		lp:     NewMemoryLandingPageHealth(),
		claims: NewMemoryClaims(),
		clk:    clock.NewFixed(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
	}
	rules := DefaultRules(cfg, f.qs, f.lp, f.claims, f.clk)
	f.validator = NewValidator(rules, f.audit, f.clk)
	return f
}

func freshClaims(f *guardrailFixture, campaigns ...string) {
	for _, c := range campaigns {
		f.claims.Set(c, f.clk.Now().Add(-24*time.Hour))
	}
}

func TestValidate_BudgetCapCritical(t *testing.T) {
	f := newFixture(t, &config.GuardrailConstraints{
		DailyCaps:            map[string]float64{"AUD": 50},
		MaxChangePct:         100,
		MinQualityScore:      3.0,
		MinLandingPageHealth: 0.6,
		ClaimsMaxAgeDays:     30,
	})
	freshClaims(f, "A")

	result, err := f.validator.Validate(context.Background(), &Proposal{
		Currency: "AUD",
		Changes:  []BudgetChange{{CampaignID: "A", CurrentBudget: 40, NewBudget: 70}},
	})
	require.NoError(t, err)

	assert.False(t, result.Passed)
	assert.False(t, result.CanOverride, "critical violations admit no override")
	require.Len(t, result.Violations, 1)
	assert.Equal(t, "budget_cap", result.Violations[0].Rule)
	assert.Equal(t, ViolationCritical, result.Violations[0].Severity)
	assert.InDelta(t, 70.0, result.Violations[0].Observed, 1e-9)
	assert.InDelta(t, 50.0, result.Violations[0].Limit, 1e-9)
}

func TestValidate_CleanProposalPasses(t *testing.T) {
	f := newFixture(t, nil)
	freshClaims(f, "A")
	f.qs.Set("A", 7.5)
	f.lp.Set("A", 0.9)

	result, err := f.validator.Validate(context.Background(), &Proposal{
		Currency: "AUD",
		Changes:  []BudgetChange{{CampaignID: "A", CurrentBudget: 100, NewBudget: 120}},
	})
	require.NoError(t, err)

	assert.True(t, result.Passed)
	assert.True(t, result.CanOverride)
	assert.Empty(t, result.Violations)
}

func TestValidate_UnknownCurrencyIsCritical(t *testing.T) {
	f := newFixture(t, nil)

	result, err := f.validator.Validate(context.Background(), &Proposal{
		Currency: "JPY",
		Changes:  []BudgetChange{{CampaignID: "A", CurrentBudget: 100, NewBudget: 90}},
	})
	require.NoError(t, err)

	assert.False(t, result.Passed)
	assert.False(t, result.CanOverride)
	assert.Equal(t, "budget_cap", result.Violations[0].Rule)
}

func TestValidate_MaxChangeBoundary(t *testing.T) {
	f := newFixture(t, nil)
	freshClaims(f, "A", "B")

	// 25% exactly is allowed; 25.1% is not.
	result, err := f.validator.Validate(context.Background(), &Proposal{
		Currency: "AUD",
		Changes: []BudgetChange{
			{CampaignID: "A", CurrentBudget: 100, NewBudget: 125},
			{CampaignID: "B", CurrentBudget: 100, NewBudget: 126},
		},
	})
	require.NoError(t, err)

	require.Len(t, result.Violations, 1)
	v := result.Violations[0]
	assert.Equal(t, "max_change_pct", v.Rule)
	assert.Equal(t, ViolationHigh, v.Severity)
	assert.Equal(t, "B", v.CampaignID)
	assert.True(t, result.CanOverride, "a high violation without criticals stays overridable")
}

func TestValidate_MaxChangeSkipsNewCampaigns(t *testing.T) {
	f := newFixture(t, nil)
	freshClaims(f, "NEW")

	result, err := f.validator.Validate(context.Background(), &Proposal{
		Currency: "AUD",
		Changes:  []BudgetChange{{CampaignID: "NEW", CurrentBudget: 0, NewBudget: 100}},
	})
	require.NoError(t, err)
	assert.True(t, result.Passed, "zero current budget has no meaningful percent change")
}

func TestValidate_QualityScoreBlocksIncrease(t *testing.T) {
	f := newFixture(t, nil)
	freshClaims(f, "A", "B")
	f.qs.Set("A", 2.5)
	f.qs.Set("B", 2.5)

	increase, err := f.validator.Validate(context.Background(), &Proposal{
		Currency: "AUD",
		Changes:  []BudgetChange{{CampaignID: "A", CurrentBudget: 100, NewBudget: 110}},
	})
	require.NoError(t, err)
	require.Len(t, increase.Violations, 1)
	assert.Equal(t, "min_quality_score", increase.Violations[0].Rule)
	assert.False(t, increase.CanOverride)

	decrease, err := f.validator.Validate(context.Background(), &Proposal{
		Currency: "AUD",
		Changes:  []BudgetChange{{CampaignID: "B", CurrentBudget: 100, NewBudget: 90}},
	})
	require.NoError(t, err)
	assert.True(t, decrease.Passed, "weak quality score only blocks increases")
}

func TestValidate_AbsentDataSemantics(t *testing.T) {
	f := newFixture(t, nil)

	// No quality-score or landing-page data passes those rules, but a
	// missing claims record still blocks the increase.
	result, err := f.validator.Validate(context.Background(), &Proposal{
		Currency: "AUD",
		Changes:  []BudgetChange{{CampaignID: "A", CurrentBudget: 100, NewBudget: 110}},
	})
	require.NoError(t, err)

	require.Len(t, result.Violations, 1)
	assert.Equal(t, "claims_freshness", result.Violations[0].Rule)
	assert.Equal(t, ViolationCritical, result.Violations[0].Severity)
}

func TestValidate_StaleClaims(t *testing.T) {
	f := newFixture(t, nil)
	f.claims.Set("A", f.clk.Now().Add(-31*24*time.Hour))

	result, err := f.validator.Validate(context.Background(), &Proposal{
		Currency: "AUD",
		Changes:  []BudgetChange{{CampaignID: "A", CurrentBudget: 100, NewBudget: 110}},
	})
	require.NoError(t, err)

	require.Len(t, result.Violations, 1)
	assert.Equal(t, "claims_freshness", result.Violations[0].Rule)
	assert.InDelta(t, 31.0, result.Violations[0].Observed, 0.01)
}

func TestValidate_OneAuditRowPerValidation(t *testing.T) {
	f := newFixture(t, nil)
	freshClaims(f, "A")
	ctx := context.Background()

	proposal := &Proposal{
		Currency: "AUD",
		Changes:  []BudgetChange{{CampaignID: "A", CurrentBudget: 100, NewBudget: 110}},
	}
	_, err := f.validator.Validate(ctx, proposal)
	require.NoError(t, err)
	_, err = f.validator.Validate(ctx, &Proposal{
		Currency: "AUD",
		Changes:  []BudgetChange{{CampaignID: "A", CurrentBudget: 100, NewBudget: 600}},
	})
	require.NoError(t, err)

	rows, err := f.audit.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.True(t, rows[0].Passed)
	assert.False(t, rows[1].Passed)
	assert.Equal(t, proposal.Hash(), rows[0].ProposalHash)
	assert.NotEmpty(t, rows[1].ViolationsJSON)
}

func TestProposalHash_OrderIndependent(t *testing.T) {
	a := &Proposal{Currency: "AUD", Changes: []BudgetChange{
		{CampaignID: "A", CurrentBudget: 10, NewBudget: 12},
		{CampaignID: "B", CurrentBudget: 20, NewBudget: 22},
	}}
	b := &Proposal{Currency: "AUD", Changes: []BudgetChange{
		{CampaignID: "B", CurrentBudget: 20, NewBudget: 22},
		{CampaignID: "A", CurrentBudget: 10, NewBudget: 12},
	}}

	assert.Equal(t, a.Hash(), b.Hash())
	assert.Len(t, a.Hash(), 12)

	c := &Proposal{Currency: "USD", Changes: a.Changes}
	assert.NotEqual(t, a.Hash(), c.Hash(), "currency is part of the hash")
}
