package guardrail

import (
	"context"
	"fmt"
	"time"

	"github.com/adpilot/adpilot/internal/clock"
	"github.com/adpilot/adpilot/internal/config"
)

// ViolationSeverity grades a rule violation.
type ViolationSeverity string

const (
	ViolationLow      ViolationSeverity = "low"
	ViolationMedium   ViolationSeverity = "medium"
	ViolationHigh     ViolationSeverity = "high"
	ViolationCritical ViolationSeverity = "critical"
)

// Violation is one failed check within a proposal.
type Violation struct {
	Rule       string            `json:"rule"`
	Severity   ViolationSeverity `json:"severity"`
	CampaignID string            `json:"campaign_id,omitempty"`
	Message    string            `json:"message"`
	Observed   float64           `json:"observed"`
	Limit      float64           `json:"limit"`
}

// Rule validates one aspect of a proposal. Rules are open for extension:
// anything satisfying this contract can join the validator's chain.
type Rule interface {
	Name() string
	Validate(ctx context.Context, p *Proposal) ([]Violation, error)
}

// QualityScoreSource reports the 30-day impression-weighted quality score
// for a campaign. Populated outside the core; read-only here.
type QualityScoreSource interface {
	QualityScore(ctx context.Context, campaignID string) (float64, bool, error)
}

// LandingPageHealthSource reports the worst landing-page health score for
// a campaign. Read-only collaborator.
type LandingPageHealthSource interface {
	WorstHealth(ctx context.Context, campaignID string) (float64, bool, error)
}

// ClaimsSource reports when a campaign's ad claims were last validated.
// Read-only collaborator.
type ClaimsSource interface {
	LastValidated(ctx context.Context, campaignID string) (time.Time, bool, error)
}

// budgetCapRule rejects proposals whose total exceeds the per-currency cap.
type budgetCapRule struct {
	caps map[string]float64
}

func (r *budgetCapRule) Name() string { return "budget_cap" }

func (r *budgetCapRule) Validate(_ context.Context, p *Proposal) ([]Violation, error) {
	cap, ok := r.caps[p.Currency]
	if !ok {
		return []Violation{{
			Rule:     r.Name(),
			Severity: ViolationCritical,
			Message:  fmt.Sprintf("no daily cap configured for currency %s", p.Currency),
		}}, nil
	}

	total := p.TotalProposed()
	if total <= cap {
		return nil, nil
	}
	return []Violation{{
		Rule:     r.Name(),
		Severity: ViolationCritical,
		Message:  fmt.Sprintf("proposed total %.2f %s exceeds daily cap %.2f", total, p.Currency, cap),
		Observed: total,
		Limit:    cap,
	}}, nil
}

// maxChangeRule caps the per-campaign percentage delta.
type maxChangeRule struct {
	maxPct float64
}

func (r *maxChangeRule) Name() string { return "max_change_pct" }

func (r *maxChangeRule) Validate(_ context.Context, p *Proposal) ([]Violation, error) {
	var out []Violation
	for _, c := range p.Changes {
		if c.CurrentBudget == 0 {
			continue
		}
		pct := absFloat(c.Delta()) / c.CurrentBudget * 100
		if pct <= r.maxPct {
			continue
		}
		out = append(out, Violation{
			Rule:       r.Name(),
			Severity:   ViolationHigh,
			CampaignID: c.CampaignID,
			Message:    fmt.Sprintf("campaign %s changes budget by %.1f%%, cap is %.1f%%", c.CampaignID, pct, r.maxPct),
			Observed:   pct,
			Limit:      r.maxPct,
		})
	}
	return out, nil
}

// qualityScoreRule blocks increases for campaigns with weak quality scores.
type qualityScoreRule struct {
	source QualityScoreSource
	min    float64
}

func (r *qualityScoreRule) Name() string { return "min_quality_score" }

func (r *qualityScoreRule) Validate(ctx context.Context, p *Proposal) ([]Violation, error) {
	var out []Violation
	for _, c := range p.Changes {
		if !c.IsIncrease() {
			continue
		}
		qs, found, err := r.source.QualityScore(ctx, c.CampaignID)
		if err != nil {
			return nil, err
		}
		if !found || qs > r.min {
			continue
		}
		out = append(out, Violation{
			Rule:       r.Name(),
			Severity:   ViolationCritical,
			CampaignID: c.CampaignID,
			Message:    fmt.Sprintf("campaign %s quality score %.1f at or below minimum %.1f, budget increase blocked", c.CampaignID, qs, r.min),
			Observed:   qs,
			Limit:      r.min,
		})
	}
	return out, nil
}

// landingPageRule blocks increases when the worst landing page is unhealthy.
type landingPageRule struct {
	source LandingPageHealthSource
	min    float64
}

func (r *landingPageRule) Name() string { return "landing_page_health" }

func (r *landingPageRule) Validate(ctx context.Context, p *Proposal) ([]Violation, error) {
	var out []Violation
	for _, c := range p.Changes {
		if !c.IsIncrease() {
			continue
		}
		health, found, err := r.source.WorstHealth(ctx, c.CampaignID)
		if err != nil {
			return nil, err
		}
		if !found || health >= r.min {
			continue
		}
		out = append(out, Violation{
			Rule:       r.Name(),
			Severity:   ViolationCritical,
			CampaignID: c.CampaignID,
			Message:    fmt.Sprintf("campaign %s worst landing-page health %.2f below minimum %.2f, budget increase blocked", c.CampaignID, health, r.min),
			Observed:   health,
			Limit:      r.min,
		})
	}
	return out, nil
}

// claimsFreshnessRule requires a recent claims validation before increases.
type claimsFreshnessRule struct {
	source     ClaimsSource
	maxAgeDays int
	clock      clock.Clock
}

func (r *claimsFreshnessRule) Name() string { return "claims_freshness" }

func (r *claimsFreshnessRule) Validate(ctx context.Context, p *Proposal) ([]Violation, error) {
	var out []Violation
	for _, c := range p.Changes {
		if !c.IsIncrease() {
			continue
		}
		validated, found, err := r.source.LastValidated(ctx, c.CampaignID)
		if err != nil {
			return nil, err
		}
		maxAge := time.Duration(r.maxAgeDays) * 24 * time.Hour
		if found && r.clock.Now().Sub(validated) <= maxAge {
			continue
		}

		msg := fmt.Sprintf("campaign %s has no claims validation record, budget increase blocked", c.CampaignID)
		age := 0.0
		if found {
			age = r.clock.Now().Sub(validated).Hours() / 24
			msg = fmt.Sprintf("campaign %s claims validation is %.0f days old, maximum is %d", c.CampaignID, age, r.maxAgeDays)
		}
		out = append(out, Violation{
			Rule:       r.Name(),
			Severity:   ViolationCritical,
			CampaignID: c.CampaignID,
			Message:    msg,
			Observed:   age,
			Limit:      float64(r.maxAgeDays),
		})
	}
	return out, nil
}

// DefaultRules builds the five production rules in evaluation order.
func DefaultRules(cfg *config.GuardrailConstraints, qs QualityScoreSource, lp LandingPageHealthSource, claims ClaimsSource, clk clock.Clock) []Rule {
	return []Rule{
		&budgetCapRule{caps: cfg.DailyCaps},
		&maxChangeRule{maxPct: cfg.MaxChangePct},
		&qualityScoreRule{source: qs, min: cfg.MinQualityScore},
		&landingPageRule{source: lp, min: cfg.MinLandingPageHealth},
		&claimsFreshnessRule{source: claims, maxAgeDays: cfg.ClaimsMaxAgeDays, clock: clk},
	}
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
