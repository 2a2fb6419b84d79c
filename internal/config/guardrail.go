package config

import (
	"os"

	"gopkg.in/yaml.v2"

	"github.com/adpilot/adpilot/internal/errs"
)

// GuardrailConstraints parameterize the five pre-commit rules enforced on
// every planned-change proposal.
type GuardrailConstraints struct {
	// DailyCaps is the per-currency total-budget ceiling, e.g. {"AUD": 500}.
	DailyCaps map[string]float64 `yaml:"daily_caps"`
	// MaxChangePct caps the per-campaign budget delta, as a percentage.
	MaxChangePct float64 `yaml:"max_change_pct"`
	// MinQualityScore blocks budget increases below this 30-day
	// impression-weighted quality score.
	MinQualityScore float64 `yaml:"min_quality_score"`
	// MinLandingPageHealth blocks budget increases when the worst landing
	// page health score falls below this threshold.
	MinLandingPageHealth float64 `yaml:"min_landing_page_health"`
	// ClaimsMaxAgeDays is how long a claims validation record stays fresh.
	ClaimsMaxAgeDays int `yaml:"claims_max_age_days"`
}

// DefaultGuardrails returns the production constraint set.
func DefaultGuardrails() *GuardrailConstraints {
	return &GuardrailConstraints{
		DailyCaps: map[string]float64{
			"AUD": 500.0,
			"USD": 350.0,
			"GBP": 275.0,
		},
		MaxChangePct:         25.0,
		MinQualityScore:      3.0,
		MinLandingPageHealth: 0.6,
		ClaimsMaxAgeDays:     30,
	}
}

// LoadGuardrails reads guardrail constraints, merging over defaults.
func LoadGuardrails(path string) (*GuardrailConstraints, error) {
	cfg := DefaultGuardrails()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, errs.Wrap(errs.ConfigInvalid, err, "failed to read guardrail config %s", path)
	}

	var override GuardrailConstraints
	if err := yaml.UnmarshalStrict(data, &override); err != nil {
		return nil, errs.Wrap(errs.ConfigInvalid, err, "failed to parse guardrail YAML %s", path)
	}

	if len(override.DailyCaps) > 0 {
		cfg.DailyCaps = override.DailyCaps
	}
	if override.MaxChangePct > 0 {
		cfg.MaxChangePct = override.MaxChangePct
	}
	if override.MinQualityScore > 0 {
		cfg.MinQualityScore = override.MinQualityScore
	}
	if override.MinLandingPageHealth > 0 {
		cfg.MinLandingPageHealth = override.MinLandingPageHealth
	}
	if override.ClaimsMaxAgeDays > 0 {
		cfg.ClaimsMaxAgeDays = override.ClaimsMaxAgeDays
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks constraint sanity.
func (c *GuardrailConstraints) Validate() error {
	for currency, cap := range c.DailyCaps {
		if cap <= 0 {
			return errs.New(errs.ConfigInvalid, "daily cap for %s must be positive, got %f", currency, cap)
		}
	}
	if c.MaxChangePct <= 0 || c.MaxChangePct > 100 {
		return errs.New(errs.ConfigInvalid, "max_change_pct %f outside (0,100]", c.MaxChangePct)
	}
	if c.MinLandingPageHealth < 0 || c.MinLandingPageHealth > 1 {
		return errs.New(errs.ConfigInvalid, "min_landing_page_health %f outside [0,1]", c.MinLandingPageHealth)
	}
	return nil
}
