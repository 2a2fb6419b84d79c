package experiment

import (
	"fmt"
	"math"
)

// GuardCheck is the outcome of one start-time guard.
type GuardCheck struct {
	Name        string `json:"name"`
	Passed      bool   `json:"passed"`
	Critical    bool   `json:"critical"`
	Description string `json:"description"`
}

// evaluateGuards runs every start guard against the experiment. Critical
// failures block the start; non-critical ones are advisory.
func evaluateGuards(exp *Experiment) []GuardCheck {
	var checks []GuardCheck

	// Structural guards are always critical.
	checks = append(checks, GuardCheck{
		Name:        "guard:variants",
		Passed:      len(exp.Variants) >= 2,
		Critical:    true,
		Description: fmt.Sprintf("%d variants, need at least 2", len(exp.Variants)),
	})

	controls := 0
	for _, v := range exp.Variants {
		if v.IsControl {
			controls++
		}
	}
	checks = append(checks, GuardCheck{
		Name:        "guard:control",
		Passed:      controls == 1,
		Critical:    true,
		Description: fmt.Sprintf("%d control variants, need exactly 1", controls),
	})

	weightSum := 0.0
	for _, v := range exp.Variants {
		weightSum += v.Weight
	}
	checks = append(checks, GuardCheck{
		Name:        "guard:weights",
		Passed:      math.Abs(weightSum-1.0) <= 0.01,
		Critical:    true,
		Description: fmt.Sprintf("variant weights sum to %.3f, need 1.00 +/- 0.01", weightSum),
	})

	g := exp.Guards
	checks = append(checks, GuardCheck{
		Name:        "guard:sample_budget",
		Passed:      exp.MinSampleSize >= g.MinSampleBudget,
		Critical:    true,
		Description: fmt.Sprintf("min sample size %d, guard floor %d", exp.MinSampleSize, g.MinSampleBudget),
	})

	checks = append(checks, GuardCheck{
		Name:        "guard:duration",
		Passed:      g.MinDurationDays >= 1,
		Critical:    false,
		Description: fmt.Sprintf("minimum duration %d days", g.MinDurationDays),
	})

	simOK := true
	worst := 0.0
	for _, v := range exp.Variants {
		if v.IsControl {
			continue
		}
		if v.SimilarityToControl > worst {
			worst = v.SimilarityToControl
		}
		if v.SimilarityToControl > g.MaxSimilarity {
			simOK = false
		}
	}
	checks = append(checks, GuardCheck{
		Name:        "guard:similarity",
		Passed:      simOK,
		Critical:    true,
		Description: fmt.Sprintf("worst similarity to control %.2f, ceiling %.2f", worst, g.MaxSimilarity),
	})

	checks = append(checks, GuardCheck{
		Name:        "guard:spend_ceiling",
		Passed:      g.DailySpendCeiling > 0,
		Critical:    true,
		Description: fmt.Sprintf("daily spend ceiling $%.2f must be positive", g.DailySpendCeiling),
	})

	return checks
}

// firstCriticalFailure returns the first failed critical guard, or nil.
func firstCriticalFailure(checks []GuardCheck) *GuardCheck {
	for i := range checks {
		if checks[i].Critical && !checks[i].Passed {
			return &checks[i]
		}
	}
	return nil
}
