package approval

import (
	"math"

	"github.com/adpilot/adpilot/internal/config"
)

// GradeSeverity derives the severity of a mutation set from the absolute
// budget delta, structural deletions, and the affected-entity count. The
// highest signal wins.
func GradeSeverity(mutations []Mutation, tiers config.BudgetTiers) Severity {
	severity := SeverityLow

	delta := TotalBudgetDelta(mutations)
	switch {
	case delta >= tiers.Critical:
		severity = SeverityCritical
	case delta >= tiers.High:
		severity = SeverityHigh
	case delta >= tiers.Medium:
		severity = SeverityMedium
	}

	// Structural deletions are at least HIGH regardless of budget size.
	for _, m := range mutations {
		if m.Kind == MutationDelete {
			severity = maxSeverity(severity, SeverityHigh)
			break
		}
	}

	// Wide blast radius bumps the grade one step.
	if countEntities(mutations) > 20 {
		severity = bump(severity)
	}

	return severity
}

// TotalBudgetDelta sums the absolute budget deltas across mutations.
func TotalBudgetDelta(mutations []Mutation) float64 {
	total := 0.0
	for _, m := range mutations {
		total += math.Abs(m.BudgetDelta)
	}
	return total
}

func countEntities(mutations []Mutation) int {
	seen := make(map[string]bool)
	for _, m := range mutations {
		seen[m.EntityType+"|"+m.EntityID] = true
	}
	return len(seen)
}

var severityRank = map[Severity]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

func maxSeverity(a, b Severity) Severity {
	if severityRank[b] > severityRank[a] {
		return b
	}
	return a
}

func bump(s Severity) Severity {
	switch s {
	case SeverityLow:
		return SeverityMedium
	case SeverityMedium:
		return SeverityHigh
	default:
		return SeverityCritical
	}
}
