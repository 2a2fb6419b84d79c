package stats

import (
	"math"

	"github.com/adpilot/adpilot/internal/errs"
)

// Proportion is one arm's successes over trials.
type Proportion struct {
	Successes int64 `json:"successes"`
	Trials    int64 `json:"trials"`
}

// Rate returns the observed proportion, 0 for empty arms.
func (p Proportion) Rate() float64 {
	if p.Trials == 0 {
		return 0
	}
	return float64(p.Successes) / float64(p.Trials)
}

// ZTestResult is the two-proportion z-test output.
type ZTestResult struct {
	Z           float64    `json:"z"`
	PValue      float64    `json:"p_value"`
	Lift        float64    `json:"lift"`
	LiftCI      [2]float64 `json:"lift_ci_95"`
	Significant bool       `json:"significant"`
	Alpha       float64    `json:"alpha"`
}

// TwoProportionZTest compares variant against control with an optional
// continuity correction. Degenerate inputs (no trials, or zero successes in
// both arms) return p=1, not significant.
func TwoProportionZTest(control, variant Proportion, alpha float64, continuity bool) (*ZTestResult, error) {
	if alpha <= 0 || alpha >= 1 {
		return nil, errs.New(errs.ValidationFailed, "alpha %f outside (0,1)", alpha)
	}
	res := &ZTestResult{Alpha: alpha, PValue: 1}

	n1, n2 := float64(control.Trials), float64(variant.Trials)
	if n1 == 0 || n2 == 0 {
		return res, nil
	}

	p1, p2 := control.Rate(), variant.Rate()
	res.Lift = p2 - p1

	pooled := float64(control.Successes+variant.Successes) / (n1 + n2)
	if pooled <= 0 || pooled >= 1 {
		// Both arms all-failures or all-successes: no evidence of difference.
		return res, nil
	}

	se := math.Sqrt(pooled * (1 - pooled) * (1/n1 + 1/n2))
	diff := p2 - p1
	if continuity {
		correction := 0.5 * (1/n1 + 1/n2)
		if math.Abs(diff) > correction {
			diff = diff - math.Copysign(correction, diff)
		} else {
			diff = 0
		}
	}

	res.Z = diff / se
	res.PValue = 2 * (1 - NormCDF(math.Abs(res.Z)))
	res.Significant = res.PValue < alpha

	// 95% CI for the lift uses unpooled standard error.
	seLift := math.Sqrt(p1*(1-p1)/n1 + p2*(1-p2)/n2)
	zCrit := InvNorm(0.975)
	res.LiftCI = [2]float64{res.Lift - zCrit*seLift, res.Lift + zCrit*seLift}

	return res, nil
}

// SampleSize returns the per-arm sample size needed to detect an absolute
// lift of mde over baseline p1 at the given alpha and power, via the normal
// approximation.
func SampleSize(p1, mde, alpha, power float64) (int64, error) {
	if mde <= 0 {
		return 0, errs.New(errs.ValidationFailed, "minimum detectable effect must be positive")
	}
	if p1 <= 0 || p1 >= 1 {
		return 0, errs.New(errs.ValidationFailed, "baseline rate %f outside (0,1)", p1)
	}

	p2 := p1 + mde
	if p2 >= 1 {
		p2 = 1 - 1e-9
	}

	zAlpha := InvNorm(1 - alpha/2)
	zBeta := InvNorm(power)

	variance := p1*(1-p1) + p2*(1-p2)
	n := (zAlpha + zBeta) * (zAlpha + zBeta) * variance / (mde * mde)
	return int64(math.Ceil(n)), nil
}

// BonferroniAdjust scales each p-value by the comparison count, capped at 1.
func BonferroniAdjust(pValues []float64) []float64 {
	m := float64(len(pValues))
	out := make([]float64, len(pValues))
	for i, p := range pValues {
		adj := p * m
		if adj > 1 {
			adj = 1
		}
		out[i] = adj
	}
	return out
}
