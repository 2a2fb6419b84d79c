package stats

import (
	"math"
	"math/rand"
	"sort"

	"github.com/adpilot/adpilot/internal/errs"
)

// BayesResult summarizes a Beta/Beta comparison of variant against control.
type BayesResult struct {
	ProbBeatControl  float64    `json:"prob_beat_control"`
	ExpectedLift     float64    `json:"expected_lift"`
	CredibleInterval [2]float64 `json:"credible_interval_95"`
	Samples          int        `json:"samples"`
}

// BayesianAB compares two arms under Beta(1+s, 1+f) posteriors via
// Monte-Carlo sampling on the injected PRNG. samples defaults to 10000.
func BayesianAB(rng *rand.Rand, control, variant Proportion, samples int) (*BayesResult, error) {
	if rng == nil {
		return nil, errs.New(errs.ValidationFailed, "bayesian comparison requires an injected PRNG")
	}
	if samples <= 0 {
		samples = 10000
	}

	cAlpha := 1 + float64(control.Successes)
	cBeta := 1 + float64(control.Trials-control.Successes)
	vAlpha := 1 + float64(variant.Successes)
	vBeta := 1 + float64(variant.Trials-variant.Successes)

	wins := 0
	lifts := make([]float64, samples)
	for i := 0; i < samples; i++ {
		c := betaSample(rng, cAlpha, cBeta)
		v := betaSample(rng, vAlpha, vBeta)
		if v > c {
			wins++
		}
		lifts[i] = v - c
	}

	sum := 0.0
	for _, l := range lifts {
		sum += l
	}
	sort.Float64s(lifts)

	lo := lifts[int(0.025*float64(samples))]
	hi := lifts[int(math.Min(0.975*float64(samples), float64(samples-1)))]

	return &BayesResult{
		ProbBeatControl:  float64(wins) / float64(samples),
		ExpectedLift:     sum / float64(samples),
		CredibleInterval: [2]float64{lo, hi},
		Samples:          samples,
	}, nil
}

// ThompsonAllocation draws from each arm's Beta posterior and returns the
// empirical win frequency per arm as the next allocation weights.
func ThompsonAllocation(rng *rand.Rand, arms []Proportion, draws int) ([]float64, error) {
	if rng == nil {
		return nil, errs.New(errs.ValidationFailed, "thompson allocation requires an injected PRNG")
	}
	if len(arms) < 2 {
		return nil, errs.New(errs.ValidationFailed, "thompson allocation requires at least two arms")
	}
	if draws <= 0 {
		draws = 10000
	}

	wins := make([]int, len(arms))
	for d := 0; d < draws; d++ {
		best := -1
		bestVal := math.Inf(-1)
		for i, arm := range arms {
			alpha := 1 + float64(arm.Successes)
			beta := 1 + float64(arm.Trials-arm.Successes)
			v := betaSample(rng, alpha, beta)
			if v > bestVal {
				bestVal = v
				best = i
			}
		}
		wins[best]++
	}

	alloc := make([]float64, len(arms))
	for i, w := range wins {
		alloc[i] = float64(w) / float64(draws)
	}
	return alloc, nil
}

// betaSample draws from Beta(alpha, beta) via two gamma draws.
func betaSample(rng *rand.Rand, alpha, beta float64) float64 {
	x := gammaSample(rng, alpha)
	y := gammaSample(rng, beta)
	if x+y == 0 {
		return 0.5
	}
	return x / (x + y)
}

// gammaSample draws from Gamma(shape, 1) using Marsaglia-Tsang, with the
// shape<1 boost.
func gammaSample(rng *rand.Rand, shape float64) float64 {
	if shape < 1 {
		u := rng.Float64()
		return gammaSample(rng, shape+1) * math.Pow(u, 1/shape)
	}

	d := shape - 1.0/3.0
	c := 1.0 / math.Sqrt(9.0*d)
	for {
		x := rng.NormFloat64()
		v := 1.0 + c*x
		if v <= 0 {
			continue
		}
		v = v * v * v
		u := rng.Float64()
		if u < 1.0-0.0331*x*x*x*x {
			return d * v
		}
		if math.Log(u) < 0.5*x*x+d*(1.0-v+math.Log(v)) {
			return d * v
		}
	}
}
