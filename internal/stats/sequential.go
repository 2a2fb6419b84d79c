package stats

import (
	"math"

	"github.com/adpilot/adpilot/internal/errs"
)

// Decision is the sequential-testing outcome at a peek.
type Decision string

const (
	DecisionContinue     Decision = "continue"
	DecisionStopSuccess  Decision = "stop_success"
	DecisionStopFutility Decision = "stop_futility"
)

// SequentialConfig parameterizes O'Brien-Fleming-style early stopping.
type SequentialConfig struct {
	// Alpha is the overall two-sided significance level.
	Alpha float64
	// Peeks is the planned number of interim looks.
	Peeks int
	// FutilityFloor stops the test when the probability of reaching
	// significance at full sample falls below it.
	FutilityFloor float64
}

// DefaultSequentialConfig returns five planned peeks at alpha 0.05 with a
// 10% futility floor.
func DefaultSequentialConfig() SequentialConfig {
	return SequentialConfig{Alpha: 0.05, Peeks: 5, FutilityFloor: 0.10}
}

// OBrienFlemingBoundary returns the z boundary at peek k of totalPeeks:
// z_final * sqrt(K/k), so early looks demand much stronger evidence.
func OBrienFlemingBoundary(alpha float64, k, totalPeeks int) float64 {
	zFinal := InvNorm(1 - alpha/2)
	return zFinal * math.Sqrt(float64(totalPeeks)/float64(k))
}

// SequentialResult carries the decision and its supporting numbers.
type SequentialResult struct {
	Decision          Decision `json:"decision"`
	Peek              int      `json:"peek"`
	Boundary          float64  `json:"boundary"`
	ObservedZ         float64  `json:"observed_z"`
	ConditionalPower  float64  `json:"conditional_power"`
	InformationFrac   float64  `json:"information_fraction"`
}

// SequentialDecision evaluates the observed z statistic at peek k.
// Insufficient evidence with remaining information continues; crossing the
// boundary stops for success; conditional power below the futility floor
// stops for futility.
func SequentialDecision(cfg SequentialConfig, observedZ float64, peek int) (*SequentialResult, error) {
	if peek < 1 || peek > cfg.Peeks {
		return nil, errs.New(errs.ValidationFailed, "peek %d outside [1,%d]", peek, cfg.Peeks)
	}

	boundary := OBrienFlemingBoundary(cfg.Alpha, peek, cfg.Peeks)
	frac := float64(peek) / float64(cfg.Peeks)

	res := &SequentialResult{
		Peek:            peek,
		Boundary:        boundary,
		ObservedZ:       observedZ,
		InformationFrac: frac,
	}

	if math.Abs(observedZ) >= boundary {
		res.Decision = DecisionStopSuccess
		res.ConditionalPower = 1
		return res, nil
	}

	// Conditional power under the current-trend assumption: project the
	// observed drift to full information and ask how likely the final z is
	// to clear the final boundary.
	if peek == cfg.Peeks {
		res.Decision = DecisionStopFutility
		if math.Abs(observedZ) >= InvNorm(1-cfg.Alpha/2) {
			res.Decision = DecisionStopSuccess
			res.ConditionalPower = 1
		}
		return res, nil
	}

	zFinal := InvNorm(1 - cfg.Alpha/2)
	projected := observedZ / math.Sqrt(frac)
	remaining := 1 - frac

	mean := observedZ*math.Sqrt(frac) + projected*remaining
	sd := math.Sqrt(remaining)
	res.ConditionalPower = 1 - NormCDF((zFinal-mean)/sd)

	if res.ConditionalPower < cfg.FutilityFloor {
		res.Decision = DecisionStopFutility
	} else {
		res.Decision = DecisionContinue
	}
	return res, nil
}
