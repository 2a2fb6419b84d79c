package anomaly

import (
	"fmt"
	"math"
)

// RuleKind selects the detection family.
type RuleKind string

const (
	RuleThreshold   RuleKind = "THRESHOLD"
	RuleStatistical RuleKind = "STATISTICAL"
	RuleTrend       RuleKind = "TREND"
	RuleSeasonal    RuleKind = "SEASONAL"
)

// AnomalyType buckets anomalies for routing.
type AnomalyType string

const (
	TypePerformance AnomalyType = "PERFORMANCE"
	TypeBudget      AnomalyType = "BUDGET"
	TypeTraffic     AnomalyType = "TRAFFIC"
	TypeConversion  AnomalyType = "CONVERSION"
	TypeQuality     AnomalyType = "QUALITY"
	TypeSecurity    AnomalyType = "SECURITY"
)

// Severity grades an anomaly.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Rule is one enabled detection rule. Metric matches the metric key the rule
// applies to; empty matches every key.
type Rule struct {
	ID     string      `yaml:"id" json:"id"`
	Kind   RuleKind    `yaml:"kind" json:"kind"`
	Metric string      `yaml:"metric" json:"metric"`
	Type   AnomalyType `yaml:"type" json:"type"`

	// THRESHOLD: flag when value > mean(last BaselinePeriod) * Multiplier.
	BaselinePeriod int     `yaml:"baseline_period,omitempty" json:"baseline_period,omitempty"`
	Multiplier     float64 `yaml:"multiplier,omitempty" json:"multiplier,omitempty"`

	// STATISTICAL: flag when |value-mean|/stddev >= ZScore over WindowSize,
	// requiring at least MinimumPoints.
	WindowSize    int     `yaml:"window_size,omitempty" json:"window_size,omitempty"`
	MinimumPoints int     `yaml:"minimum_points,omitempty" json:"minimum_points,omitempty"`
	ZScore        float64 `yaml:"z_score,omitempty" json:"z_score,omitempty"`

	// TREND: flag when pct change over TrendPeriod exceeds
	// InflationThreshold upward or MinimumDecline downward (both percent).
	TrendPeriod        int     `yaml:"trend_period,omitempty" json:"trend_period,omitempty"`
	InflationThreshold float64 `yaml:"inflation_threshold,omitempty" json:"inflation_threshold,omitempty"`
	MinimumDecline     float64 `yaml:"minimum_decline,omitempty" json:"minimum_decline,omitempty"`

	// SEASONAL: compare against same-phase points of prior cycles of
	// Period length; flag when relative deviation exceeds DeviationPct.
	Period       int     `yaml:"period,omitempty" json:"period,omitempty"`
	DeviationPct float64 `yaml:"deviation_pct,omitempty" json:"deviation_pct,omitempty"`
}

// matches reports whether the rule applies to the given metric key.
func (r *Rule) matches(metricKey string) bool {
	return r.Metric == "" || r.Metric == metricKey
}

// evaluation is the internal result of applying one rule to one point.
type evaluation struct {
	flagged    bool
	observed   float64
	expected   float64
	threshold  float64
	deviation  float64 // percent
	confidence float64
}

func (r *Rule) evaluate(history []Point, value float64) evaluation {
	switch r.Kind {
	case RuleThreshold:
		return r.evalThreshold(history, value)
	case RuleStatistical:
		return r.evalStatistical(history, value)
	case RuleTrend:
		return r.evalTrend(history, value)
	case RuleSeasonal:
		return r.evalSeasonal(history, value)
	}
	return evaluation{}
}

func (r *Rule) evalThreshold(history []Point, value float64) evaluation {
	period := r.BaselinePeriod
	if period <= 0 {
		period = 7
	}
	if len(history) < period {
		return evaluation{}
	}

	baseline := mean(tail(history, period))
	if baseline <= 0 {
		return evaluation{}
	}

	threshold := baseline * r.Multiplier
	deviation := (value - baseline) / baseline * 100

	return evaluation{
		flagged:    value > threshold,
		observed:   value,
		expected:   baseline,
		threshold:  threshold,
		deviation:  deviation,
		confidence: 0.9,
	}
}

func (r *Rule) evalStatistical(history []Point, value float64) evaluation {
	window := r.WindowSize
	if window <= 0 {
		window = 30
	}
	minPoints := r.MinimumPoints
	if minPoints <= 0 {
		minPoints = 10
	}
	if len(history) < minPoints {
		return evaluation{}
	}

	pts := tail(history, window)
	m := mean(pts)
	sd := stddev(pts, m)
	if sd == 0 {
		return evaluation{}
	}

	z := math.Abs(value-m) / sd
	deviation := 0.0
	if m != 0 {
		deviation = (value - m) / m * 100
	}

	return evaluation{
		flagged:    z >= r.ZScore,
		observed:   value,
		expected:   m,
		threshold:  m + r.ZScore*sd,
		deviation:  deviation,
		confidence: clamp(0.5+z/10, 0, 0.95),
	}
}

func (r *Rule) evalTrend(history []Point, value float64) evaluation {
	period := r.TrendPeriod
	if period <= 0 {
		period = 14
	}
	if len(history) < period {
		return evaluation{}
	}

	pts := append(tail(history, period), Point{Value: value})
	slope := fitSlope(pts)
	first := pts[0].Value
	if first == 0 {
		return evaluation{}
	}

	pctChange := slope * float64(len(pts)-1) / first * 100

	flagged := false
	threshold := 0.0
	if r.InflationThreshold > 0 && pctChange >= r.InflationThreshold {
		flagged = true
		threshold = r.InflationThreshold
	}
	if r.MinimumDecline > 0 && pctChange <= -r.MinimumDecline {
		flagged = true
		threshold = -r.MinimumDecline
	}

	return evaluation{
		flagged:    flagged,
		observed:   value,
		expected:   first,
		threshold:  threshold,
		deviation:  pctChange,
		confidence: 0.8,
	}
}

func (r *Rule) evalSeasonal(history []Point, value float64) evaluation {
	period := r.Period
	if period <= 0 {
		period = 168
	}
	if len(history) < period {
		return evaluation{}
	}

	// Same-phase points from prior cycles, walking backwards one period at
	// a time from the incoming point's slot.
	var phase []float64
	for i := len(history) - period; i >= 0; i -= period {
		phase = append(phase, history[i].Value)
	}
	if len(phase) == 0 {
		return evaluation{}
	}

	sum := 0.0
	for _, v := range phase {
		sum += v
	}
	expected := sum / float64(len(phase))
	if expected == 0 {
		return evaluation{}
	}

	deviation := (value - expected) / expected * 100

	return evaluation{
		flagged:    math.Abs(deviation) > r.DeviationPct,
		observed:   value,
		expected:   expected,
		threshold:  r.DeviationPct,
		deviation:  deviation,
		confidence: 0.75,
	}
}

// severityFor grades by absolute percent deviation.
func severityFor(deviationPct float64) Severity {
	d := math.Abs(deviationPct)
	switch {
	case d >= 150:
		return SeverityCritical
	case d >= 100:
		return SeverityHigh
	case d >= 50:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

func tail(pts []Point, n int) []Point {
	if len(pts) <= n {
		return pts
	}
	return pts[len(pts)-n:]
}

func mean(pts []Point) float64 {
	if len(pts) == 0 {
		return 0
	}
	sum := 0.0
	for _, p := range pts {
		sum += p.Value
	}
	return sum / float64(len(pts))
}

func stddev(pts []Point, m float64) float64 {
	if len(pts) < 2 {
		return 0
	}
	sum := 0.0
	for _, p := range pts {
		d := p.Value - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(pts)-1))
}

// fitSlope is least-squares slope over index positions.
func fitSlope(pts []Point) float64 {
	n := float64(len(pts))
	if n < 2 {
		return 0
	}
	var sumX, sumY, sumXY, sumXX float64
	for i, p := range pts {
		x := float64(i)
		sumX += x
		sumY += p.Value
		sumXY += x * p.Value
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denom
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// DefaultRules returns the production rule set.
func DefaultRules() []Rule {
	return []Rule{
		{ID: "cost-spike", Kind: RuleThreshold, Metric: "cost", Type: TypeBudget, BaselinePeriod: 7, Multiplier: 2.0},
		{ID: "ctr-outlier", Kind: RuleStatistical, Metric: "ctr", Type: TypePerformance, WindowSize: 30, MinimumPoints: 10, ZScore: 3.0},
		{ID: "cpc-inflation", Kind: RuleTrend, Metric: "cpc", Type: TypeBudget, TrendPeriod: 14, InflationThreshold: 30},
		{ID: "conversion-drop", Kind: RuleTrend, Metric: "conversions", Type: TypeConversion, TrendPeriod: 14, MinimumDecline: 40},
		{ID: "traffic-seasonal", Kind: RuleSeasonal, Metric: "impressions", Type: TypeTraffic, Period: 168, DeviationPct: 50},
	}
}

// String implements fmt.Stringer for log lines.
func (r *Rule) String() string {
	return fmt.Sprintf("%s(%s on %s)", r.ID, r.Kind, r.Metric)
}
