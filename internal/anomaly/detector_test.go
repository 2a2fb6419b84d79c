package anomaly

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adpilot/adpilot/internal/clock"
)

func costSpikeRule() Rule {
	return Rule{ID: "cost-spike", Kind: RuleThreshold, Metric: "cost", Type: TypeBudget, BaselinePeriod: 7, Multiplier: 2.0}
}

func feed(d *Detector, clk *clock.Fixed, metric string, values ...float64) {
	for _, v := range values {
		d.Observe(Point{MetricKey: metric, Timestamp: clk.Now(), Value: v})
		clk.Advance(24 * time.Hour)
	}
}

func TestObserve_CostSpike(t *testing.T) {
	clk := clock.NewFixed(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	d := NewDetector([]Rule{costSpikeRule()}, clk, Config{})

	feed(d, clk, "cost", 100, 100, 100, 100, 100, 100, 100)

	out := d.Observe(Point{MetricKey: "cost", Timestamp: clk.Now(), Value: 260})
	require.Len(t, out, 1)

	a := out[0]
	assert.Equal(t, "cost-spike", a.RuleID)
	assert.Equal(t, TypeBudget, a.Type)
	assert.Equal(t, 260.0, a.Observed)
	assert.InDelta(t, 100.0, a.Expected, 1e-9)
	assert.InDelta(t, 200.0, a.Threshold, 1e-9)
	assert.InDelta(t, 160.0, a.Deviation, 1e-9)
	assert.Equal(t, SeverityCritical, a.Severity)
	assert.NotEmpty(t, a.ID)
	assert.NotEmpty(t, a.PossibleCauses)
	assert.NotEmpty(t, a.Recommendations)
}

func TestObserve_BelowThresholdIsQuiet(t *testing.T) {
	clk := clock.NewFixed(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	d := NewDetector([]Rule{costSpikeRule()}, clk, Config{})

	feed(d, clk, "cost", 100, 100, 100, 100, 100, 100, 100)

	// Exactly at threshold does not fire; the rule requires strict excess.
	assert.Empty(t, d.Observe(Point{MetricKey: "cost", Value: 200}))
	assert.Empty(t, d.Observe(Point{MetricKey: "cost", Value: 190}))
}

func TestObserve_InsufficientHistory(t *testing.T) {
	clk := clock.NewFixed(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	d := NewDetector([]Rule{costSpikeRule()}, clk, Config{})

	feed(d, clk, "cost", 100, 100, 100)
	assert.Empty(t, d.Observe(Point{MetricKey: "cost", Value: 900}))
}

func TestObserve_CooldownSuppressesRepeats(t *testing.T) {
	clk := clock.NewFixed(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	d := NewDetector([]Rule{costSpikeRule()}, clk, Config{Cooldown: 30 * time.Minute})

	for i := 0; i < 7; i++ {
		d.Observe(Point{MetricKey: "cost", Value: 100})
	}

	first := d.Observe(Point{MetricKey: "cost", Value: 260})
	require.Len(t, first, 1)

	clk.Advance(5 * time.Minute)
	assert.Empty(t, d.Observe(Point{MetricKey: "cost", Value: 320}), "same severity inside cooldown stays quiet")

	clk.Advance(31 * time.Minute)
	again := d.Observe(Point{MetricKey: "cost", Value: 320})
	assert.Len(t, again, 1, "cooldown expired")
}

func TestObserve_RingCapped(t *testing.T) {
	clk := clock.NewFixed(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	d := NewDetector(nil, clk, Config{RingSize: 10})

	for i := 0; i < 25; i++ {
		d.Observe(Point{MetricKey: "ctr", Value: float64(i)})
	}
	assert.Equal(t, 10, d.SeriesLen("ctr"))
}

func TestObserve_StatisticalOutlier(t *testing.T) {
	clk := clock.NewFixed(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	rule := Rule{ID: "ctr-outlier", Kind: RuleStatistical, Metric: "ctr", Type: TypePerformance, WindowSize: 30, MinimumPoints: 10, ZScore: 3.0}
	d := NewDetector([]Rule{rule}, clk, Config{})

	// Alternate around 5% so the window has nonzero spread.
	for i := 0; i < 12; i++ {
		v := 0.05
		if i%2 == 0 {
			v = 0.051
		}
		d.Observe(Point{MetricKey: "ctr", Value: v})
	}

	out := d.Observe(Point{MetricKey: "ctr", Value: 0.20})
	require.Len(t, out, 1)
	assert.Equal(t, "ctr-outlier", out[0].RuleID)
	assert.GreaterOrEqual(t, out[0].Confidence, 0.5)
	assert.LessOrEqual(t, out[0].Confidence, 0.95)

	assert.Empty(t, d.Observe(Point{MetricKey: "ctr", Value: 0.0505}))
}

func TestObserve_RuleMetricScoping(t *testing.T) {
	clk := clock.NewFixed(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	d := NewDetector([]Rule{costSpikeRule()}, clk, Config{})

	// Same shape on a different metric key never reaches the cost rule.
	for i := 0; i < 7; i++ {
		d.Observe(Point{MetricKey: "impressions", Value: 100})
	}
	assert.Empty(t, d.Observe(Point{MetricKey: "impressions", Value: 900}))
}

func seasonalRule() Rule {
	return Rule{ID: "traffic-seasonal", Kind: RuleSeasonal, Metric: "impressions", Type: TypeTraffic, Period: 24, DeviationPct: 50}
}

// feedDailyCycles writes full 24-hour cycles with a stable hourly shape:
// hour h carries 100 + 10h.
func feedDailyCycles(d *Detector, clk *clock.Fixed, cycles int) {
	for h := 0; h < cycles*24; h++ {
		d.Observe(Point{MetricKey: "impressions", Timestamp: clk.Now(), Value: 100 + 10*float64(h%24)})
		clk.Advance(time.Hour)
	}
}

func TestObserve_SeasonalSpike(t *testing.T) {
	clk := clock.NewFixed(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	d := NewDetector([]Rule{seasonalRule()}, clk, Config{})

	feedDailyCycles(d, clk, 2)

	// Same phase as hour 0, which carried 100 in both prior cycles.
	out := d.Observe(Point{MetricKey: "impressions", Timestamp: clk.Now(), Value: 160})
	require.Len(t, out, 1)

	a := out[0]
	assert.Equal(t, "traffic-seasonal", a.RuleID)
	assert.Equal(t, TypeTraffic, a.Type)
	assert.Equal(t, 160.0, a.Observed)
	assert.InDelta(t, 100.0, a.Expected, 1e-9)
	assert.InDelta(t, 60.0, a.Deviation, 1e-9)
	assert.Equal(t, SeverityMedium, a.Severity)
	assert.InDelta(t, 0.75, a.Confidence, 1e-9)
}

func TestObserve_SeasonalWithinBand(t *testing.T) {
	clk := clock.NewFixed(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	d := NewDetector([]Rule{seasonalRule()}, clk, Config{})

	feedDailyCycles(d, clk, 2)

	// Hour-0 phase, expected 100: 40% off stays inside the band.
	assert.Empty(t, d.Observe(Point{MetricKey: "impressions", Timestamp: clk.Now(), Value: 140}))
	clk.Advance(time.Hour)

	// Hour-1 phase, expected 110: exactly 50% off does not fire; the rule
	// requires strict excess.
	assert.Empty(t, d.Observe(Point{MetricKey: "impressions", Timestamp: clk.Now(), Value: 165}))
}

func TestObserve_SeasonalNeedsFullCycle(t *testing.T) {
	clk := clock.NewFixed(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	d := NewDetector([]Rule{seasonalRule()}, clk, Config{})

	for h := 0; h < 20; h++ {
		d.Observe(Point{MetricKey: "impressions", Timestamp: clk.Now(), Value: 100})
		clk.Advance(time.Hour)
	}
	assert.Empty(t, d.Observe(Point{MetricKey: "impressions", Timestamp: clk.Now(), Value: 900}))
}

func TestSeverityFor(t *testing.T) {
	tests := []struct {
		deviation float64
		want      Severity
	}{
		{10, SeverityLow},
		{49.9, SeverityLow},
		{50, SeverityMedium},
		{99.9, SeverityMedium},
		{100, SeverityHigh},
		{149.9, SeverityHigh},
		{150, SeverityCritical},
		{160, SeverityCritical},
		{-160, SeverityCritical},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, severityFor(tt.deviation), "deviation %.1f", tt.deviation)
	}
}

func TestTrendRule_Inflation(t *testing.T) {
	clk := clock.NewFixed(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	rule := Rule{ID: "cpc-inflation", Kind: RuleTrend, Metric: "cpc", Type: TypeBudget, TrendPeriod: 14, InflationThreshold: 30}
	d := NewDetector([]Rule{rule}, clk, Config{})

	// Steadily rising CPC: 1.00, 1.05, 1.10, ...
	for i := 0; i < 14; i++ {
		d.Observe(Point{MetricKey: "cpc", Value: 1.0 + 0.05*float64(i)})
	}
	out := d.Observe(Point{MetricKey: "cpc", Value: 1.75})
	require.Len(t, out, 1)
	assert.Equal(t, "cpc-inflation", out[0].RuleID)
	assert.Greater(t, out[0].Deviation, 30.0)
}

func TestCausesFor_KeyPrefixes(t *testing.T) {
	assert.NotEmpty(t, causesFor("cost.campaign-42"))
	assert.NotEmpty(t, recommendationsFor("conversions.campaign-42"))
	assert.NotEmpty(t, causesFor("something-unmapped"), "unknown keys fall back to generic guidance")
}
