package experiment

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adpilot/adpilot/internal/clock"
	"github.com/adpilot/adpilot/internal/errs"
	"github.com/adpilot/adpilot/internal/stats"
)

func testEngine(t *testing.T) (*Engine, *MemoryRepository, *clock.Fixed) {
	t.Helper()
	clk := clock.NewFixed(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	repo := NewMemoryRepository()
	return NewEngine(repo, clk, clock.NewRand(42)), repo, clk
}

func twoArmVariants() []Variant {
	return []Variant{
		{ID: "control", Name: "control", IsControl: true, Weight: 0.5},
		{ID: "v1", Name: "shorter headline", Weight: 0.5, SimilarityToControl: 0.4},
	}
}

func createActive(t *testing.T, eng *Engine) *Experiment {
	t.Helper()
	exp, err := eng.Create(context.Background(), CreateParams{
		Type:            TypeRSA,
		Product:         "pixelconvert",
		TargetID:        "ag-123",
		TargetMetric:    MetricCTR,
		Variants:        twoArmVariants(),
		MinSampleSize:   1000,
		ConfidenceLevel: 0.95,
		Actor:           "tester",
	})
	require.NoError(t, err)
	started, err := eng.Start(context.Background(), exp.ID, "tester")
	require.NoError(t, err)
	return started
}

func TestCreate_DraftAllowsEmptyVariants(t *testing.T) {
	eng, _, _ := testEngine(t)

	exp, err := eng.Create(context.Background(), CreateParams{
		Type:            TypeRSA,
		Product:         "pixelconvert",
		TargetMetric:    MetricCTR,
		MinSampleSize:   1000,
		ConfidenceLevel: 0.95,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusDraft, exp.Status)
	assert.Empty(t, exp.Variants)
	assert.NotEmpty(t, exp.ID)
}

func TestCreate_Validation(t *testing.T) {
	eng, _, _ := testEngine(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*CreateParams)
	}{
		{name: "unknown_type", mutate: func(p *CreateParams) { p.Type = "multivariate" }},
		{name: "unknown_metric", mutate: func(p *CreateParams) { p.TargetMetric = "roas" }},
		{name: "missing_product", mutate: func(p *CreateParams) { p.Product = "" }},
		{name: "confidence_zero", mutate: func(p *CreateParams) { p.ConfidenceLevel = 0 }},
		{name: "confidence_one", mutate: func(p *CreateParams) { p.ConfidenceLevel = 1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := CreateParams{
				Type: TypeRSA, Product: "pixelconvert", TargetMetric: MetricCTR,
				MinSampleSize: 1000, ConfidenceLevel: 0.95,
			}
			tt.mutate(&p)
			_, err := eng.Create(ctx, p)
			require.Error(t, err)
			assert.Equal(t, errs.ValidationFailed, errs.KindOf(err))
		})
	}
}

func TestStart_GuardFailures(t *testing.T) {
	eng, _, _ := testEngine(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		variants []Variant
		guard    string
	}{
		{name: "too_few_variants", variants: []Variant{{ID: "c", IsControl: true, Weight: 1}}, guard: "guard:variants"},
		{name: "no_control", variants: []Variant{
			{ID: "a", Weight: 0.5}, {ID: "b", Weight: 0.5},
		}, guard: "guard:control"},
		{name: "weights_off", variants: []Variant{
			{ID: "c", IsControl: true, Weight: 0.5}, {ID: "v", Weight: 0.4},
		}, guard: "guard:weights"},
		{name: "too_similar", variants: []Variant{
			{ID: "c", IsControl: true, Weight: 0.5},
			{ID: "v", Weight: 0.5, SimilarityToControl: 0.95},
		}, guard: "guard:similarity"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exp, err := eng.Create(ctx, CreateParams{
				Type: TypeRSA, Product: "pixelconvert", TargetMetric: MetricCTR,
				Variants: tt.variants, MinSampleSize: 1000, ConfidenceLevel: 0.95,
			})
			require.NoError(t, err)

			_, err = eng.Start(ctx, exp.ID, "tester")
			require.Error(t, err)
			assert.Equal(t, errs.GuardrailViolation, errs.KindOf(err))
			assert.Contains(t, err.Error(), tt.guard)
		})
	}
}

func TestLifecycle_HappyPath(t *testing.T) {
	eng, _, _ := testEngine(t)
	ctx := context.Background()

	exp := createActive(t, eng)
	assert.Equal(t, StatusActive, exp.Status)
	require.NotNil(t, exp.StartAt)

	paused, err := eng.Pause(ctx, exp.ID, "tester")
	require.NoError(t, err)
	assert.Equal(t, StatusPaused, paused.Status)

	resumed, err := eng.Resume(ctx, exp.ID, "tester")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, resumed.Status)

	done, err := eng.Complete(ctx, exp.ID, "shorter headline", "tester")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)
	assert.Equal(t, "v1", done.WinnerVariantID)
	require.NotNil(t, done.EndAt)
}

func TestLifecycle_InvalidTransitions(t *testing.T) {
	eng, _, _ := testEngine(t)
	ctx := context.Background()

	exp := createActive(t, eng)
	_, err := eng.Pause(ctx, exp.ID, "tester")
	require.NoError(t, err)

	// paused -> completed is not a legal move.
	_, err = eng.Complete(ctx, exp.ID, "v1", "tester")
	require.Error(t, err)
	assert.Equal(t, errs.StateConflict, errs.KindOf(err))
	assert.Contains(t, err.Error(), "transition:paused->completed")

	_, err = eng.Abort(ctx, exp.ID, "tester")
	require.NoError(t, err)

	// Terminal states admit nothing.
	_, err = eng.Resume(ctx, exp.ID, "tester")
	require.Error(t, err)
	assert.Equal(t, errs.StateConflict, errs.KindOf(err))
}

func TestComplete_ControlKeyword(t *testing.T) {
	eng, _, _ := testEngine(t)

	exp := createActive(t, eng)
	done, err := eng.Complete(context.Background(), exp.ID, WinnerControl, "tester")
	require.NoError(t, err)
	assert.Equal(t, "control", done.WinnerVariantID)
}

func TestComplete_UnknownWinner(t *testing.T) {
	eng, _, _ := testEngine(t)

	exp := createActive(t, eng)
	_, err := eng.Complete(context.Background(), exp.ID, "nope", "tester")
	require.Error(t, err)
	assert.Equal(t, errs.ValidationFailed, errs.KindOf(err))
}

func TestRecordMetrics_Idempotent(t *testing.T) {
	eng, repo, _ := testEngine(t)
	ctx := context.Background()
	exp := createActive(t, eng)

	point := MetricPoint{
		ExperimentID: exp.ID, VariantID: "v1", Date: "2026-03-02",
		Impressions: 1000, Clicks: 70,
	}
	require.NoError(t, eng.RecordMetrics(ctx, point))
	require.NoError(t, eng.RecordMetrics(ctx, point))

	points, err := repo.ListMetrics(ctx, exp.ID)
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, int64(70), points[0].Clicks)
}

func TestRecordMetrics_Validation(t *testing.T) {
	eng, _, _ := testEngine(t)
	ctx := context.Background()
	exp := createActive(t, eng)

	err := eng.RecordMetrics(ctx, MetricPoint{ExperimentID: exp.ID, VariantID: "ghost", Date: "2026-03-02"})
	require.Error(t, err)
	assert.Equal(t, errs.ValidationFailed, errs.KindOf(err))

	err = eng.RecordMetrics(ctx, MetricPoint{ExperimentID: exp.ID, VariantID: "v1"})
	require.Error(t, err)
	assert.Equal(t, errs.ValidationFailed, errs.KindOf(err))

	_, err = eng.Abort(ctx, exp.ID, "tester")
	require.NoError(t, err)
	err = eng.RecordMetrics(ctx, MetricPoint{ExperimentID: exp.ID, VariantID: "v1", Date: "2026-03-02"})
	require.Error(t, err)
	assert.Equal(t, errs.StateConflict, errs.KindOf(err))
}

func TestAnalyze_InsufficientDataContinues(t *testing.T) {
	eng, _, _ := testEngine(t)
	ctx := context.Background()
	exp := createActive(t, eng)

	require.NoError(t, eng.RecordMetrics(ctx, MetricPoint{
		ExperimentID: exp.ID, VariantID: "control", Date: "2026-03-02",
		Impressions: 50, Clicks: 3,
	}))

	analysis, err := eng.Analyze(ctx, exp.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, stats.DecisionContinue, analysis.Decision)
	assert.Contains(t, analysis.Recommendation, "collect more data")
}

func TestAnalyze_StrongVariantStops(t *testing.T) {
	eng, _, _ := testEngine(t)
	ctx := context.Background()
	exp := createActive(t, eng)

	require.NoError(t, eng.RecordMetrics(ctx, MetricPoint{
		ExperimentID: exp.ID, VariantID: "control", Date: "2026-03-02",
		Impressions: 10000, Clicks: 300,
	}))
	require.NoError(t, eng.RecordMetrics(ctx, MetricPoint{
		ExperimentID: exp.ID, VariantID: "v1", Date: "2026-03-02",
		Impressions: 10000, Clicks: 600,
	}))

	analysis, err := eng.Analyze(ctx, exp.ID, 5)
	require.NoError(t, err)
	assert.Equal(t, stats.DecisionStopSuccess, analysis.Decision)

	require.Len(t, analysis.Variants, 2)
	v1 := analysis.Variants[1]
	require.NotNil(t, v1.ZTest)
	assert.True(t, v1.ZTest.Significant)
	require.NotNil(t, v1.Bayes)
	assert.Greater(t, v1.Bayes.ProbBeatControl, 0.99)
	require.Len(t, analysis.Allocation, 2)
	assert.Greater(t, analysis.Allocation[1], analysis.Allocation[0])
}

func TestAnalyze_AggregatesAcrossDays(t *testing.T) {
	eng, _, _ := testEngine(t)
	ctx := context.Background()
	exp := createActive(t, eng)

	for _, date := range []string{"2026-03-02", "2026-03-03"} {
		require.NoError(t, eng.RecordMetrics(ctx, MetricPoint{
			ExperimentID: exp.ID, VariantID: "control", Date: date,
			Impressions: 500, Clicks: 25,
		}))
	}

	analysis, err := eng.Analyze(ctx, exp.ID, 1)
	require.NoError(t, err)
	ctrl := analysis.Variants[0]
	assert.Equal(t, int64(1000), ctrl.Impressions)
	assert.Equal(t, int64(50), ctrl.Clicks)
	assert.InDelta(t, 0.05, ctrl.Rate, 1e-12)
}

func TestAuditTrail_RecordsTransitions(t *testing.T) {
	eng, _, _ := testEngine(t)
	ctx := context.Background()
	exp := createActive(t, eng)

	_, err := eng.Complete(ctx, exp.ID, "v1", "tester")
	require.NoError(t, err)

	trail, err := eng.AuditTrail(ctx, exp.ID)
	require.NoError(t, err)
	require.Len(t, trail, 3)
	assert.Equal(t, "create", trail[0].Action)
	assert.Equal(t, "start", trail[1].Action)
	assert.Equal(t, "complete", trail[2].Action)
	assert.Equal(t, StatusActive, trail[2].FromStatus)
	assert.Equal(t, StatusCompleted, trail[2].ToStatus)
}
