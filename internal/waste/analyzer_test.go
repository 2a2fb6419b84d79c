package waste

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adpilot/adpilot/internal/errs"
	"github.com/adpilot/adpilot/internal/keywords"
)

func TestAnalyze_Categorization(t *testing.T) {
	a := NewAnalyzer(Config{})

	terms := []SearchTerm{
		// High cost, zero conversions.
		{Term: "photoshop free crack", Campaign: "conv", AdGroup: "ag1", Impressions: 800, Clicks: 40, Cost: 55.0},
		// High impressions, low CTR.
		{Term: "image", Campaign: "conv", AdGroup: "ag1", Impressions: 5000, Clicks: 10, Cost: 4.0, Conversions: 1},
		// Sustained clicks, no conversions, modest cost.
		{Term: "webp viewer", Campaign: "conv", AdGroup: "ag2", Impressions: 400, Clicks: 12, Cost: 6.0},
		// Healthy term.
		{Term: "webp to png converter", Campaign: "conv", AdGroup: "ag1", Impressions: 900, Clicks: 60, Cost: 30.0, Conversions: 9},
	}

	report := a.Analyze(terms)
	assert.Equal(t, 4, report.TotalTerms)
	assert.InDelta(t, 95.0, report.TotalCost, 1e-9)
	assert.InDelta(t, 61.0, report.WastedCost, 1e-9, "low-CTR terms do not add to wasted cost")

	require.Len(t, report.Findings, 3)
	byCategory := map[Category]Finding{}
	for _, f := range report.Findings {
		byCategory[f.Category] = f
	}
	assert.Equal(t, "photoshop free crack", byCategory[HighCostNoConvert].Term.Term)
	assert.Equal(t, "image", byCategory[LowCtrHighImpr].Term.Term)
	assert.Equal(t, "webp viewer", byCategory[PoorQuality].Term.Term)
}

func TestAnalyze_ExactNegatives(t *testing.T) {
	a := NewAnalyzer(Config{})

	report := a.Analyze([]SearchTerm{
		{Term: "Free Photoshop Alternative", Campaign: "conv", AdGroup: "ag1", Impressions: 500, Clicks: 35, Cost: 48.0},
	})

	require.NotEmpty(t, report.Recommendations)
	rec := report.Recommendations[0]
	assert.Equal(t, "free photoshop alternative", rec.Keyword, "negatives use the normalized term")
	assert.Equal(t, keywords.MatchExact, rec.MatchType)
	assert.Equal(t, LevelAdGroup, rec.Level)
	assert.Equal(t, "conv", rec.Campaign)
	assert.Equal(t, "ag1", rec.AdGroup)
	assert.InDelta(t, 48.0, rec.EstimatedSavings, 1e-9)
	assert.InDelta(t, 0.95, rec.Confidence, 1e-9, "30+ clicks without converting")
}

func TestAnalyze_LowClickEvidenceFiltered(t *testing.T) {
	a := NewAnalyzer(Config{})

	// Costly but only 3 clicks: confidence 0.6 sits below the 0.7 floor.
	report := a.Analyze([]SearchTerm{
		{Term: "mystery term", Campaign: "conv", Impressions: 100, Clicks: 3, Cost: 25.0},
	})

	require.Len(t, report.Findings, 1)
	assert.Empty(t, report.Recommendations)
}

func TestAnalyze_NgramPhraseNegatives(t *testing.T) {
	a := NewAnalyzer(Config{})

	report := a.Analyze([]SearchTerm{
		{Term: "photoshop tutorial for beginners", Campaign: "conv", Impressions: 300, Clicks: 20, Cost: 15.0},
		{Term: "gimp tutorial download", Campaign: "conv", Impressions: 300, Clicks: 22, Cost: 12.0},
		{Term: "video editing tutorial", Campaign: "conv", Impressions: 300, Clicks: 25, Cost: 14.0},
	})

	var phrase *Recommendation
	for i := range report.Recommendations {
		r := &report.Recommendations[i]
		if r.MatchType == keywords.MatchPhrase && r.Keyword == "tutorial" {
			phrase = r
		}
	}
	require.NotNil(t, phrase, "shared unigram above count and cost floors becomes a phrase negative")
	assert.Equal(t, LevelCampaign, phrase.Level)
	assert.InDelta(t, 41.0, phrase.EstimatedSavings, 1e-9)
	assert.InDelta(t, 0.8, phrase.Confidence, 1e-9)
}

func TestAnalyze_IndicatorBroadNegatives(t *testing.T) {
	a := NewAnalyzer(Config{})

	report := a.Analyze([]SearchTerm{
		{Term: "photoshop crack download", Campaign: "conv", Impressions: 200, Clicks: 15, Cost: 18.0},
	})

	var broad *Recommendation
	for i := range report.Recommendations {
		r := &report.Recommendations[i]
		if r.MatchType == keywords.MatchBroad {
			broad = r
		}
	}
	require.NotNil(t, broad)
	assert.Equal(t, "crack", broad.Keyword)
	assert.Equal(t, LevelCampaign, broad.Level)
	assert.InDelta(t, 0.95, broad.Confidence, 1e-9)
}

func TestAnalyze_IndicatorWordBoundary(t *testing.T) {
	a := NewAnalyzer(Config{})

	// "hackney" must not trip the "hack" indicator.
	report := a.Analyze([]SearchTerm{
		{Term: "hackney image studio", Campaign: "conv", Impressions: 200, Clicks: 15, Cost: 30.0},
	})

	for _, r := range report.Recommendations {
		assert.NotEqual(t, keywords.MatchBroad, r.MatchType, "unexpected broad negative %q", r.Keyword)
	}
}

func TestAnalyze_RecommendationsSorted(t *testing.T) {
	a := NewAnalyzer(Config{})

	report := a.Analyze([]SearchTerm{
		{Term: "alpha waste", Campaign: "conv", Impressions: 200, Clicks: 35, Cost: 20.0},
		{Term: "beta waste", Campaign: "conv", Impressions: 200, Clicks: 35, Cost: 90.0},
		{Term: "gamma waste", Campaign: "conv", Impressions: 200, Clicks: 35, Cost: 40.0},
	})

	require.GreaterOrEqual(t, len(report.Recommendations), 3)
	for i := 1; i < len(report.Recommendations); i++ {
		prev, cur := report.Recommendations[i-1], report.Recommendations[i]
		if prev.EstimatedSavings == cur.EstimatedSavings {
			assert.LessOrEqual(t, prev.Keyword, cur.Keyword)
		} else {
			assert.Greater(t, prev.EstimatedSavings, cur.EstimatedSavings)
		}
	}
}

func TestParseCSV(t *testing.T) {
	input := `campaign,ad_group,term,impressions,clicks,cost,conversions
conv,ag1,webp to png,1200,60,35.50,4
conv,ag2,photoshop crack,300,20,18.00,0
`
	terms, err := ParseCSV(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, terms, 2)

	assert.Equal(t, "webp to png", terms[0].Term)
	assert.Equal(t, "ag1", terms[0].AdGroup)
	assert.Equal(t, int64(1200), terms[0].Impressions)
	assert.InDelta(t, 35.50, terms[0].Cost, 1e-9)
	assert.Equal(t, int64(4), terms[0].Conversions)
}

func TestParseCSV_Errors(t *testing.T) {
	_, err := ParseCSV(strings.NewReader("campaign,term,clicks,cost,conversions\n"))
	require.Error(t, err)
	assert.Equal(t, errs.ValidationFailed, errs.KindOf(err))
	assert.Contains(t, err.Error(), "impressions")

	_, err = ParseCSV(strings.NewReader("campaign,term,impressions,clicks,cost,conversions\nconv,x,not-a-number,1,2.0,0\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad impressions")
}

func TestSearchTermCTR(t *testing.T) {
	assert.Zero(t, (&SearchTerm{}).CTR())
	assert.InDelta(t, 0.05, (&SearchTerm{Impressions: 1000, Clicks: 50}).CTR(), 1e-12)
}
