package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adpilot/adpilot/internal/config"
	"github.com/adpilot/adpilot/internal/keywords"
)

func defaultScorer() *Scorer {
	return New(config.DefaultScoring())
}

func TestScore_BrowserExtensionKeyword(t *testing.T) {
	s := defaultScorer()

	rec := s.Score(keywords.Record{
		Keyword:      "webp to png chrome extension",
		DataSource:   keywords.SourceKWP,
		Volume:       keywords.Int64Ptr(1000),
		Competition:  keywords.Float64Ptr(0.2),
		SERPFeatures: []string{"featured_snippet"},
	})

	// 0.35*0.3 + 0.25*2.3 + 0.15*0.3 - 0.15*0.2 - 0.10*0.30 - 0.10*0.0
	assert.InDelta(t, 0.665, rec.FinalScore, 1e-9)
	assert.Equal(t, 2.3, rec.IntentScore)
	assert.Equal(t, keywords.MatchExact, rec.MatchType)
}

func TestVolumeTerm_Bounds(t *testing.T) {
	tests := []struct {
		name   string
		volume int64
		want   float64
	}{
		{name: "zero_floors_to_one", volume: 0, want: 0},
		{name: "one", volume: 1, want: 0},
		{name: "thousand", volume: 1000, want: 0.3},
		{name: "ten_billion_saturates", volume: 10_000_000_000, want: 1},
		{name: "above_saturation", volume: 50_000_000_000, want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, volumeTerm(tt.volume), 1e-9)
		})
	}
}

func TestIntentMultiplier_LongestMatchWins(t *testing.T) {
	s := defaultScorer()

	tests := []struct {
		keyword string
		want    float64
	}{
		{"color picker extension", 2.3},
		{"chrome extension for screenshots", 2.3},
		{"webp converter", 2.0},
		{"how to resize images", 1.5},
		{"color picker", 1.0},
		// "online tool" (2.0) is longer than "free" (1.5).
		{"free online tool", 2.0},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, s.intentMultiplier(keywords.Normalize(tt.keyword)), "keyword %q", tt.keyword)
	}
}

func TestIntentMultiplier_WordBoundary(t *testing.T) {
	s := defaultScorer()
	// "appointment" must not match the phrase "app".
	assert.Equal(t, 1.0, s.intentMultiplier("appointment scheduler"))
}

func TestSERPBlockerTerm_DiminishingReturns(t *testing.T) {
	s := defaultScorer()

	assert.Zero(t, s.serpBlockerTerm(nil))
	assert.InDelta(t, 0.30, s.serpBlockerTerm([]string{"featured_snippet"}), 1e-9)

	// ai_overview (0.40) applies first, then featured_snippet:
	// 0.40 + 0.30*(1 - 0.5*0.40) = 0.64
	got := s.serpBlockerTerm([]string{"featured_snippet", "ai_overview"})
	assert.InDelta(t, 0.64, got, 1e-9)

	// Order of the input slice must not matter.
	assert.InDelta(t, got, s.serpBlockerTerm([]string{"ai_overview", "featured_snippet"}), 1e-12)

	// Unknown features contribute nothing.
	assert.InDelta(t, 0.30, s.serpBlockerTerm([]string{"featured_snippet", "weather_widget"}), 1e-9)
}

func TestScore_ClampedToUnitInterval(t *testing.T) {
	s := defaultScorer()

	low := s.Score(keywords.Record{
		Keyword:      "x",
		DataSource:   keywords.SourceEstimated,
		Competition:  keywords.Float64Ptr(1.0),
		SERPFeatures: []string{"ai_overview", "featured_snippet", "local_pack", "shopping_results"},
	})
	assert.GreaterOrEqual(t, low.FinalScore, 0.0)

	high := s.Score(keywords.Record{
		Keyword:    "download free webp converter chrome extension now",
		DataSource: keywords.SourceKWP,
		Volume:     keywords.Int64Ptr(10_000_000_000),
	})
	assert.LessOrEqual(t, high.FinalScore, 1.0)
}

func TestRecommendMatchType(t *testing.T) {
	tests := []struct {
		name        string
		intent      float64
		words       int
		competition float64
		want        keywords.MatchType
	}{
		{name: "high_intent_long_query", intent: 2.3, words: 4, competition: 0.5, want: keywords.MatchExact},
		{name: "high_intent_short_query", intent: 2.0, words: 2, competition: 0.5, want: keywords.MatchPhrase},
		{name: "mid_intent", intent: 1.5, words: 1, competition: 0.5, want: keywords.MatchPhrase},
		{name: "two_words_low_intent", intent: 1.0, words: 2, competition: 0.9, want: keywords.MatchPhrase},
		{name: "single_word_low_competition", intent: 1.0, words: 1, competition: 0.3, want: keywords.MatchBroad},
		{name: "single_word_high_competition", intent: 1.0, words: 1, competition: 0.8, want: keywords.MatchPhrase},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, recommendMatchType(tt.intent, tt.words, tt.competition))
		})
	}
}

func TestScoreAll_DeterministicOrdering(t *testing.T) {
	s := defaultScorer()
	input := []keywords.Record{
		{Keyword: "png to webp", DataSource: keywords.SourceKWP, PrimaryMarket: "US", Volume: keywords.Int64Ptr(500)},
		{Keyword: "webp converter", DataSource: keywords.SourceKWP, PrimaryMarket: "AU", Volume: keywords.Int64Ptr(5000)},
		{Keyword: "png to webp", DataSource: keywords.SourceKWP, PrimaryMarket: "AU", Volume: keywords.Int64Ptr(500)},
	}

	a := s.ScoreAll(input)
	b := s.ScoreAll(input)
	require.Equal(t, a, b)

	// Equal scores break ties by keyword then market.
	assert.Equal(t, "webp converter", a[0].Keyword)
	assert.Equal(t, "AU", a[1].PrimaryMarket)
	assert.Equal(t, "US", a[2].PrimaryMarket)
}
