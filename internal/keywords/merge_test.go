package keywords

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "lowercase", in: "WebP To PNG", want: "webp to png"},
		{name: "collapse_whitespace", in: "  webp   to\tpng ", want: "webp to png"},
		{name: "empty", in: "   ", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestWords_ExcludesStopwords(t *testing.T) {
	tests := []struct {
		keyword string
		want    int
	}{
		{"webp to png chrome extension", 4},
		{"color picker", 2},
		{"how to convert webp", 3},
		{"the a an of", 0},
		{"best free image converter", 4},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Words(tt.keyword), "keyword %q", tt.keyword)
	}
}

func TestMerge_PrecedenceScenario(t *testing.T) {
	kwp := []Record{{
		Keyword:       "color picker",
		DataSource:    SourceKWP,
		Markets:       []string{"AU"},
		PrimaryMarket: "AU",
		Volume:        Int64Ptr(1200),
		CPC:           Float64Ptr(0.80),
	}}
	estimated := []Record{{
		Keyword:       "Color Picker",
		DataSource:    SourceEstimated,
		Markets:       []string{"AU"},
		PrimaryMarket: "AU",
		Volume:        Int64Ptr(2000),
		Competition:   Float64Ptr(0.4),
	}}

	result := Merge(kwp, estimated)
	require.Len(t, result.Records, 1)

	merged := result.Records[0]
	assert.Equal(t, SourceKWP, merged.DataSource)
	assert.Equal(t, int64(1200), *merged.Volume, "higher-precedence volume wins")
	assert.Equal(t, 0.80, *merged.CPC)
	require.NotNil(t, merged.Competition, "absent field filled from lower precedence")
	assert.Equal(t, 0.4, *merged.Competition)
	assert.Equal(t, 1, result.DuplicatesResolved)
}

func TestMerge_OrderIndependent(t *testing.T) {
	kwp := []Record{{Keyword: "color picker", DataSource: SourceKWP, Markets: []string{"AU"}, PrimaryMarket: "AU", Volume: Int64Ptr(1200)}}
	est := []Record{{Keyword: "color picker", DataSource: SourceEstimated, Markets: []string{"AU"}, PrimaryMarket: "AU", Volume: Int64Ptr(2000)}}

	a := Merge(kwp, est)
	b := Merge(est, kwp)

	require.Len(t, a.Records, 1)
	require.Len(t, b.Records, 1)
	assert.Equal(t, a.Records[0].DataSource, b.Records[0].DataSource)
	assert.Equal(t, *a.Records[0].Volume, *b.Records[0].Volume)
}

func TestMerge_Idempotent(t *testing.T) {
	input := []Record{
		{Keyword: "webp to png", DataSource: SourceKWP, Markets: []string{"AU", "US"}, PrimaryMarket: "AU", Volume: Int64Ptr(900)},
		{Keyword: "heic to jpg", DataSource: SourceGSC, Markets: []string{"US"}, PrimaryMarket: "US"},
		{Keyword: "webp to png", DataSource: SourceEstimated, Markets: []string{"AU"}, PrimaryMarket: "AU", Competition: Float64Ptr(0.3)},
	}

	once := Merge(input)
	twice := Merge(once.Records)

	require.Equal(t, len(once.Records), len(twice.Records))
	for i := range once.Records {
		assert.Equal(t, once.Records[i].Keyword, twice.Records[i].Keyword)
		assert.Equal(t, once.Records[i].DataSource, twice.Records[i].DataSource)
		assert.Equal(t, once.Records[i].VolumeOrZero(), twice.Records[i].VolumeOrZero())
	}
	assert.Zero(t, twice.DuplicatesResolved)
}

func TestMerge_SortedOutput(t *testing.T) {
	input := []Record{
		{Keyword: "zebra crossing", DataSource: SourceKWP, Markets: []string{"AU"}, PrimaryMarket: "AU"},
		{Keyword: "alpha channel", DataSource: SourceKWP, Markets: []string{"US"}, PrimaryMarket: "US"},
		{Keyword: "alpha channel", DataSource: SourceKWP, Markets: []string{"AU"}, PrimaryMarket: "AU"},
	}

	result := Merge(input)
	require.Len(t, result.Records, 3)
	assert.Equal(t, "alpha channel", result.Records[0].Keyword)
	assert.Equal(t, "AU", result.Records[0].PrimaryMarket)
	assert.Equal(t, "US", result.Records[1].PrimaryMarket)
	assert.Equal(t, "zebra crossing", result.Records[2].Keyword)
}

func TestMerge_MarketsUnioned(t *testing.T) {
	kwp := []Record{{Keyword: "image converter", DataSource: SourceKWP, Markets: []string{"AU"}, PrimaryMarket: "AU"}}
	gsc := []Record{{Keyword: "image converter", DataSource: SourceGSC, Markets: []string{"AU", "GB"}, PrimaryMarket: "AU"}}

	result := Merge(kwp, gsc)
	require.Len(t, result.Records, 1)
	assert.Equal(t, []string{"AU", "GB"}, result.Records[0].Markets)
}
