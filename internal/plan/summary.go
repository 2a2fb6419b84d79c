package plan

import (
	"strconv"

	"github.com/adpilot/adpilot/internal/keywords"
)

// Canonical numeric types: artifacts round scores to 3 decimals, money to 2,
// rates to 4, so identical runs emit byte-identical JSON.

// Score is a [0,1] score serialized at 3 decimal places.
type Score float64

func (s Score) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatFloat(float64(s), 'f', 3, 64)), nil
}

// Money is a currency amount serialized at 2 decimal places.
type Money float64

func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatFloat(float64(m), 'f', 2, 64)), nil
}

// Rate is a ratio serialized at 4 decimal places.
type Rate float64

func (r Rate) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatFloat(float64(r), 'f', 4, 64)), nil
}

// Opportunity is one top-scoring keyword surfaced in the summary.
type Opportunity struct {
	Keyword   string              `json:"keyword"`
	Market    string              `json:"market"`
	Score     Score               `json:"score"`
	Volume    int64               `json:"volume"`
	MatchType keywords.MatchType  `json:"match_type"`
	Cluster   string              `json:"cluster"`
}

// Summary is the per-run plan summary persisted as summary.json.
type Summary struct {
	Product          string         `json:"product"`
	Date             string         `json:"date"`
	Markets          []string       `json:"markets"`
	TotalKeywords    int            `json:"total_keywords"`
	TotalAdGroups    int            `json:"total_ad_groups"`
	SERPCallsUsed    int64          `json:"serp_calls_used"`
	CacheHitRate     Rate           `json:"cache_hit_rate"`
	DataSourceCounts map[string]int `json:"data_source_counts"`
	TopOpportunities []Opportunity  `json:"top_opportunities"`
	GenerationTimeMs int64          `json:"generation_time_ms"`
	Warnings         []string       `json:"warnings"`
}
