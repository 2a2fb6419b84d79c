package keywords

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// DataSource identifies where a keyword record originated. Precedence for
// merging is KWP > GSC > ESTIMATED.
type DataSource string

const (
	SourceKWP       DataSource = "KWP"
	SourceGSC       DataSource = "GSC"
	SourceEstimated DataSource = "ESTIMATED"
)

// precedence: lower rank wins.
var precedence = map[DataSource]int{
	SourceKWP:       0,
	SourceGSC:       1,
	SourceEstimated: 2,
}

// Rank returns the merge precedence of s; unknown sources rank last.
func (s DataSource) Rank() int {
	if r, ok := precedence[s]; ok {
		return r
	}
	return len(precedence)
}

// MatchType is the recommended ad-platform match type for a keyword.
type MatchType string

const (
	MatchExact  MatchType = "exact"
	MatchPhrase MatchType = "phrase"
	MatchBroad  MatchType = "broad"
)

// Record is one keyword observation, normalized and scored. Optional
// quantitative fields are pointers so the precedence merger can distinguish
// absent from zero.
type Record struct {
	Keyword       string     `json:"keyword"`
	DataSource    DataSource `json:"data_source"`
	Markets       []string   `json:"markets"`
	PrimaryMarket string     `json:"primary_market"`
	Volume        *int64     `json:"volume,omitempty"`
	CPC           *float64   `json:"cpc,omitempty"`
	Competition   *float64   `json:"competition,omitempty"`
	IntentScore   float64    `json:"intent_score"`
	FinalScore    float64    `json:"final_score"`
	MatchType     MatchType  `json:"recommended_match_type"`
	SERPFeatures  []string   `json:"serp_features,omitempty"`
	Cluster       string     `json:"cluster,omitempty"`
}

// Normalize canonicalizes a raw keyword: NFC, lowercase, collapsed
// whitespace. Merge identity and all scoring operate on this form.
func Normalize(raw string) string {
	s := norm.NFC.String(raw)
	s = strings.ToLower(s)
	return strings.Join(strings.Fields(s), " ")
}

// stopwords are excluded from the word count used by long-tail scoring and
// match-type recommendation.
var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "for": true, "in": true,
	"of": true, "on": true, "or": true, "the": true, "to": true,
	"with": true,
}

// Words returns the significant-token count of the normalized keyword;
// stopwords do not count toward query length.
func Words(keyword string) int {
	n := 0
	for _, tok := range strings.Fields(keyword) {
		if !stopwords[tok] {
			n++
		}
	}
	return n
}

// Key is the merge identity: normalized keyword plus primary market.
func (r *Record) Key() string {
	return Normalize(r.Keyword) + "\x00" + r.PrimaryMarket
}

// VolumeOrZero returns the volume, treating absent as zero.
func (r *Record) VolumeOrZero() int64 {
	if r.Volume == nil {
		return 0
	}
	return *r.Volume
}

// CompetitionOrZero returns the competition, treating absent as zero.
func (r *Record) CompetitionOrZero() float64 {
	if r.Competition == nil {
		return 0
	}
	return *r.Competition
}

// Int64Ptr and Float64Ptr are small helpers for building records.
func Int64Ptr(v int64) *int64       { return &v }
func Float64Ptr(v float64) *float64 { return &v }
