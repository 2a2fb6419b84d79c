package scoring

import (
	"math"
	"sort"
	"strings"

	"github.com/adpilot/adpilot/internal/config"
	"github.com/adpilot/adpilot/internal/keywords"
)

// Scorer computes the weighted multi-factor final score for keyword records.
// Scoring is pure CPU work: identical inputs and weights produce identical
// outputs, including sort order.
type Scorer struct {
	cfg *config.ScoringConfig
	// serpOrder fixes the iteration order of the diminishing-returns sum:
	// weight desc, then feature name asc.
	serpOrder []string
}

// New creates a scorer from the given configuration.
func New(cfg *config.ScoringConfig) *Scorer {
	order := make([]string, 0, len(cfg.SERPWeights))
	for f := range cfg.SERPWeights {
		order = append(order, f)
	}
	sort.Slice(order, func(i, j int) bool {
		wi, wj := cfg.SERPWeights[order[i]], cfg.SERPWeights[order[j]]
		if wi != wj {
			return wi > wj
		}
		return order[i] < order[j]
	})
	return &Scorer{cfg: cfg, serpOrder: order}
}

// Score computes intent, final score, and match-type recommendation for one
// record, returning the updated copy.
func (s *Scorer) Score(rec keywords.Record) keywords.Record {
	rec.Keyword = keywords.Normalize(rec.Keyword)
	words := keywords.Words(rec.Keyword)

	v := volumeTerm(rec.VolumeOrZero())
	i := s.intentMultiplier(rec.Keyword)
	l := longTailTerm(words)
	c := rec.CompetitionOrZero()
	serp := s.serpBlockerTerm(rec.SERPFeatures)
	p := s.cfg.SourcePenalty[string(rec.DataSource)]

	w := s.cfg.Weights
	raw := w.Volume*v + w.Intent*i + w.LongTail*l - w.Competition*c - w.SERP*serp - w.Source*p

	rec.IntentScore = i
	rec.FinalScore = clamp01(raw)
	rec.MatchType = recommendMatchType(i, words, c)
	return rec
}

// ScoreAll scores every record and sorts the result by final score desc,
// keyword asc, market asc.
func (s *Scorer) ScoreAll(recs []keywords.Record) []keywords.Record {
	out := make([]keywords.Record, len(recs))
	for idx, rec := range recs {
		out[idx] = s.Score(rec)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.FinalScore != b.FinalScore {
			return a.FinalScore > b.FinalScore
		}
		if a.Keyword != b.Keyword {
			return a.Keyword < b.Keyword
		}
		return a.PrimaryMarket < b.PrimaryMarket
	})
	return out
}

// volumeTerm maps search volume onto [0,1] on a log10 scale; 10^10 saturates.
func volumeTerm(volume int64) float64 {
	if volume < 1 {
		volume = 1
	}
	return clamp01(math.Log10(float64(volume)) / 10.0)
}

// intentMultiplier assigns the multiplier of the longest matching phrase
// across the ranked dictionaries. No match falls through to 1.0.
func (s *Scorer) intentMultiplier(keyword string) float64 {
	best := 1.0
	bestLen := 0
	for _, tier := range s.cfg.IntentTiers {
		for _, phrase := range tier.Phrases {
			if len(phrase) > bestLen && containsPhrase(keyword, phrase) {
				best = tier.Multiplier
				bestLen = len(phrase)
			}
		}
	}
	return best
}

// containsPhrase matches phrase on word boundaries within keyword.
func containsPhrase(keyword, phrase string) bool {
	padded := " " + keyword + " "
	return strings.Contains(padded, " "+phrase+" ")
}

// longTailTerm rewards longer queries: 0.2 at 3 words, 0.3 at 4, 0.4 at 5+.
func longTailTerm(words int) float64 {
	switch {
	case words >= 5:
		return 0.4
	case words == 4:
		return 0.3
	case words == 3:
		return 0.2
	default:
		return 0
	}
}

// serpBlockerTerm sums feature weights with diminishing returns,
// s <- s + f*(1 - 0.5*s), capped at 1.
func (s *Scorer) serpBlockerTerm(features []string) float64 {
	present := make(map[string]bool, len(features))
	for _, f := range features {
		present[strings.ToLower(f)] = true
	}

	sum := 0.0
	for _, feature := range s.serpOrder {
		if !present[feature] {
			continue
		}
		f := s.cfg.SERPWeights[feature]
		sum += f * (1 - 0.5*sum)
		if sum >= 1 {
			return 1
		}
	}
	return sum
}

// recommendMatchType applies the fixed decision ladder over intent,
// word count, and competition.
func recommendMatchType(intent float64, words int, competition float64) keywords.MatchType {
	if intent >= 2.0 && words >= 3 {
		return keywords.MatchExact
	}
	if intent >= 1.5 || words >= 2 {
		return keywords.MatchPhrase
	}
	if competition <= 0.4 {
		return keywords.MatchBroad
	}
	return keywords.MatchPhrase
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
