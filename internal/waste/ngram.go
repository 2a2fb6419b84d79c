package waste

import (
	"fmt"
	"strings"

	"github.com/adpilot/adpilot/internal/keywords"
)

// N-gram mining thresholds: a phrase negative needs the n-gram in at least
// ngramMinCount wasted terms with ngramMinCost aggregate cost behind it.
const (
	ngramMinCount = 3
	ngramMinCost  = 20.0

	indicatorMinCost = 10.0
)

// wasteIndicators mark queries that never convert for a paid product.
var wasteIndicators = []string{
	"crack", "cracked", "torrent", "keygen", "virus", "malware",
	"hack", "hacked", "pirate", "warez", "nulled", "serial key",
}

type ngramStat struct {
	count int
	cost  float64
}

// mineNgrams extracts uni/bi/trigrams from the wasted terms and emits a
// phrase negative for each n-gram above both thresholds.
func (a *Analyzer) mineNgrams(findings []Finding) []Recommendation {
	stats := make(map[string]*ngramStat)

	for _, f := range findings {
		words := strings.Fields(keywords.Normalize(f.Term.Term))
		emitted := make(map[string]bool)
		for n := 1; n <= 3; n++ {
			for i := 0; i+n <= len(words); i++ {
				gram := strings.Join(words[i:i+n], " ")
				if emitted[gram] {
					continue
				}
				emitted[gram] = true
				s := stats[gram]
				if s == nil {
					s = &ngramStat{}
					stats[gram] = s
				}
				s.count++
				s.cost += f.Term.Cost
			}
		}
	}

	var out []Recommendation
	for gram, s := range stats {
		if s.count < ngramMinCount || s.cost < ngramMinCost {
			continue
		}
		out = append(out, Recommendation{
			Keyword:          gram,
			MatchType:        keywords.MatchPhrase,
			Level:            LevelCampaign,
			EstimatedSavings: s.cost,
			Confidence:       0.8,
			Reason:           fmt.Sprintf("%q appears in %d wasted terms totalling $%.2f", gram, s.count, s.cost),
		})
	}
	return out
}

// indicatorNegatives emits a broad negative for each known waste indicator
// that accumulated enough cost across the findings.
func (a *Analyzer) indicatorNegatives(findings []Finding) []Recommendation {
	costs := make(map[string]float64)

	for _, f := range findings {
		normalized := keywords.Normalize(f.Term.Term)
		for _, indicator := range wasteIndicators {
			if containsWord(normalized, indicator) {
				costs[indicator] += f.Term.Cost
			}
		}
	}

	var out []Recommendation
	for indicator, cost := range costs {
		if cost < indicatorMinCost {
			continue
		}
		out = append(out, Recommendation{
			Keyword:          indicator,
			MatchType:        keywords.MatchBroad,
			Level:            LevelCampaign,
			EstimatedSavings: cost,
			Confidence:       0.95,
			Reason:           fmt.Sprintf("waste indicator %q cost $%.2f with no realistic conversion intent", indicator, cost),
		})
	}
	return out
}

func containsWord(haystack, needle string) bool {
	if !strings.Contains(haystack, needle) {
		return false
	}
	// Multi-word indicators match as substrings on word boundaries.
	padded := " " + haystack + " "
	return strings.Contains(padded, " "+needle+" ")
}
