package keywords

import (
	"fmt"
	"sort"
)

// MergeResult is the output of a precedence merge: the deduplicated records
// plus the bookkeeping the plan summary reports.
type MergeResult struct {
	Records            []Record             `json:"records"`
	SourceCounts       map[DataSource]int   `json:"source_counts"`
	DuplicatesResolved int                  `json:"duplicates_resolved"`
	Diagnostics        []DuplicateDiagnostic `json:"diagnostics,omitempty"`
}

// DuplicateDiagnostic records one precedence decision for auditability.
type DuplicateDiagnostic struct {
	Keyword      string     `json:"keyword"`
	Market       string     `json:"market"`
	Winner       DataSource `json:"winner"`
	Loser        DataSource `json:"loser"`
	FilledFields []string   `json:"filled_fields,omitempty"`
}

// Merge combines per-source keyword lists under fixed precedence
// (KWP > GSC > ESTIMATED). For duplicate (keyword, primary market) pairs the
// higher-precedence record wins, with absent quantitative fields filled from
// lower-precedence sources. Output ordering is keyword asc, market asc, so
// identical inputs merge to byte-identical output. Merging a merged result
// is a no-op.
func Merge(lists ...[]Record) MergeResult {
	result := MergeResult{
		SourceCounts: make(map[DataSource]int),
	}

	merged := make(map[string]*Record)

	for _, list := range lists {
		for _, rec := range list {
			rec.Keyword = Normalize(rec.Keyword)
			if rec.Keyword == "" {
				continue
			}
			if rec.PrimaryMarket == "" && len(rec.Markets) > 0 {
				rec.PrimaryMarket = rec.Markets[0]
			}
			result.SourceCounts[rec.DataSource]++

			key := rec.Key()
			existing, dup := merged[key]
			if !dup {
				cp := rec
				merged[key] = &cp
				continue
			}

			result.DuplicatesResolved++
			winner, loser := existing, &rec
			if rec.DataSource.Rank() < existing.DataSource.Rank() {
				cp := rec
				winner, loser = &cp, existing
				merged[key] = winner
			}

			diag := DuplicateDiagnostic{
				Keyword: winner.Keyword,
				Market:  winner.PrimaryMarket,
				Winner:  winner.DataSource,
				Loser:   loser.DataSource,
			}
			diag.FilledFields = fillAbsent(winner, loser)
			result.Diagnostics = append(result.Diagnostics, diag)
		}
	}

	result.Records = make([]Record, 0, len(merged))
	for _, rec := range merged {
		result.Records = append(result.Records, *rec)
	}
	sort.Slice(result.Records, func(i, j int) bool {
		a, b := result.Records[i], result.Records[j]
		if a.Keyword != b.Keyword {
			return a.Keyword < b.Keyword
		}
		return a.PrimaryMarket < b.PrimaryMarket
	})

	return result
}

// fillAbsent copies quantitative fields the winner lacks from the loser and
// reports which fields were filled.
func fillAbsent(winner, loser *Record) []string {
	var filled []string

	if winner.Volume == nil && loser.Volume != nil {
		v := *loser.Volume
		winner.Volume = &v
		filled = append(filled, "volume")
	}
	if winner.CPC == nil && loser.CPC != nil {
		v := *loser.CPC
		winner.CPC = &v
		filled = append(filled, "cpc")
	}
	if winner.Competition == nil && loser.Competition != nil {
		v := *loser.Competition
		winner.Competition = &v
		filled = append(filled, "competition")
	}
	if len(winner.SERPFeatures) == 0 && len(loser.SERPFeatures) > 0 {
		winner.SERPFeatures = append([]string(nil), loser.SERPFeatures...)
		filled = append(filled, "serp_features")
	}

	// Union markets so coverage survives the merge.
	seen := make(map[string]bool, len(winner.Markets))
	for _, m := range winner.Markets {
		seen[m] = true
	}
	for _, m := range loser.Markets {
		if !seen[m] {
			winner.Markets = append(winner.Markets, m)
			seen[m] = true
		}
	}
	sort.Strings(winner.Markets)

	return filled
}

// String implements a short human form for log lines.
func (d DuplicateDiagnostic) String() string {
	return fmt.Sprintf("%s [%s]: %s over %s", d.Keyword, d.Market, d.Winner, d.Loser)
}
