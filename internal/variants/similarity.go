package variants

import (
	"strings"

	"github.com/adpilot/adpilot/internal/experiment"
	"github.com/adpilot/adpilot/internal/keywords"
)

// RSASimilarity is the fraction of identical normalized entries across the
// union of headlines and descriptions of two RSA variants.
func RSASimilarity(a, b *experiment.Variant) float64 {
	setA := normalizedSet(append(append([]string{}, a.Headlines...), a.Descriptions...))
	setB := normalizedSet(append(append([]string{}, b.Headlines...), b.Descriptions...))

	if len(setA) == 0 && len(setB) == 0 {
		return 1
	}

	union := make(map[string]bool, len(setA)+len(setB))
	shared := 0
	for s := range setA {
		union[s] = true
		if setB[s] {
			shared++
		}
	}
	for s := range setB {
		union[s] = true
	}
	return float64(shared) / float64(len(union))
}

// PageContent is the comparable surface of a landing-page variant.
type PageContent struct {
	Headline    string
	Subheadline string
	CTA         string
}

// PageSimilarityOf compares the page content of two landing-page variants.
func PageSimilarityOf(a, b *experiment.Variant) float64 {
	return PageSimilarity(
		PageContent{Headline: a.Headline, Subheadline: a.Subheadline, CTA: a.CTA},
		PageContent{Headline: b.Headline, Subheadline: b.Subheadline, CTA: b.CTA},
	)
}

// PageSimilarity aggregates normalized Levenshtein similarity over the
// headline, subheadline, and CTA fields.
func PageSimilarity(a, b PageContent) float64 {
	fields := [][2]string{
		{a.Headline, b.Headline},
		{a.Subheadline, b.Subheadline},
		{a.CTA, b.CTA},
	}

	total := 0.0
	for _, f := range fields {
		total += stringSimilarity(keywords.Normalize(f[0]), keywords.Normalize(f[1]))
	}
	return total / float64(len(fields))
}

func stringSimilarity(a, b string) float64 {
	if a == "" && b == "" {
		return 1
	}
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	return 1 - float64(levenshtein(a, b))/float64(maxLen)
}

// levenshtein computes edit distance with a two-row table.
func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min3(curr[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}

func normalizedSet(entries []string) map[string]bool {
	set := make(map[string]bool, len(entries))
	for _, e := range entries {
		n := strings.ToLower(strings.Join(strings.Fields(e), " "))
		if n != "" {
			set[n] = true
		}
	}
	return set
}
