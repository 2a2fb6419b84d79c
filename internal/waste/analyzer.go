package waste

import (
	"encoding/csv"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/adpilot/adpilot/internal/errs"
	"github.com/adpilot/adpilot/internal/keywords"
)

// SearchTerm is one row of a search-term report.
type SearchTerm struct {
	Term        string  `json:"term"`
	AdGroup     string  `json:"ad_group"`
	Campaign    string  `json:"campaign"`
	Impressions int64   `json:"impressions"`
	Clicks      int64   `json:"clicks"`
	Cost        float64 `json:"cost"`
	Conversions int64   `json:"conversions"`
}

// CTR returns clicks/impressions, 0 when there are no impressions.
func (t *SearchTerm) CTR() float64 {
	if t.Impressions == 0 {
		return 0
	}
	return float64(t.Clicks) / float64(t.Impressions)
}

// Category labels a wasted-spend bucket.
type Category string

const (
	HighCostNoConvert Category = "HIGH_COST_NO_CONVERT"
	LowCtrHighImpr    Category = "LOW_CTR_HIGH_IMPR"
	PoorQuality       Category = "POOR_QUALITY"
)

// Finding is one categorized term.
type Finding struct {
	Term     SearchTerm `json:"term"`
	Category Category   `json:"category"`
	Reason   string     `json:"reason"`
}

// Level scopes a negative keyword.
type Level string

const (
	LevelCampaign Level = "campaign"
	LevelAdGroup  Level = "ad_group"
)

// Recommendation is one negative-keyword suggestion.
type Recommendation struct {
	Keyword          string             `json:"keyword"`
	MatchType        keywords.MatchType `json:"match_type"`
	Level            Level              `json:"level"`
	Campaign         string             `json:"campaign,omitempty"`
	AdGroup          string             `json:"ad_group,omitempty"`
	EstimatedSavings float64            `json:"estimated_savings"`
	Confidence       float64            `json:"confidence"`
	Reason           string             `json:"reason"`
}

// Report is the full analyzer output.
type Report struct {
	TotalTerms      int              `json:"total_terms"`
	TotalCost       float64          `json:"total_cost"`
	WastedCost      float64          `json:"wasted_cost"`
	Findings        []Finding        `json:"findings"`
	Recommendations []Recommendation `json:"recommendations"`
}

// Config tunes the categorization thresholds.
type Config struct {
	MinCost       float64 `yaml:"min_cost"`
	MinImpr       int64   `yaml:"min_impressions"`
	LowCTR        float64 `yaml:"low_ctr"`
	MinConfidence float64 `yaml:"min_confidence"`
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		MinCost:       10,
		MinImpr:       1000,
		LowCTR:        0.005,
		MinConfidence: 0.7,
	}
}

// Analyzer categorizes wasted spend and synthesizes negative keywords.
type Analyzer struct {
	cfg Config
}

// NewAnalyzer creates an analyzer; zero thresholds fall back to defaults.
func NewAnalyzer(cfg Config) *Analyzer {
	def := DefaultConfig()
	if cfg.MinCost <= 0 {
		cfg.MinCost = def.MinCost
	}
	if cfg.MinImpr <= 0 {
		cfg.MinImpr = def.MinImpr
	}
	if cfg.LowCTR <= 0 {
		cfg.LowCTR = def.LowCTR
	}
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = def.MinConfidence
	}
	return &Analyzer{cfg: cfg}
}

// Analyze runs the three categorizations and derives recommendations,
// sorted by estimated savings descending.
func (a *Analyzer) Analyze(terms []SearchTerm) *Report {
	report := &Report{TotalTerms: len(terms)}

	for _, t := range terms {
		report.TotalCost += t.Cost

		switch {
		case t.Cost >= a.cfg.MinCost && t.Conversions == 0:
			report.Findings = append(report.Findings, Finding{
				Term:     t,
				Category: HighCostNoConvert,
				Reason:   "spent $" + strconv.FormatFloat(t.Cost, 'f', 2, 64) + " with zero conversions",
			})
			report.WastedCost += t.Cost
		case t.Impressions >= a.cfg.MinImpr && t.CTR() < a.cfg.LowCTR:
			report.Findings = append(report.Findings, Finding{
				Term:     t,
				Category: LowCtrHighImpr,
				Reason:   "high impressions with CTR below " + strconv.FormatFloat(a.cfg.LowCTR*100, 'f', 2, 64) + "%",
			})
		case t.Clicks >= 10 && t.Conversions == 0 && t.Cost >= 5:
			report.Findings = append(report.Findings, Finding{
				Term:     t,
				Category: PoorQuality,
				Reason:   "sustained clicks without a single conversion",
			})
			report.WastedCost += t.Cost
		}
	}

	report.Recommendations = a.recommend(report.Findings)
	log.Info().
		Int("terms", report.TotalTerms).
		Int("findings", len(report.Findings)).
		Int("recommendations", len(report.Recommendations)).
		Float64("wasted_cost", report.WastedCost).
		Msg("waste analysis complete")
	return report
}

// recommend synthesizes negatives from the findings: direct exact negatives,
// n-gram phrase negatives, and broad negatives on known waste indicators.
func (a *Analyzer) recommend(findings []Finding) []Recommendation {
	var out []Recommendation
	seen := make(map[string]bool)

	add := func(rec Recommendation) {
		key := string(rec.MatchType) + "|" + rec.Keyword + "|" + rec.Campaign + "|" + rec.AdGroup
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, rec)
	}

	for _, f := range findings {
		if f.Category != HighCostNoConvert {
			continue
		}
		confidence := exactConfidence(f.Term)
		if confidence < a.cfg.MinConfidence {
			continue
		}
		add(Recommendation{
			Keyword:          keywords.Normalize(f.Term.Term),
			MatchType:        keywords.MatchExact,
			Level:            LevelAdGroup,
			Campaign:         f.Term.Campaign,
			AdGroup:          f.Term.AdGroup,
			EstimatedSavings: f.Term.Cost,
			Confidence:       confidence,
			Reason:           f.Reason,
		})
	}

	for _, rec := range a.mineNgrams(findings) {
		add(rec)
	}
	for _, rec := range a.indicatorNegatives(findings) {
		add(rec)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].EstimatedSavings != out[j].EstimatedSavings {
			return out[i].EstimatedSavings > out[j].EstimatedSavings
		}
		return out[i].Keyword < out[j].Keyword
	})
	return out
}

// exactConfidence grows with click evidence: more clicks without converting
// means stronger certainty the term is waste.
func exactConfidence(t SearchTerm) float64 {
	switch {
	case t.Clicks >= 30:
		return 0.95
	case t.Clicks >= 10:
		return 0.85
	case t.Clicks >= 5:
		return 0.75
	default:
		return 0.6
	}
}

// ParseCSV reads a search-term report. The header row is matched by name
// so column order does not matter.
func ParseCSV(r io.Reader) ([]SearchTerm, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, errs.Wrap(errs.ValidationFailed, err, "reading search-term report header")
	}

	idx := make(map[string]int, len(header))
	for i, col := range header {
		idx[strings.ToLower(strings.TrimSpace(col))] = i
	}
	for _, required := range []string{"term", "campaign", "impressions", "clicks", "cost", "conversions"} {
		if _, ok := idx[required]; !ok {
			return nil, errs.New(errs.ValidationFailed, "search-term report missing column %q", required)
		}
	}

	var terms []SearchTerm
	for line := 2; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errs.Wrap(errs.ValidationFailed, err, "reading search-term report line %d", line)
		}

		t := SearchTerm{
			Term:     row[idx["term"]],
			Campaign: row[idx["campaign"]],
		}
		if i, ok := idx["ad_group"]; ok {
			t.AdGroup = row[i]
		}
		if t.Impressions, err = strconv.ParseInt(row[idx["impressions"]], 10, 64); err != nil {
			return nil, errs.New(errs.ValidationFailed, "line %d: bad impressions %q", line, row[idx["impressions"]])
		}
		if t.Clicks, err = strconv.ParseInt(row[idx["clicks"]], 10, 64); err != nil {
			return nil, errs.New(errs.ValidationFailed, "line %d: bad clicks %q", line, row[idx["clicks"]])
		}
		if t.Cost, err = strconv.ParseFloat(row[idx["cost"]], 64); err != nil {
			return nil, errs.New(errs.ValidationFailed, "line %d: bad cost %q", line, row[idx["cost"]])
		}
		if t.Conversions, err = strconv.ParseInt(row[idx["conversions"]], 10, 64); err != nil {
			return nil, errs.New(errs.ValidationFailed, "line %d: bad conversions %q", line, row[idx["conversions"]])
		}
		terms = append(terms, t)
	}
	return terms, nil
}
