package plan

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/adpilot/adpilot/internal/cluster"
	"github.com/adpilot/adpilot/internal/config"
	"github.com/adpilot/adpilot/internal/connectors"
	"github.com/adpilot/adpilot/internal/keywords"
)

// Artifacts is the full in-memory plan before emission.
type Artifacts struct {
	Product     *config.ProductConfig
	Summary     *Summary
	Keywords    []keywords.Record
	Clusters    []cluster.Cluster
	Competitors []connectors.SERPResult
	Negatives   []string
}

// adGroup is one ads.json entry derived from a cluster.
type adGroup struct {
	Name        string       `json:"name"`
	UseCase     string       `json:"use_case"`
	LandingPage string       `json:"landing_page,omitempty"`
	TotalVolume int64        `json:"total_volume"`
	Keywords    []adKeyword  `json:"keywords"`
	Headlines   []string     `json:"headlines"`
	Descriptions []string    `json:"descriptions"`
}

type adKeyword struct {
	Text      string             `json:"text"`
	MatchType keywords.MatchType `json:"match_type"`
	Score     Score              `json:"score"`
}

// Emit writes every artifact into a temporary sibling of dir and atomically
// renames it into place. A failed or cancelled run leaves no partial output.
func Emit(dir string, a *Artifacts) error {
	parent := filepath.Dir(dir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return fmt.Errorf("failed to create plan parent directory: %w", err)
	}

	tmp, err := os.MkdirTemp(parent, ".plan-*")
	if err != nil {
		return fmt.Errorf("failed to create temp plan directory: %w", err)
	}
	defer os.RemoveAll(tmp)

	files := map[string][]byte{
		"keywords.csv":         keywordsCSV(a.Keywords),
		"ads.json":             adsJSON(a),
		"seo_pages.md":         seoPagesMarkdown(a),
		"competitors.md":       competitorsMarkdown(a),
		"negatives.txt":        negativesText(a.Negatives),
		"google-ads-script.js": adsScript(a),
	}

	summary, err := canonicalJSON(a.Summary)
	if err != nil {
		return fmt.Errorf("failed to encode summary: %w", err)
	}
	files["summary.json"] = summary

	for name, data := range files {
		if err := os.WriteFile(filepath.Join(tmp, name), data, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
	}

	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to clear previous plan directory: %w", err)
	}
	if err := os.Rename(tmp, dir); err != nil {
		return fmt.Errorf("failed to move plan into place: %w", err)
	}
	return nil
}

// canonicalJSON marshals with two-space indent and a trailing newline.
// Struct field order is fixed by declaration; map keys marshal sorted.
func canonicalJSON(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func keywordsCSV(recs []keywords.Record) []byte {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	_ = w.Write([]string{
		"keyword", "market", "data_source", "volume", "cpc", "competition",
		"intent_score", "final_score", "match_type", "cluster",
	})
	for _, r := range recs {
		volume := ""
		if r.Volume != nil {
			volume = strconv.FormatInt(*r.Volume, 10)
		}
		cpc := ""
		if r.CPC != nil {
			cpc = strconv.FormatFloat(*r.CPC, 'f', 2, 64)
		}
		competition := ""
		if r.Competition != nil {
			competition = strconv.FormatFloat(*r.Competition, 'f', 2, 64)
		}
		_ = w.Write([]string{
			r.Keyword,
			r.PrimaryMarket,
			string(r.DataSource),
			volume,
			cpc,
			competition,
			strconv.FormatFloat(r.IntentScore, 'f', 1, 64),
			strconv.FormatFloat(r.FinalScore, 'f', 3, 64),
			string(r.MatchType),
			r.Cluster,
		})
	}
	w.Flush()
	return buf.Bytes()
}

func adsJSON(a *Artifacts) []byte {
	groups := make([]adGroup, 0, len(a.Clusters))
	for _, cl := range a.Clusters {
		g := adGroup{
			Name:        a.Product.Name + " - " + cl.Name,
			UseCase:     cl.UseCase,
			LandingPage: cl.LandingPage,
			TotalVolume: cl.TotalVolume,
			Headlines:   headlinesFor(a.Product, cl),
			Descriptions: descriptionsFor(a.Product),
		}
		for _, kw := range cl.Keywords {
			g.Keywords = append(g.Keywords, adKeyword{
				Text:      kw.Keyword,
				MatchType: kw.MatchType,
				Score:     Score(kw.FinalScore),
			})
		}
		groups = append(groups, g)
	}

	data, _ := canonicalJSON(struct {
		Product  string    `json:"product"`
		AdGroups []adGroup `json:"ad_groups"`
	}{Product: a.Product.Name, AdGroups: groups})
	return data
}

// headlinesFor seeds RSA headlines: pinned anchor first, then the cluster's
// top keywords in title case, then value props.
func headlinesFor(product *config.ProductConfig, cl cluster.Cluster) []string {
	headlines := []string{product.AnchorString}
	for _, kw := range cl.PrimaryKeywords {
		headlines = append(headlines, titleCase(kw.Keyword))
	}
	for _, vp := range product.ValueProps {
		if len(headlines) >= 15 {
			break
		}
		headlines = append(headlines, vp)
	}
	return headlines
}

func descriptionsFor(product *config.ProductConfig) []string {
	descs := make([]string, 0, 4)
	for _, vp := range product.ValueProps {
		if len(descs) >= 4 {
			break
		}
		descs = append(descs, vp+". Install "+product.Name+" today.")
	}
	for len(descs) < 2 {
		descs = append(descs, product.Name+" works right in your browser. Free to install.")
	}
	return descs
}

func seoPagesMarkdown(a *Artifacts) []byte {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# SEO Page Briefs — %s\n\n", a.Product.Name)
	fmt.Fprintf(&sb, "Generated %s for markets %s.\n\n", a.Summary.Date, strings.Join(a.Summary.Markets, ", "))

	for _, cl := range a.Clusters {
		fmt.Fprintf(&sb, "## %s\n\n", cl.Name)
		if cl.LandingPage != "" {
			fmt.Fprintf(&sb, "Landing page: %s\n\n", cl.LandingPage)
		}
		fmt.Fprintf(&sb, "Total volume: %d\n\n", cl.TotalVolume)
		sb.WriteString("Primary keywords:\n\n")
		for _, kw := range cl.PrimaryKeywords {
			fmt.Fprintf(&sb, "- %s (%.3f, %s)\n", kw.Keyword, kw.FinalScore, kw.MatchType)
		}
		sb.WriteString("\n")
	}
	return []byte(sb.String())
}

func competitorsMarkdown(a *Artifacts) []byte {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Competitor Map — %s\n\n", a.Product.Name)

	if len(a.Competitors) == 0 {
		sb.WriteString("No SERP competitor data collected this run.\n")
		return []byte(sb.String())
	}

	domains := make(map[string]int)
	for _, r := range a.Competitors {
		for _, d := range r.Competitors {
			domains[d]++
		}
	}
	names := make([]string, 0, len(domains))
	for d := range domains {
		names = append(names, d)
	}
	sort.Slice(names, func(i, j int) bool {
		if domains[names[i]] != domains[names[j]] {
			return domains[names[i]] > domains[names[j]]
		}
		return names[i] < names[j]
	})

	sb.WriteString("| Domain | SERP appearances |\n|---|---|\n")
	for _, d := range names {
		fmt.Fprintf(&sb, "| %s | %d |\n", d, domains[d])
	}

	sb.WriteString("\n## Queries analyzed\n\n")
	for _, r := range a.Competitors {
		fmt.Fprintf(&sb, "- %s [%s]: %s\n", r.Query, r.Market, strings.Join(r.Competitors, ", "))
	}
	return []byte(sb.String())
}

func negativesText(negatives []string) []byte {
	sorted := append([]string(nil), negatives...)
	sort.Strings(sorted)

	var sb strings.Builder
	for _, n := range sorted {
		sb.WriteString(n)
		sb.WriteByte('\n')
	}
	return []byte(sb.String())
}

func adsScript(a *Artifacts) []byte {
	var sb strings.Builder
	fmt.Fprintf(&sb, "// Google Ads Script — %s (%s)\n", a.Product.Name, a.Summary.Date)
	sb.WriteString("// Creates the planned ad groups with recommended match types.\n")
	sb.WriteString("function main() {\n")
	for _, cl := range a.Clusters {
		fmt.Fprintf(&sb, "  createAdGroup(%q, [\n", a.Product.Name+" - "+cl.Name)
		for _, kw := range cl.Keywords {
			fmt.Fprintf(&sb, "    {text: %q, matchType: %q},\n", kw.Keyword, strings.ToUpper(string(kw.MatchType)))
		}
		sb.WriteString("  ]);\n")
	}
	sb.WriteString("}\n")
	return []byte(sb.String())
}

func titleCase(s string) string {
	fields := strings.Fields(s)
	for i, f := range fields {
		if len(f) > 0 {
			fields[i] = strings.ToUpper(f[:1]) + f[1:]
		}
	}
	return strings.Join(fields, " ")
}
