package cluster

import (
	"sort"
	"strings"

	"github.com/adpilot/adpilot/internal/config"
	"github.com/adpilot/adpilot/internal/keywords"
)

// Cluster groups keywords that serve one use case and maps the group onto a
// landing page. Ordering inside and across clusters is stable for identical
// inputs.
type Cluster struct {
	Name            string            `json:"name"`
	UseCase         string            `json:"use_case"`
	PrimaryKeywords []keywords.Record `json:"primary_keywords"`
	Keywords        []keywords.Record `json:"keywords"`
	TotalVolume     int64             `json:"total_volume"`
	LandingPage     string            `json:"landing_page,omitempty"`
}

// Config tunes clustering behavior.
type Config struct {
	// MinClusterSize is the smallest standalone cluster; smaller groups are
	// absorbed into their nearest neighbor or dropped into "misc".
	MinClusterSize int
	// PrimaryKeywordCount caps the primary_keywords list.
	PrimaryKeywordCount int
}

// DefaultConfig returns the production clustering parameters.
func DefaultConfig() Config {
	return Config{MinClusterSize: 2, PrimaryKeywordCount: 3}
}

// Clusterer assigns every keyword to exactly one cluster.
type Clusterer struct {
	cfg     Config
	product *config.ProductConfig
}

// New creates a clusterer bound to a product configuration.
func New(cfg Config, product *config.ProductConfig) *Clusterer {
	return &Clusterer{cfg: cfg, product: product}
}

// Assign buckets scored records by use-case token, folds undersized clusters,
// and assigns landing pages. Records keep their score ordering inside each
// cluster; clusters are returned name asc with "misc" last.
func (c *Clusterer) Assign(records []keywords.Record) []Cluster {
	buckets := make(map[string][]keywords.Record)
	for _, rec := range records {
		token := c.useCaseToken(rec.Keyword)
		buckets[token] = append(buckets[token], rec)
	}

	c.foldSmallClusters(buckets)

	names := make([]string, 0, len(buckets))
	for name := range buckets {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		// misc sorts last so the residual bucket trails real use cases.
		if names[i] == "misc" {
			return false
		}
		if names[j] == "misc" {
			return true
		}
		return names[i] < names[j]
	})

	clusters := make([]Cluster, 0, len(names))
	for _, name := range names {
		recs := buckets[name]
		sortByScore(recs)

		cl := Cluster{
			Name:    name,
			UseCase: name,
		}
		for i := range recs {
			recs[i].Cluster = name
			cl.TotalVolume += recs[i].VolumeOrZero()
		}
		cl.Keywords = recs
		primary := c.cfg.PrimaryKeywordCount
		if primary > len(recs) {
			primary = len(recs)
		}
		cl.PrimaryKeywords = recs[:primary]

		if page, ok := c.product.PageForUseCase(name); ok {
			cl.LandingPage = page.URL
		}
		clusters = append(clusters, cl)
	}

	return clusters
}

// useCaseToken picks the configured use case whose words all appear in the
// keyword; failing that, a lexical heuristic derives one.
func (c *Clusterer) useCaseToken(keyword string) string {
	var best string
	for _, uc := range c.product.UseCases() {
		if matchesUseCase(keyword, uc) && len(uc) > len(best) {
			best = uc
		}
	}
	if best != "" {
		return best
	}
	return heuristicToken(keyword)
}

// matchesUseCase reports whether every hyphen-separated word of the use case
// appears in the keyword.
func matchesUseCase(keyword, useCase string) bool {
	kw := " " + keyword + " "
	for _, part := range strings.Split(useCase, "-") {
		if part == "to" {
			continue
		}
		if !strings.Contains(kw, part) {
			return false
		}
	}
	return true
}

// heuristicToken derives a use-case token lexically: "x to y" conversions
// become "x-to-y", otherwise the first two significant words joined.
func heuristicToken(keyword string) string {
	fields := strings.Fields(keyword)
	for i := 1; i < len(fields)-1; i++ {
		if fields[i] == "to" {
			return fields[i-1] + "-to-" + fields[i+1]
		}
	}

	significant := make([]string, 0, 2)
	for _, f := range fields {
		if keywords.Words(f) == 0 {
			continue
		}
		significant = append(significant, f)
		if len(significant) == 2 {
			break
		}
	}
	if len(significant) == 0 {
		return "misc"
	}
	return strings.Join(significant, "-")
}

// foldSmallClusters absorbs undersized buckets into their nearest neighbor
// (most shared token words) or the residual "misc" bucket. Folding iterates
// bucket names in sorted order so the outcome is deterministic.
func (c *Clusterer) foldSmallClusters(buckets map[string][]keywords.Record) {
	names := make([]string, 0, len(buckets))
	for name := range buckets {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		recs, ok := buckets[name]
		if !ok || name == "misc" || len(recs) >= c.cfg.MinClusterSize {
			continue
		}

		target := nearestNeighbor(name, buckets, c.cfg.MinClusterSize)
		if target == "" {
			target = "misc"
		}
		buckets[target] = append(buckets[target], recs...)
		delete(buckets, name)
	}
}

// nearestNeighbor finds the qualifying bucket sharing the most token words
// with name; ties break on bucket name asc.
func nearestNeighbor(name string, buckets map[string][]keywords.Record, minSize int) string {
	parts := strings.Split(name, "-")

	candidates := make([]string, 0, len(buckets))
	for other := range buckets {
		if other != name && other != "misc" && len(buckets[other]) >= minSize {
			candidates = append(candidates, other)
		}
	}
	sort.Strings(candidates)

	best := ""
	bestShared := 0
	for _, other := range candidates {
		shared := sharedTokens(parts, strings.Split(other, "-"))
		if shared > bestShared {
			best = other
			bestShared = shared
		}
	}
	return best
}

func sharedTokens(a, b []string) int {
	set := make(map[string]bool, len(a))
	for _, t := range a {
		set[t] = true
	}
	n := 0
	for _, t := range b {
		if set[t] {
			n++
		}
	}
	return n
}

func sortByScore(recs []keywords.Record) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].FinalScore != recs[j].FinalScore {
			return recs[i].FinalScore > recs[j].FinalScore
		}
		if recs[i].Keyword != recs[j].Keyword {
			return recs[i].Keyword < recs[j].Keyword
		}
		return recs[i].PrimaryMarket < recs[j].PrimaryMarket
	})
}
