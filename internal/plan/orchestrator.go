package plan

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/adpilot/adpilot/internal/clock"
	"github.com/adpilot/adpilot/internal/cluster"
	"github.com/adpilot/adpilot/internal/config"
	"github.com/adpilot/adpilot/internal/connectors"
	"github.com/adpilot/adpilot/internal/errs"
	"github.com/adpilot/adpilot/internal/keywords"
	"github.com/adpilot/adpilot/internal/ledger"
	"github.com/adpilot/adpilot/internal/scoring"
	"github.com/adpilot/adpilot/internal/telemetry"
)

// Orchestrator sequences the plan pipeline: gated collection, precedence
// merge, scoring, clustering, bounded competitor analysis, and atomic
// artifact emission.
type Orchestrator struct {
	product    *config.ProductConfig
	scorer     *scoring.Scorer
	clusterer  *cluster.Clusterer
	ledger     *ledger.Ledger
	connectors []connectors.Connector
	serp       connectors.SERPClient
	clock      clock.Clock
	cfg        Config
}

// Config tunes the orchestrator.
type Config struct {
	// OutDir is the root plan directory; artifacts land under
	// OutDir/<product>/<date>/.
	OutDir string
	// CollectTimeout bounds the parallel collection phase.
	CollectTimeout time.Duration
	// SERPTimeout bounds the competitor analysis phase.
	SERPTimeout time.Duration
	// CompetitorTopK is the number of top keywords analyzed per cluster.
	CompetitorTopK int
	// SERPAPI is the quota bucket charged per SERP call.
	SERPAPI string
}

// DefaultConfig returns production phase budgets.
func DefaultConfig(outDir string) Config {
	return Config{
		OutDir:         outDir,
		CollectTimeout: 2 * time.Minute,
		SERPTimeout:    2 * time.Minute,
		CompetitorTopK: 3,
		SERPAPI:        "serp_calls",
	}
}

// New assembles an orchestrator. Every dependency is injected; tests swap in
// fixed clocks, static connectors, and memory-backed ledgers.
func New(
	product *config.ProductConfig,
	scorer *scoring.Scorer,
	clusterer *cluster.Clusterer,
	led *ledger.Ledger,
	conns []connectors.Connector,
	serp connectors.SERPClient,
	clk clock.Clock,
	cfg Config,
) *Orchestrator {
	return &Orchestrator{
		product:    product,
		scorer:     scorer,
		clusterer:  clusterer,
		ledger:     led,
		connectors: conns,
		serp:       serp,
		clock:      clk,
		cfg:        cfg,
	}
}

// Run executes the full pipeline and returns the emitted summary. Connector
// failures degrade to warnings; a cancelled run emits no artifacts.
func (o *Orchestrator) Run(ctx context.Context) (*Summary, error) {
	started := o.clock.Now()
	date := started.Format("2006-01-02")

	summary := &Summary{
		Product:          o.product.Name,
		Date:             date,
		Markets:          o.product.Markets,
		DataSourceCounts: make(map[string]int),
		Warnings:         []string{},
	}

	// Phase 2: parallel gated collection.
	lists, warnings := o.collect(ctx)
	summary.Warnings = append(summary.Warnings, warnings...)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Phase 3: precedence merge.
	merged := keywords.Merge(lists...)
	for src, n := range merged.SourceCounts {
		summary.DataSourceCounts[string(src)] = n
	}
	log.Info().
		Int("records", len(merged.Records)).
		Int("duplicates_resolved", merged.DuplicatesResolved).
		Msg("precedence merge complete")

	// Phase 4: scoring (pure CPU).
	scored := o.scorer.ScoreAll(merged.Records)

	// Phase 5: clustering.
	clusters := o.clusterer.Assign(scored)

	// Re-collect records in cluster order so every record carries its
	// cluster tag in the emitted table.
	scored = flattenClusters(clusters)

	// Phase 6: bounded competitor SERP analysis.
	competitors, serpWarnings := o.analyzeCompetitors(ctx, clusters)
	summary.Warnings = append(summary.Warnings, serpWarnings...)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	summary.TotalKeywords = len(scored)
	summary.TotalAdGroups = len(clusters)
	summary.SERPCallsUsed = o.ledger.Used(ctx, o.cfg.SERPAPI)
	summary.CacheHitRate = Rate(o.ledger.HitRate())
	summary.TopOpportunities = topOpportunities(scored, 10)
	summary.GenerationTimeMs = o.clock.Now().Sub(started).Milliseconds()

	artifacts := &Artifacts{
		Product:     o.product,
		Summary:     summary,
		Keywords:    scored,
		Clusters:    clusters,
		Competitors: competitors,
		Negatives:   o.product.Negatives,
	}

	// Phase 7: atomic emission.
	dir := filepath.Join(o.cfg.OutDir, o.product.Name, date)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := Emit(dir, artifacts); err != nil {
		return nil, errs.Wrap(errs.StorageFailure, err, "artifact emission failed")
	}

	telemetry.PlanDuration.Observe(float64(summary.GenerationTimeMs) / 1000.0)
	log.Info().
		Str("product", o.product.Name).
		Str("dir", dir).
		Int("keywords", summary.TotalKeywords).
		Int("ad_groups", summary.TotalAdGroups).
		Int("warnings", len(summary.Warnings)).
		Msg("plan emitted")

	return summary, nil
}

// collect fans out to every connector in parallel. Results come back in
// connector registration order so downstream merging is deterministic.
func (o *Orchestrator) collect(ctx context.Context) ([][]keywords.Record, []string) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.CollectTimeout)
	defer cancel()

	req := connectors.Request{
		Product: o.product.Name,
		Seeds:   o.product.SeedQueries,
		Markets: o.product.Markets,
	}

	lists := make([][]keywords.Record, len(o.connectors))
	errsByIdx := make([]error, len(o.connectors))

	var wg sync.WaitGroup
	for i, conn := range o.connectors {
		wg.Add(1)
		go func(i int, conn connectors.Connector) {
			defer wg.Done()
			records, err := conn.Fetch(ctx, req)
			if err != nil {
				errsByIdx[i] = err
				return
			}
			lists[i] = records
		}(i, conn)
	}
	wg.Wait()

	var warnings []string
	ordered := make([][]keywords.Record, 0, len(lists))
	for i, list := range lists {
		if err := errsByIdx[i]; err != nil {
			warnings = append(warnings, fmt.Sprintf("connector %s: %v", o.connectors[i].Name(), err))
			log.Warn().Err(err).Str("connector", o.connectors[i].Name()).Msg("connector degraded")
			continue
		}
		ordered = append(ordered, list)
	}
	return ordered, warnings
}

// analyzeCompetitors runs SERP analysis for the top-K keywords of each
// cluster, bounded so K * |markets| never exceeds the remaining quota.
func (o *Orchestrator) analyzeCompetitors(ctx context.Context, clusters []cluster.Cluster) ([]connectors.SERPResult, []string) {
	if o.serp == nil || len(clusters) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, o.cfg.SERPTimeout)
	defer cancel()

	markets := len(o.product.Markets)
	if markets == 0 {
		return nil, nil
	}

	k := o.cfg.CompetitorTopK
	if remaining := o.ledger.Remaining(ctx, o.cfg.SERPAPI); remaining >= 0 {
		maxK := int(remaining) / (markets * len(clusters))
		if maxK < k {
			k = maxK
		}
	}
	if k <= 0 {
		return nil, []string{"competitor analysis skipped: serp quota exhausted"}
	}

	var results []connectors.SERPResult
	var warnings []string

	for _, cl := range clusters {
		top := cl.PrimaryKeywords
		if len(top) > k {
			top = top[:k]
		}
		for _, kw := range top {
			for _, market := range o.product.Markets {
				if ctx.Err() != nil {
					return results, warnings
				}
				if !o.ledger.CanCall(ctx, o.cfg.SERPAPI) {
					warnings = append(warnings, "competitor analysis truncated: serp quota exhausted")
					return results, warnings
				}
				res, err := o.serp.Analyze(ctx, kw.Keyword, market)
				if err != nil {
					warnings = append(warnings, fmt.Sprintf("serp %s [%s]: %v", kw.Keyword, market, err))
					continue
				}
				if err := o.ledger.RecordCall(ctx, o.cfg.SERPAPI); err != nil {
					warnings = append(warnings, fmt.Sprintf("serp ledger: %v", err))
					return results, warnings
				}
				results = append(results, *res)
			}
		}
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Query != results[j].Query {
			return results[i].Query < results[j].Query
		}
		return results[i].Market < results[j].Market
	})
	return results, warnings
}

func flattenClusters(clusters []cluster.Cluster) []keywords.Record {
	var out []keywords.Record
	for _, cl := range clusters {
		out = append(out, cl.Keywords...)
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

func topOpportunities(recs []keywords.Record, n int) []Opportunity {
	if len(recs) < n {
		n = len(recs)
	}
	out := make([]Opportunity, 0, n)
	for _, r := range recs[:n] {
		out = append(out, Opportunity{
			Keyword:   r.Keyword,
			Market:    r.PrimaryMarket,
			Score:     Score(r.FinalScore),
			Volume:    r.VolumeOrZero(),
			MatchType: r.MatchType,
			Cluster:   r.Cluster,
		})
	}
	return out
}
