package main

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/adpilot/adpilot/internal/cluster"
	"github.com/adpilot/adpilot/internal/clock"
	"github.com/adpilot/adpilot/internal/config"
	"github.com/adpilot/adpilot/internal/connectors"
	"github.com/adpilot/adpilot/internal/errs"
	"github.com/adpilot/adpilot/internal/keywords"
	"github.com/adpilot/adpilot/internal/ledger"
	"github.com/adpilot/adpilot/internal/plan"
	"github.com/adpilot/adpilot/internal/scoring"
)

func newPlanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Generate a full marketing plan",
		Long: `Runs the plan orchestrator: gated keyword collection, precedence merge,
scoring, clustering, competitor analysis, and atomic artifact emission
under <out>/<product>/<date>/.

Daily quota counters and the connector cache live in-process by default
and reset on restart; set ADPILOT_REDIS_ADDR to back them with redis so
they persist and are shared across runs.`,
		RunE: runPlan,
	}

	cmd.Flags().String("product", "config/product.yaml", "Product config path")
	cmd.Flags().String("scoring", "", "Scoring config override path")
	cmd.Flags().String("out", "plans", "Plan output root directory")
	cmd.Flags().String("kwp-csv", "", "Keyword Planner export CSV (offline replay)")
	cmd.Flags().String("gsc-csv", "", "Search Console export CSV (offline replay)")
	cmd.Flags().Int("ttl", 86400, "Connector cache TTL in seconds")
	cmd.Flags().Int64("serp-budget", 50, "Daily SERP call ceiling")
	cmd.Flags().Int64("keyword-budget", 100, "Daily keyword API call ceiling")
	cmd.Flags().Duration("timeout", 5*time.Minute, "Overall run deadline")
	return cmd
}

func runPlan(cmd *cobra.Command, args []string) error {
	productPath, _ := cmd.Flags().GetString("product")
	scoringPath, _ := cmd.Flags().GetString("scoring")
	outDir, _ := cmd.Flags().GetString("out")
	kwpCSV, _ := cmd.Flags().GetString("kwp-csv")
	gscCSV, _ := cmd.Flags().GetString("gsc-csv")
	ttlSec, _ := cmd.Flags().GetInt("ttl")
	serpBudget, _ := cmd.Flags().GetInt64("serp-budget")
	keywordBudget, _ := cmd.Flags().GetInt64("keyword-budget")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	product, err := config.LoadProduct(productPath)
	if err != nil {
		return err
	}
	scoringCfg, err := config.LoadScoring(scoringPath)
	if err != nil {
		return err
	}

	clk := clock.NewWallClock()
	led := ledger.New(openLedgerStore(), clk, map[string]int64{
		"serp_calls":    serpBudget,
		"keyword_calls": keywordBudget,
	})
	ttl := time.Duration(ttlSec) * time.Second

	conns := []connectors.Connector{
		connectors.NewGated(connectors.NewEstimated(), led, connectors.GateConfig{
			API: "keyword_calls", TTL: ttl, RPS: 5,
		}),
	}
	if kwpCSV != "" {
		static, err := loadRecordCSV(kwpCSV, keywords.SourceKWP, product.Markets)
		if err != nil {
			return err
		}
		conns = append(conns, static)
	}
	if gscCSV != "" {
		static, err := loadRecordCSV(gscCSV, keywords.SourceGSC, product.Markets)
		if err != nil {
			return err
		}
		conns = append(conns, static)
	}

	orch := plan.New(
		product,
		scoring.New(scoringCfg),
		cluster.New(cluster.DefaultConfig(), product),
		led,
		conns,
		&connectors.StaticSERP{},
		clk,
		plan.DefaultConfig(outDir),
	)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	summary, err := orch.Run(ctx)
	if err != nil {
		return err
	}

	log.Info().
		Str("product", summary.Product).
		Int("keywords", summary.TotalKeywords).
		Int("ad_groups", summary.TotalAdGroups).
		Int("warnings", len(summary.Warnings)).
		Msg("plan complete")
	emitResult(summary)
	return nil
}

// openLedgerStore picks redis when ADPILOT_REDIS_ADDR is set, otherwise the
// in-process store.
func openLedgerStore() ledger.Store {
	addr := os.Getenv("ADPILOT_REDIS_ADDR")
	if addr == "" {
		return ledger.NewMemoryStore()
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	log.Info().Str("addr", addr).Msg("using redis ledger store")
	return ledger.NewRedisStore(client, "adpilot")
}

// loadRecordCSV reads an exported keyword report into a static connector.
// Expected columns: keyword, market, volume, cpc, competition. Missing
// numeric cells stay absent so precedence-merge filling applies.
func loadRecordCSV(path string, source keywords.DataSource, defaultMarkets []string) (*connectors.Static, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.Wrap(errs.ConfigInvalid, err, "opening %s export %s", source, path)
	}
	defer f.Close()

	cr := csv.NewReader(f)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, errs.Wrap(errs.ConfigInvalid, err, "reading %s export header", source)
	}
	idx := make(map[string]int, len(header))
	for i, col := range header {
		idx[strings.ToLower(strings.TrimSpace(col))] = i
	}
	if _, ok := idx["keyword"]; !ok {
		return nil, errs.New(errs.ConfigInvalid, "%s export missing keyword column", source)
	}

	var records []keywords.Record
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errs.Wrap(errs.ConfigInvalid, err, "reading %s export row", source)
		}

		rec := keywords.Record{
			Keyword:    row[idx["keyword"]],
			DataSource: source,
			Markets:    defaultMarkets,
		}
		if i, ok := idx["market"]; ok && row[i] != "" {
			rec.Markets = []string{row[i]}
		}
		if i, ok := idx["volume"]; ok && row[i] != "" {
			if v, err := strconv.ParseInt(row[i], 10, 64); err == nil {
				rec.Volume = keywords.Int64Ptr(v)
			}
		}
		if i, ok := idx["cpc"]; ok && row[i] != "" {
			if v, err := strconv.ParseFloat(row[i], 64); err == nil {
				rec.CPC = keywords.Float64Ptr(v)
			}
		}
		if i, ok := idx["competition"]; ok && row[i] != "" {
			if v, err := strconv.ParseFloat(row[i], 64); err == nil {
				rec.Competition = keywords.Float64Ptr(v)
			}
		}
		records = append(records, rec)
	}

	return &connectors.Static{
		ConnectorName: strings.ToLower(string(source)) + "_export",
		DataSource:    source,
		Records:       records,
	}, nil
}
