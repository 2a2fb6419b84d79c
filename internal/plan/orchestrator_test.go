package plan

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adpilot/adpilot/internal/clock"
	"github.com/adpilot/adpilot/internal/cluster"
	"github.com/adpilot/adpilot/internal/config"
	"github.com/adpilot/adpilot/internal/connectors"
	"github.com/adpilot/adpilot/internal/keywords"
	"github.com/adpilot/adpilot/internal/ledger"
	"github.com/adpilot/adpilot/internal/scoring"
)

func planProduct() *config.ProductConfig {
	return &config.ProductConfig{
		Name:        "PixelConvert",
		Markets:     []string{"AU"},
		SeedQueries: []string{"webp to png"},
		TargetPages: []config.TargetPage{
			{URL: "https://pixelconvert.app/webp-to-png", UseCase: "webp-to-png"},
		},
		ValueProps:   []string{"Convert images in one click", "No upload, fully local"},
		Negatives:    []string{"torrent", "crack"},
		AnchorString: "PixelConvert - Image Converter",
	}
}

func planRecords() []keywords.Record {
	rec := func(kw string, vol int64) keywords.Record {
		return keywords.Record{
			Keyword:       kw,
			DataSource:    keywords.SourceKWP,
			Markets:       []string{"AU"},
			PrimaryMarket: "AU",
			Volume:        keywords.Int64Ptr(vol),
		}
	}
	return []keywords.Record{
		rec("webp to png", 1200),
		rec("convert webp to png", 800),
		rec("heic to jpg", 400),
		rec("heic to jpg converter", 300),
	}
}

func newOrchestrator(t *testing.T, conns []connectors.Connector, serp connectors.SERPClient, budgets map[string]int64) (*Orchestrator, string) {
	t.Helper()
	product := planProduct()
	clk := clock.NewFixed(time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC))
	led := ledger.New(ledger.NewMemoryStore(), clk, budgets)
	outDir := t.TempDir()

	o := New(
		product,
		scoring.New(config.DefaultScoring()),
		cluster.New(cluster.DefaultConfig(), product),
		led,
		conns,
		serp,
		clk,
		DefaultConfig(outDir),
	)
	return o, outDir
}

func kwpConnector() connectors.Connector {
	return &connectors.Static{
		ConnectorName: "kwp_export",
		DataSource:    keywords.SourceKWP,
		Records:       planRecords(),
	}
}

func TestRun_EmitsAllArtifacts(t *testing.T) {
	serp := &connectors.StaticSERP{Results: map[string]*connectors.SERPResult{
		"webp to png|AU": {
			Query: "webp to png", Market: "AU",
			Competitors: []string{"cloudconvert.com", "convertio.co"},
			Features:    []string{"featured_snippet"},
		},
	}}
	o, outDir := newOrchestrator(t, []connectors.Connector{kwpConnector()}, serp, map[string]int64{"serp_calls": 100})

	summary, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "PixelConvert", summary.Product)
	assert.Equal(t, "2026-03-01", summary.Date)
	assert.Equal(t, 4, summary.TotalKeywords)
	assert.Equal(t, 2, summary.TotalAdGroups)
	assert.Equal(t, map[string]int{"KWP": 4}, summary.DataSourceCounts)
	assert.Len(t, summary.TopOpportunities, 4)
	assert.Empty(t, summary.Warnings)

	dir := filepath.Join(outDir, "PixelConvert", "2026-03-01")
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{
		"keywords.csv", "ads.json", "summary.json", "seo_pages.md",
		"competitors.md", "negatives.txt", "google-ads-script.js",
	}, names)

	negatives, err := os.ReadFile(filepath.Join(dir, "negatives.txt"))
	require.NoError(t, err)
	assert.Equal(t, "crack\ntorrent\n", string(negatives), "negatives emit sorted")

	var ads struct {
		Product  string `json:"product"`
		AdGroups []struct {
			Name      string   `json:"name"`
			Headlines []string `json:"headlines"`
		} `json:"ad_groups"`
	}
	raw, err := os.ReadFile(filepath.Join(dir, "ads.json"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &ads))
	require.Len(t, ads.AdGroups, 2)
	for _, g := range ads.AdGroups {
		assert.Equal(t, "PixelConvert - Image Converter", g.Headlines[0], "anchor headline pins first")
	}

	competitors, err := os.ReadFile(filepath.Join(dir, "competitors.md"))
	require.NoError(t, err)
	assert.Contains(t, string(competitors), "cloudconvert.com")
}

func TestRun_SERPCallsBoundedByQuota(t *testing.T) {
	serp := &connectors.StaticSERP{}
	o, _ := newOrchestrator(t, []connectors.Connector{kwpConnector()}, serp, map[string]int64{"serp_calls": 100})

	summary, err := o.Run(context.Background())
	require.NoError(t, err)

	// Two clusters with two primaries each, one market.
	assert.Equal(t, int64(4), summary.SERPCallsUsed)
}

func TestRun_SERPQuotaExhaustedSkipsAnalysis(t *testing.T) {
	serp := &connectors.StaticSERP{}
	o, outDir := newOrchestrator(t, []connectors.Connector{kwpConnector()}, serp, map[string]int64{"serp_calls": 0})

	summary, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(0), summary.SERPCallsUsed)
	assert.Contains(t, summary.Warnings, "competitor analysis skipped: serp quota exhausted")

	competitors, err := os.ReadFile(filepath.Join(outDir, "PixelConvert", "2026-03-01", "competitors.md"))
	require.NoError(t, err)
	assert.Contains(t, string(competitors), "No SERP competitor data collected this run.")
}

func TestRun_ConnectorFailureDegrades(t *testing.T) {
	broken := &connectors.Static{
		ConnectorName: "gsc_export",
		DataSource:    keywords.SourceGSC,
		Err:           errors.New("export unreadable"),
	}
	o, _ := newOrchestrator(t, []connectors.Connector{kwpConnector(), broken}, nil, nil)

	summary, err := o.Run(context.Background())
	require.NoError(t, err, "a degraded connector never fails the run")

	assert.Equal(t, 4, summary.TotalKeywords)
	require.Len(t, summary.Warnings, 1)
	assert.Contains(t, summary.Warnings[0], "gsc_export")
}

func TestRun_CancelledContextEmitsNothing(t *testing.T) {
	o, outDir := newOrchestrator(t, []connectors.Connector{kwpConnector()}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := o.Run(ctx)
	require.Error(t, err)

	_, statErr := os.Stat(filepath.Join(outDir, "PixelConvert"))
	assert.True(t, os.IsNotExist(statErr), "cancelled runs leave no partial output")
}

func TestRun_Deterministic(t *testing.T) {
	run := func() []byte {
		serp := &connectors.StaticSERP{Results: map[string]*connectors.SERPResult{
			"webp to png|AU": {Query: "webp to png", Market: "AU", Competitors: []string{"convertio.co"}},
		}}
		o, outDir := newOrchestrator(t, []connectors.Connector{kwpConnector()}, serp, map[string]int64{"serp_calls": 100})
		_, err := o.Run(context.Background())
		require.NoError(t, err)

		data, err := os.ReadFile(filepath.Join(outDir, "PixelConvert", "2026-03-01", "summary.json"))
		require.NoError(t, err)
		return data
	}

	assert.Equal(t, run(), run(), "identical inputs emit byte-identical summaries")
}

func TestEmit_ReplacesPreviousPlan(t *testing.T) {
	o, outDir := newOrchestrator(t, []connectors.Connector{kwpConnector()}, nil, nil)

	dir := filepath.Join(outDir, "PixelConvert", "2026-03-01")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	stale := filepath.Join(dir, "stale.txt")
	require.NoError(t, os.WriteFile(stale, []byte("old"), 0o644))

	_, err := o.Run(context.Background())
	require.NoError(t, err)

	_, statErr := os.Stat(stale)
	assert.True(t, os.IsNotExist(statErr), "re-emission clears the previous plan directory")
	_, statErr = os.Stat(filepath.Join(dir, "keywords.csv"))
	assert.NoError(t, statErr)
}

func TestTopOpportunities_CapAndShape(t *testing.T) {
	recs := make([]keywords.Record, 0, 12)
	for i := 0; i < 12; i++ {
		recs = append(recs, keywords.Record{
			Keyword:       "kw",
			PrimaryMarket: "AU",
			FinalScore:    float64(12-i) / 100.0,
			Cluster:       "misc",
		})
	}
	top := topOpportunities(recs, 10)
	require.Len(t, top, 10)
	assert.InDelta(t, 0.12, float64(top[0].Score), 1e-9)
	assert.Equal(t, "misc", top[0].Cluster)
}

func TestCanonicalJSON_RoundsNumericTypes(t *testing.T) {
	data, err := canonicalJSON(struct {
		S Score `json:"s"`
		M Money `json:"m"`
		R Rate  `json:"r"`
	}{S: 0.66549, M: 12.5, R: 1.0 / 3.0})
	require.NoError(t, err)

	assert.Contains(t, string(data), `"s": 0.665`)
	assert.Contains(t, string(data), `"m": 12.50`)
	assert.Contains(t, string(data), `"r": 0.3333`)
}
