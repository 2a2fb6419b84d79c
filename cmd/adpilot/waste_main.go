package main

import (
	"encoding/csv"
	"os"
	"strconv"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/adpilot/adpilot/internal/errs"
	"github.com/adpilot/adpilot/internal/waste"
)

func newWasteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "waste",
		Short: "Analyze wasted search spend",
	}

	analyzeCmd := &cobra.Command{
		Use:   "analyze [search-terms.csv]",
		Short: "Categorize wasted spend and synthesize negative keywords",
		Long: `Reads a search-term report (term, ad_group, campaign, impressions,
clicks, cost, conversions), flags wasted spend, and derives exact, phrase,
and broad negative-keyword recommendations sorted by estimated savings.`,
		Args: cobra.ExactArgs(1),
		RunE: runWasteAnalyze,
	}
	analyzeCmd.Flags().String("out", "", "Also write the negatives as CSV to this path")
	analyzeCmd.Flags().Float64("min-cost", 0, "HighCostNoConvert cost floor (default 10)")
	analyzeCmd.Flags().Int64("min-impressions", 0, "LowCtrHighImpr impression floor (default 1000)")
	analyzeCmd.Flags().Float64("low-ctr", 0, "LowCtrHighImpr CTR ceiling (default 0.005)")

	cmd.AddCommand(analyzeCmd)
	return cmd
}

func runWasteAnalyze(cmd *cobra.Command, args []string) error {
	out, _ := cmd.Flags().GetString("out")
	minCost, _ := cmd.Flags().GetFloat64("min-cost")
	minImpr, _ := cmd.Flags().GetInt64("min-impressions")
	lowCTR, _ := cmd.Flags().GetFloat64("low-ctr")

	f, err := os.Open(args[0])
	if err != nil {
		return errs.Wrap(errs.ValidationFailed, err, "opening search-term report %s", args[0])
	}
	defer f.Close()

	terms, err := waste.ParseCSV(f)
	if err != nil {
		return err
	}

	analyzer := waste.NewAnalyzer(waste.Config{
		MinCost: minCost,
		MinImpr: minImpr,
		LowCTR:  lowCTR,
	})
	report := analyzer.Analyze(terms)

	if out != "" {
		if err := writeNegativesCSV(out, report.Recommendations); err != nil {
			return err
		}
		log.Info().Str("path", out).Int("negatives", len(report.Recommendations)).Msg("negatives written")
	}

	emitResult(report)
	return nil
}

func writeNegativesCSV(path string, recs []waste.Recommendation) error {
	f, err := os.Create(path)
	if err != nil {
		return errs.Wrap(errs.StorageFailure, err, "creating negatives CSV %s", path)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	if err := w.Write([]string{"keyword", "match_type", "level", "campaign", "ad_group", "estimated_savings", "confidence", "reason"}); err != nil {
		return errs.Wrap(errs.StorageFailure, err, "writing negatives header")
	}
	for _, r := range recs {
		row := []string{
			r.Keyword,
			string(r.MatchType),
			string(r.Level),
			r.Campaign,
			r.AdGroup,
			strconv.FormatFloat(r.EstimatedSavings, 'f', 2, 64),
			strconv.FormatFloat(r.Confidence, 'f', 2, 64),
			r.Reason,
		}
		if err := w.Write(row); err != nil {
			return errs.Wrap(errs.StorageFailure, err, "writing negatives row")
		}
	}
	return nil
}
