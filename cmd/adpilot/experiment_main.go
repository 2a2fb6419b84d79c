package main

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/adpilot/adpilot/internal/clock"
	"github.com/adpilot/adpilot/internal/config"
	"github.com/adpilot/adpilot/internal/errs"
	"github.com/adpilot/adpilot/internal/experiment"
	"github.com/adpilot/adpilot/internal/persistence/postgres"
	"github.com/adpilot/adpilot/internal/variants"
)

const commandTimeout = 30 * time.Second

func newExperimentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "experiment",
		Short: "Manage A/B experiments",
		Long:  "Create, run, and analyze RSA and landing-page experiments with guarded lifecycle transitions.",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a draft experiment from a definition file",
		RunE:  runExperimentCreate,
	}
	createCmd.Flags().String("file", "", "Experiment definition JSON (required)")
	createCmd.Flags().String("product", "", "Product config, for variant generation from a base creative")
	createCmd.Flags().Int64("seed", 1, "PRNG seed for variant generation")
	createCmd.Flags().String("actor", "cli", "Acting user recorded in the audit log")

	startCmd := lifecycleCmd("start", "Start a draft experiment (runs start guards)",
		func(ctx context.Context, eng *experiment.Engine, id, actor, _ string) (*experiment.Experiment, error) {
			return eng.Start(ctx, id, actor)
		})
	pauseCmd := lifecycleCmd("pause", "Pause an active experiment",
		func(ctx context.Context, eng *experiment.Engine, id, actor, _ string) (*experiment.Experiment, error) {
			return eng.Pause(ctx, id, actor)
		})
	resumeCmd := lifecycleCmd("resume", "Resume a paused experiment",
		func(ctx context.Context, eng *experiment.Engine, id, actor, _ string) (*experiment.Experiment, error) {
			return eng.Resume(ctx, id, actor)
		})
	abortCmd := lifecycleCmd("abort", "Abort an active or paused experiment",
		func(ctx context.Context, eng *experiment.Engine, id, actor, _ string) (*experiment.Experiment, error) {
			return eng.Abort(ctx, id, actor)
		})

	completeCmd := lifecycleCmd("complete", "Complete an active experiment with a winner",
		func(ctx context.Context, eng *experiment.Engine, id, actor, winner string) (*experiment.Experiment, error) {
			return eng.Complete(ctx, id, winner, actor)
		})
	completeCmd.Flags().String("winner", "", "Winning variant id/name, or \"control\" (required)")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List experiments",
		RunE:  runExperimentList,
	}
	listCmd.Flags().String("product", "", "Filter by product")

	recordCmd := &cobra.Command{
		Use:   "record",
		Short: "Record one day of variant metrics (idempotent)",
		RunE:  runExperimentRecord,
	}
	recordCmd.Flags().String("id", "", "Experiment id (required)")
	recordCmd.Flags().String("variant", "", "Variant id (required)")
	recordCmd.Flags().String("date", "", "Metric date YYYY-MM-DD (required)")
	recordCmd.Flags().Int64("impressions", 0, "Impressions")
	recordCmd.Flags().Int64("clicks", 0, "Clicks")
	recordCmd.Flags().Float64("cost", 0, "Cost")
	recordCmd.Flags().Int64("conversions", 0, "Conversions")
	recordCmd.Flags().Float64("conversion-value", 0, "Conversion value")

	analyzeCmd := &cobra.Command{
		Use:   "analyze [id]",
		Short: "Run the statistical analysis for an experiment",
		Args:  cobra.ExactArgs(1),
		RunE:  runExperimentAnalyze,
	}
	analyzeCmd.Flags().Int("peek", 1, "Sequential-analysis peek number (1..5)")
	analyzeCmd.Flags().Int64("seed", 1, "PRNG seed for Bayesian sampling")

	exportCmd := &cobra.Command{
		Use:   "export [id]",
		Short: "Export a canonical JSON report of the experiment and its analysis",
		Args:  cobra.ExactArgs(1),
		RunE:  runExperimentExport,
	}
	exportCmd.Flags().String("out", "", "Write the report to a file instead of stdout")
	exportCmd.Flags().Int64("seed", 1, "PRNG seed for Bayesian sampling")

	cmd.AddCommand(createCmd, startCmd, pauseCmd, resumeCmd, completeCmd,
		abortCmd, listCmd, recordCmd, analyzeCmd, exportCmd)
	return cmd
}

type transitionFunc func(ctx context.Context, eng *experiment.Engine, id, actor, winner string) (*experiment.Experiment, error)

func lifecycleCmd(verb, short string, fn transitionFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   verb + " [id]",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, _ := cmd.Flags().GetString("actor")
			winner, _ := cmd.Flags().GetString("winner")

			eng, err := openEngine(1)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
			defer cancel()

			exp, err := fn(ctx, eng, args[0], actor, winner)
			if err != nil {
				return err
			}
			emitResult(exp)
			return nil
		},
	}
	cmd.Flags().String("actor", "cli", "Acting user recorded in the audit log")
	return cmd
}

// experimentDefinition is the create-file format. Variants may be given
// directly, or generated from a base creative plus strategies.
type experimentDefinition struct {
	Type            experiment.Type         `json:"type"`
	Product         string                  `json:"product"`
	TargetID        string                  `json:"target_id"`
	TargetMetric    experiment.Metric       `json:"target_metric"`
	MinSampleSize   int64                   `json:"min_sample_size"`
	ConfidenceLevel float64                 `json:"confidence_level"`
	Guards          *experiment.GuardConfig `json:"guards,omitempty"`
	Variants        []experiment.Variant    `json:"variants,omitempty"`

	Base       *variants.BaseCreative `json:"base,omitempty"`
	Page       *variants.BasePage     `json:"page,omitempty"`
	Strategies []string               `json:"strategies,omitempty"`
}

func runExperimentCreate(cmd *cobra.Command, args []string) error {
	file, _ := cmd.Flags().GetString("file")
	productPath, _ := cmd.Flags().GetString("product")
	seed, _ := cmd.Flags().GetInt64("seed")
	actor, _ := cmd.Flags().GetString("actor")

	if file == "" {
		return errs.New(errs.ValidationFailed, "--file is required")
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return errs.Wrap(errs.ConfigInvalid, err, "reading experiment definition %s", file)
	}
	var def experimentDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return errs.Wrap(errs.ConfigInvalid, err, "parsing experiment definition %s", file)
	}

	if len(def.Variants) == 0 && (def.Base != nil || def.Page != nil) {
		if productPath == "" {
			return errs.New(errs.ValidationFailed, "--product is required when generating variants from a base creative or page")
		}
		product, err := config.LoadProduct(productPath)
		if err != nil {
			return err
		}
		gen := variants.NewGenerator(product, clock.NewRand(seed), 0)
		var generated []experiment.Variant
		if def.Base != nil {
			generated, err = gen.Generate(*def.Base, def.Strategies)
		} else {
			generated, err = gen.GeneratePages(*def.Page, def.Strategies)
		}
		if err != nil {
			return err
		}
		def.Variants = generated
	}

	if def.Type == experiment.TypeLandingPage {
		fillPageSimilarity(def.Variants)
	}

	eng, err := openEngine(seed)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	exp, err := eng.Create(ctx, experiment.CreateParams{
		Type:            def.Type,
		Product:         def.Product,
		TargetID:        def.TargetID,
		TargetMetric:    def.TargetMetric,
		Variants:        def.Variants,
		MinSampleSize:   def.MinSampleSize,
		ConfidenceLevel: def.ConfidenceLevel,
		Guards:          def.Guards,
		Actor:           actor,
	})
	if err != nil {
		return err
	}
	emitResult(exp)
	return nil
}

// fillPageSimilarity backfills similarity-to-control for landing-page
// variants supplied directly in the definition file.
func fillPageSimilarity(vs []experiment.Variant) {
	var control *experiment.Variant
	for i := range vs {
		if vs[i].IsControl {
			control = &vs[i]
			break
		}
	}
	if control == nil {
		return
	}
	for i := range vs {
		if vs[i].IsControl || vs[i].SimilarityToControl != 0 {
			continue
		}
		vs[i].SimilarityToControl = variants.PageSimilarityOf(control, &vs[i])
	}
}

func runExperimentList(cmd *cobra.Command, args []string) error {
	product, _ := cmd.Flags().GetString("product")

	eng, err := openEngine(1)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	list, err := eng.List(ctx, product)
	if err != nil {
		return err
	}
	emitResult(map[string]interface{}{"experiments": list, "count": len(list)})
	return nil
}

func runExperimentRecord(cmd *cobra.Command, args []string) error {
	id, _ := cmd.Flags().GetString("id")
	variant, _ := cmd.Flags().GetString("variant")
	date, _ := cmd.Flags().GetString("date")
	impressions, _ := cmd.Flags().GetInt64("impressions")
	clicks, _ := cmd.Flags().GetInt64("clicks")
	cost, _ := cmd.Flags().GetFloat64("cost")
	conversions, _ := cmd.Flags().GetInt64("conversions")
	conversionValue, _ := cmd.Flags().GetFloat64("conversion-value")

	eng, err := openEngine(1)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	point := experiment.MetricPoint{
		ExperimentID:    id,
		VariantID:       variant,
		Date:            date,
		Impressions:     impressions,
		Clicks:          clicks,
		Cost:            cost,
		Conversions:     conversions,
		ConversionValue: conversionValue,
	}
	if err := eng.RecordMetrics(ctx, point); err != nil {
		return err
	}
	emitResult(map[string]string{"status": "recorded", "experiment": id, "variant": variant, "date": date})
	return nil
}

func runExperimentAnalyze(cmd *cobra.Command, args []string) error {
	peek, _ := cmd.Flags().GetInt("peek")
	seed, _ := cmd.Flags().GetInt64("seed")

	eng, err := openEngine(seed)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	analysis, err := eng.Analyze(ctx, args[0], peek)
	if err != nil {
		return err
	}
	emitResult(analysis)
	return nil
}

func runExperimentExport(cmd *cobra.Command, args []string) error {
	out, _ := cmd.Flags().GetString("out")
	seed, _ := cmd.Flags().GetInt64("seed")

	eng, err := openEngine(seed)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	exp, err := eng.Get(ctx, args[0])
	if err != nil {
		return err
	}
	analysis, err := eng.Analyze(ctx, args[0], 1)
	if err != nil {
		return err
	}
	audit, err := eng.AuditTrail(ctx, args[0])
	if err != nil {
		return err
	}

	report := map[string]interface{}{
		"experiment": exp,
		"analysis":   analysis,
		"audit":      audit,
	}
	if out == "" {
		emitResult(report)
		return nil
	}

	f, err := os.Create(out)
	if err != nil {
		return errs.Wrap(errs.StorageFailure, err, "creating export file %s", out)
	}
	defer f.Close()
	writeJSON(f, report)
	return nil
}

// openEngine selects the experiment repository: postgres when
// ADPILOT_DATABASE_URL is set, in-process memory otherwise.
func openEngine(seed int64) (*experiment.Engine, error) {
	repo, err := openExperimentRepo()
	if err != nil {
		return nil, err
	}
	return experiment.NewEngine(repo, clock.NewWallClock(), clock.NewRand(seed)), nil
}

func openExperimentRepo() (experiment.Repository, error) {
	dsn := os.Getenv("ADPILOT_DATABASE_URL")
	if dsn == "" {
		return experiment.NewMemoryRepository(), nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	db, err := postgres.Connect(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return postgres.NewExperimentRepo(db, 0), nil
}
