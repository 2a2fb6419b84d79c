package main

import (
	"context"
	"encoding/json"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/adpilot/adpilot/internal/clock"
	"github.com/adpilot/adpilot/internal/config"
	"github.com/adpilot/adpilot/internal/errs"
	"github.com/adpilot/adpilot/internal/guardrail"
	"github.com/adpilot/adpilot/internal/persistence/postgres"
)

func newGuardrailCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "guardrail",
		Short: "Validate budget-change proposals",
	}

	validateCmd := &cobra.Command{
		Use:   "validate [proposal.json]",
		Short: "Run the five pre-commit rules against a proposal",
		Long: `Validates a budget-change proposal against the fixed rule chain:
budget cap, max change percentage, minimum quality score, landing-page
health, and claims freshness. Every validation writes one audit row.
A proposal with violations can still be overridden by an authorized
caller unless a critical rule failed.`,
		Args: cobra.ExactArgs(1),
		RunE: runGuardrailValidate,
	}
	validateCmd.Flags().String("constraints", "", "Guardrail constraints YAML override")

	cmd.AddCommand(validateCmd)
	return cmd
}

func runGuardrailValidate(cmd *cobra.Command, args []string) error {
	constraintsPath, _ := cmd.Flags().GetString("constraints")

	data, err := os.ReadFile(args[0])
	if err != nil {
		return errs.Wrap(errs.ValidationFailed, err, "reading proposal %s", args[0])
	}
	var proposal guardrail.Proposal
	if err := json.Unmarshal(data, &proposal); err != nil {
		return errs.Wrap(errs.ValidationFailed, err, "parsing proposal %s", args[0])
	}

	constraints, err := config.LoadGuardrails(constraintsPath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	validator, err := openValidator(ctx, constraints)
	if err != nil {
		return err
	}

	result, err := validator.Validate(ctx, &proposal)
	if err != nil {
		return err
	}

	emitResult(result)
	if !result.Passed && !result.CanOverride {
		return errs.New(errs.GuardrailViolation, "proposal %s blocked by critical violations", result.ProposalHash)
	}
	return nil
}

// openValidator wires the rule chain. With a database the quality-score,
// landing-page, and claims collaborators read their external tables; without
// one they are empty in-memory sources. Absent quality and health data
// passes; absent claims records still block budget increases.
func openValidator(ctx context.Context, constraints *config.GuardrailConstraints) (*guardrail.Validator, error) {
	clk := clock.NewWallClock()

	dsn := os.Getenv("ADPILOT_DATABASE_URL")
	if dsn == "" {
		rules := guardrail.DefaultRules(constraints,
			guardrail.NewMemoryQualityScores(),
			guardrail.NewMemoryLandingPageHealth(),
			guardrail.NewMemoryClaims(),
			clk)
		return guardrail.NewValidator(rules, guardrail.NewMemoryAuditLog(), clk), nil
	}

	db, err := postgres.Connect(ctx, dsn)
	if err != nil {
		return nil, err
	}
	rules := guardrail.DefaultRules(constraints,
		postgres.NewQualitySource(db, 0),
		postgres.NewHealthSource(db, 0),
		postgres.NewClaimsSource(db, 0),
		clk)
	return guardrail.NewValidator(rules, postgres.NewGuardrailAudit(db, 0), clk), nil
}

// splitEnvList splits a comma-separated environment value.
func splitEnvList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
