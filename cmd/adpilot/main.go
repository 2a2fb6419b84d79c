package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/adpilot/adpilot/internal/errs"
)

const (
	appName = "adpilot"
	version = "v1.4.0"
)

func main() {
	_ = godotenv.Load()

	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	applyLogLevel()

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Offline marketing intelligence for browser-extension products",
		Version: version,
		Long: `adpilot plans, tests, and protects paid-search spend for browser
extension products: keyword plans, A/B experiments, waste analysis, and
guardrailed budget changes. All commands run offline against config and
exported reports; nothing talks to an ad platform directly.`,
		Run: runDefaultEntry,
	}

	rootCmd.AddCommand(newPlanCmd())
	rootCmd.AddCommand(newExperimentCmd())
	rootCmd.AddCommand(newWasteCmd())
	rootCmd.AddCommand(newApprovalCmd())
	rootCmd.AddCommand(newGuardrailCmd())
	rootCmd.AddCommand(newMonitorCmd())

	if err := rootCmd.Execute(); err != nil {
		printFatal(err)
		os.Exit(1)
	}
}

// applyLogLevel honors ADPILOT_LOG_LEVEL; the only environment override.
func applyLogLevel() {
	level := os.Getenv("ADPILOT_LOG_LEVEL")
	if level == "" {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
		return
	}
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
		log.Warn().Str("level", level).Msg("unknown ADPILOT_LOG_LEVEL, using info")
		return
	}
	zerolog.SetGlobalLevel(parsed)
}

// runDefaultEntry shows usage guidance; there is no interactive mode.
func runDefaultEntry(cmd *cobra.Command, args []string) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Fprintf(os.Stderr, "adpilot requires a subcommand in non-interactive use:\n\n")
		fmt.Fprintf(os.Stderr, "  adpilot plan --product config/product.yaml --out plans\n")
		fmt.Fprintf(os.Stderr, "  adpilot waste analyze search-terms.csv\n")
		fmt.Fprintf(os.Stderr, "  adpilot --help\n")
		os.Exit(2)
	}
	_ = cmd.Help()
}

// printFatal emits the single structured error record commands promise on
// fatal failure.
func printFatal(err error) {
	kind := errs.KindOf(err)
	if kind == "" {
		kind = "internal"
	}
	record := map[string]interface{}{
		"kind":    string(kind),
		"message": err.Error(),
	}
	var typed *errs.Error
	if errors.As(err, &typed) && len(typed.Context) > 0 {
		record["context"] = typed.Context
	}
	writeJSON(os.Stderr, record)
}
