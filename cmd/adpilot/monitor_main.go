package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"

	"github.com/adpilot/adpilot/internal/anomaly"
	"github.com/adpilot/adpilot/internal/clock"
	"github.com/adpilot/adpilot/internal/errs"
	"github.com/adpilot/adpilot/internal/telemetry"
)

func newMonitorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Start the monitoring HTTP server",
		Long:  "Serves /health and prometheus /metrics for scrape-based monitoring.",
		RunE:  runMonitor,
	}
	cmd.Flags().String("port", "8080", "HTTP server port")
	cmd.Flags().String("host", "0.0.0.0", "HTTP server host")

	scanCmd := &cobra.Command{
		Use:   "scan [metrics.csv]",
		Short: "Replay a metric export through the anomaly rules",
		Long: `Reads a metric export (date, metric, value), replays it through the
anomaly rules in timestamp order, and prints the flagged anomalies with their
severity, likely causes, and recommendations.`,
		Args: cobra.ExactArgs(1),
		RunE: runMonitorScan,
	}
	scanCmd.Flags().String("rules", "", "Rule overrides YAML; defaults to the built-in rule set")
	cmd.AddCommand(scanCmd)

	return cmd
}

func runMonitorScan(cmd *cobra.Command, args []string) error {
	rulesPath, _ := cmd.Flags().GetString("rules")
	rules, err := loadScanRules(rulesPath)
	if err != nil {
		return err
	}

	f, err := os.Open(args[0])
	if err != nil {
		return errs.Wrap(errs.ValidationFailed, err, "opening metric export %s", args[0])
	}
	defer f.Close()

	points, err := parseMetricCSV(f)
	if err != nil {
		return err
	}

	result := struct {
		PointsScanned int               `json:"points_scanned"`
		Anomalies     []anomaly.Anomaly `json:"anomalies"`
	}{PointsScanned: len(points), Anomalies: []anomaly.Anomaly{}}

	if len(points) > 0 {
		// The replay clock tracks data time so cooldown suppression behaves
		// as it would have live.
		clk := clock.NewFixed(points[0].Timestamp)
		detector := anomaly.NewDetector(rules, clk, anomaly.Config{})
		for _, p := range points {
			clk.Set(p.Timestamp)
			result.Anomalies = append(result.Anomalies, detector.Observe(p)...)
		}
	}

	log.Info().
		Int("points", result.PointsScanned).
		Int("anomalies", len(result.Anomalies)).
		Msg("anomaly scan complete")
	emitResult(result)
	return nil
}

func loadScanRules(path string) ([]anomaly.Rule, error) {
	if path == "" {
		return anomaly.DefaultRules(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(errs.ConfigInvalid, err, "failed to read rules file %s", path)
	}
	var doc struct {
		Rules []anomaly.Rule `yaml:"rules"`
	}
	if err := yaml.UnmarshalStrict(data, &doc); err != nil {
		return nil, errs.Wrap(errs.ConfigInvalid, err, "failed to parse rules YAML %s", path)
	}
	if len(doc.Rules) == 0 {
		return nil, errs.New(errs.ConfigInvalid, "rules file %s defines no rules", path)
	}
	return doc.Rules, nil
}

// parseMetricCSV reads (date, metric, value) rows, header matched by name in
// any column order, and returns the points sorted by timestamp.
func parseMetricCSV(r io.Reader) ([]anomaly.Point, error) {
	reader := csv.NewReader(r)
	header, err := reader.Read()
	if err != nil {
		return nil, errs.Wrap(errs.ValidationFailed, err, "reading metric export header")
	}

	idx := make(map[string]int, len(header))
	for i, col := range header {
		idx[col] = i
	}
	for _, required := range []string{"date", "metric", "value"} {
		if _, ok := idx[required]; !ok {
			return nil, errs.New(errs.ValidationFailed, "metric export missing column %q", required)
		}
	}

	var points []anomaly.Point
	for line := 2; ; line++ {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errs.Wrap(errs.ValidationFailed, err, "reading metric export line %d", line)
		}

		ts, err := time.Parse("2006-01-02", row[idx["date"]])
		if err != nil {
			return nil, errs.Wrap(errs.ValidationFailed, err, "bad date on line %d", line)
		}
		value, err := strconv.ParseFloat(row[idx["value"]], 64)
		if err != nil {
			return nil, errs.Wrap(errs.ValidationFailed, err, "bad value on line %d", line)
		}
		points = append(points, anomaly.Point{
			MetricKey: row[idx["metric"]],
			Timestamp: ts,
			Value:     value,
		})
	}

	sort.SliceStable(points, func(i, j int) bool {
		return points[i].Timestamp.Before(points[j].Timestamp)
	})
	return points, nil
}

func runMonitor(cmd *cobra.Command, args []string) error {
	port, _ := cmd.Flags().GetString("port")
	host, _ := cmd.Flags().GetString("host")

	if _, err := strconv.Atoi(port); err != nil {
		return fmt.Errorf("invalid port: %s", port)
	}
	addr := fmt.Sprintf("%s:%s", host, port)

	started := time.Now()
	router := mux.NewRouter()
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status":         "ok",
			"version":        version,
			"uptime_seconds": int64(time.Since(started).Seconds()),
		})
	}).Methods(http.MethodGet)
	router.Handle("/metrics", telemetry.Handler()).Methods(http.MethodGet)

	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("monitoring server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down monitoring server")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}
