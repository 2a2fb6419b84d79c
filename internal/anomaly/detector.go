package anomaly

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/adpilot/adpilot/internal/clock"
	"github.com/adpilot/adpilot/internal/telemetry"
)

// Point is one time-series observation for a metric key.
type Point struct {
	MetricKey string            `json:"metric_key"`
	Timestamp time.Time         `json:"timestamp"`
	Value     float64           `json:"value"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Anomaly is one flagged observation with its grading and guidance.
type Anomaly struct {
	ID              string      `json:"id"`
	MetricKey       string      `json:"metric_key"`
	RuleID          string      `json:"rule_id"`
	Type            AnomalyType `json:"type"`
	Severity        Severity    `json:"severity"`
	Observed        float64     `json:"observed"`
	Expected        float64     `json:"expected"`
	Threshold       float64     `json:"threshold"`
	Deviation       float64     `json:"deviation_pct"`
	Confidence      float64     `json:"confidence"`
	PossibleCauses  []string    `json:"possible_causes"`
	Recommendations []string    `json:"recommendations"`
	Timestamp       time.Time   `json:"timestamp"`
}

// Detector maintains a bounded ring of recent points per metric key and
// applies every matching rule as each point arrives. Writers take a short
// per-detector critical section; detection math runs on a snapshot.
type Detector struct {
	mu       sync.Mutex
	series   map[string][]Point
	lastFire map[string]time.Time

	rules    []Rule
	clock    clock.Clock
	maxRing  int
	cooldown time.Duration
}

// Config tunes the detector.
type Config struct {
	// RingSize bounds the per-key history; default 1000.
	RingSize int
	// Cooldown suppresses repeat anomalies per (metric, rule, severity).
	Cooldown time.Duration
}

// NewDetector creates a detector with the given rules.
func NewDetector(rules []Rule, clk clock.Clock, cfg Config) *Detector {
	if cfg.RingSize <= 0 {
		cfg.RingSize = 1000
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Minute
	}
	return &Detector{
		series:   make(map[string][]Point),
		lastFire: make(map[string]time.Time),
		rules:    rules,
		clock:    clk,
		maxRing:  cfg.RingSize,
		cooldown: cfg.Cooldown,
	}
}

// Observe ingests one point and returns any anomalies it triggers. The
// point joins the ring after evaluation so rules compare it against history
// that does not yet include it.
func (d *Detector) Observe(p Point) []Anomaly {
	d.mu.Lock()
	history := append([]Point(nil), d.series[p.MetricKey]...)

	ring := append(d.series[p.MetricKey], p)
	if len(ring) > d.maxRing {
		ring = ring[len(ring)-d.maxRing:]
	}
	d.series[p.MetricKey] = ring
	d.mu.Unlock()

	var out []Anomaly
	for i := range d.rules {
		rule := &d.rules[i]
		if !rule.matches(p.MetricKey) {
			continue
		}

		eval := rule.evaluate(history, p.Value)
		if !eval.flagged {
			continue
		}

		severity := severityFor(eval.deviation)
		if d.inCooldown(p.MetricKey, rule.ID, severity) {
			continue
		}

		anomaly := Anomaly{
			ID:              uuid.NewString(),
			MetricKey:       p.MetricKey,
			RuleID:          rule.ID,
			Type:            rule.Type,
			Severity:        severity,
			Observed:        eval.observed,
			Expected:        eval.expected,
			Threshold:       eval.threshold,
			Deviation:       eval.deviation,
			Confidence:      eval.confidence,
			PossibleCauses:  causesFor(p.MetricKey),
			Recommendations: recommendationsFor(p.MetricKey),
			Timestamp:       d.clock.Now(),
		}
		out = append(out, anomaly)

		telemetry.AnomaliesFlagged.WithLabelValues(string(rule.Kind), string(severity)).Inc()
		log.Warn().
			Str("metric", p.MetricKey).
			Str("rule", rule.ID).
			Str("severity", string(severity)).
			Float64("observed", eval.observed).
			Float64("expected", eval.expected).
			Msg("anomaly flagged")
	}
	return out
}

// SeriesLen returns the current ring length for a metric key.
func (d *Detector) SeriesLen(metricKey string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.series[metricKey])
}

func (d *Detector) inCooldown(metric, ruleID string, severity Severity) bool {
	key := metric + "|" + ruleID + "|" + string(severity)
	now := d.clock.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	if last, ok := d.lastFire[key]; ok && now.Sub(last) < d.cooldown {
		return true
	}
	d.lastFire[key] = now
	return false
}
