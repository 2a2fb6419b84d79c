package connectors

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/adpilot/adpilot/internal/errs"
	"github.com/adpilot/adpilot/internal/keywords"
	"github.com/adpilot/adpilot/internal/ledger"
	"github.com/adpilot/adpilot/internal/telemetry"
)

// Gated wraps a connector with the cache, the quota ledger, request pacing,
// and a circuit breaker. A cache hit bypasses every gate; a quota refusal or
// an open breaker surfaces as a typed non-fatal error the orchestrator
// downgrades to a run warning.
type Gated struct {
	inner   Connector
	ledger  *ledger.Ledger
	api     string
	ttl     time.Duration
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

// GateConfig tunes one gated connector.
type GateConfig struct {
	// API is the logical quota bucket, e.g. "keyword_calls".
	API string
	// TTL is how long fetched payloads stay cached.
	TTL time.Duration
	// RPS paces outbound requests; zero means unpaced.
	RPS float64
	// Burst is the limiter burst size; defaults to 1 when RPS is set.
	Burst int
}

// NewGated wraps inner with the standard gate stack.
func NewGated(inner Connector, led *ledger.Ledger, cfg GateConfig) *Gated {
	var limiter *rate.Limiter
	if cfg.RPS > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        inner.Name(),
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})

	return &Gated{
		inner:   inner,
		ledger:  led,
		api:     cfg.API,
		ttl:     cfg.TTL,
		limiter: limiter,
		breaker: breaker,
	}
}

func (g *Gated) Name() string                  { return g.inner.Name() }
func (g *Gated) Source() keywords.DataSource   { return g.inner.Source() }

// Fetch serves from cache when possible, otherwise checks quota, paces the
// request, runs it behind the breaker, records the call, and caches the
// response. The call counter only advances on a successful fetch.
func (g *Gated) Fetch(ctx context.Context, req Request) ([]keywords.Record, error) {
	key := ledger.Key(g.inner.Name(), cacheParams(req))

	if payload, hit := g.ledger.Get(ctx, g.inner.Name(), key); hit {
		var records []keywords.Record
		if err := json.Unmarshal(payload, &records); err == nil {
			return records, nil
		}
		log.Warn().Str("connector", g.inner.Name()).Msg("cache payload undecodable, refetching")
	}

	if !g.ledger.CanCall(ctx, g.api) {
		return nil, errs.New(errs.QuotaExhausted, "%s daily quota exhausted", g.api).
			WithContext("connector", g.inner.Name())
	}

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	out, err := g.breaker.Execute(func() (interface{}, error) {
		return g.inner.Fetch(ctx, req)
	})
	if err != nil {
		telemetry.ConnectorErrors.WithLabelValues(g.inner.Name()).Inc()
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, errs.Wrap(errs.ConnectorUnavailable, err, "%s circuit open", g.inner.Name())
		}
		return nil, errs.Wrap(errs.ConnectorUnavailable, err, "%s fetch failed", g.inner.Name())
	}
	records := out.([]keywords.Record)

	if err := g.ledger.RecordCall(ctx, g.api); err != nil {
		// Ledger write failure is fatal to this call: results fetched under
		// an unaccounted call are discarded.
		return nil, err
	}

	if payload, err := json.Marshal(records); err == nil {
		g.ledger.Put(ctx, g.inner.Name(), key, payload, g.ttl)
	}

	return records, nil
}

func cacheParams(req Request) map[string]string {
	return map[string]string{
		"product": req.Product,
		"seeds":   strings.Join(req.Seeds, ","),
		"markets": strings.Join(req.Markets, ","),
	}
}
