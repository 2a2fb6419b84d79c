package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/adpilot/adpilot/internal/clock"
	"github.com/adpilot/adpilot/internal/errs"
	"github.com/adpilot/adpilot/internal/telemetry"
)

// Ledger combines the content-addressed response cache with the per-API daily
// quota counters. Cache read failures degrade to misses; counter write
// failures are fatal to the call being gated.
type Ledger struct {
	store   Store
	clock   clock.Clock
	budgets map[string]int64

	mu    sync.Mutex
	stats map[string]*EndpointStats
}

// EndpointStats tracks cache effectiveness per endpoint.
type EndpointStats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
}

// New creates a ledger over the given store. budgets maps logical API names
// (serp_calls, keyword_calls, ...) to their daily ceilings; an API with no
// budget is unlimited.
func New(store Store, clk clock.Clock, budgets map[string]int64) *Ledger {
	return &Ledger{
		store:   store,
		clock:   clk,
		budgets: budgets,
		stats:   make(map[string]*EndpointStats),
	}
}

// Key derives the content-addressed cache key from an endpoint and its
// canonicalized parameters. Identical logical requests hash identically
// regardless of parameter order.
func Key(endpoint string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(endpoint)
	for _, k := range keys {
		sb.WriteByte('\x00')
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(params[k])
	}

	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}

// Get returns the cached payload for key, or (nil, false) on a miss. Storage
// errors are non-fatal and reported as misses.
func (l *Ledger) Get(ctx context.Context, endpoint, key string) ([]byte, bool) {
	entry, err := l.store.GetEntry(ctx, key)
	if err != nil {
		log.Warn().Err(err).Str("endpoint", endpoint).Msg("cache read failed, degrading to miss")
		l.recordMiss(endpoint)
		return nil, false
	}
	if entry == nil || l.clock.Now().After(entry.ExpiresAt) {
		l.recordMiss(endpoint)
		return nil, false
	}

	l.recordHit(endpoint)
	return entry.Payload, true
}

// Put stores a payload under key with the given TTL. Write failures are
// logged but non-fatal; the next read is simply a miss.
func (l *Ledger) Put(ctx context.Context, endpoint, key string, payload []byte, ttl time.Duration) {
	entry := Entry{Payload: payload, ExpiresAt: l.clock.Now().Add(ttl)}
	if err := l.store.PutEntry(ctx, key, entry); err != nil {
		log.Warn().Err(err).Str("endpoint", endpoint).Msg("cache write failed")
	}
}

// CanCall reports whether the daily ceiling for api still has headroom.
func (l *Ledger) CanCall(ctx context.Context, api string) bool {
	budget, limited := l.budgets[api]
	if !limited {
		return true
	}

	used, err := l.store.GetCounter(ctx, clock.Day(l.clock.Now()), api)
	if err != nil {
		// Unreadable counters fail closed: an uncounted call could breach
		// the ceiling.
		log.Warn().Err(err).Str("api", api).Msg("quota counter read failed, refusing call")
		return false
	}
	if used >= budget {
		telemetry.QuotaRejections.WithLabelValues(api).Inc()
		return false
	}
	return true
}

// RecordCall increments the daily counter for api. A write failure is fatal
// to the caller: the gated call must not be issued.
func (l *Ledger) RecordCall(ctx context.Context, api string) error {
	if _, err := l.store.IncrCounter(ctx, clock.Day(l.clock.Now()), api); err != nil {
		return errs.Wrap(errs.StorageFailure, err, "failed to record %s call", api)
	}
	telemetry.QuotaCalls.WithLabelValues(api).Inc()
	return nil
}

// Used returns today's counter value for api.
func (l *Ledger) Used(ctx context.Context, api string) int64 {
	used, err := l.store.GetCounter(ctx, clock.Day(l.clock.Now()), api)
	if err != nil {
		return 0
	}
	return used
}

// Remaining returns the calls left under api's ceiling, or -1 if unlimited.
func (l *Ledger) Remaining(ctx context.Context, api string) int64 {
	budget, limited := l.budgets[api]
	if !limited {
		return -1
	}
	left := budget - l.Used(ctx, api)
	if left < 0 {
		left = 0
	}
	return left
}

// HitRate returns the overall cache hit rate across all endpoints.
func (l *Ledger) HitRate() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	var hits, total int64
	for _, s := range l.stats {
		hits += s.Hits
		total += s.Hits + s.Misses
	}
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// Stats returns a copy of the per-endpoint cache counters.
func (l *Ledger) Stats() map[string]EndpointStats {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make(map[string]EndpointStats, len(l.stats))
	for k, v := range l.stats {
		out[k] = *v
	}
	return out
}

func (l *Ledger) recordHit(endpoint string) {
	l.mu.Lock()
	l.endpointStats(endpoint).Hits++
	l.mu.Unlock()
	telemetry.CacheHits.WithLabelValues(endpoint).Inc()
}

func (l *Ledger) recordMiss(endpoint string) {
	l.mu.Lock()
	l.endpointStats(endpoint).Misses++
	l.mu.Unlock()
	telemetry.CacheMisses.WithLabelValues(endpoint).Inc()
}

// endpointStats must be called with l.mu held.
func (l *Ledger) endpointStats(endpoint string) *EndpointStats {
	s, ok := l.stats[endpoint]
	if !ok {
		s = &EndpointStats{}
		l.stats[endpoint] = s
	}
	return s
}
