package connectors

import (
	"context"
	"hash/fnv"
	"sort"
	"strings"

	"github.com/adpilot/adpilot/internal/keywords"
)

// Estimated synthesizes keyword records from seed queries when no external
// source covers a market. Volumes and competition derive from a stable hash
// of the keyword, so estimates are deterministic across runs.
type Estimated struct {
	// Modifiers are expansion suffixes applied to every seed.
	Modifiers []string
}

// NewEstimated returns the estimation connector with default modifiers.
func NewEstimated() *Estimated {
	return &Estimated{
		Modifiers: []string{
			"", "chrome extension", "online", "free", "converter", "how to",
		},
	}
}

func (e *Estimated) Name() string                { return "estimated" }
func (e *Estimated) Source() keywords.DataSource { return keywords.SourceEstimated }

func (e *Estimated) Fetch(ctx context.Context, req Request) ([]keywords.Record, error) {
	var out []keywords.Record
	for _, seed := range req.Seeds {
		for _, mod := range e.Modifiers {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}

			kw := keywords.Normalize(strings.TrimSpace(seed + " " + mod))
			if kw == "" {
				continue
			}
			for _, market := range req.Markets {
				out = append(out, estimateRecord(kw, market))
			}
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Keyword != out[j].Keyword {
			return out[i].Keyword < out[j].Keyword
		}
		return out[i].PrimaryMarket < out[j].PrimaryMarket
	})
	return dedupe(out), nil
}

func estimateRecord(keyword, market string) keywords.Record {
	h := fnv.New32a()
	h.Write([]byte(keyword))
	h.Write([]byte(market))
	seed := h.Sum32()

	// Volume in [10, 5000), skewed low; competition in [0.05, 0.85).
	volume := int64(10 + seed%4990)
	competition := 0.05 + float64((seed/7)%80)/100.0

	return keywords.Record{
		Keyword:       keyword,
		DataSource:    keywords.SourceEstimated,
		Markets:       []string{market},
		PrimaryMarket: market,
		Volume:        keywords.Int64Ptr(volume),
		Competition:   keywords.Float64Ptr(competition),
	}
}

func dedupe(recs []keywords.Record) []keywords.Record {
	seen := make(map[string]bool, len(recs))
	out := recs[:0]
	for _, r := range recs {
		if seen[r.Key()] {
			continue
		}
		seen[r.Key()] = true
		out = append(out, r)
	}
	return out
}
