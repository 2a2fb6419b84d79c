package config

import (
	"os"

	"gopkg.in/yaml.v2"

	"github.com/adpilot/adpilot/internal/errs"
)

// ScoringConfig carries the weighted-score parameters. Every field has a
// default; an override file only needs the fields it changes.
type ScoringConfig struct {
	Weights      ScoreWeights       `yaml:"weights"`
	IntentTiers  []IntentTier       `yaml:"intent_tiers"`
	SERPWeights  map[string]float64 `yaml:"serp_weights"`
	SourcePenalty map[string]float64 `yaml:"source_penalty"`
}

// ScoreWeights are the six term weights of the final score.
type ScoreWeights struct {
	Volume      float64 `yaml:"volume"`
	Intent      float64 `yaml:"intent"`
	LongTail    float64 `yaml:"long_tail"`
	Competition float64 `yaml:"competition"`
	SERP        float64 `yaml:"serp"`
	Source      float64 `yaml:"source"`
}

// IntentTier maps a ranked phrase dictionary to an intent multiplier.
// Tiers are evaluated longest-match-wins across all dictionaries.
type IntentTier struct {
	Multiplier float64  `yaml:"multiplier"`
	Phrases    []string `yaml:"phrases"`
}

// DefaultScoring returns the production scoring parameters.
func DefaultScoring() *ScoringConfig {
	return &ScoringConfig{
		Weights: ScoreWeights{
			Volume:      0.35,
			Intent:      0.25,
			LongTail:    0.15,
			Competition: 0.15,
			SERP:        0.10,
			Source:      0.10,
		},
		IntentTiers: []IntentTier{
			{Multiplier: 2.3, Phrases: []string{
				"chrome extension", "firefox addon", "edge extension",
				"browser extension", "extension", "install", "download", "add to chrome",
			}},
			{Multiplier: 2.0, Phrases: []string{
				"converter", "convert", "online tool", "app", "plugin", "software",
			}},
			{Multiplier: 1.5, Phrases: []string{
				"how to", "best", "free", "top", "vs", "compare", "alternative",
			}},
			{Multiplier: 1.0, Phrases: nil}, // fallback tier
		},
		SERPWeights: map[string]float64{
			"ai_overview":      0.40,
			"featured_snippet": 0.30,
			"local_pack":       0.30,
			"shopping_results": 0.25,
			"people_also_ask":  0.20,
			"video_results":    0.20,
			"knowledge_panel":  0.15,
		},
		SourcePenalty: map[string]float64{
			"KWP":       0.0,
			"GSC":       0.05,
			"ESTIMATED": 0.15,
		},
	}
}

// LoadScoring reads scoring overrides and merges them over the defaults.
// A missing path returns the defaults unchanged.
func LoadScoring(path string) (*ScoringConfig, error) {
	cfg := DefaultScoring()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, errs.Wrap(errs.ConfigInvalid, err, "failed to read scoring config %s", path)
	}

	var override ScoringConfig
	if err := yaml.UnmarshalStrict(data, &override); err != nil {
		return nil, errs.Wrap(errs.ConfigInvalid, err, "failed to parse scoring YAML %s", path)
	}

	if override.Weights != (ScoreWeights{}) {
		cfg.Weights = override.Weights
	}
	if len(override.IntentTiers) > 0 {
		cfg.IntentTiers = override.IntentTiers
	}
	if len(override.SERPWeights) > 0 {
		cfg.SERPWeights = override.SERPWeights
	}
	if len(override.SourcePenalty) > 0 {
		cfg.SourcePenalty = override.SourcePenalty
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks weight and tier sanity.
func (c *ScoringConfig) Validate() error {
	w := c.Weights
	for name, v := range map[string]float64{
		"volume": w.Volume, "intent": w.Intent, "long_tail": w.LongTail,
		"competition": w.Competition, "serp": w.SERP, "source": w.Source,
	} {
		if v < 0 || v > 1 {
			return errs.New(errs.ConfigInvalid, "scoring weight %s=%f outside [0,1]", name, v)
		}
	}
	for _, tier := range c.IntentTiers {
		if tier.Multiplier < 1.0 || tier.Multiplier > 2.3 {
			return errs.New(errs.ConfigInvalid, "intent multiplier %f outside [1.0, 2.3]", tier.Multiplier)
		}
	}
	return nil
}
