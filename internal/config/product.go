package config

import (
	"os"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/adpilot/adpilot/internal/errs"
)

// ProductConfig describes one browser-extension product: the seed queries the
// connectors expand, the landing pages clusters map onto, and the brand and
// negative terms the plan artifacts carry through.
type ProductConfig struct {
	Name         string       `yaml:"name"`
	Markets      []string     `yaml:"markets"`
	SeedQueries  []string     `yaml:"seed_queries"`
	TargetPages  []TargetPage `yaml:"target_pages"`
	ValueProps   []string     `yaml:"value_props"`
	Negatives    []string     `yaml:"negatives"`
	BrandTerms   []string     `yaml:"brand_terms"`
	AnchorString string       `yaml:"anchor_string"` // pinned first RSA headline
}

// TargetPage is a landing page plus the use-case bucket it serves.
type TargetPage struct {
	URL     string `yaml:"url"`
	Purpose string `yaml:"purpose"`
	UseCase string `yaml:"use_case"`
}

// LoadProduct reads and validates a product configuration. Unknown options
// are rejected at load time.
func LoadProduct(path string) (*ProductConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(errs.ConfigInvalid, err, "failed to read product config %s", path)
	}

	var cfg ProductConfig
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return nil, errs.Wrap(errs.ConfigInvalid, err, "failed to parse product YAML %s", path)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate enforces the structural invariants the orchestrator relies on.
func (c *ProductConfig) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return errs.New(errs.ConfigInvalid, "product name is required")
	}
	if len(c.SeedQueries) == 0 {
		return errs.New(errs.ConfigInvalid, "product %s: at least one seed query is required", c.Name)
	}
	if len(c.Markets) == 0 {
		return errs.New(errs.ConfigInvalid, "product %s: at least one market is required", c.Name)
	}
	for _, m := range c.Markets {
		if len(m) != 2 || strings.ToUpper(m) != m {
			return errs.New(errs.ConfigInvalid, "product %s: market %q is not an ISO region code", c.Name, m)
		}
	}
	for i, tp := range c.TargetPages {
		if tp.URL == "" {
			return errs.New(errs.ConfigInvalid, "product %s: target page %d has no URL", c.Name, i)
		}
		if tp.UseCase == "" {
			return errs.New(errs.ConfigInvalid, "product %s: target page %s has no use_case", c.Name, tp.URL)
		}
	}
	if c.AnchorString == "" {
		c.AnchorString = c.Name
	}
	return nil
}

// PrimaryMarket returns the first configured market.
func (c *ProductConfig) PrimaryMarket() string {
	if len(c.Markets) == 0 {
		return ""
	}
	return c.Markets[0]
}

// UseCases returns the configured use-case tokens in declaration order.
func (c *ProductConfig) UseCases() []string {
	out := make([]string, 0, len(c.TargetPages))
	seen := make(map[string]bool)
	for _, tp := range c.TargetPages {
		if !seen[tp.UseCase] {
			seen[tp.UseCase] = true
			out = append(out, tp.UseCase)
		}
	}
	return out
}

// PageForUseCase resolves a landing page by exact use-case match first, then
// by longest-prefix match.
func (c *ProductConfig) PageForUseCase(useCase string) (TargetPage, bool) {
	for _, tp := range c.TargetPages {
		if tp.UseCase == useCase {
			return tp, true
		}
	}
	best := -1
	bestLen := 0
	for i, tp := range c.TargetPages {
		if strings.HasPrefix(useCase, tp.UseCase) && len(tp.UseCase) > bestLen {
			best = i
			bestLen = len(tp.UseCase)
		}
	}
	if best >= 0 {
		return c.TargetPages[best], true
	}
	return TargetPage{}, false
}
