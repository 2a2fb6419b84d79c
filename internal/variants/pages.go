package variants

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/adpilot/adpilot/internal/errs"
	"github.com/adpilot/adpilot/internal/experiment"
)

// BasePage is the control landing-page content page variants derive from.
type BasePage struct {
	Path        string
	Headline    string
	Subheadline string
	CTA         string
}

// GeneratePages emits the control page plus one rewritten page per strategy.
// Each variant gets its own content path under the base path and a routing
// rule mapping the base path to it. Pages whose similarity to control exceeds
// the ceiling are regenerated and discarded if still too close. Weights are
// split evenly.
func (g *Generator) GeneratePages(base BasePage, strategies []string) ([]experiment.Variant, error) {
	if strings.TrimSpace(base.Headline) == "" {
		return nil, errs.New(errs.ValidationFailed, "base page needs a headline")
	}
	if strings.TrimSpace(base.CTA) == "" {
		return nil, errs.New(errs.ValidationFailed, "base page needs a call to action")
	}
	path := base.Path
	if path == "" {
		path = "/"
	}

	control := experiment.Variant{
		ID:          uuid.NewString(),
		Name:        "control",
		IsControl:   true,
		ContentPath: path,
		Headline:    base.Headline,
		Subheadline: base.Subheadline,
		CTA:         base.CTA,
	}

	out := []experiment.Variant{control}
	for _, strategy := range strategies {
		variant, ok := g.generatePage(&control, base, strategy)
		if !ok {
			log.Warn().Str("strategy", strategy).Msg("page variant discarded: too similar to control")
			continue
		}
		out = append(out, variant)
	}

	if len(out) < 2 {
		return nil, errs.New(errs.ValidationFailed, "no strategy produced a sufficiently distinct page")
	}

	weight := 1.0 / float64(len(out))
	for i := range out {
		out[i].Weight = weight
	}
	return out, nil
}

func (g *Generator) generatePage(control *experiment.Variant, base BasePage, strategy string) (experiment.Variant, bool) {
	variant := experiment.Variant{
		ID:           uuid.NewString(),
		Name:         strategy,
		ContentPath:  pagePath(control.ContentPath, strategy),
		Labels:       []string{strategy},
		RoutingRules: map[string]string{control.ContentPath: pagePath(control.ContentPath, strategy)},
	}

	for attempt := 0; attempt < g.maxAttempts; attempt++ {
		variant.Headline, variant.Subheadline, variant.CTA = g.rewritePage(base, strategy, attempt)
		variant.SimilarityToControl = PageSimilarityOf(control, &variant)
		if variant.SimilarityToControl <= g.maxSimilarity {
			return variant, true
		}
	}
	return experiment.Variant{}, false
}

func (g *Generator) rewritePage(base BasePage, strategy string, attempt int) (headline, subheadline, cta string) {
	headline, subheadline, cta = base.Headline, base.Subheadline, base.CTA

	switch strategy {
	case StrategyBenefitLed:
		if len(g.product.ValueProps) > 0 {
			headline = g.product.ValueProps[0]
		}
		if len(g.product.ValueProps) > 1 {
			subheadline = g.product.ValueProps[1]
		}
	case StrategyProofLed:
		headline = fmt.Sprintf("Trusted by %s users", pickScale(attempt))
		subheadline = "Rated 4.8 on the Chrome Web Store"
	case StrategyConversionFocused:
		subheadline = "Install " + g.product.Name + " free and get started in seconds."
		cta = "Add to Chrome - It's Free"
	case StrategyDiverse:
		headline = rephrase(headline)
		if subheadline != "" {
			subheadline = rephrase(subheadline)
		}
		cta = rephrase(cta)
	}

	if attempt > 0 {
		headline = rephrase(headline)
		if attempt > 1 && subheadline != "" {
			subheadline = rephrase(subheadline)
		}
	}
	return headline, subheadline, cta
}

// pagePath derives a variant path under the control path, slugging the
// strategy name.
func pagePath(base, strategy string) string {
	slug := strings.ReplaceAll(strategy, "_", "-")
	return strings.TrimSuffix(base, "/") + "/" + slug
}
