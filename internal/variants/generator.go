package variants

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/adpilot/adpilot/internal/config"
	"github.com/adpilot/adpilot/internal/errs"
	"github.com/adpilot/adpilot/internal/experiment"
)

// Strategy names select how a variant diverges from the base creative.
const (
	StrategyBenefitLed        = "benefit_led"
	StrategyProofLed          = "proof_led"
	StrategyDiverse           = "diverse"
	StrategyConversionFocused = "conversion_focused"
)

// Generator produces RSA variants from a base creative. Generated variants
// honor the RSA shape constraints (3..15 headlines, 2..4 descriptions, the
// product anchor pinned first) and the pairwise dissimilarity ceiling.
type Generator struct {
	product       *config.ProductConfig
	rng           *rand.Rand
	maxSimilarity float64
	maxAttempts   int
}

// NewGenerator creates a generator. maxSimilarity defaults to 0.9 when zero.
func NewGenerator(product *config.ProductConfig, rng *rand.Rand, maxSimilarity float64) *Generator {
	if maxSimilarity <= 0 {
		maxSimilarity = 0.9
	}
	return &Generator{
		product:       product,
		rng:           rng,
		maxSimilarity: maxSimilarity,
		maxAttempts:   4,
	}
}

// BaseCreative is the control RSA content variants derive from.
type BaseCreative struct {
	Headlines    []string
	Descriptions []string
	FinalURLs    []string
}

// Generate emits the control plus one variant per strategy. Variants whose
// similarity to control exceeds the ceiling are regenerated with a mutation
// pass and discarded if still too close. Weights are split evenly.
func (g *Generator) Generate(base BaseCreative, strategies []string) ([]experiment.Variant, error) {
	if len(base.Headlines) < 3 {
		return nil, errs.New(errs.ValidationFailed, "base creative needs at least 3 headlines, got %d", len(base.Headlines))
	}
	if len(base.Descriptions) < 2 {
		return nil, errs.New(errs.ValidationFailed, "base creative needs at least 2 descriptions, got %d", len(base.Descriptions))
	}

	control := experiment.Variant{
		ID:           uuid.NewString(),
		Name:         "control",
		IsControl:    true,
		Headlines:    g.pinAnchor(base.Headlines),
		Descriptions: clampDescriptions(base.Descriptions),
		FinalURLs:    base.FinalURLs,
	}

	out := []experiment.Variant{control}
	for _, strategy := range strategies {
		variant, ok := g.generateOne(&control, base, strategy)
		if !ok {
			log.Warn().Str("strategy", strategy).Msg("variant discarded: too similar to control")
			continue
		}
		out = append(out, variant)
	}

	if len(out) < 2 {
		return nil, errs.New(errs.ValidationFailed, "no strategy produced a sufficiently distinct variant")
	}

	weight := 1.0 / float64(len(out))
	for i := range out {
		out[i].Weight = weight
	}
	return out, nil
}

func (g *Generator) generateOne(control *experiment.Variant, base BaseCreative, strategy string) (experiment.Variant, bool) {
	variant := experiment.Variant{
		ID:        uuid.NewString(),
		Name:      strategy,
		FinalURLs: base.FinalURLs,
		Labels:    []string{strategy},
	}

	for attempt := 0; attempt < g.maxAttempts; attempt++ {
		variant.Headlines = g.pinAnchor(g.rewriteHeadlines(base.Headlines, strategy, attempt))
		variant.Descriptions = clampDescriptions(g.rewriteDescriptions(base.Descriptions, strategy, attempt))

		variant.SimilarityToControl = RSASimilarity(control, &variant)
		if variant.SimilarityToControl <= g.maxSimilarity {
			return variant, true
		}
	}
	return experiment.Variant{}, false
}

// pinAnchor forces the product anchor string into the first (pinned) slot
// and caps the list at 15.
func (g *Generator) pinAnchor(headlines []string) []string {
	anchor := g.product.AnchorString
	out := []string{anchor}
	for _, h := range headlines {
		if strings.EqualFold(strings.TrimSpace(h), anchor) {
			continue
		}
		out = append(out, h)
		if len(out) == 15 {
			break
		}
	}
	for len(out) < 3 {
		out = append(out, g.product.Name+" for your browser")
	}
	return out
}

func (g *Generator) rewriteHeadlines(headlines []string, strategy string, attempt int) []string {
	out := make([]string, 0, len(headlines)+3)

	switch strategy {
	case StrategyBenefitLed:
		for _, vp := range g.product.ValueProps {
			out = append(out, vp)
		}
		out = append(out, headlines...)
	case StrategyProofLed:
		out = append(out,
			fmt.Sprintf("Trusted by %s users", pickScale(attempt)),
			"Rated 4.8 on the Chrome Web Store",
		)
		out = append(out, headlines...)
	case StrategyConversionFocused:
		out = append(out,
			"Add to Chrome - It's Free",
			"Install in One Click",
			"Start Converting Now",
		)
		out = append(out, headlines...)
	case StrategyDiverse:
		shuffled := append([]string(nil), headlines...)
		g.rng.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})
		// Rephrase a rotating subset so the entry set actually diverges.
		for i, h := range shuffled {
			if (i+attempt)%2 == 0 {
				shuffled[i] = rephrase(h)
			}
		}
		out = shuffled
	default:
		out = append(out, headlines...)
	}

	if attempt > 0 {
		// Later attempts push the variant further from control.
		for i := range out {
			if i%2 == 1 {
				out[i] = rephrase(out[i])
			}
		}
	}
	return out
}

func (g *Generator) rewriteDescriptions(descriptions []string, strategy string, attempt int) []string {
	out := make([]string, 0, len(descriptions)+2)
	switch strategy {
	case StrategyBenefitLed:
		for _, vp := range g.product.ValueProps {
			if len(out) >= 2 {
				break
			}
			out = append(out, vp+". No sign-up required.")
		}
	case StrategyProofLed:
		out = append(out, "Join thousands of users who switched to "+g.product.Name+".")
	case StrategyConversionFocused:
		out = append(out, "Install "+g.product.Name+" free and get started in seconds.")
	}
	out = append(out, descriptions...)

	if attempt > 0 && len(out) > 0 {
		out[0] = rephrase(out[0])
	}
	return out
}

func clampDescriptions(descs []string) []string {
	out := make([]string, 0, 4)
	seen := make(map[string]bool)
	for _, d := range descs {
		key := strings.ToLower(strings.TrimSpace(d))
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, d)
		if len(out) == 4 {
			break
		}
	}
	for len(out) < 2 {
		out = append(out, "Fast, free, and private. Works entirely in your browser.")
	}
	return out
}

// rephrase applies a deterministic wording change that breaks exact-entry
// identity without changing meaning.
func rephrase(s string) string {
	replacements := [][2]string{
		{"Free", "At No Cost"},
		{"free", "at no cost"},
		{"Fast", "Instant"},
		{"fast", "instant"},
		{"Easy", "Effortless"},
		{"easy", "effortless"},
	}
	for _, r := range replacements {
		if strings.Contains(s, r[0]) {
			return strings.Replace(s, r[0], r[1], 1)
		}
	}
	return s + " Today"
}

func pickScale(attempt int) string {
	scales := []string{"50,000+", "75,000+", "100,000+", "250,000+"}
	return scales[attempt%len(scales)]
}
