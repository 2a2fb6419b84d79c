package variants

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adpilot/adpilot/internal/clock"
	"github.com/adpilot/adpilot/internal/config"
	"github.com/adpilot/adpilot/internal/experiment"
)

func testProduct() *config.ProductConfig {
	return &config.ProductConfig{
		Name:         "PixelConvert",
		Markets:      []string{"AU", "US"},
		SeedQueries:  []string{"webp to png"},
		ValueProps:   []string{"Convert images in one click", "Works offline in your browser"},
		AnchorString: "PixelConvert - Image Converter",
	}
}

func testBase() BaseCreative {
	return BaseCreative{
		Headlines: []string{
			"Convert WebP to PNG Free",
			"Fast Image Converter",
			"No Upload Needed",
			"Works in Your Browser",
		},
		Descriptions: []string{
			"Convert WebP images to PNG instantly, right in your browser.",
			"Free, private, and fast. No account required.",
		},
		FinalURLs: []string{"https://pixelconvert.app/webp-to-png"},
	}
}

func TestGenerate_ControlAndStrategies(t *testing.T) {
	g := NewGenerator(testProduct(), clock.NewRand(42), 0)

	out, err := g.Generate(testBase(), []string{StrategyBenefitLed, StrategyProofLed, StrategyConversionFocused})
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(out), 2)

	control := out[0]
	assert.True(t, control.IsControl)
	assert.Equal(t, "control", control.Name)

	for i, v := range out {
		require.NotEmpty(t, v.Headlines, "variant %d", i)
		assert.Equal(t, "PixelConvert - Image Converter", v.Headlines[0], "anchor pinned first on variant %d", i)
		assert.GreaterOrEqual(t, len(v.Headlines), 3)
		assert.LessOrEqual(t, len(v.Headlines), 15)
		assert.GreaterOrEqual(t, len(v.Descriptions), 2)
		assert.LessOrEqual(t, len(v.Descriptions), 4)
	}

	for _, v := range out[1:] {
		assert.False(t, v.IsControl)
		assert.LessOrEqual(t, v.SimilarityToControl, 0.9, "variant %s too close to control", v.Name)
	}
}

func TestGenerate_WeightsSumToOne(t *testing.T) {
	g := NewGenerator(testProduct(), clock.NewRand(7), 0)

	out, err := g.Generate(testBase(), []string{StrategyBenefitLed, StrategyDiverse})
	require.NoError(t, err)

	sum := 0.0
	for _, v := range out {
		sum += v.Weight
	}
	assert.LessOrEqual(t, math.Abs(sum-1.0), 0.01)
}

func TestGenerate_BaseValidation(t *testing.T) {
	g := NewGenerator(testProduct(), clock.NewRand(1), 0)

	_, err := g.Generate(BaseCreative{
		Headlines:    []string{"only one"},
		Descriptions: []string{"a", "b"},
	}, []string{StrategyBenefitLed})
	require.Error(t, err)

	_, err = g.Generate(BaseCreative{
		Headlines:    []string{"a", "b", "c"},
		Descriptions: []string{"only one"},
	}, []string{StrategyBenefitLed})
	require.Error(t, err)
}

func TestGenerate_Deterministic(t *testing.T) {
	a, err := NewGenerator(testProduct(), clock.NewRand(99), 0).Generate(testBase(), []string{StrategyDiverse})
	require.NoError(t, err)
	b, err := NewGenerator(testProduct(), clock.NewRand(99), 0).Generate(testBase(), []string{StrategyDiverse})
	require.NoError(t, err)

	require.Equal(t, len(a), len(b))
	for i := range a {
		assert.Equal(t, a[i].Headlines, b[i].Headlines)
		assert.Equal(t, a[i].Descriptions, b[i].Descriptions)
		assert.Equal(t, a[i].SimilarityToControl, b[i].SimilarityToControl)
	}
}

func testPage() BasePage {
	return BasePage{
		Path:        "/webp-to-png",
		Headline:    "Convert WebP to PNG Free",
		Subheadline: "Fast, private, and entirely in your browser",
		CTA:         "Add to Chrome",
	}
}

func TestGeneratePages_ControlAndStrategies(t *testing.T) {
	g := NewGenerator(testProduct(), clock.NewRand(42), 0)

	out, err := g.GeneratePages(testPage(), []string{StrategyBenefitLed, StrategyProofLed, StrategyConversionFocused})
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(out), 2)

	control := out[0]
	assert.True(t, control.IsControl)
	assert.Equal(t, "control", control.Name)
	assert.Equal(t, "/webp-to-png", control.ContentPath)
	assert.Equal(t, "Convert WebP to PNG Free", control.Headline)
	assert.Equal(t, "Add to Chrome", control.CTA)

	paths := map[string]bool{control.ContentPath: true}
	sum := 0.0
	for _, v := range out {
		require.NotEmpty(t, v.Headline)
		require.NotEmpty(t, v.CTA)
		sum += v.Weight
	}
	for _, v := range out[1:] {
		assert.False(t, v.IsControl)
		assert.False(t, paths[v.ContentPath], "content path %s reused", v.ContentPath)
		paths[v.ContentPath] = true
		assert.Equal(t, v.ContentPath, v.RoutingRules["/webp-to-png"], "routing rule points at the variant page")
		assert.Greater(t, v.SimilarityToControl, 0.0)
		assert.LessOrEqual(t, v.SimilarityToControl, 0.9, "page %s too close to control", v.Name)
	}
	assert.LessOrEqual(t, math.Abs(sum-1.0), 0.01)
}

func TestGeneratePages_BaseValidation(t *testing.T) {
	g := NewGenerator(testProduct(), clock.NewRand(1), 0)

	_, err := g.GeneratePages(BasePage{CTA: "Add to Chrome"}, []string{StrategyBenefitLed})
	require.Error(t, err)

	_, err = g.GeneratePages(BasePage{Headline: "Convert WebP to PNG"}, []string{StrategyBenefitLed})
	require.Error(t, err)

	_, err = g.GeneratePages(testPage(), nil)
	require.Error(t, err, "control alone is not an experiment")
}

func TestGeneratePages_Deterministic(t *testing.T) {
	strategies := []string{StrategyDiverse, StrategyBenefitLed}
	a, err := NewGenerator(testProduct(), clock.NewRand(99), 0).GeneratePages(testPage(), strategies)
	require.NoError(t, err)
	b, err := NewGenerator(testProduct(), clock.NewRand(99), 0).GeneratePages(testPage(), strategies)
	require.NoError(t, err)

	require.Equal(t, len(a), len(b))
	for i := range a {
		assert.Equal(t, a[i].Headline, b[i].Headline)
		assert.Equal(t, a[i].Subheadline, b[i].Subheadline)
		assert.Equal(t, a[i].CTA, b[i].CTA)
		assert.Equal(t, a[i].ContentPath, b[i].ContentPath)
		assert.Equal(t, a[i].SimilarityToControl, b[i].SimilarityToControl)
	}
}

func TestPageSimilarityOf(t *testing.T) {
	a := &experiment.Variant{Headline: "Convert WebP to PNG", Subheadline: "Free and private", CTA: "Add to Chrome"}
	b := &experiment.Variant{Headline: "Convert WebP to JPG", Subheadline: "Free and private", CTA: "Add to Chrome"}

	assert.Equal(t, 1.0, PageSimilarityOf(a, a))

	want := PageSimilarity(
		PageContent{Headline: a.Headline, Subheadline: a.Subheadline, CTA: a.CTA},
		PageContent{Headline: b.Headline, Subheadline: b.Subheadline, CTA: b.CTA},
	)
	assert.Equal(t, want, PageSimilarityOf(a, b))
}

func TestRSASimilarity(t *testing.T) {
	a := &experiment.Variant{
		Headlines:    []string{"Convert WebP to PNG", "Fast And Free"},
		Descriptions: []string{"Works in your browser."},
	}

	identical := &experiment.Variant{
		Headlines:    []string{"convert webp to png", "  Fast and Free "},
		Descriptions: []string{"works in your browser."},
	}
	assert.Equal(t, 1.0, RSASimilarity(a, identical), "normalization ignores case and spacing")

	disjoint := &experiment.Variant{
		Headlines:    []string{"Pick Any Color Instantly"},
		Descriptions: []string{"The eyedropper for the modern web."},
	}
	assert.Equal(t, 0.0, RSASimilarity(a, disjoint))

	// One shared entry out of a five-entry union.
	half := &experiment.Variant{
		Headlines:    []string{"Convert WebP to PNG", "Totally Different"},
		Descriptions: []string{"Another description entirely."},
	}
	assert.InDelta(t, 0.2, RSASimilarity(a, half), 1e-9)

	sim := RSASimilarity(a, half)
	assert.GreaterOrEqual(t, sim, 0.0)
	assert.LessOrEqual(t, sim, 1.0)
}

func TestPageSimilarity(t *testing.T) {
	a := PageContent{Headline: "Convert WebP to PNG", Subheadline: "Free and private", CTA: "Add to Chrome"}

	assert.Equal(t, 1.0, PageSimilarity(a, a))

	b := PageContent{Headline: "Convert WebP to JPG", Subheadline: "Free and private", CTA: "Add to Chrome"}
	sim := PageSimilarity(a, b)
	assert.Greater(t, sim, 0.8, "single-field small edit stays close")
	assert.Less(t, sim, 1.0)

	c := PageContent{Headline: "Pick colors from any page", Subheadline: "The eyedropper tool", CTA: "Install now"}
	assert.Less(t, PageSimilarity(a, c), sim)
}
