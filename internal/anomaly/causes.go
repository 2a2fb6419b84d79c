package anomaly

import "strings"

// Cause and recommendation lookup tables, keyed by the leading segment of
// the metric key (e.g. "cost" for "cost.campaign-a").

var possibleCauses = map[string][]string{
	"cost": {
		"competitor entered the auction and raised CPCs",
		"broad-match expansion pulled in expensive queries",
		"bid strategy changed or learning phase restarted",
	},
	"cpc": {
		"auction pressure increased for core terms",
		"quality score dropped, raising the price per click",
	},
	"ctr": {
		"ad copy fatigue or a competitor's stronger creative",
		"SERP layout shift pushed ads below the fold",
		"query mix shifted toward low-intent terms",
	},
	"conversions": {
		"landing page regression or broken install flow",
		"tracking tag removed or consent banner blocking events",
		"store listing changed, hurting install conversion",
	},
	"impressions": {
		"budget exhausted earlier in the day",
		"seasonal demand shift for the product's queries",
		"keyword paused or disapproved",
	},
}

var recommendations = map[string][]string{
	"cost": {
		"review the search-term report for new expensive queries",
		"tighten match types on the affected ad groups",
		"consider a temporary budget cap while investigating",
	},
	"cpc": {
		"check auction insights for new competitors",
		"review quality score components for the affected keywords",
	},
	"ctr": {
		"rotate in fresh RSA variants",
		"check SERP features occupying the results page",
	},
	"conversions": {
		"verify the landing page and install flow end to end",
		"confirm conversion tracking is firing",
	},
	"impressions": {
		"check budget pacing and daily caps",
		"verify keyword and ad approval status",
	},
}

var fallbackCauses = []string{"unexplained shift in the metric's distribution"}
var fallbackRecommendations = []string{"inspect the metric's recent history and correlated events"}

// causesFor returns the cause set for a metric key.
func causesFor(metricKey string) []string {
	if c, ok := possibleCauses[keyPrefix(metricKey)]; ok {
		return c
	}
	return fallbackCauses
}

// recommendationsFor returns the recommendation set for a metric key.
func recommendationsFor(metricKey string) []string {
	if r, ok := recommendations[keyPrefix(metricKey)]; ok {
		return r
	}
	return fallbackRecommendations
}

func keyPrefix(metricKey string) string {
	if i := strings.IndexByte(metricKey, '.'); i > 0 {
		return metricKey[:i]
	}
	return metricKey
}
