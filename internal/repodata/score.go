package repodata

import (
	"math"

	"gitpulse/internal/core"
)

// ImportanceWeights is the score contribution of a present file per tier.
var ImportanceWeights = map[core.Importance]int{
	core.ImportanceCritical:    40,
	core.ImportanceRecommended: 25,
	core.ImportanceOptional:    10,
}

// DocumentationScore returns the weighted share of present files as a
// percentage rounded to the nearest integer. The maximum is computed from the
// tiers of the given results, so an empty checklist scores 0.
func DocumentationScore(results []core.DocumentationCheckResult) int {
	var got, total int
	for _, r := range results {
		w := ImportanceWeights[r.Importance]
		total += w
		if r.Exists {
			got += w
		}
	}
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(got) / float64(total) * 100))
}
