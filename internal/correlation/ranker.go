package correlation

import (
	"sort"

	"github.com/rawblock/torpath-engine/pkg/models"
)

// Hypothesis Ranker
//
// Orders scored candidates descending by composite score. Ties break
// deterministically by ascending entry fingerprint, then ascending exit
// fingerprint — identical inputs must always yield identical output
// order, or investigator reports stop being reproducible.

// Rank returns up to topN candidates, best first. The input slice is not
// modified; fewer than topN candidates is not an error.
func Rank(candidates []*models.PathCandidate, topN int) []*models.PathCandidate {
	ranked := make([]*models.PathCandidate, len(candidates))
	copy(ranked, candidates)

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		if ranked[i].Entry.Fingerprint != ranked[j].Entry.Fingerprint {
			return ranked[i].Entry.Fingerprint < ranked[j].Entry.Fingerprint
		}
		return ranked[i].Exit.Fingerprint < ranked[j].Exit.Fingerprint
	})

	if topN > 0 && len(ranked) > topN {
		ranked = ranked[:topN]
	}
	return ranked
}
