package correlation

import "github.com/rawblock/torpath-engine/pkg/models"

// Pattern Tagging
//
// Pluggable rule evaluation over a scored candidate's component/penalty
// breakdown, producing zero or more named tags with confidences. Tags
// are presentation-oriented labels for investigators; the step sits
// strictly downstream of the scorer and feeds nothing back into it.

// Rule inspects one scored candidate and optionally emits a tag.
type Rule struct {
	Name     string
	Evaluate func(c *models.PathCandidate) (models.PatternTag, bool)
}

// RuleSet is an ordered collection of tagging rules.
type RuleSet []Rule

// Apply runs every rule against the candidate and collects emitted tags.
func (rs RuleSet) Apply(c *models.PathCandidate) []models.PatternTag {
	var tags []models.PatternTag
	for _, rule := range rs {
		if tag, ok := rule.Evaluate(c); ok {
			tags = append(tags, tag)
		}
	}
	return tags
}

// DefaultRules returns the built-in tagging rules.
func DefaultRules() RuleSet {
	return RuleSet{
		{
			Name: "HIGH_PLAUSIBILITY",
			Evaluate: func(c *models.PathCandidate) (models.PatternTag, bool) {
				if c.Score < 0.85 {
					return models.PatternTag{}, false
				}
				return models.PatternTag{
					Name:       "HIGH_PLAUSIBILITY",
					Confidence: c.Score,
					Rationale:  "composite score in the top confidence band",
				}, true
			},
		},
		{
			Name: "SAME_JURISDICTION",
			Evaluate: func(c *models.PathCandidate) (models.PatternTag, bool) {
				if c.Penalties[models.PenaltySameCountry] >= 1.0 {
					return models.PatternTag{}, false
				}
				return models.PatternTag{
					Name:       "SAME_JURISDICTION",
					Confidence: 0.9,
					Rationale:  "entry and exit share a country code (" + c.Entry.Country + ")",
				}, true
			},
		},
		{
			Name: "SHARED_AS_CONFOUND",
			Evaluate: func(c *models.PathCandidate) (models.PatternTag, bool) {
				if c.Penalties[models.PenaltySameAS] >= 1.0 {
					return models.PatternTag{}, false
				}
				return models.PatternTag{
					Name:       "SHARED_AS_CONFOUND",
					Confidence: 0.9,
					Rationale:  "entry and exit inside one autonomous system; correlation confound",
				}, true
			},
		},
		{
			Name: "DEGRADED_TIMING",
			Evaluate: func(c *models.PathCandidate) (models.PatternTag, bool) {
				p, ok := c.Penalties[models.PenaltyTimingUncertainty]
				if !ok || p >= 1.0 {
					return models.PatternTag{}, false
				}
				return models.PatternTag{
					Name:       "DEGRADED_TIMING",
					Confidence: 1.0 - p,
					Rationale:  "capture clock skew reduced timing reliability",
				}, true
			},
		},
		{
			Name: "SUSTAINED_CAPACITY",
			Evaluate: func(c *models.PathCandidate) (models.PatternTag, bool) {
				bw := c.ComponentScores[models.FactorBandwidth]
				up := c.ComponentScores[models.FactorUptimeOverlap]
				if bw < 0.8 || up < 1.0 {
					return models.PatternTag{}, false
				}
				return models.PatternTag{
					Name:       "SUSTAINED_CAPACITY",
					Confidence: bw,
					Rationale:  "all hops high-bandwidth and active for the full window",
				}, true
			},
		},
	}
}
