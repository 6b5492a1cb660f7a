package correlation

import (
	"math"
	"testing"

	"github.com/rawblock/torpath-engine/pkg/models"
)

// taggedCandidate builds a scored candidate with an explicit breakdown,
// bypassing the scorer so each rule's trigger condition is isolated.
func taggedCandidate(score, bw, overlap, countryPen, asPen, timingPen float64) *models.PathCandidate {
	return &models.PathCandidate{
		PathID: "test-path",
		Entry:  &models.Relay{Fingerprint: "AAAA", Country: "us"},
		Middle: &models.Relay{Fingerprint: "BBBB", Country: "fr"},
		Exit:   &models.Relay{Fingerprint: "CCCC", Country: "us"},
		ComponentScores: map[string]float64{
			models.FactorUptimeOverlap: overlap,
			models.FactorBandwidth:     bw,
			models.FactorStability:     0.5,
		},
		Penalties: map[string]float64{
			models.PenaltySameCountry:       countryPen,
			models.PenaltySameAS:            asPen,
			models.PenaltyTimingUncertainty: timingPen,
		},
		Score: score,
	}
}

func tagNames(tags []models.PatternTag) map[string]models.PatternTag {
	out := make(map[string]models.PatternTag, len(tags))
	for _, tag := range tags {
		out[tag.Name] = tag
	}
	return out
}

func TestDefaultRulesTriggers(t *testing.T) {
	tests := []struct {
		name      string
		candidate *models.PathCandidate
		wantTags  []string
		skipTags  []string
	}{
		{
			"Clean Mid Score Path",
			taggedCandidate(0.60, 0.5, 0.8, 1.0, 1.0, 1.0),
			nil,
			[]string{"HIGH_PLAUSIBILITY", "SAME_JURISDICTION", "SHARED_AS_CONFOUND", "DEGRADED_TIMING", "SUSTAINED_CAPACITY"},
		},
		{
			"High Plausibility At Threshold",
			taggedCandidate(0.85, 0.5, 0.8, 1.0, 1.0, 1.0),
			[]string{"HIGH_PLAUSIBILITY"},
			nil,
		},
		{
			"Just Below High Plausibility",
			taggedCandidate(0.849, 0.5, 0.8, 1.0, 1.0, 1.0),
			nil,
			[]string{"HIGH_PLAUSIBILITY"},
		},
		{
			"Same Jurisdiction",
			taggedCandidate(0.60, 0.5, 0.8, SameCountryPenalty, 1.0, 1.0),
			[]string{"SAME_JURISDICTION"},
			[]string{"SHARED_AS_CONFOUND"},
		},
		{
			"Shared AS",
			taggedCandidate(0.60, 0.5, 0.8, 1.0, SameASPenalty, 1.0),
			[]string{"SHARED_AS_CONFOUND"},
			[]string{"SAME_JURISDICTION"},
		},
		{
			"Degraded Timing",
			taggedCandidate(0.60, 0.5, 0.8, 1.0, 1.0, 0.7),
			[]string{"DEGRADED_TIMING"},
			nil,
		},
		{
			"Sustained Capacity",
			taggedCandidate(0.80, 0.9, 1.0, 1.0, 1.0, 1.0),
			[]string{"SUSTAINED_CAPACITY"},
			nil,
		},
		{
			"High Bandwidth Partial Overlap",
			taggedCandidate(0.80, 0.9, 0.99, 1.0, 1.0, 1.0),
			nil,
			[]string{"SUSTAINED_CAPACITY"},
		},
	}

	rules := DefaultRules()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tagNames(rules.Apply(tt.candidate))
			for _, want := range tt.wantTags {
				if _, ok := got[want]; !ok {
					t.Errorf("expected tag %s, got %v", want, got)
				}
			}
			for _, skip := range tt.skipTags {
				if _, ok := got[skip]; ok {
					t.Errorf("tag %s must not fire for this candidate", skip)
				}
			}
		})
	}
}

func TestDegradedTimingConfidence(t *testing.T) {
	c := taggedCandidate(0.60, 0.5, 0.8, 1.0, 1.0, 0.65)
	got := tagNames(DefaultRules().Apply(c))

	tag, ok := got["DEGRADED_TIMING"]
	if !ok {
		t.Fatal("expected DEGRADED_TIMING tag")
	}
	if math.Abs(tag.Confidence-0.35) > 1e-9 {
		t.Errorf("DEGRADED_TIMING confidence = %v, want 0.35 (1 - penalty)", tag.Confidence)
	}
}

func TestTagsNeverFeedBackIntoScore(t *testing.T) {
	c := taggedCandidate(0.90, 0.9, 1.0, 1.0, 1.0, 1.0)
	before := c.Score

	DefaultRules().Apply(c)
	if c.Score != before {
		t.Errorf("tagging mutated the score: %v → %v", before, c.Score)
	}
}
