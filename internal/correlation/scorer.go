package correlation

import (
	"math"
	"sort"
	"time"

	"github.com/rawblock/torpath-engine/pkg/models"
)

// Confidence Scorer
//
// Computes a weighted composite plausibility score per candidate path
// from independent evidence factors, then applies multiplicative penalty
// discounts for confound conditions:
//
//   Score = clamp(Σ(factor_i × weight_i) × Π(penalty_j), MinScore, MaxScore)
//
// Factors (weights sum to 1.0):
//   - uptimeOverlap (0.45): fraction of the evidence window during which
//     entry, middle, and exit were simultaneously active. A circuit
//     cannot carry traffic through a relay that was down.
//   - bandwidthPlausibility (0.35): saturating per-hop bandwidth score.
//     TOR's selection algorithm favors high-bandwidth relays, but the
//     relationship flattens — an exponential saturation avoids
//     overweighting outlier high-capacity relays.
//   - stability (0.20): how long each relay had been continuously up
//     when the window opened. Long-lived relays dominate real circuits.
//
// Penalties (each ≤ 1.0, independent, multiplicative):
//   - sameAS (×0.70): entry and exit in one autonomous system. Same-AS
//     circuits are trivially correlatable and correspondingly unlikely
//     to represent genuine tradecraft. Heuristic discount, not a law.
//   - sameCountry (×0.80): entry and exit share a country code.
//   - timingUncertainty: proportional discount for declared capture
//     clock skew; absent skew metadata, no penalty.
//
// The output is clamped into [0.30, 0.95] by design: the engine must
// never report "impossible" (which could wrongly kill a lead) nor
// "certain" (which could be misread as proof). Plausibility only.

const (
	WeightUptimeOverlap = 0.45
	WeightBandwidth     = 0.35
	WeightStability     = 0.20

	SameASPenalty      = 0.70
	SameCountryPenalty = 0.80
	MinTimingPenalty   = 0.50

	MinScore = 0.30
	MaxScore = 0.95

	// bandwidthScale is the advertised-bandwidth saturation constant:
	// a 5 MiB/s relay scores 1−1/e ≈ 0.63, diminishing returns above.
	bandwidthScale = 5 * 1024 * 1024

	// stabilityScaleDays: a relay up for 7 days scores ≈ 0.63.
	stabilityScaleDays = 7.0
)

// Score populates componentScores, penalties, and the final composite
// score on the candidate, and returns the same candidate. Scoring is
// pure computation and never fails; a zero-duration window simply yields
// uptimeOverlap = 0.
func Score(c *models.PathCandidate, win models.EvidenceWindow) *models.PathCandidate {
	c.ComponentScores = map[string]float64{
		models.FactorUptimeOverlap: uptimeOverlap(c, win),
		models.FactorBandwidth:     bandwidthPlausibility(c),
		models.FactorStability:     stability(c, win),
	}

	c.Penalties = map[string]float64{
		models.PenaltySameAS:            sameASPenalty(c),
		models.PenaltySameCountry:       sameCountryPenalty(c),
		models.PenaltyTimingUncertainty: timingPenalty(win),
	}

	composite := WeightUptimeOverlap*c.ComponentScores[models.FactorUptimeOverlap] +
		WeightBandwidth*c.ComponentScores[models.FactorBandwidth] +
		WeightStability*c.ComponentScores[models.FactorStability]

	for _, p := range c.Penalties {
		composite *= p
	}

	c.Score = clampScore(composite)
	return c
}

// clampScore bounds the composite into [MinScore, MaxScore].
func clampScore(s float64) float64 {
	if s < MinScore {
		return MinScore
	}
	if s > MaxScore {
		return MaxScore
	}
	return s
}

// uptimeOverlap computes the fraction of the window during which all
// three hops were simultaneously active. Zero-duration windows are
// defined as 0 overlap.
func uptimeOverlap(c *models.PathCandidate, win models.EvidenceWindow) float64 {
	dur := win.Duration()
	if dur <= 0 {
		return 0
	}

	overlap := tripleOverlap(c.Entry, c.Middle, c.Exit, win.StartTime, win.EndTime)
	frac := float64(overlap) / float64(dur)
	if frac > 1 {
		frac = 1
	}
	return frac
}

// tripleOverlap sums the time within [start, end] covered by an uptime
// interval of every one of the three relays at once. Implemented as a
// sweep over interval boundary points clipped to the window.
func tripleOverlap(entry, middle, exit *models.Relay, start, end time.Time) time.Duration {
	points := boundaryPoints([]*models.Relay{entry, middle, exit}, start, end)
	if len(points) < 2 {
		return 0
	}

	var total time.Duration
	for i := 0; i < len(points)-1; i++ {
		segStart, segEnd := points[i], points[i+1]
		if !segEnd.After(segStart) {
			continue
		}
		// Segment boundaries come from the relays' own intervals, so
		// coverage is constant across the segment; probe the midpoint.
		mid := segStart.Add(segEnd.Sub(segStart) / 2)
		if entry.ActiveAt(mid) && middle.ActiveAt(mid) && exit.ActiveAt(mid) {
			total += segEnd.Sub(segStart)
		}
	}
	return total
}

// boundaryPoints collects window-clipped interval edges, sorted.
func boundaryPoints(relays []*models.Relay, start, end time.Time) []time.Time {
	points := []time.Time{start, end}
	for _, r := range relays {
		for _, iv := range r.Uptime {
			if iv.Start.After(start) && iv.Start.Before(end) {
				points = append(points, iv.Start)
			}
			if iv.End.After(start) && iv.End.Before(end) {
				points = append(points, iv.End)
			}
		}
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Before(points[j]) })
	return points
}

// bandwidthPlausibility averages the saturating per-hop bandwidth score.
func bandwidthPlausibility(c *models.PathCandidate) float64 {
	sum := 0.0
	for _, r := range []*models.Relay{c.Entry, c.Middle, c.Exit} {
		sum += 1 - math.Exp(-float64(r.Bandwidth)/bandwidthScale)
	}
	return sum / 3
}

// stability averages how long each hop had been continuously up at the
// window start, saturating at stabilityScaleDays.
func stability(c *models.PathCandidate, win models.EvidenceWindow) float64 {
	sum := 0.0
	for _, r := range []*models.Relay{c.Entry, c.Middle, c.Exit} {
		days := r.UptimeBefore(win.StartTime).Hours() / 24
		sum += 1 - math.Exp(-days/stabilityScaleDays)
	}
	return sum / 3
}

func sameASPenalty(c *models.PathCandidate) float64 {
	if c.Entry.ASN != 0 && c.Entry.ASN == c.Exit.ASN {
		return SameASPenalty
	}
	return 1.0
}

func sameCountryPenalty(c *models.PathCandidate) float64 {
	if c.Entry.Country != "" && c.Entry.Country == c.Exit.Country {
		return SameCountryPenalty
	}
	return 1.0
}

// timingPenalty discounts proportionally to declared clock skew relative
// to the window length, floored at MinTimingPenalty. No skew metadata
// (or a zero value) means no penalty.
func timingPenalty(win models.EvidenceWindow) float64 {
	if win.ClockSkew <= 0 {
		return 1.0
	}
	dur := win.Duration()
	if dur <= 0 {
		// Skew declared on an instantaneous window: worst case.
		return MinTimingPenalty
	}
	p := 1.0 - float64(win.ClockSkew)/float64(dur)
	if p < MinTimingPenalty {
		return MinTimingPenalty
	}
	return p
}
