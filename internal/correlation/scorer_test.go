package correlation

import (
	"math"
	"testing"
	"time"

	"github.com/rawblock/torpath-engine/pkg/models"
)

var windowStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// testRelay builds a relay continuously up from `upSince` before the
// window start through one hour past the window end.
func testRelay(fp, country string, asn int, bw int64, upSince time.Duration) *models.Relay {
	return &models.Relay{
		Fingerprint: fp,
		Nickname:    "relay-" + fp,
		Country:     country,
		ASN:         asn,
		Roles:       models.RoleGuard | models.RoleMiddle | models.RoleExit,
		Bandwidth:   bw,
		Uptime: []models.UptimeInterval{
			{Start: windowStart.Add(-upSince), End: windowStart.Add(2 * time.Hour)},
		},
	}
}

func testWindow(dur time.Duration) models.EvidenceWindow {
	return models.EvidenceWindow{
		CaseID:    "case-scorer",
		StartTime: windowStart,
		EndTime:   windowStart.Add(dur),
	}
}

func testCandidate(entry, middle, exit *models.Relay) *models.PathCandidate {
	return &models.PathCandidate{
		PathID: PathID(entry.Fingerprint, middle.Fingerprint, exit.Fingerprint),
		CaseID: "case-scorer",
		Entry:  entry,
		Middle: middle,
		Exit:   exit,
	}
}

func TestScoreCleanPath(t *testing.T) {
	// Three hops in distinct countries and ASes, each up for exactly 7
	// days at window start with 5 MiB/s advertised: every saturating
	// factor lands at 1-1/e, so the expected composite is exact.
	bw := int64(5 * 1024 * 1024)
	week := 7 * 24 * time.Hour
	c := testCandidate(
		testRelay("AAAA", "us", 1001, bw, week),
		testRelay("BBBB", "fr", 2002, bw, week),
		testRelay("CCCC", "de", 3003, bw, week),
	)
	Score(c, testWindow(time.Hour))

	sat := 1 - math.Exp(-1)
	wantComposite := WeightUptimeOverlap*1.0 + WeightBandwidth*sat + WeightStability*sat

	if math.Abs(c.ComponentScores[models.FactorUptimeOverlap]-1.0) > 1e-9 {
		t.Errorf("uptimeOverlap = %v, want 1.0", c.ComponentScores[models.FactorUptimeOverlap])
	}
	if math.Abs(c.ComponentScores[models.FactorBandwidth]-sat) > 1e-9 {
		t.Errorf("bandwidthPlausibility = %v, want %v", c.ComponentScores[models.FactorBandwidth], sat)
	}
	if math.Abs(c.ComponentScores[models.FactorStability]-sat) > 1e-9 {
		t.Errorf("stability = %v, want %v", c.ComponentScores[models.FactorStability], sat)
	}
	for name, p := range c.Penalties {
		if p != 1.0 {
			t.Errorf("penalty %s = %v on a clean path, want 1.0", name, p)
		}
	}
	if math.Abs(c.Score-wantComposite) > 1e-9 {
		t.Errorf("Score = %v, want %v", c.Score, wantComposite)
	}
}

func TestScoreAlwaysWithinBounds(t *testing.T) {
	week := 7 * 24 * time.Hour
	tests := []struct {
		name   string
		entry  *models.Relay
		middle *models.Relay
		exit   *models.Relay
		win    models.EvidenceWindow
	}{
		{
			"Zero Bandwidth Freshly Started Relays",
			testRelay("AAAA", "us", 1, 0, 0),
			testRelay("BBBB", "fr", 2, 0, 0),
			testRelay("CCCC", "de", 3, 0, 0),
			testWindow(time.Hour),
		},
		{
			"Huge Bandwidth Caps At MaxScore",
			testRelay("AAAA", "us", 1, 1<<40, 365*24*time.Hour),
			testRelay("BBBB", "fr", 2, 1<<40, 365*24*time.Hour),
			testRelay("CCCC", "de", 3, 1<<40, 365*24*time.Hour),
			testWindow(time.Hour),
		},
		{
			"All Penalties Stacked",
			testRelay("AAAA", "us", 1, 10*1024*1024, week),
			testRelay("BBBB", "us", 1, 10*1024*1024, week),
			testRelay("CCCC", "us", 1, 10*1024*1024, week),
			models.EvidenceWindow{
				CaseID:    "case-scorer",
				StartTime: windowStart,
				EndTime:   windowStart.Add(time.Minute),
				ClockSkew: time.Hour,
			},
		},
		{
			"Zero Duration Window",
			testRelay("AAAA", "us", 1, 5*1024*1024, week),
			testRelay("BBBB", "fr", 2, 5*1024*1024, week),
			testRelay("CCCC", "de", 3, 5*1024*1024, week),
			testWindow(0),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := testCandidate(tt.entry, tt.middle, tt.exit)
			Score(c, tt.win)
			if c.Score < MinScore || c.Score > MaxScore {
				t.Errorf("Score = %v, outside [%v, %v]", c.Score, MinScore, MaxScore)
			}
		})
	}
}

func TestSameCountryPenaltyLowersScore(t *testing.T) {
	week := 7 * 24 * time.Hour
	bw := int64(10 * 1024 * 1024)
	win := testWindow(time.Hour)

	crossBorder := testCandidate(
		testRelay("AAAA", "us", 1001, bw, week),
		testRelay("BBBB", "fr", 2002, bw, week),
		testRelay("CCCC", "de", 3003, bw, week),
	)
	sameCountry := testCandidate(
		testRelay("AAAA", "us", 1001, bw, week),
		testRelay("BBBB", "fr", 2002, bw, week),
		testRelay("CCCC", "us", 3003, bw, week),
	)
	Score(crossBorder, win)
	Score(sameCountry, win)

	if sameCountry.Penalties[models.PenaltySameCountry] != SameCountryPenalty {
		t.Errorf("sameCountry penalty = %v, want %v",
			sameCountry.Penalties[models.PenaltySameCountry], SameCountryPenalty)
	}
	if crossBorder.Penalties[models.PenaltySameCountry] != 1.0 {
		t.Errorf("cross-border pair penalized: %v", crossBorder.Penalties[models.PenaltySameCountry])
	}
	if sameCountry.Score >= crossBorder.Score {
		t.Errorf("same-country path scored %v, cross-border %v; expected strictly lower",
			sameCountry.Score, crossBorder.Score)
	}
}

func TestSameASPenalty(t *testing.T) {
	week := 7 * 24 * time.Hour
	bw := int64(10 * 1024 * 1024)
	tests := []struct {
		name     string
		entryASN int
		exitASN  int
		want     float64
	}{
		{"Shared AS", 24940, 24940, SameASPenalty},
		{"Distinct AS", 24940, 16276, 1.0},
		{"Unknown AS Is Not Shared", 0, 0, 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := testCandidate(
				testRelay("AAAA", "us", tt.entryASN, bw, week),
				testRelay("BBBB", "fr", 2002, bw, week),
				testRelay("CCCC", "de", tt.exitASN, bw, week),
			)
			Score(c, testWindow(time.Hour))
			if c.Penalties[models.PenaltySameAS] != tt.want {
				t.Errorf("sameAS penalty = %v, want %v", c.Penalties[models.PenaltySameAS], tt.want)
			}
		})
	}
}

func TestTimingPenalty(t *testing.T) {
	tests := []struct {
		name string
		dur  time.Duration
		skew time.Duration
		want float64
	}{
		{"No Skew Metadata", time.Hour, 0, 1.0},
		{"Small Skew", time.Hour, 6 * time.Minute, 0.9},
		{"Half Window Skew Floors", time.Hour, 45 * time.Minute, MinTimingPenalty},
		{"Skew Exceeds Window", time.Hour, 2 * time.Hour, MinTimingPenalty},
		{"Skew On Instantaneous Window", 0, time.Second, MinTimingPenalty},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			win := testWindow(tt.dur)
			win.ClockSkew = tt.skew
			got := timingPenalty(win)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("timingPenalty() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestUptimeOverlapPartialCoverage(t *testing.T) {
	week := 7 * 24 * time.Hour
	bw := int64(10 * 1024 * 1024)
	entry := testRelay("AAAA", "us", 1001, bw, week)
	exit := testRelay("CCCC", "de", 3003, bw, week)

	// Middle relay only active for the first half of the window.
	middle := &models.Relay{
		Fingerprint: "BBBB",
		Country:     "fr",
		ASN:         2002,
		Roles:       models.RoleMiddle,
		Bandwidth:   bw,
		Uptime: []models.UptimeInterval{
			{Start: windowStart.Add(-week), End: windowStart.Add(30 * time.Minute)},
		},
	}

	c := testCandidate(entry, middle, exit)
	Score(c, testWindow(time.Hour))

	if math.Abs(c.ComponentScores[models.FactorUptimeOverlap]-0.5) > 1e-9 {
		t.Errorf("uptimeOverlap = %v, want 0.5 for half-window coverage",
			c.ComponentScores[models.FactorUptimeOverlap])
	}
}

func TestZeroDurationWindowScoresWithoutError(t *testing.T) {
	week := 7 * 24 * time.Hour
	c := testCandidate(
		testRelay("AAAA", "us", 1001, 5*1024*1024, week),
		testRelay("BBBB", "fr", 2002, 5*1024*1024, week),
		testRelay("CCCC", "de", 3003, 5*1024*1024, week),
	)
	Score(c, testWindow(0))

	if c.ComponentScores[models.FactorUptimeOverlap] != 0 {
		t.Errorf("uptimeOverlap = %v for zero-duration window, want 0",
			c.ComponentScores[models.FactorUptimeOverlap])
	}
	if c.Score < MinScore {
		t.Errorf("Score = %v, must never drop below %v", c.Score, MinScore)
	}
}

func TestPenaltiesNeverIncreaseScore(t *testing.T) {
	week := 7 * 24 * time.Hour
	bw := int64(20 * 1024 * 1024)
	clean := testCandidate(
		testRelay("AAAA", "us", 1001, bw, week),
		testRelay("BBBB", "fr", 2002, bw, week),
		testRelay("CCCC", "de", 3003, bw, week),
	)
	confounded := testCandidate(
		testRelay("AAAA", "us", 1001, bw, week),
		testRelay("BBBB", "fr", 2002, bw, week),
		testRelay("CCCC", "us", 1001, bw, week),
	)
	Score(clean, testWindow(time.Hour))
	Score(confounded, testWindow(time.Hour))

	for name, p := range confounded.Penalties {
		if p > 1.0 {
			t.Errorf("penalty %s = %v, must never exceed 1.0", name, p)
		}
	}
	if confounded.Score > clean.Score {
		t.Errorf("confounded path scored %v above clean %v", confounded.Score, clean.Score)
	}
}
