package models

import (
	"encoding/json"
	"testing"
	"time"
)

var anchor = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestUptimeIntervalCoversInclusiveBounds(t *testing.T) {
	iv := UptimeInterval{Start: anchor, End: anchor.Add(time.Hour)}

	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"At Start", anchor, true},
		{"At End", anchor.Add(time.Hour), true},
		{"Inside", anchor.Add(30 * time.Minute), true},
		{"Before Start", anchor.Add(-time.Second), false},
		{"After End", anchor.Add(time.Hour + time.Second), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := iv.Covers(tt.at); got != tt.want {
				t.Errorf("Covers(%v) = %v, want %v", tt.at, got, tt.want)
			}
		})
	}
}

func TestRelayActiveThroughRequiresSingleInterval(t *testing.T) {
	r := &Relay{
		Fingerprint: "AAAA",
		Uptime: []UptimeInterval{
			{Start: anchor.Add(-2 * time.Hour), End: anchor.Add(10 * time.Minute)},
			{Start: anchor.Add(15 * time.Minute), End: anchor.Add(2 * time.Hour)},
		},
	}

	if !r.ActiveAt(anchor) {
		t.Error("ActiveAt(anchor) = false, interval covers it")
	}
	if r.ActiveAt(anchor.Add(12 * time.Minute)) {
		t.Error("ActiveAt inside the restart gap = true")
	}
	// Both endpoints covered, but by different intervals: the restart in
	// between breaks circuit continuity.
	if r.ActiveThrough(anchor, anchor.Add(time.Hour)) {
		t.Error("ActiveThrough spanning a restart = true, want false")
	}
	if !r.ActiveThrough(anchor.Add(20*time.Minute), anchor.Add(time.Hour)) {
		t.Error("ActiveThrough inside second interval = false, want true")
	}
}

func TestRelayUptimeBefore(t *testing.T) {
	r := &Relay{
		Uptime: []UptimeInterval{
			{Start: anchor.Add(-36 * time.Hour), End: anchor.Add(time.Hour)},
		},
	}

	if got := r.UptimeBefore(anchor); got != 36*time.Hour {
		t.Errorf("UptimeBefore() = %v, want 36h", got)
	}
	if got := r.UptimeBefore(anchor.Add(48 * time.Hour)); got != 0 {
		t.Errorf("UptimeBefore() outside any interval = %v, want 0", got)
	}
}

func TestRelayOverlapWithinClipsToWindow(t *testing.T) {
	r := &Relay{
		Uptime: []UptimeInterval{
			{Start: anchor.Add(-time.Hour), End: anchor.Add(20 * time.Minute)},
			{Start: anchor.Add(40 * time.Minute), End: anchor.Add(5 * time.Hour)},
		},
	}

	// 20 minutes from the first interval, 20 from the second.
	if got := r.OverlapWithin(anchor, anchor.Add(time.Hour)); got != 40*time.Minute {
		t.Errorf("OverlapWithin() = %v, want 40m", got)
	}
}

func TestPathCandidateRoundTrip(t *testing.T) {
	original := PathCandidate{
		PathID: "7a1d9f2e-0000-5000-8000-000000000000",
		CaseID: "case-2026-0142",
		Entry:  &Relay{Fingerprint: "AAAA", Country: "us", ASN: 1001, Roles: RoleGuard | RoleMiddle, Bandwidth: 1 << 22},
		Middle: &Relay{Fingerprint: "BBBB", Country: "fr", ASN: 2002, Roles: RoleMiddle, Bandwidth: 1 << 21},
		Exit:   &Relay{Fingerprint: "CCCC", Country: "de", ASN: 3003, Roles: RoleExit | RoleMiddle, Bandwidth: 1 << 23},
		ComponentScores: map[string]float64{
			FactorUptimeOverlap: 0.875,
			FactorBandwidth:     0.6321205588285577,
			FactorStability:     0.25,
		},
		Penalties: map[string]float64{
			PenaltySameAS:            1.0,
			PenaltySameCountry:       0.80,
			PenaltyTimingUncertainty: 0.9375,
		},
		Score: 0.4482421875,
	}

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}

	var decoded PathCandidate
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}

	if decoded.PathID != original.PathID || decoded.CaseID != original.CaseID {
		t.Errorf("identity fields changed: %s/%s", decoded.PathID, decoded.CaseID)
	}
	if decoded.Score != original.Score {
		t.Errorf("Score = %v, want exactly %v", decoded.Score, original.Score)
	}
	for name, want := range original.ComponentScores {
		if got := decoded.ComponentScores[name]; got != want {
			t.Errorf("componentScores[%s] = %v, want exactly %v", name, got, want)
		}
	}
	for name, want := range original.Penalties {
		if got := decoded.Penalties[name]; got != want {
			t.Errorf("penalties[%s] = %v, want exactly %v", name, got, want)
		}
	}
	if decoded.Entry.Fingerprint != "AAAA" || !decoded.Exit.HasRole(RoleExit) {
		t.Errorf("relay hops lost in round trip")
	}
}

func TestConfidenceRecordRoundTrip(t *testing.T) {
	original := ConfidenceRecord{
		PathID:          "path-1",
		Timestamp:       anchor,
		Score:           0.72,
		TriggeringEvent: "directory refresh",
	}

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}
	var decoded ConfidenceRecord
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}

	if !decoded.Timestamp.Equal(original.Timestamp) {
		t.Errorf("Timestamp = %v, want %v", decoded.Timestamp, original.Timestamp)
	}
	if decoded.Score != original.Score || decoded.TriggeringEvent != original.TriggeringEvent {
		t.Errorf("decoded = %+v", decoded)
	}
}
