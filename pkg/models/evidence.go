package models

import "time"

// EvidenceWindow is one observed traffic session under investigation.
// Created once per ingested evidence record and never mutated afterwards
// (immutability supports chain of custody).
type EvidenceWindow struct {
	CaseID        string    `json:"caseId"`
	StartTime     time.Time `json:"startTime"`
	EndTime       time.Time `json:"endTime"`
	SessionCount  int       `json:"sessionCount"`
	PacketCount   int       `json:"packetCount"`
	UniqueIPCount int       `json:"uniqueIpCount"`
	Protocols     []string  `json:"protocols"`

	// ClockSkew is the declared measurement uncertainty of the capture
	// clock. Zero means no uncertainty metadata was supplied, in which
	// case no timing penalty is applied during scoring.
	ClockSkew time.Duration `json:"clockSkewNs,omitempty"`
}

// Duration returns the observed window length. May be zero when
// startTime == endTime (single-packet captures).
func (w EvidenceWindow) Duration() time.Duration {
	return w.EndTime.Sub(w.StartTime)
}
