package models

import "time"

// Component score factor names. Keys into PathCandidate.ComponentScores.
const (
	FactorUptimeOverlap = "uptimeOverlap"
	FactorBandwidth     = "bandwidthPlausibility"
	FactorStability     = "stability"
)

// Penalty names. Keys into PathCandidate.Penalties.
const (
	PenaltySameAS            = "sameAS"
	PenaltySameCountry       = "sameCountry"
	PenaltyTimingUncertainty = "timingUncertainty"
)

// PathCandidate is a hypothesized entry→middle→exit circuit for one
// evidence window. The relay pointers are weak references into the
// catalog snapshot; the candidate does not own relay lifecycle.
//
// A candidate is created fresh on every generation/scoring pass and is
// never mutated after scoring — each pass yields a new instance whose
// score is appended to the evolution ledger.
type PathCandidate struct {
	PathID string `json:"pathId"`
	CaseID string `json:"caseId"`

	Entry  *Relay `json:"entry"`
	Middle *Relay `json:"middle"`
	Exit   *Relay `json:"exit"`

	// ComponentScores holds named factor → raw sub-score in [0,1].
	ComponentScores map[string]float64 `json:"componentScores"`
	// Penalties holds named penalty → multiplier in (0,1].
	Penalties map[string]float64 `json:"penalties"`

	// Score is the final composite confidence:
	//   clamp(weightedSum(components) * product(penalties), MinScore, MaxScore)
	Score float64 `json:"score"`
}

// ConfidenceRecord is one entry in a path's confidence evolution history.
// Append-only; never edited or deleted (audit requirement).
type ConfidenceRecord struct {
	PathID          string    `json:"pathId"`
	Timestamp       time.Time `json:"timestamp"`
	Score           float64   `json:"score"`
	TriggeringEvent string    `json:"triggeringEvent"`
}

// PatternTag is an investigator-facing label attached to a scored
// candidate by the rule-evaluation step, strictly downstream of scoring.
type PatternTag struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale,omitempty"`
}
