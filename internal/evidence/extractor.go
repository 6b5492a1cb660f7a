package evidence

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rawblock/torpath-engine/pkg/models"
)

// Evidence Extractor
//
// Converts one raw traffic/session record (as produced by the capture
// tooling of the case-management layer) into a structured, immutable
// EvidenceWindow. Exactly one window per input record — merging across
// files is the case-management collaborator's job, not this engine's.
//
// Malformed input fails immediately with ErrInvalidEvidenceFormat; no
// partial extraction is attempted.

// ErrInvalidEvidenceFormat indicates the raw record could not be parsed
// into the minimum required fields.
var ErrInvalidEvidenceFormat = errors.New("invalid evidence format")

// RawSessionRecord mirrors the JSON schema emitted by the capture side.
// Timestamps are RFC3339; clockSkewMs is optional uncertainty metadata.
type RawSessionRecord struct {
	CaseID        string   `json:"caseId"`
	StartTime     string   `json:"startTime"`
	EndTime       string   `json:"endTime"`
	SessionCount  int      `json:"sessionCount"`
	PacketCount   int      `json:"packetCount"`
	UniqueIPCount int      `json:"uniqueIpCount"`
	Protocols     []string `json:"protocols"`
	ClockSkewMs   int64    `json:"clockSkewMs,omitempty"`
}

// Extract parses and validates a raw JSON session record.
func Extract(raw []byte) (models.EvidenceWindow, error) {
	var rec RawSessionRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return models.EvidenceWindow{}, fmt.Errorf("%w: %v", ErrInvalidEvidenceFormat, err)
	}
	return FromRecord(rec)
}

// FromRecord validates an already-decoded record and builds the window.
func FromRecord(rec RawSessionRecord) (models.EvidenceWindow, error) {
	if rec.CaseID == "" {
		return models.EvidenceWindow{}, fmt.Errorf("%w: missing caseId", ErrInvalidEvidenceFormat)
	}

	start, err := time.Parse(time.RFC3339, rec.StartTime)
	if err != nil {
		return models.EvidenceWindow{}, fmt.Errorf("%w: bad startTime %q", ErrInvalidEvidenceFormat, rec.StartTime)
	}
	end, err := time.Parse(time.RFC3339, rec.EndTime)
	if err != nil {
		return models.EvidenceWindow{}, fmt.Errorf("%w: bad endTime %q", ErrInvalidEvidenceFormat, rec.EndTime)
	}
	if end.Before(start) {
		return models.EvidenceWindow{}, fmt.Errorf("%w: endTime before startTime", ErrInvalidEvidenceFormat)
	}

	if rec.SessionCount < 0 || rec.PacketCount < 0 || rec.UniqueIPCount < 0 {
		return models.EvidenceWindow{}, fmt.Errorf("%w: negative counts", ErrInvalidEvidenceFormat)
	}
	if rec.ClockSkewMs < 0 {
		return models.EvidenceWindow{}, fmt.Errorf("%w: negative clockSkewMs", ErrInvalidEvidenceFormat)
	}

	return models.EvidenceWindow{
		CaseID:        rec.CaseID,
		StartTime:     start,
		EndTime:       end,
		SessionCount:  rec.SessionCount,
		PacketCount:   rec.PacketCount,
		UniqueIPCount: rec.UniqueIPCount,
		Protocols:     rec.Protocols,
		ClockSkew:     time.Duration(rec.ClockSkewMs) * time.Millisecond,
	}, nil
}
