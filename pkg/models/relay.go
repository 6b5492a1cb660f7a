package models

import "time"

// RelayRole is a bitmask of circuit positions a relay is eligible for.
// A relay may hold several roles simultaneously (e.g. Guard+Exit).
type RelayRole uint8

const (
	RoleGuard RelayRole = 1 << iota
	RoleMiddle
	RoleExit
)

// UptimeInterval is one contiguous period during which a relay was
// observed active in the directory consensus.
type UptimeInterval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Covers reports whether t falls inside the interval (inclusive bounds).
func (iv UptimeInterval) Covers(t time.Time) bool {
	return !t.Before(iv.Start) && !t.After(iv.End)
}

// Relay represents one TOR relay descriptor at a point in time.
// Instances are refreshed on each catalog sync and treated as immutable
// once attached to a scored path (scoring reads a snapshot).
type Relay struct {
	Fingerprint string           `json:"fingerprint"` // 40-char hex identity digest
	Nickname    string           `json:"nickname"`    // human label, not unique
	Country     string           `json:"country"`     // ISO 3166-1 alpha-2, lowercased by directory
	ASN         int              `json:"asn"`         // autonomous system number
	Roles       RelayRole        `json:"roles"`       // bitmask of guard/middle/exit
	Bandwidth   int64            `json:"bandwidth"`   // advertised capacity, bytes/sec
	Uptime      []UptimeInterval `json:"uptime"`      // ordered, non-overlapping
}

// HasRole reports whether the relay holds the given role flag.
func (r *Relay) HasRole(role RelayRole) bool {
	return r.Roles&role != 0
}

// ActiveAt reports whether any uptime interval covers t.
func (r *Relay) ActiveAt(t time.Time) bool {
	for _, iv := range r.Uptime {
		if iv.Covers(t) {
			return true
		}
	}
	return false
}

// ActiveThrough reports whether a single uptime interval covers the
// entire [start, end] range. Uptime split across two intervals does not
// count: a restart mid-window breaks circuit continuity.
func (r *Relay) ActiveThrough(start, end time.Time) bool {
	for _, iv := range r.Uptime {
		if iv.Covers(start) && iv.Covers(end) {
			return true
		}
	}
	return false
}

// UptimeBefore returns how long the relay had been continuously up at
// time t, or zero if no interval covers t. Used as the stability signal.
func (r *Relay) UptimeBefore(t time.Time) time.Duration {
	for _, iv := range r.Uptime {
		if iv.Covers(t) {
			return t.Sub(iv.Start)
		}
	}
	return 0
}

// OverlapWithin returns the portion of [start, end] during which the
// relay was active, summed across intervals and clipped to the window.
func (r *Relay) OverlapWithin(start, end time.Time) time.Duration {
	var total time.Duration
	for _, iv := range r.Uptime {
		s := iv.Start
		if s.Before(start) {
			s = start
		}
		e := iv.End
		if e.After(end) {
			e = end
		}
		if e.After(s) {
			total += e.Sub(s)
		}
	}
	return total
}
