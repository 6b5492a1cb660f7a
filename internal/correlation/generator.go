package correlation

import (
	"github.com/google/uuid"
	"github.com/rawblock/torpath-engine/internal/catalog"
	"github.com/rawblock/torpath-engine/pkg/models"
)

// Path Generator
//
// Enumerates candidate entry/middle/exit combinations consistent with an
// evidence window and TOR role constraints:
//
//   entry  — guard-eligible, active through the whole window
//   exit   — exit-eligible, active through the whole window
//   middle — any active relay, excluding the chosen entry and exit
//
// The full cross product is combinatorially explosive, so each role pool
// is capped at the top-N relays by advertised bandwidth first. This is a
// stand-in for TOR's real bandwidth-weighted path selection: a client is
// overwhelmingly more likely to have built its circuit through the
// high-capacity relays, so those combinations are the plausible ones.
//
// The same bandwidth-descending order drives truncation at `limit`, so
// identical inputs always enumerate identically (reproducible reports).
//
// Fewer than one eligible relay for any role yields an empty result, not
// an error — "no plausible paths" is a valid, reportable outcome.

const (
	// DefaultPerRoleCap bounds each role pool before the cross product.
	DefaultPerRoleCap = 16

	// DefaultLimit is the hard ceiling on returned candidates.
	DefaultLimit = 512
)

// pathNamespace seeds deterministic path identifiers: the same relay
// triple always maps to the same pathId, which is what lets the
// evolution tracker accumulate a trajectory across scoring passes.
var pathNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("torpath-engine/path"))

// PathID derives the stable identifier for an entry/middle/exit triple.
func PathID(entryFP, middleFP, exitFP string) string {
	return uuid.NewSHA1(pathNamespace, []byte(entryFP+"|"+middleFP+"|"+exitFP)).String()
}

// GenerateCandidates enumerates score-less path skeletons for the window.
// Each call starts a fresh enumeration over the current catalog snapshot;
// there is no hidden cross-call state.
func GenerateCandidates(win models.EvidenceWindow, cat *catalog.Catalog, limit int) ([]*models.PathCandidate, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	entries, err := cat.ActiveThrough(win.StartTime, win.EndTime, models.RoleGuard)
	if err != nil {
		return nil, err
	}
	exits, err := cat.ActiveThrough(win.StartTime, win.EndTime, models.RoleExit)
	if err != nil {
		return nil, err
	}
	middles, err := cat.ActiveThrough(win.StartTime, win.EndTime, 0)
	if err != nil {
		return nil, err
	}

	entries = capPool(entries, DefaultPerRoleCap)
	exits = capPool(exits, DefaultPerRoleCap)
	middles = capPool(middles, DefaultPerRoleCap)

	if len(entries) == 0 || len(exits) == 0 || len(middles) == 0 {
		return []*models.PathCandidate{}, nil
	}

	candidates := make([]*models.PathCandidate, 0, limit)
	for _, entry := range entries {
		for _, exit := range exits {
			if exit.Fingerprint == entry.Fingerprint {
				continue
			}
			for _, middle := range middles {
				// No relay reused across roles within one path.
				if middle.Fingerprint == entry.Fingerprint || middle.Fingerprint == exit.Fingerprint {
					continue
				}
				candidates = append(candidates, &models.PathCandidate{
					PathID: PathID(entry.Fingerprint, middle.Fingerprint, exit.Fingerprint),
					CaseID: win.CaseID,
					Entry:  entry,
					Middle: middle,
					Exit:   exit,
				})
				if len(candidates) >= limit {
					return candidates, nil
				}
			}
		}
	}
	return candidates, nil
}

// capPool truncates an already bandwidth-sorted pool to n relays.
func capPool(relays []*models.Relay, n int) []*models.Relay {
	if len(relays) > n {
		return relays[:n]
	}
	return relays
}
