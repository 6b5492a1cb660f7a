package catalog

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rawblock/torpath-engine/pkg/models"
)

// Relay Catalog
//
// Normalized, read-only view over relay descriptors owned by the external
// directory collaborator. The catalog is replaced wholesale on each sync
// (copy-on-write snapshot), so a scoring pass that grabbed a snapshot is
// never affected by a concurrent refresh.
//
// No directory data loaded = ErrCatalogUnavailable on every query. The
// engine fails loudly here rather than substituting synthetic relays.

// ErrCatalogUnavailable indicates no directory data has been loaded yet.
// Fatal to any scoring request until the sync collaborator resolves it.
var ErrCatalogUnavailable = errors.New("relay catalog unavailable: no directory data loaded")

// Catalog holds the current relay snapshot.
type Catalog struct {
	mu       sync.RWMutex
	relays   []*models.Relay
	byFP     map[string]*models.Relay
	syncedAt time.Time
}

// New returns an empty catalog. Queries fail with ErrCatalogUnavailable
// until Replace is called with the first directory sync.
func New() *Catalog {
	return &Catalog{}
}

// Replace installs a fresh relay set from a directory sync. The previous
// snapshot stays valid for readers that already hold relay pointers.
func (c *Catalog) Replace(relays []*models.Relay) {
	byFP := make(map[string]*models.Relay, len(relays))
	for _, r := range relays {
		byFP[r.Fingerprint] = r
	}

	c.mu.Lock()
	c.relays = relays
	c.byFP = byFP
	c.syncedAt = time.Now()
	c.mu.Unlock()
}

// Size returns the number of relays in the current snapshot.
func (c *Catalog) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.relays)
}

// SyncedAt returns the time of the last successful Replace.
func (c *Catalog) SyncedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.syncedAt
}

// Lookup returns the relay with the given fingerprint, or nil.
func (c *Catalog) Lookup(fingerprint string) *models.Relay {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.byFP[fingerprint]
}

// ActiveRelays returns relays whose uptime covers atTime, optionally
// filtered by role (role == 0 means any role). Results are sorted by
// descending bandwidth, fingerprint ascending on ties, so repeated calls
// over the same snapshot enumerate identically.
func (c *Catalog) ActiveRelays(atTime time.Time, role models.RelayRole) ([]*models.Relay, error) {
	c.mu.RLock()
	snapshot := c.relays
	c.mu.RUnlock()

	if snapshot == nil {
		return nil, ErrCatalogUnavailable
	}

	var out []*models.Relay
	for _, r := range snapshot {
		if role != 0 && !r.HasRole(role) {
			continue
		}
		if r.ActiveAt(atTime) {
			out = append(out, r)
		}
	}
	sortByBandwidth(out)
	return out, nil
}

// ActiveThrough returns relays active for the entire [start, end] range
// with the given role, same ordering contract as ActiveRelays.
func (c *Catalog) ActiveThrough(start, end time.Time, role models.RelayRole) ([]*models.Relay, error) {
	c.mu.RLock()
	snapshot := c.relays
	c.mu.RUnlock()

	if snapshot == nil {
		return nil, ErrCatalogUnavailable
	}

	var out []*models.Relay
	for _, r := range snapshot {
		if role != 0 && !r.HasRole(role) {
			continue
		}
		if r.ActiveThrough(start, end) {
			out = append(out, r)
		}
	}
	sortByBandwidth(out)
	return out, nil
}

func sortByBandwidth(relays []*models.Relay) {
	sort.Slice(relays, func(i, j int) bool {
		if relays[i].Bandwidth != relays[j].Bandwidth {
			return relays[i].Bandwidth > relays[j].Bandwidth
		}
		return relays[i].Fingerprint < relays[j].Fingerprint
	})
}
